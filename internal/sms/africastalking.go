package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"timetabled/internal/domain"
)

const (
	SandboxURL    = "https://api.sandbox.africastalking.com/version1/messaging"
	ProductionURL = "https://api.africastalking.com/version1/messaging"

	sandboxUser = "sandbox"
)

type Config struct {
	APIKey        string
	Username      string
	SenderID      string
	BaseURL       string        // derived from Username when empty
	Timeout       time.Duration // per request, default 30s
	RatePerSecond float64       // outbound request cap, 0 disables
}

// AfricasTalking sends bulk SMS through the Africa's Talking messaging API.
type AfricasTalking struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ Sender = (*AfricasTalking)(nil)

func NewAfricasTalking(cfg Config) (*AfricasTalking, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: AFRICASTALKING_API_KEY is not set", ErrConfiguration)
	}
	if cfg.Username == "" {
		cfg.Username = sandboxUser
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ProductionURL
		if cfg.Username == sandboxUser {
			cfg.BaseURL = SandboxURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	at := &AfricasTalking{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "africastalking").Logger(),
	}
	if cfg.RatePerSecond > 0 {
		at.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return at, nil
}

type messagingResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			MessageID  string `json:"messageId"`
			Cost       string `json:"cost"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (a *AfricasTalking) Send(ctx context.Context, recipients []string, message string) (Result, error) {
	if len(recipients) == 0 {
		return Result{}, domain.ErrNoRecipients
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	form := url.Values{}
	form.Set("username", a.cfg.Username)
	form.Set("to", strings.Join(recipients, ","))
	form.Set("message", message)
	if a.cfg.SenderID != "" {
		form.Set("from", a.cfg.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("apiKey", a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read SMS response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		a.log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("SMS request rejected")
		return Result{}, &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed messagingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// accepted but unparseable, still a success from the carrier's side
		a.log.Warn().Err(err).Msg("unexpected SMS response body")
	}
	a.log.Info().Int("recipients", len(recipients)).Str("detail", parsed.SMSMessageData.Message).Msg("SMS sent")

	return Result{Success: true, Detail: parsed.SMSMessageData.Message, Data: json.RawMessage(body)}, nil
}
