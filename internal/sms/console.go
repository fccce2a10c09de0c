package sms

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"timetabled/internal/domain"
)

// Message is a send captured by the console driver.
type Message struct {
	To   []string
	Body string
}

// Console writes messages to the log instead of a carrier.
type Console struct {
	log zerolog.Logger

	mu   sync.Mutex
	sent []Message
}

var _ Sender = (*Console)(nil)

func NewConsole(logger zerolog.Logger) *Console {
	return &Console{log: logger.With().Str("component", "sms-console").Logger()}
}

func (c *Console) Send(ctx context.Context, recipients []string, message string) (Result, error) {
	if len(recipients) == 0 {
		return Result{}, domain.ErrNoRecipients
	}
	to := append([]string(nil), recipients...)
	c.mu.Lock()
	c.sent = append(c.sent, Message{To: to, Body: message})
	c.mu.Unlock()

	c.log.Info().Strs("to", to).Str("message", message).Msg("SMS (console)")
	return Result{Success: true, Detail: "logged to console"}, nil
}

// Sent returns a copy of every message sent so far.
func (c *Console) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}
