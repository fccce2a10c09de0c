package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetabled/internal/domain"
)

func TestNewAfricasTalkingRequiresKey(t *testing.T) {
	_, err := NewAfricasTalking(Config{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewAfricasTalkingBaseURL(t *testing.T) {
	at, err := NewAfricasTalking(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, SandboxURL, at.cfg.BaseURL)
	assert.Equal(t, "sandbox", at.cfg.Username)

	at, err = NewAfricasTalking(Config{APIKey: "k", Username: "school"})
	require.NoError(t, err)
	assert.Equal(t, ProductionURL, at.cfg.BaseURL)
}

func TestAfricasTalkingSend(t *testing.T) {
	type captured struct {
		method string
		header http.Header
		form   map[string]string
	}
	gotCh := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotCh <- captured{
			method: r.Method,
			header: r.Header.Clone(),
			form: map[string]string{
				"username": r.PostForm.Get("username"),
				"to":       r.PostForm.Get("to"),
				"message":  r.PostForm.Get("message"),
				"from":     r.PostForm.Get("from"),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 2/2 Total Cost: KES 1.6000","Recipients":[]}}`))
	}))
	defer srv.Close()

	at, err := NewAfricasTalking(Config{APIKey: "secret", Username: "school", SenderID: "SCHOOL", BaseURL: srv.URL, RatePerSecond: 100})
	require.NoError(t, err)

	res, err := at.Send(context.Background(), []string{"+254700000001", "+254700000002"}, "hello")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Sent to 2/2 Total Cost: KES 1.6000", res.Detail)
	assert.NotEmpty(t, res.Data)

	got := <-gotCh
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "secret", got.header.Get("apiKey"))
	assert.Equal(t, "application/json", got.header.Get("Accept"))
	assert.Equal(t, "school", got.form["username"])
	assert.Equal(t, "+254700000001,+254700000002", got.form["to"])
	assert.Equal(t, "hello", got.form["message"])
	assert.Equal(t, "SCHOOL", got.form["from"])
}

func TestAfricasTalkingRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("The supplied authentication is invalid"))
	}))
	defer srv.Close()

	at, err := NewAfricasTalking(Config{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = at.Send(context.Background(), []string{"+254700000001"}, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelivery)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusUnauthorized, de.StatusCode)
}

func TestAfricasTalkingTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	at, err := NewAfricasTalking(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = at.Send(context.Background(), []string{"+254700000001"}, "hello")
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestSendWithoutRecipients(t *testing.T) {
	at, err := NewAfricasTalking(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = at.Send(context.Background(), nil, "hello")
	assert.ErrorIs(t, err, domain.ErrNoRecipients)

	c := NewConsole(zerolog.Nop())
	_, err = c.Send(context.Background(), nil, "hello")
	assert.ErrorIs(t, err, domain.ErrNoRecipients)
}

func TestConsoleRecordsMessages(t *testing.T) {
	c := NewConsole(zerolog.Nop())
	res, err := c.Send(context.Background(), []string{"+254700000001"}, "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, c.Sent(), 1)
	assert.Equal(t, "hi", c.Sent()[0].Body)
}
