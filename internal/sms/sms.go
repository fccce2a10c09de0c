// Package sms delivers text messages to phone numbers.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDelivery      = errors.New("sms delivery failed")
	ErrConfiguration = errors.New("sms transport misconfigured")
)

// Result describes an accepted send.
type Result struct {
	Success bool            `json:"success"`
	Detail  string          `json:"detail,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Sender is implemented by every transport driver.
type Sender interface {
	Send(ctx context.Context, recipients []string, message string) (Result, error)
}

// DeliveryError is returned when the carrier rejects a request.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v: HTTP %d: %s", ErrDelivery, e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return ErrDelivery }
