// Package sms holds the SMS provider strategies used by the notification dispatcher.
package sms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"trailwatch/backend/internal/notification/domain"
)

const defaultTimeout = 15 * time.Second

// Credentials are the tenant's provider secrets. Each provider reads the fields it needs.
type Credentials struct {
	APIKey     string
	Sender     string
	AccountSID string
	AuthToken  string
}

// Result describes an accepted message.
type Result struct {
	ProviderMessageID string
}

// Provider sends one SMS. Implementations classify failures as *SendError.
type Provider interface {
	Name() string
	Send(ctx context.Context, message, destination string, creds Credentials) (Result, error)
}

// SendError is a classified provider failure. Reason is one of the notification failure reasons.
type SendError struct {
	Reason string
	Status int
	Err    error
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sms: %s (status %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("sms: %s: %v", e.Reason, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReasonOf maps any Send error to a failure reason.
func ReasonOf(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonTimeout
	}
	return domain.ReasonProviderError
}

// reasonForStatus classifies a non-2xx HTTP status.
func reasonForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ReasonRejectedCredentials
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return domain.ReasonQuotaExhausted
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusNotFound:
		return domain.ReasonInvalidDestination
	default:
		return domain.ReasonProviderError
	}
}

// transportError classifies an error returned by http.Client.Do.
func transportError(err error) *SendError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &SendError{Reason: domain.ReasonTimeout, Err: err}
	}
	return &SendError{Reason: domain.ReasonNetwork, Err: err}
}

// Registry is the closed set of providers selectable by a tenant's discriminator.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by Name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}
