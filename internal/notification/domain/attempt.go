package domain

import (
	"strings"
	"time"
)

// Outcome values. A row starts as OutcomePending and is finalized exactly once.
const (
	OutcomePending              = "pending"
	OutcomeSent                 = "sent"
	OutcomeSkippedNotConfigured = "skipped:not-configured"
	OutcomeSkippedPolicy        = "skipped:policy"
)

// Failure reasons recorded as "failed:<reason>".
const (
	ReasonTimeout             = "timeout"
	ReasonRejectedCredentials = "rejected-credentials"
	ReasonQuotaExhausted      = "quota-exhausted"
	ReasonInvalidDestination  = "invalid-destination"
	ReasonProviderError       = "provider-error"
	ReasonNetwork             = "network"
	ReasonUnknownProvider     = "unknown-provider"
	ReasonAbandoned           = "abandoned"
)

// Failed returns the outcome string for a failure reason.
func Failed(reason string) string {
	return "failed:" + reason
}

// IsFailed reports whether outcome is any failed:<reason>.
func IsFailed(outcome string) bool {
	return strings.HasPrefix(outcome, "failed:")
}

// Attempt records one notification decision for a labeled image.
type Attempt struct {
	ID             string
	LabeledImageID string
	OwnerID        string
	Provider       string
	Outcome        string
	// Detail is a short provider message kept for operators; never shown to tenants.
	Detail      string
	AttemptedAt time.Time
	FinishedAt  *time.Time
}

// Final reports whether the attempt has left the pending state.
func (a *Attempt) Final() bool {
	return a.Outcome != OutcomePending
}

// Live reports whether the attempt blocks another send: it is delivered or in flight.
func (a *Attempt) Live() bool {
	return a.Outcome == OutcomePending || a.Outcome == OutcomeSent
}
