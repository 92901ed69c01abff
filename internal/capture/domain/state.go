package domain

import (
	"strings"
	"time"
)

// State is the pipeline position of a capture. It is derived from the label and
// notification rows, never stored.
type State string

const (
	StateAwaitingLabel       State = "awaiting_label"
	StateLabeled             State = "labeled"
	StateNotified            State = "notified"
	StateNotificationSkipped State = "notification_skipped"
	StateNotificationFailed  State = "notification_failed"
)

// ParseState validates a query filter value.
func ParseState(s string) (State, bool) {
	switch st := State(s); st {
	case StateAwaitingLabel, StateLabeled, StateNotified, StateNotificationSkipped, StateNotificationFailed:
		return st, true
	}
	return "", false
}

// DeriveState computes the state from whether a label exists and the outcome of the latest
// notification attempt (empty when there is none).
func DeriveState(labeled bool, latestOutcome string) State {
	if !labeled {
		return StateAwaitingLabel
	}
	switch {
	case latestOutcome == "sent":
		return StateNotified
	case strings.HasPrefix(latestOutcome, "skipped:"):
		return StateNotificationSkipped
	case strings.HasPrefix(latestOutcome, "failed:"):
		return StateNotificationFailed
	default:
		// No attempt yet, or a pending claim.
		return StateLabeled
	}
}

// Summary is the owner-facing read model of a capture and its downstream progress.
type Summary struct {
	Image       CapturedImage
	LabelID     string
	Label       string
	Confidence  float64
	LabeledAt   *time.Time
	Provider    string
	Outcome     string
	AttemptedAt *time.Time
	State       State
}
