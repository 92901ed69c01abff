package engine

import (
	"context"
	"time"

	"trailwatch/backend/internal/tenantsettings/domain"
)

// AlertInput is the labeled detection an alert decision is made for.
type AlertInput struct {
	OwnerID    string
	Label      string
	Confidence float64
	LabeledAt  time.Time
}

// AlertDecision holds the result of alert policy evaluation.
type AlertDecision struct {
	Notify  bool
	Reasons []string
}

// Evaluator decides whether a labeled detection should notify the tenant.
type Evaluator interface {
	// EvaluateAlert applies the tenant's alert policy (or the platform default) to in.
	// Errors are informational; the returned decision is always usable.
	EvaluateAlert(ctx context.Context, policy domain.AlertPolicy, in AlertInput) (AlertDecision, error)
}
