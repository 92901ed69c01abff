package repository

import (
	"context"
	"errors"
	"time"

	"trailwatch/backend/internal/notification/domain"
)

// ErrClaimConflict is returned by Claim when another attempt is already pending or sent.
var ErrClaimConflict = errors.New("notification already claimed")

// ErrAlreadyFinal is returned by Finalize when the attempt is no longer pending.
var ErrAlreadyFinal = errors.New("notification attempt already finalized")

// Repository defines persistence for notification attempts.
type Repository interface {
	// GetLive returns the pending or sent attempt for the label, or nil.
	GetLive(ctx context.Context, labeledImageID string) (*domain.Attempt, error)
	// Claim inserts a pending attempt. Returns ErrClaimConflict if a live attempt exists.
	Claim(ctx context.Context, a *domain.Attempt) error
	// Finalize moves a pending attempt to outcome. Returns ErrAlreadyFinal if it is not pending.
	Finalize(ctx context.Context, id, provider, outcome, detail string, finishedAt time.Time) error
	// Record inserts an attempt that is already final (skipped outcomes).
	Record(ctx context.Context, a *domain.Attempt) error
	// ExpirePending finalizes pending attempts started before the cutoff as failed:abandoned.
	ExpirePending(ctx context.Context, attemptedBefore time.Time) (int64, error)
}
