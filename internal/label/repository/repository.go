package repository

import (
	"context"
	"time"

	"trailwatch/backend/internal/label/domain"
)

// Repository defines persistence for labeled images.
type Repository interface {
	// Create inserts the label. A second label for the same capture fails with
	// errs.ErrAlreadyLabeled; a missing capture fails with errs.ErrNotFound.
	Create(ctx context.Context, l *domain.LabeledImage) error
	// GetByCapturedImageID returns the label for a capture, or nil if none.
	GetByCapturedImageID(ctx context.Context, capturedImageID string) (*domain.LabeledImage, error)
	// ListUndispatched returns labels older than the cutoff that have no notification attempt,
	// or whose latest attempt was abandoned.
	ListUndispatched(ctx context.Context, labeledBefore time.Time, limit int) ([]domain.LabeledImage, error)
}
