package repository

import (
	"context"
	"time"

	"trailwatch/backend/internal/capture/domain"
)

// Repository defines persistence for captured images and their derived read model.
type Repository interface {
	// Create inserts a new capture row.
	Create(ctx context.Context, img *domain.CapturedImage) error
	// GetByID returns the capture, or nil if not found. Not owner-scoped; callers check ownership.
	GetByID(ctx context.Context, id string) (*domain.CapturedImage, error)
	// GetSummary returns the owner-scoped read model, or nil if absent or owned by someone else.
	GetSummary(ctx context.Context, ownerID, id string) (*domain.Summary, error)
	// ListSummaries returns the owner's captures newest first, optionally filtered by state.
	ListSummaries(ctx context.Context, ownerID string, state domain.State, limit int) ([]domain.Summary, error)
	// CountAwaitingLabel counts captures with no label created before the cutoff.
	CountAwaitingLabel(ctx context.Context, createdBefore time.Time) (int, error)
}
