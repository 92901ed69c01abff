package repository

import (
	"context"

	"trailwatch/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.AuditLog, error)
}
