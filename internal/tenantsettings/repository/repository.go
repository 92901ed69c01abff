package repository

import (
	"context"

	"trailwatch/backend/internal/tenantsettings/domain"
)

// Repository defines access to per-tenant pipeline settings.
type Repository interface {
	// GetByOwnerID returns settings for the owner, or nil if the tenant has configured nothing.
	GetByOwnerID(ctx context.Context, ownerID string) (*domain.TenantSettings, error)
	// Upsert creates or replaces settings for settings.OwnerID.
	Upsert(ctx context.Context, settings *domain.TenantSettings) error
}
