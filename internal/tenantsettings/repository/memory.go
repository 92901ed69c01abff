package repository

import (
	"context"
	"sync"

	"trailwatch/backend/internal/tenantsettings/domain"
)

// MemoryRepository is an in-process Repository for tests.
type MemoryRepository struct {
	mu       sync.Mutex
	byOwner  map[string]domain.TenantSettings
	GetCalls int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byOwner: make(map[string]domain.TenantSettings)}
}

func (r *MemoryRepository) GetByOwnerID(_ context.Context, ownerID string) (*domain.TenantSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GetCalls++
	s, ok := r.byOwner[ownerID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, settings *domain.TenantSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOwner[settings.OwnerID] = *settings
	return nil
}

// Calls returns the number of GetByOwnerID calls so far.
func (r *MemoryRepository) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.GetCalls
}
