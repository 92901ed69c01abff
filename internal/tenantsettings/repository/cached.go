package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"trailwatch/backend/internal/tenantsettings/domain"
)

// loadTimeout bounds a shared load. The load is detached from the caller that started it.
const loadTimeout = 5 * time.Second

// absent marks a cached "tenant has no settings" result.
type absent struct{}

// CachedRepository is the pipeline's read path for tenant settings. Lookups are cached for
// ttl, including negative results, and concurrent misses for the same owner share one query.
type CachedRepository struct {
	next  Repository
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedRepository wraps next with a TTL cache.
func NewCachedRepository(next Repository, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRepository{next: next, cache: cache.New(ttl, 2*ttl)}
}

// GetByOwnerID returns cached settings or loads them from the wrapped repository.
func (r *CachedRepository) GetByOwnerID(ctx context.Context, ownerID string) (*domain.TenantSettings, error) {
	if v, ok := r.cache.Get(ownerID); ok {
		if s, ok := v.(*domain.TenantSettings); ok {
			return s, nil
		}
		return nil, nil
	}
	ch := r.group.DoChan(ownerID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		s, err := r.next.GetByOwnerID(loadCtx, ownerID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			r.cache.Set(ownerID, absent{}, cache.DefaultExpiration)
			return nil, nil
		}
		r.cache.Set(ownerID, s, cache.DefaultExpiration)
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil || res.Val == nil {
			return nil, res.Err
		}
		return res.Val.(*domain.TenantSettings), nil
	}
}

// Upsert writes through and invalidates the cached entry.
func (r *CachedRepository) Upsert(ctx context.Context, settings *domain.TenantSettings) error {
	if err := r.next.Upsert(ctx, settings); err != nil {
		return err
	}
	r.cache.Delete(settings.OwnerID)
	return nil
}

// Invalidate drops the cached entry for ownerID.
func (r *CachedRepository) Invalidate(ownerID string) {
	r.cache.Delete(ownerID)
}
