// Package taxrate resolves the tax rate applied at order time from a
// versioned configuration entity, so the rate is auditable rather than a
// literal constant in the pricing path.
package taxrate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const cacheKey = "taxrate:effective"

// TaxRate is one versioned configuration row.
type TaxRate struct {
	ID        int64
	Rate      decimal.Decimal
	ValidFrom time.Time
	Version   int64
}

// ErrNotConfigured indicates no tax rate row exists yet.
var ErrNotConfigured = errors.New("taxrate: not configured")

// RepositoryPort loads the currently effective rate.
type RepositoryPort interface {
	Current(ctx context.Context) (TaxRate, error)
}

// Service resolves the effective rate through a Redis read-through cache.
// Concurrent lookups collapse into a single repository load.
type Service struct {
	repo     RepositoryPort
	cache    *redis.Client
	ttl      time.Duration
	fallback decimal.Decimal
	group    singleflight.Group
}

// NewService constructs the resolver. The fallback rate applies when no
// configuration row exists.
func NewService(repo RepositoryPort, cache *redis.Client, ttl time.Duration, fallback decimal.Decimal) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, fallback: fallback}
}

// Effective returns the tax rate to apply right now.
func (s *Service) Effective(ctx context.Context) (decimal.Decimal, error) {
	if s.cache != nil {
		// Cache trouble is not fatal; fall through to the repository.
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			if rate, perr := decimal.NewFromString(cached); perr == nil {
				return rate, nil
			}
		}
	}
	result, err, _ := s.group.Do(cacheKey, func() (any, error) {
		current, err := s.repo.Current(ctx)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				return s.fallback, nil
			}
			return decimal.Zero, err
		}
		return current.Rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	rate := result.(decimal.Decimal)
	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, rate.String(), s.ttl).Err()
	}
	return rate, nil
}

// Invalidate drops the cached rate, forcing the next lookup to reload.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey).Err()
}
