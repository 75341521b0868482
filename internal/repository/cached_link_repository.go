package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/zhejian/linkboard/internal/model"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix   = "link:"
	notFoundSentinel = "__NOT_FOUND__"
	// Short enough that a negative entry the cache failed to clear on
	// create cannot hide a new link for long.
	maxNegativeTTL = 5 * time.Second
	// Bound for a database lookup shared by several waiting callers.
	sharedLookupTimeout = 5 * time.Second
)

// CachedLinkRepository puts a Redis cache-aside layer in front of Resolve,
// the lookup on the redirect path. Only the immutable id and destination
// are cached; click counts are always read from the database.
//
// Redis calls run through a circuit breaker. While it is open the
// repository talks to the database directly.
type CachedLinkRepository struct {
	db          LinkRepositoryInterface
	cache       *redis.Client
	ttl         time.Duration
	negativeTTL time.Duration
	breaker     *gobreaker.CircuitBreaker
	group       singleflight.Group
}

// NewCachedLinkRepository wraps db with a Redis cache. A nil cache turns
// every method into a pass-through.
func NewCachedLinkRepository(db LinkRepositoryInterface, cache *redis.Client, ttl time.Duration) *CachedLinkRepository {
	negativeTTL := ttl
	if negativeTTL <= 0 || negativeTTL > maxNegativeTTL {
		negativeTTL = maxNegativeTTL
	}

	return &CachedLinkRepository{
		db:          db,
		cache:       cache,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis-link-cache",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func cacheKey(code string) string {
	return cacheKeyPrefix + code
}

// BreakerState returns the state of the circuit breaker guarding Redis.
func (r *CachedLinkRepository) BreakerState() gobreaker.State {
	return r.breaker.State()
}

// CacheBypassed reports whether lookups currently skip Redis because the
// breaker is open. Reported by /health.
func (r *CachedLinkRepository) CacheBypassed() bool {
	return r.cache != nil && r.breaker.State() == gobreaker.StateOpen
}

// cacheGet returns the raw cached value and whether the key was present.
// Redis errors and an open breaker both read as a miss.
func (r *CachedLinkRepository) cacheGet(ctx context.Context, key string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	val, err := r.breaker.Execute(func() (interface{}, error) {
		v, err := r.cache.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil || val == nil {
		return "", false
	}
	return val.(string), true
}

func (r *CachedLinkRepository) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.cache == nil {
		return nil
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.cache.Set(ctx, key, value, ttl).Err()
	})
	return err
}

func (r *CachedLinkRepository) cacheDel(ctx context.Context, key string) error {
	if r.cache == nil {
		return nil
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.cache.Del(ctx, key).Err()
	})
	return err
}

func (r *CachedLinkRepository) storeTarget(ctx context.Context, code string, target *model.Target) error {
	data, err := json.Marshal(target)
	if err != nil {
		return err
	}
	return r.cacheSet(ctx, cacheKey(code), data, r.ttl)
}

// Resolve with cache-aside, negative caching and singleflight on misses.
// The shared database lookup is detached from any single caller, so one
// client going away does not fail the others waiting on the same code.
func (r *CachedLinkRepository) Resolve(ctx context.Context, code string) (*model.Target, error) {
	key := cacheKey(code)

	if cached, ok := r.cacheGet(ctx, key); ok {
		if cached == notFoundSentinel {
			return nil, ErrNotFound
		}
		var target model.Target
		if err := json.Unmarshal([]byte(cached), &target); err == nil {
			return &target, nil
		}
		// Corrupt entry: drop it and fall through to the database
		_ = r.cacheDel(ctx, key)
	}

	ch := r.group.DoChan(code, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()

		target, err := r.db.Resolve(lookupCtx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				_ = r.cacheSet(lookupCtx, key, notFoundSentinel, r.negativeTTL)
			}
			return nil, err
		}
		_ = r.storeTarget(lookupCtx, code, target)
		return target, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		target := *res.Val.(*model.Target)
		return &target, nil
	}
}

// Create writes through to the cache, replacing any negative entry.
// If the write fails the key is deleted instead; if that fails too, a
// stale negative entry lives at most maxNegativeTTL.
func (r *CachedLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.Create(ctx, link); err != nil {
		return err
	}
	if err := r.storeTarget(ctx, link.Code, &model.Target{ID: link.ID, OriginalURL: link.OriginalURL}); err != nil {
		_ = r.cacheDel(ctx, cacheKey(link.Code))
	}
	return nil
}

// Delete invalidates the cached target once the row is gone
func (r *CachedLinkRepository) Delete(ctx context.Context, code string) (bool, error) {
	removed, err := r.db.Delete(ctx, code)
	if err != nil {
		return false, err
	}
	if removed {
		_ = r.cacheDel(ctx, cacheKey(code))
	}
	return removed, nil
}

// GetByCode always reads the database so click statistics are current
func (r *CachedLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	return r.db.GetByCode(ctx, code)
}

func (r *CachedLinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	return r.db.Exists(ctx, code)
}

func (r *CachedLinkRepository) List(ctx context.Context) ([]model.Link, error) {
	return r.db.List(ctx)
}

func (r *CachedLinkRepository) IncrementClick(ctx context.Context, id int64) error {
	return r.db.IncrementClick(ctx, id)
}

var _ LinkRepositoryInterface = (*CachedLinkRepository)(nil)
