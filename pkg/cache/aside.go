package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the byte level key-value accelerator behind Aside.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Aside implements the cache-aside read path shared by every cached entity:
// consult the store, fall through to the loader on a miss or an outage, and
// refill. Concurrent misses for one key share a single loader call.
//
// Cache writes are best-effort. Failures are logged and never returned.
type Aside struct {
	store  Store
	group  singleflight.Group
	logger *logger.Logger
}

// NewAside creates a cache-aside helper over store.
func NewAside(store Store, log *logger.Logger) *Aside {
	return &Aside{store: store, logger: log}
}

// Fetch returns the cached value for key, or loads, caches and returns it.
// Each caller receives its own decoded copy.
func Fetch[T any](ctx context.Context, a *Aside, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T

	data, err := a.store.Get(ctx, key)
	switch {
	case err == nil:
		var cached T
		jsonErr := json.Unmarshal(data, &cached)
		if jsonErr == nil {
			monitoring.CacheRequests.WithLabelValues("hit").Inc()
			return cached, nil
		}
		a.logger.Warn("Dropping undecodable cache entry", logger.String("key", key), logger.Err(jsonErr))
		_ = a.store.Delete(ctx, key)
	case errors.Is(err, ErrMiss):
		monitoring.CacheRequests.WithLabelValues("miss").Inc()
	default:
		monitoring.CacheRequests.WithLabelValues("error").Inc()
		a.logger.Warn("Cache read failed, reading through to store",
			logger.String("key", key),
			logger.Err(err),
		)
	}

	raw, err, _ := a.group.Do(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		a.set(ctx, key, encoded, ttl)
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	var fresh T
	if err := json.Unmarshal(raw.([]byte), &fresh); err != nil {
		return zero, err
	}
	return fresh, nil
}

// Put refreshes key with value after a durable write.
func Put[T any](ctx context.Context, a *Aside, key string, value T, ttl time.Duration) {
	encoded, err := json.Marshal(value)
	if err != nil {
		a.logger.Warn("Failed to encode cache entry", logger.String("key", key), logger.Err(err))
		return
	}
	a.set(ctx, key, encoded, ttl)
}

// Peek reads key without any fallback. ok is false on a miss or outage.
func Peek[T any](ctx context.Context, a *Aside, key string) (T, bool) {
	var out T
	data, err := a.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			a.logger.Warn("Cache read failed", logger.String("key", key), logger.Err(err))
		}
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// Invalidate removes key. Failures are logged.
func (a *Aside) Invalidate(ctx context.Context, key string) {
	if err := a.store.Delete(ctx, key); err != nil {
		a.logger.Warn("Failed to invalidate cache entry", logger.String("key", key), logger.Err(err))
	}
}

// set refreshes key. When the refresh fails the old entry is dropped so
// readers fall through to the store instead of seeing it until expiry.
func (a *Aside) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := a.store.Set(ctx, key, value, ttl); err != nil {
		a.logger.Warn("Failed to refresh cache entry", logger.String("key", key), logger.Err(err))
		a.Invalidate(ctx, key)
	}
}
