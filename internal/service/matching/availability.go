package matching

import (
	"context"
	"fmt"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// AvailabilityCache keeps a short lived copy of the directory's list and a
// longer grace copy.
type AvailabilityCache interface {
	AvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, bool)
	StaleAvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, bool)
	PutAvailableDrivers(ctx context.Context, drivers []driver.AvailableDriver)
}

// CachedAvailability fronts the driver directory. While the directory fails
// the last list it returned is served until the grace copy expires, after
// which the directory error surfaces.
type CachedAvailability struct {
	source Availability
	cache  AvailabilityCache
	logger *logger.Logger
}

func NewCachedAvailability(source Availability, cache AvailabilityCache, log *logger.Logger) *CachedAvailability {
	return &CachedAvailability{source: source, cache: cache, logger: log}
}

func (a *CachedAvailability) GetAvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, error) {
	if drivers, ok := a.cache.AvailableDrivers(ctx); ok {
		return drivers, nil
	}

	drivers, err := a.source.GetAvailableDrivers(ctx)
	if err == nil {
		a.cache.PutAvailableDrivers(ctx, drivers)
		return drivers, nil
	}

	stale, ok := a.cache.StaleAvailableDrivers(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: %w", driver.ErrNoAvailability, err)
	}
	a.logger.Warn("Driver directory unavailable, serving last known availability",
		logger.Int("drivers", len(stale)),
		logger.Err(err),
	)
	return stale, nil
}
