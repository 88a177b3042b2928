package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/pkg/cache"
)

const (
	availableKey      = "drivers:available"
	availableStaleKey = "drivers:available:stale"
)

// TTLs for the tracking keys.
type TTLs struct {
	Location       time.Duration
	Trip           time.Duration
	Available      time.Duration
	AvailableGrace time.Duration
}

// TrackingCache names the keys of every cached tracking entity and routes
// them through the shared cache-aside helper.
type TrackingCache struct {
	aside *cache.Aside
	ttl   TTLs
}

func NewTrackingCache(aside *cache.Aside, ttl TTLs) *TrackingCache {
	return &TrackingCache{aside: aside, ttl: ttl}
}

func locationKey(driverID string) string {
	return fmt.Sprintf("driver:%s:location", driverID)
}

func tripKey(orderID string) string {
	return fmt.Sprintf("trip:%s", orderID)
}

// DriverLocation reads the latest sample, loading it on a miss.
func (c *TrackingCache) DriverLocation(ctx context.Context, driverID string, load func(context.Context) (*location.Sample, error)) (*location.Sample, error) {
	return cache.Fetch(ctx, c.aside, locationKey(driverID), c.ttl.Location, load)
}

// PeekDriverLocation reads the cached sample only.
func (c *TrackingCache) PeekDriverLocation(ctx context.Context, driverID string) (*location.Sample, bool) {
	sample, ok := cache.Peek[*location.Sample](ctx, c.aside, locationKey(driverID))
	return sample, ok && sample != nil
}

func (c *TrackingCache) PutDriverLocation(ctx context.Context, sample *location.Sample) {
	cache.Put(ctx, c.aside, locationKey(sample.DriverID), sample, c.ttl.Location)
}

// Trip reads a trip snapshot, loading it on a miss.
func (c *TrackingCache) Trip(ctx context.Context, orderID string, load func(context.Context) (*trip.Trip, error)) (*trip.Trip, error) {
	return cache.Fetch(ctx, c.aside, tripKey(orderID), c.ttl.Trip, load)
}

func (c *TrackingCache) PutTrip(ctx context.Context, t *trip.Trip) {
	cache.Put(ctx, c.aside, tripKey(t.OrderID), t, c.ttl.Trip)
}

// InvalidateTrip drops a snapshot that could not be refreshed after a write.
func (c *TrackingCache) InvalidateTrip(ctx context.Context, orderID string) {
	c.aside.Invalidate(ctx, tripKey(orderID))
}

// AvailableDrivers returns the fresh availability list.
func (c *TrackingCache) AvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, bool) {
	return cache.Peek[[]driver.AvailableDriver](ctx, c.aside, availableKey)
}

// StaleAvailableDrivers returns the last list seen within the grace window.
func (c *TrackingCache) StaleAvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, bool) {
	return cache.Peek[[]driver.AvailableDriver](ctx, c.aside, availableStaleKey)
}

// PutAvailableDrivers stores the list twice: a short lived copy for normal
// reads and a grace copy served only while the directory is failing.
func (c *TrackingCache) PutAvailableDrivers(ctx context.Context, drivers []driver.AvailableDriver) {
	cache.Put(ctx, c.aside, availableKey, drivers, c.ttl.Available)
	cache.Put(ctx, c.aside, availableStaleKey, drivers, c.ttl.AvailableGrace)
}
