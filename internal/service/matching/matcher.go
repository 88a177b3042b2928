package matching

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
)

// Availability lists the drivers currently open for work.
type Availability interface {
	GetAvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, error)
}

// LocationPeeker reads a cached driver position without touching the store.
type LocationPeeker interface {
	PeekDriverLocation(ctx context.Context, driverID string) (*location.Sample, bool)
}

// Config holds matching configuration
type Config struct {
	DefaultRadius float64 // meters
	DefaultLimit  int
	MaxLimit      int
	// RecentWindow bounds how old a stored sample may be for the indexed query.
	RecentWindow time.Duration
}

// Matcher finds available drivers close to a point.
type Matcher struct {
	availability Availability
	locations    location.Repository
	cache        LocationPeeker
	config       Config
	now          func() time.Time
	logger       *logger.Logger
}

// NewMatcher creates a matcher. cache may be nil.
func NewMatcher(availability Availability, locations location.Repository, cache LocationPeeker, config Config, log *logger.Logger) *Matcher {
	if config.DefaultRadius <= 0 {
		config.DefaultRadius = 5000
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 100
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = 10 * time.Minute
	}
	return &Matcher{
		availability: availability,
		locations:    locations,
		cache:        cache,
		config:       config,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log,
	}
}

// FindNearby returns at most limit available drivers ordered by distance
// from center. Zero radius and limit take the configured defaults.
//
// The indexed store query runs first. When it fails or finds nothing the
// candidates are ranked one by one from their last known position.
func (m *Matcher) FindNearby(ctx context.Context, center geo.Point, radius float64, limit int) ([]location.NearbyDriver, error) {
	startTime := time.Now()
	defer func() { monitoring.MatchLatency.Observe(time.Since(startTime).Seconds()) }()

	if !center.Valid() {
		return nil, location.ErrInvalidCoordinates
	}
	if radius < 0 || limit < 0 {
		return nil, location.ErrInvalidNearestQuery
	}
	if radius == 0 {
		radius = m.config.DefaultRadius
	}
	if limit == 0 {
		limit = m.config.DefaultLimit
	}
	if limit > m.config.MaxLimit {
		limit = m.config.MaxLimit
	}

	candidates, err := m.availability.GetAvailableDrivers(ctx)
	if err != nil {
		return nil, err
	}
	ids := candidateIDs(candidates)
	if len(ids) == 0 {
		monitoring.MatchPath.WithLabelValues("empty").Inc()
		return []location.NearbyDriver{}, nil
	}

	nearby, err := m.locations.NearestAmong(ctx, location.NearestQuery{
		Center:       center,
		RadiusMeters: radius,
		DriverIDs:    ids,
		Since:        m.now().Add(-m.config.RecentWindow),
		Limit:        limit,
	})
	if err == nil && len(nearby) > 0 {
		monitoring.MatchPath.WithLabelValues("indexed").Inc()
		return nearby, nil
	}
	if err != nil {
		m.logger.Warn("Indexed nearest query failed, ranking candidates directly",
			logger.Int("candidates", len(ids)),
			logger.Err(err),
		)
	}

	monitoring.MatchPath.WithLabelValues("naive").Inc()
	return m.rank(ctx, center, candidates, limit), nil
}

// rank computes the straight-line distance of every candidate with a known
// position. The directory's last known position wins, then the cached
// sample, then the stored one.
func (m *Matcher) rank(ctx context.Context, center geo.Point, candidates []driver.AvailableDriver, limit int) []location.NearbyDriver {
	out := make([]location.NearbyDriver, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		if c.DriverID == "" || seen[c.DriverID] {
			continue
		}
		seen[c.DriverID] = true

		point, at, ok := m.position(ctx, c)
		if !ok {
			continue
		}
		out = append(out, location.NearbyDriver{
			DriverID:  c.DriverID,
			Point:     point,
			Distance:  geo.Distance(center, point),
			Timestamp: at,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Matcher) position(ctx context.Context, c driver.AvailableDriver) (geo.Point, time.Time, bool) {
	if p, ok := c.LastKnown(); ok {
		return p, m.now(), true
	}
	if m.cache != nil {
		if s, ok := m.cache.PeekDriverLocation(ctx, c.DriverID); ok {
			return s.Point, s.Timestamp, true
		}
	}
	s, err := m.locations.Latest(ctx, c.DriverID)
	if err != nil {
		if !errors.Is(err, location.ErrLocationNotFound) {
			m.logger.Warn("Failed to load candidate location",
				logger.DriverID(c.DriverID),
				logger.Err(err),
			)
		}
		return geo.Point{}, time.Time{}, false
	}
	return s.Point, s.Timestamp, true
}

func candidateIDs(candidates []driver.AvailableDriver) []string {
	ids := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.DriverID == "" || seen[c.DriverID] {
			continue
		}
		seen[c.DriverID] = true
		ids = append(ids, c.DriverID)
	}
	return ids
}
