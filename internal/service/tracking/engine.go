package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gocomet/delivery-tracking/internal/clients"
	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
	"golang.org/x/sync/errgroup"
)

// ErrNoRouteProvider is returned by RefreshTripRoute when no provider is wired.
var ErrNoRouteProvider = errors.New("route provider not configured")

const maxListLimit = 100

// errUnchanged tells mutate that the step was a no-op and nothing needs to be written.
var errUnchanged = errors.New("unchanged")

// Cache is the accelerator in front of the durable stores.
type Cache interface {
	DriverLocation(ctx context.Context, driverID string, load func(context.Context) (*location.Sample, error)) (*location.Sample, error)
	PeekDriverLocation(ctx context.Context, driverID string) (*location.Sample, bool)
	PutDriverLocation(ctx context.Context, sample *location.Sample)
	Trip(ctx context.Context, orderID string, load func(context.Context) (*trip.Trip, error)) (*trip.Trip, error)
	PutTrip(ctx context.Context, t *trip.Trip)
	InvalidateTrip(ctx context.Context, orderID string)
}

// Publisher takes committed events for asynchronous delivery.
type Publisher interface {
	Publish(events ...trip.Event) error
}

// RouteProvider computes a road route between two points.
type RouteProvider interface {
	GetRoute(ctx context.Context, origin, destination geo.Point) (*clients.Route, error)
}

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the engine.
type Config struct {
	Policy trip.Policy
	// EvaluationWorkers bounds how many of a driver's trips are evaluated at once.
	EvaluationWorkers int
	HistoryLimit      int
	HistoryWindow     time.Duration
	HeatmapResolution float64
}

// Engine owns trip state transitions driven by driver locations and by
// operator requests. Every trip mutation is a reload, a pure state machine
// step, a revision checked write, a cache refresh and an event publish.
type Engine struct {
	locations location.Repository
	trips     trip.Repository
	cache     Cache
	publisher Publisher
	routes    RouteProvider
	cacheHC   Pinger

	cfg    Config
	locks  *keyedMutex
	now    func() time.Time
	logger *logger.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRouteProvider enables RefreshTripRoute.
func WithRouteProvider(r RouteProvider) Option {
	return func(e *Engine) { e.routes = r }
}

// WithCacheHealth lets Health report on the cache.
func WithCacheHealth(p Pinger) Option {
	return func(e *Engine) { e.cacheHC = p }
}

// NewEngine creates the tracking engine.
func NewEngine(
	locations location.Repository,
	trips trip.Repository,
	cache Cache,
	publisher Publisher,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Engine {
	if cfg.Policy == (trip.Policy{}) {
		cfg.Policy = trip.DefaultPolicy()
	}
	if cfg.EvaluationWorkers <= 0 {
		cfg.EvaluationWorkers = 4
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 24 * time.Hour
	}
	if cfg.HeatmapResolution <= 0 {
		cfg.HeatmapResolution = 0.01
	}

	e := &Engine{
		locations: locations,
		trips:     trips,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TripUpdate summarizes one trip evaluated for a location sample.
type TripUpdate struct {
	OrderID    string           `json:"orderId"`
	CustomerID string           `json:"customerId"`
	Status     trip.Status      `json:"status"`
	CurrentEta int              `json:"currentEta"`
	Events     []trip.EventType `json:"events,omitempty"`
}

// RecordResult is the outcome of RecordLocation.
type RecordResult struct {
	Sample      *location.Sample `json:"sample"`
	Trips       []TripUpdate     `json:"trips"`
	FailedTrips []string         `json:"failedTrips,omitempty"`
}

// TripView is a trip joined with the driver's latest position at read time.
type TripView struct {
	*trip.Trip
	DriverLocation *location.Sample `json:"driverLocation,omitempty"`
}

// RecordLocation stores a sample and advances the driver's active trips.
//
// A failure to store the sample is returned and nothing else happens. Trip
// evaluation failures are isolated per trip and reported in the result.
func (e *Engine) RecordLocation(ctx context.Context, sample *location.Sample) (*RecordResult, error) {
	if err := sample.Normalize(e.now()); err != nil {
		return nil, err
	}
	if err := e.locations.Append(ctx, sample); err != nil {
		return nil, err
	}
	monitoring.LocationUpdates.Inc()
	e.cache.PutDriverLocation(ctx, sample)

	result := &RecordResult{Sample: sample, Trips: []TripUpdate{}}

	active, err := e.trips.ListActiveByDriver(ctx, sample.DriverID)
	if err != nil {
		monitoring.TripEvaluationFailures.Inc()
		e.logger.Error("Failed to load active trips",
			logger.DriverID(sample.DriverID),
			logger.Err(err),
		)
		result.FailedTrips = append(result.FailedTrips, "*")
		return result, nil
	}

	updates := make([]*TripUpdate, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EvaluationWorkers)
	for i, t := range active {
		i, t := i, t
		g.Go(func() error {
			updates[i] = e.evaluateTrip(gctx, t.OrderID, sample)
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range updates {
		if u == nil {
			result.FailedTrips = append(result.FailedTrips, active[i].OrderID)
			continue
		}
		if u.OrderID != "" {
			result.Trips = append(result.Trips, *u)
		}
	}
	return result, nil
}

// evaluateTrip returns nil on failure and an empty update when the trip no
// longer belongs to the sample's driver or is no longer active.
func (e *Engine) evaluateTrip(ctx context.Context, orderID string, sample *location.Sample) *TripUpdate {
	t, out, err := e.mutate(ctx, orderID, func(t *trip.Trip, now time.Time) (trip.Outcome, error) {
		if !t.Status.IsActive() || t.DriverID != sample.DriverID {
			return trip.Outcome{}, errUnchanged
		}
		return trip.Evaluate(t, sample.Point, sample.Speed, e.cfg.Policy, now), nil
	})
	if errors.Is(err, errUnchanged) {
		return &TripUpdate{}
	}
	if err != nil {
		monitoring.TripEvaluationFailures.Inc()
		e.logger.Error("Trip evaluation failed",
			logger.OrderID(orderID),
			logger.DriverID(sample.DriverID),
			logger.Err(err),
		)
		return nil
	}

	monitoring.ETASeconds.Observe(float64(t.CurrentEta))
	u := &TripUpdate{
		OrderID:    t.OrderID,
		CustomerID: t.CustomerID,
		Status:     t.Status,
		CurrentEta: t.CurrentEta,
	}
	for _, ev := range out.Events {
		u.Events = append(u.Events, ev.Type)
	}
	return u
}

// mutate runs step on a freshly loaded trip under the trip's lock and writes
// the result with a revision check. A conflicting write from another process
// is retried once against a fresh copy.
func (e *Engine) mutate(ctx context.Context, orderID string, step func(*trip.Trip, time.Time) (trip.Outcome, error)) (*trip.Trip, trip.Outcome, error) {
	unlock, err := e.locks.Lock(ctx, orderID)
	if err != nil {
		return nil, trip.Outcome{}, apperrors.Unavailable("trip lock", err)
	}
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		t, err := e.trips.GetByOrderID(ctx, orderID)
		if err != nil {
			return nil, trip.Outcome{}, err
		}

		now := e.now()
		out, err := step(t, now)
		if err != nil {
			return t, trip.Outcome{}, err
		}
		t.UpdatedAt = now

		err = e.trips.Update(ctx, t)
		if errors.Is(err, trip.ErrRevisionConflict) {
			e.logger.Warn("Trip revision conflict, reloading",
				logger.OrderID(orderID),
				logger.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, trip.Outcome{}, err
		}

		e.cache.PutTrip(ctx, t)
		e.publish(out.Events)
		return t, out, nil
	}
	e.cache.InvalidateTrip(ctx, orderID)
	return nil, trip.Outcome{}, trip.ErrRevisionConflict
}

func (e *Engine) publish(events []trip.Event) {
	if len(events) == 0 || e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(events...); err != nil {
		e.logger.Error("Failed to enqueue trip events",
			logger.OrderID(events[0].OrderID),
			logger.Int("events", len(events)),
			logger.Err(err),
		)
	}
}

// GetTrip reads a trip through the cache and, for trips still running,
// attaches the driver's latest known position.
func (e *Engine) GetTrip(ctx context.Context, orderID string) (*TripView, error) {
	t, err := e.cache.Trip(ctx, orderID, func(ctx context.Context) (*trip.Trip, error) {
		return e.trips.GetByOrderID(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}

	view := &TripView{Trip: t}
	if !t.Status.IsTerminal() && t.DriverID != "" {
		view.DriverLocation = e.latestLocation(ctx, t.DriverID)
	}
	return view, nil
}

// GetDriverLocation returns the newest sample of a driver.
func (e *Engine) GetDriverLocation(ctx context.Context, driverID string) (*location.Sample, error) {
	if driverID == "" {
		return nil, location.ErrMissingDriverID
	}
	return e.cache.DriverLocation(ctx, driverID, func(ctx context.Context) (*location.Sample, error) {
		return e.locations.Latest(ctx, driverID)
	})
}

func (e *Engine) latestLocation(ctx context.Context, driverID string) *location.Sample {
	sample, err := e.GetDriverLocation(ctx, driverID)
	if err != nil {
		if !errors.Is(err, location.ErrLocationNotFound) {
			e.logger.Warn("Driver location unavailable for trip view",
				logger.DriverID(driverID),
				logger.Err(err),
			)
		}
		return nil
	}
	return sample
}

// WaypointInput describes one stop of a new trip.
type WaypointInput struct {
	Type    trip.WaypointType
	Point   geo.Point
	Address string
}

// CreateTripInput describes a new trip. Distance (meters) and Duration
// (seconds) are derived from the waypoints when zero.
type CreateTripInput struct {
	OrderID    string
	DriverID   string
	CustomerID string
	Waypoints  []WaypointInput
	Distance   float64
	Duration   float64
}

// CreateTrip creates a trip already assigned to a driver.
func (e *Engine) CreateTrip(ctx context.Context, in CreateTripInput) (*trip.Trip, error) {
	if in.DriverID == "" {
		return nil, trip.ErrDriverRequired
	}
	return e.create(ctx, in, trip.StatusScheduled)
}

// CreatePendingTrip creates a trip that still waits for a driver.
func (e *Engine) CreatePendingTrip(ctx context.Context, in CreateTripInput) (*trip.Trip, error) {
	in.DriverID = ""
	return e.create(ctx, in, trip.StatusPendingAcceptance)
}

func (e *Engine) create(ctx context.Context, in CreateTripInput, status trip.Status) (*trip.Trip, error) {
	now := e.now()
	t := &trip.Trip{
		OrderID:    in.OrderID,
		DriverID:   in.DriverID,
		CustomerID: in.CustomerID,
		Status:     status,
		Waypoints:  make([]trip.Waypoint, 0, len(in.Waypoints)),
		Distance:   in.Distance,
		Duration:   in.Duration,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, wp := range in.Waypoints {
		t.Waypoints = append(t.Waypoints, trip.Waypoint{
			Type:     wp.Type,
			Location: wp.Point,
			Address:  wp.Address,
			Status:   trip.WaypointPending,
		})
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if t.Distance == 0 {
		t.Distance = geo.PathLength(t.Points())
	}
	if t.Duration == 0 {
		t.Duration = geo.ETASeconds(t.Distance, 0, e.cfg.Policy.MinSpeed, e.cfg.Policy.DefaultSpeed)
	}
	t.OriginalEta = int(math.Ceil(t.Duration))
	t.CurrentEta = e.cfg.Policy.Floor(t.Duration)
	t.EtaUpdatedAt = &now

	if err := e.trips.Create(ctx, t); err != nil {
		return nil, err
	}
	e.cache.PutTrip(ctx, t)

	if t.DriverID != "" {
		e.publish([]trip.Event{trip.NewEvent(trip.EventDriverAssigned, t, now)})
	}

	e.logger.Info("Trip created",
		logger.OrderID(t.OrderID),
		logger.String("status", string(t.Status)),
		logger.Int("waypoints", len(t.Waypoints)),
	)
	return t, nil
}

// AssignDriver attaches a driver to a trip that has not started.
func (e *Engine) AssignDriver(ctx context.Context, orderID, driverID string) (*trip.Trip, error) {
	return e.apply(ctx, orderID, func(t *trip.Trip, now time.Time) (trip.Outcome, error) {
		return trip.Assign(t, driverID, now)
	})
}

// UpdateWaypointStatus moves one waypoint forward on operator request.
func (e *Engine) UpdateWaypointStatus(ctx context.Context, orderID string, index int, status trip.WaypointStatus) (*trip.Trip, error) {
	return e.apply(ctx, orderID, func(t *trip.Trip, now time.Time) (trip.Outcome, error) {
		return trip.ApplyWaypointStatus(t, index, status, now)
	})
}

// UpdateTripStatus applies an operator status change.
func (e *Engine) UpdateTripStatus(ctx context.Context, orderID string, status trip.Status) (*trip.Trip, error) {
	return e.apply(ctx, orderID, func(t *trip.Trip, now time.Time) (trip.Outcome, error) {
		return trip.TransitionTo(t, status, now)
	})
}

// apply runs an operator step. Steps that change nothing are not written.
func (e *Engine) apply(ctx context.Context, orderID string, step func(*trip.Trip, time.Time) (trip.Outcome, error)) (*trip.Trip, error) {
	t, _, err := e.mutate(ctx, orderID, func(t *trip.Trip, now time.Time) (trip.Outcome, error) {
		out, err := step(t, now)
		if err == nil && !out.Changed {
			return out, errUnchanged
		}
		return out, err
	})
	if errors.Is(err, errUnchanged) {
		return t, nil
	}
	return t, err
}

// RefreshTripRoute replaces the trip geometry and ETA with a provider route
// from the driver (or the next stop) to the final stop.
func (e *Engine) RefreshTripRoute(ctx context.Context, orderID string) (*trip.Trip, error) {
	if e.routes == nil {
		return nil, apperrors.Upstream("route-service", ErrNoRouteProvider)
	}

	current, err := e.trips.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, trip.ErrTripTerminal
	}

	origin, ok := e.routeOrigin(ctx, current)
	if !ok {
		return nil, trip.ErrTripTerminal
	}
	destination := current.Waypoints[len(current.Waypoints)-1].Location

	route, err := e.routes.GetRoute(ctx, origin, destination)
	if err != nil {
		return nil, err
	}

	return e.apply(ctx, orderID, func(t *trip.Trip, now time.Time) (trip.Outcome, error) {
		if t.Status.IsTerminal() {
			return trip.Outcome{}, trip.ErrTripTerminal
		}
		t.Route = trip.Route{Polyline: route.Polyline, Coordinates: route.Coordinates}
		t.Distance = route.Distance
		t.Duration = route.Duration
		t.CurrentEta = e.cfg.Policy.Floor(route.Duration)
		t.EtaUpdatedAt = &now
		return trip.Outcome{Changed: true}, nil
	})
}

func (e *Engine) routeOrigin(ctx context.Context, t *trip.Trip) (geo.Point, bool) {
	if t.DriverID != "" {
		if sample := e.latestLocation(ctx, t.DriverID); sample != nil {
			return sample.Point, true
		}
	}
	next := t.NextWaypoint()
	if next < 0 {
		return geo.Point{}, false
	}
	return t.Waypoints[next].Location, true
}

// ListTrips returns the most recent trips in status, newest first.
func (e *Engine) ListTrips(ctx context.Context, status trip.Status, limit int) ([]*trip.Trip, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", trip.ErrInvalidTrip, status)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return e.trips.ListByStatus(ctx, status, limit)
}

// History returns a driver's samples within [from, to]. Zero bounds default
// to the configured window ending now.
func (e *Engine) History(ctx context.Context, driverID string, from, to time.Time, limit int) ([]*location.Sample, error) {
	if driverID == "" {
		return nil, location.ErrMissingDriverID
	}
	from, to, err := e.window(from, to)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > e.cfg.HistoryLimit {
		limit = e.cfg.HistoryLimit
	}
	return e.locations.History(ctx, driverID, from, to, limit)
}

// Heatmap aggregates samples within [from, to] into grid cells.
func (e *Engine) Heatmap(ctx context.Context, from, to time.Time, resolution float64) ([]location.HeatCell, error) {
	if resolution < 0 {
		return nil, location.ErrInvalidResolution
	}
	if resolution == 0 {
		resolution = e.cfg.HeatmapResolution
	}
	from, to, err := e.window(from, to)
	if err != nil {
		return nil, err
	}
	return e.locations.Heatmap(ctx, from, to, resolution)
}

func (e *Engine) window(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = e.now()
	}
	if from.IsZero() {
		from = to.Add(-e.cfg.HistoryWindow)
	}
	if from.After(to) {
		return from, to, location.ErrInvalidTimeRange
	}
	return from, to, nil
}

// Status values reported by Health.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// HealthReport is the readiness of the durable store and the cache.
type HealthReport struct {
	Store string `json:"store"`
	Cache string `json:"cache"`
}

// Healthy is true when the durable store is reachable. A cache outage only
// degrades performance.
func (h HealthReport) Healthy() bool {
	return h.Store == StatusUp
}

func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{Store: StatusUp, Cache: StatusUp}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.trips.Ping(gctx) })
	g.Go(func() error { return e.locations.Ping(gctx) })
	if err := g.Wait(); err != nil {
		report.Store = StatusDown
		e.logger.Warn("Durable store health check failed", logger.Err(err))
	}

	if e.cacheHC != nil {
		if err := e.cacheHC.Ping(ctx); err != nil {
			report.Cache = StatusDown
			e.logger.Warn("Cache health check failed", logger.Err(err))
		}
	}
	return report
}
