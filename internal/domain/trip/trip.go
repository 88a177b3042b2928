package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/geo"
)

type Status string

const (
	StatusPendingAcceptance Status = "PENDING_ACCEPTANCE"
	StatusScheduled         Status = "SCHEDULED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

func (s Status) rank() int {
	switch s {
	case StatusPendingAcceptance:
		return 0
	case StatusScheduled:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// IsValid validates the status
func (s Status) IsValid() bool {
	return s.rank() >= 0 || s == StatusCancelled
}

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive reports whether location pings drive this trip.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusInProgress
}

type WaypointType string

const (
	WaypointPickup   WaypointType = "PICKUP"
	WaypointDropoff  WaypointType = "DROPOFF"
	WaypointWaypoint WaypointType = "WAYPOINT"
)

// IsValid validates the waypoint type
func (t WaypointType) IsValid() bool {
	return t == WaypointPickup || t == WaypointDropoff || t == WaypointWaypoint
}

type WaypointStatus string

const (
	WaypointPending   WaypointStatus = "PENDING"
	WaypointArrived   WaypointStatus = "ARRIVED"
	WaypointCompleted WaypointStatus = "COMPLETED"
)

func (s WaypointStatus) rank() int {
	switch s {
	case WaypointPending:
		return 0
	case WaypointArrived:
		return 1
	case WaypointCompleted:
		return 2
	}
	return -1
}

// IsValid validates the waypoint status
func (s WaypointStatus) IsValid() bool {
	return s.rank() >= 0
}

type Waypoint struct {
	Type          WaypointType   `json:"type"`
	Location      geo.Point      `json:"location"`
	Address       string         `json:"address"`
	Status        WaypointStatus `json:"status"`
	ArrivalTime   *time.Time     `json:"arrivalTime,omitempty"`
	DepartureTime *time.Time     `json:"departureTime,omitempty"`
}

// Route is the provider geometry. It is opaque to the state machine.
type Route struct {
	Polyline    string      `json:"polyline,omitempty"`
	Coordinates []geo.Point `json:"coordinates,omitempty"`
}

// Trip is the tracked state of one order. Revision is bumped by the store on
// every successful update and guards read-modify-write cycles.
type Trip struct {
	OrderID      string     `json:"orderId"`
	DriverID     string     `json:"driverId,omitempty"`
	CustomerID   string     `json:"customerId"`
	Status       Status     `json:"status"`
	Waypoints    []Waypoint `json:"waypoints"`
	Route        Route      `json:"route"`
	Distance     float64    `json:"distance"`
	Duration     float64    `json:"duration"`
	CurrentEta   int        `json:"currentEta"`
	OriginalEta  int        `json:"originalEta"`
	EtaUpdatedAt *time.Time `json:"etaUpdatedAt,omitempty"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Revision     int64      `json:"revision"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NextWaypoint returns the index of the first PENDING waypoint, or -1.
func (t *Trip) NextWaypoint() int {
	for i := range t.Waypoints {
		if t.Waypoints[i].Status == WaypointPending {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	c.Waypoints = make([]Waypoint, len(t.Waypoints))
	for i, wp := range t.Waypoints {
		wp.ArrivalTime = cloneTime(wp.ArrivalTime)
		wp.DepartureTime = cloneTime(wp.DepartureTime)
		c.Waypoints[i] = wp
	}
	if t.Route.Coordinates != nil {
		c.Route.Coordinates = append([]geo.Point(nil), t.Route.Coordinates...)
	}
	c.EtaUpdatedAt = cloneTime(t.EtaUpdatedAt)
	c.StartTime = cloneTime(t.StartTime)
	c.EndTime = cloneTime(t.EndTime)
	return &c
}

// Validate checks the fields required at creation.
func (t *Trip) Validate() error {
	if t.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidTrip)
	}
	if t.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidTrip)
	}
	if len(t.Waypoints) == 0 {
		return fmt.Errorf("%w: at least one waypoint is required", ErrInvalidTrip)
	}
	for i, wp := range t.Waypoints {
		if !wp.Type.IsValid() {
			return fmt.Errorf("%w: waypoint %d has an invalid type", ErrInvalidTrip, i)
		}
		if !wp.Location.Valid() {
			return fmt.Errorf("%w: waypoint %d has invalid coordinates", ErrInvalidTrip, i)
		}
		if wp.Address == "" {
			return fmt.Errorf("%w: waypoint %d address is required", ErrInvalidTrip, i)
		}
	}
	if t.Distance < 0 || t.Duration < 0 {
		return fmt.Errorf("%w: distance and duration must not be negative", ErrInvalidTrip)
	}
	return nil
}

// Points returns the waypoint locations in route order.
func (t *Trip) Points() []geo.Point {
	points := make([]geo.Point, len(t.Waypoints))
	for i, wp := range t.Waypoints {
		points[i] = wp.Location
	}
	return points
}

// Repository is the durable store of trips keyed by order id.
type Repository interface {
	// Create stores a new trip; ErrDuplicateTrip if the order already has one
	Create(ctx context.Context, t *Trip) error

	GetByOrderID(ctx context.Context, orderID string) (*Trip, error)

	// ListActiveByDriver returns SCHEDULED and IN_PROGRESS trips of a driver
	ListActiveByDriver(ctx context.Context, driverID string) ([]*Trip, error)

	ListByStatus(ctx context.Context, status Status, limit int) ([]*Trip, error)

	// Update persists t if the stored revision still equals t.Revision and
	// bumps t.Revision. A stale revision yields ErrRevisionConflict.
	Update(ctx context.Context, t *Trip) error

	Ping(ctx context.Context) error
}

var (
	ErrTripNotFound         = errors.New("trip not found")
	ErrInvalidTrip          = errors.New("invalid trip")
	ErrDuplicateTrip        = errors.New("trip already exists for order")
	ErrInvalidWaypointIndex = errors.New("waypoint index out of range")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrTripTerminal         = errors.New("trip is completed or cancelled")
	ErrRevisionConflict     = errors.New("trip was modified concurrently")
	ErrDriverRequired       = errors.New("trip has no driver assigned")
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
