package location

import (
	"context"
	"errors"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/geo"
)

// Status is what the driver reports they are doing when the sample was taken.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusPickingUp  Status = "PICKING_UP"
	StatusDelivering Status = "DELIVERING"
	StatusCompleted  Status = "COMPLETED"
)

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusPickingUp, StatusDelivering, StatusCompleted:
		return true
	}
	return false
}

var (
	ErrMissingDriverID     = errors.New("driver id is required")
	ErrInvalidCoordinates  = errors.New("latitude and longitude are required and must be in range")
	ErrInvalidSample       = errors.New("invalid location sample")
	ErrLocationNotFound    = errors.New("driver location not found")
	ErrInvalidTimeRange    = errors.New("invalid time range")
	ErrInvalidResolution   = errors.New("heatmap resolution must be positive")
	ErrInvalidNearestQuery = errors.New("invalid nearest driver query")
)

// Sample is one time-stamped driver position. Samples are append-only:
// a newer sample supersedes an older one, nothing is updated in place.
type Sample struct {
	ID       string `json:"id,omitempty"`
	DriverID string `json:"driverId"`
	OrderID  string `json:"orderId,omitempty"`
	geo.Point
	Speed        float64   `json:"speed"`
	Heading      float64   `json:"heading"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	BatteryLevel *float64  `json:"batteryLevel,omitempty"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// Normalize validates the sample and fills defaults (status IDLE, timestamp now).
func (s *Sample) Normalize(now time.Time) error {
	if s.DriverID == "" {
		return ErrMissingDriverID
	}
	if !s.Point.Valid() {
		return ErrInvalidCoordinates
	}
	if s.Speed < 0 {
		return errors.Join(ErrInvalidSample, errors.New("speed must not be negative"))
	}
	if s.Heading < 0 || s.Heading > 360 {
		return errors.Join(ErrInvalidSample, errors.New("heading must be within 0-360"))
	}
	if s.Accuracy != nil && *s.Accuracy < 0 {
		return errors.Join(ErrInvalidSample, errors.New("accuracy must not be negative"))
	}
	if s.BatteryLevel != nil && (*s.BatteryLevel < 0 || *s.BatteryLevel > 100) {
		return errors.Join(ErrInvalidSample, errors.New("battery level must be within 0-100"))
	}
	if s.Status == "" {
		s.Status = StatusIdle
	}
	if !s.Status.IsValid() {
		return errors.Join(ErrInvalidSample, errors.New("unknown status "+string(s.Status)))
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	s.Timestamp = s.Timestamp.UTC()
	return nil
}

// NearbyDriver is one nearest-driver result.
type NearbyDriver struct {
	DriverID string `json:"driverId"`
	geo.Point
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
}

// NearestQuery restricts an indexed nearest search to a candidate set.
type NearestQuery struct {
	Center       geo.Point
	RadiusMeters float64
	DriverIDs    []string
	Since        time.Time
	Limit        int
}

// HeatCell counts samples that fell in one grid cell.
type HeatCell struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Count     int     `json:"count"`
}

// Repository is the durable, geospatially indexed store of samples.
type Repository interface {
	// Append stores a new sample
	Append(ctx context.Context, sample *Sample) error

	// Latest returns the newest sample of a driver
	Latest(ctx context.Context, driverID string) (*Sample, error)

	// History returns samples of a driver within [from, to], newest first
	History(ctx context.Context, driverID string, from, to time.Time, limit int) ([]*Sample, error)

	// NearestAmong returns one entry per candidate driver (its most recent
	// sample within the radius), ordered by ascending distance
	NearestAmong(ctx context.Context, q NearestQuery) ([]NearbyDriver, error)

	// Heatmap aggregates samples within [from, to] into grid cells
	Heatmap(ctx context.Context, from, to time.Time, resolution float64) ([]HeatCell, error)

	// Ping checks store availability
	Ping(ctx context.Context) error
}
