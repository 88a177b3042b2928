package dto

import (
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/internal/service/tracking"
	"github.com/gocomet/delivery-tracking/pkg/geo"
)

// UpdateLocationRequest represents a driver location update
type UpdateLocationRequest struct {
	OrderID      string   `json:"orderId"`
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
	Speed        float64  `json:"speed" binding:"gte=0"`
	Heading      float64  `json:"heading" binding:"gte=0,lte=360"`
	Accuracy     *float64 `json:"accuracy" binding:"omitempty,gte=0"`
	BatteryLevel *float64 `json:"batteryLevel" binding:"omitempty,gte=0,lte=100"`
	Status       string   `json:"status" binding:"omitempty,oneof=IDLE PICKING_UP DELIVERING COMPLETED"`
}

// Sample converts the request into a location sample for driverID.
func (r UpdateLocationRequest) Sample(driverID string) *location.Sample {
	return &location.Sample{
		DriverID:     driverID,
		OrderID:      r.OrderID,
		Point:        geo.Point{Latitude: *r.Latitude, Longitude: *r.Longitude},
		Speed:        r.Speed,
		Heading:      r.Heading,
		Accuracy:     r.Accuracy,
		BatteryLevel: r.BatteryLevel,
		Status:       location.Status(r.Status),
	}
}

// WaypointRequest is one stop of a new trip
type WaypointRequest struct {
	Type      string   `json:"type" binding:"required,oneof=PICKUP DROPOFF WAYPOINT"`
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Address   string   `json:"address" binding:"required"`
}

// CreateTripRequest represents a request to create a trip. DriverID is
// required for assigned trips and ignored for pending ones.
type CreateTripRequest struct {
	OrderID    string            `json:"orderId" binding:"required"`
	DriverID   string            `json:"driverId"`
	CustomerID string            `json:"customerId" binding:"required"`
	Waypoints  []WaypointRequest `json:"waypoints" binding:"required,min=1,dive"`
	Distance   float64           `json:"distance" binding:"gte=0"`
	Duration   float64           `json:"duration" binding:"gte=0"`
}

func (r CreateTripRequest) Input() tracking.CreateTripInput {
	in := tracking.CreateTripInput{
		OrderID:    r.OrderID,
		DriverID:   r.DriverID,
		CustomerID: r.CustomerID,
		Distance:   r.Distance,
		Duration:   r.Duration,
		Waypoints:  make([]tracking.WaypointInput, 0, len(r.Waypoints)),
	}
	for _, wp := range r.Waypoints {
		in.Waypoints = append(in.Waypoints, tracking.WaypointInput{
			Type:    trip.WaypointType(wp.Type),
			Point:   geo.Point{Latitude: *wp.Latitude, Longitude: *wp.Longitude},
			Address: wp.Address,
		})
	}
	return in
}

// AssignDriverRequest assigns a driver to a trip
type AssignDriverRequest struct {
	DriverID string `json:"driverId" binding:"required"`
}

// UpdateTripStatusRequest is an operator status change
type UpdateTripStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateWaypointStatusRequest moves one waypoint forward
type UpdateWaypointStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// NearbyDriversQuery is the query string of GET /v1/nearby-drivers
type NearbyDriversQuery struct {
	Latitude  *float64 `form:"latitude" binding:"required"`
	Longitude *float64 `form:"longitude" binding:"required"`
	Radius    float64  `form:"radius" binding:"gte=0"`
	Limit     int      `form:"limit" binding:"gte=0"`
}

// ListTripsQuery is the query string of GET /v1/trips
type ListTripsQuery struct {
	Status string `form:"status" binding:"required"`
	Limit  int    `form:"limit" binding:"gte=0"`
}

// TimeRangeQuery bounds history and heatmap queries. Zero values take defaults.
type TimeRangeQuery struct {
	From       time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit      int       `form:"limit" binding:"gte=0"`
	Resolution float64   `form:"resolution" binding:"gte=0"`
}

// Error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
