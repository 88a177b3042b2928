package driver

import (
	"github.com/gocomet/delivery-tracking/pkg/geo"
)

// Status is the availability status kept by the driver directory service.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBusy      Status = "BUSY"
	StatusOffline   Status = "OFFLINE"
)

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// AvailableDriver is one entry of the directory's available-driver list.
type AvailableDriver struct {
	DriverID     string   `json:"driverId"`
	LastKnownLat *float64 `json:"lastKnownLat,omitempty"`
	LastKnownLng *float64 `json:"lastKnownLng,omitempty"`
}

// LastKnown returns the directory reported position, if any.
func (d AvailableDriver) LastKnown() (geo.Point, bool) {
	if d.LastKnownLat == nil || d.LastKnownLng == nil {
		return geo.Point{}, false
	}
	p := geo.Point{Latitude: *d.LastKnownLat, Longitude: *d.LastKnownLng}
	return p, p.Valid()
}
