package trip

import (
	"math"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/geo"
)

// Policy carries the tunables of arrival detection and ETA computation.
type Policy struct {
	ProximityMeters float64
	MinEtaSeconds   int
	MinSpeed        float64
	DefaultSpeed    float64
	// EtaStaleAfter is the trip age after which traffic multipliers apply
	// to the proportional model.
	EtaStaleAfter time.Duration
	// Location is the zone used to read the hour of day for traffic.
	Location *time.Location
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ProximityMeters: 50,
		MinEtaSeconds:   60,
		MinSpeed:        1,
		DefaultSpeed:    10,
		EtaStaleAfter:   5 * time.Minute,
		Location:        time.UTC,
	}
}

// TrafficMultiplier returns the time-of-day factor for the given instant.
func (p Policy) TrafficMultiplier(now time.Time) float64 {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	switch {
	case hour >= 7 && hour < 10:
		return 1.30
	case hour >= 16 && hour < 20:
		return 1.25
	}
	return 1.0
}

// Floor applies the minimum ETA.
func (p Policy) Floor(seconds float64) int {
	eta := int(math.Ceil(seconds))
	if eta < p.MinEtaSeconds {
		return p.MinEtaSeconds
	}
	return eta
}

// EstimateEta computes the ETA from pos to the waypoint at target.
//
// A reported speed above MinSpeed wins: distance / speed. Otherwise the
// trip's original ETA is scaled by the share of route distance still ahead,
// with the traffic multiplier once the trip is older than EtaStaleAfter.
// Without a usable original ETA it falls back to distance / DefaultSpeed.
func (p Policy) EstimateEta(t *Trip, target int, pos geo.Point, speed float64, now time.Time) int {
	if target < 0 || target >= len(t.Waypoints) {
		return p.MinEtaSeconds
	}
	distance := geo.Distance(pos, t.Waypoints[target].Location)

	if speed > p.MinSpeed {
		return p.Floor(distance / speed)
	}

	total := t.Distance
	if total <= 0 {
		total = geo.PathLength(t.Points())
	}
	if t.OriginalEta <= 0 || total <= 0 {
		return p.Floor(geo.ETASeconds(distance, 0, p.MinSpeed, p.DefaultSpeed))
	}

	remaining := distance + geo.PathLength(t.Points()[target:])
	eta := float64(t.OriginalEta) * (remaining / total)
	if now.Sub(t.CreatedAt) > p.EtaStaleAfter {
		eta *= p.TrafficMultiplier(now)
	}
	return p.Floor(eta)
}
