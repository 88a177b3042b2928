// Package geo holds the pure geometry used by tracking and matching:
// great-circle distance, speed based ETA, geofence tests and grid cells.
package geo

import (
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point lies inside the WGS84 ranges and is not NaN.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}

	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// PathLength sums the straight legs between consecutive points.
func PathLength(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// ETASeconds converts a distance in meters into whole seconds at speed m/s.
// Speeds below minSpeed are replaced by fallbackSpeed.
func ETASeconds(distance, speed, minSpeed, fallbackSpeed float64) float64 {
	effective := speed
	if effective < minSpeed || effective <= 0 {
		effective = fallbackSpeed
	}
	if effective <= 0 || distance <= 0 {
		return 0
	}
	return math.Ceil(distance / effective)
}

// PointInPolygon runs a ray cast against the polygon ring. The ring may be
// open or closed.
func PointInPolygon(p Point, polygon []Point) bool {
	x, y := p.Longitude, p.Latitude

	inside := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		xi, yi := polygon[i].Longitude, polygon[i].Latitude
		xj, yj := polygon[j].Longitude, polygon[j].Latitude

		intersect := (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi
		if intersect {
			inside = !inside
		}
	}
	return inside
}

// GridCell snaps p to the south-west corner of its resolution sized cell.
func GridCell(p Point, resolution float64) Point {
	if resolution <= 0 {
		return p
	}
	return Point{
		Latitude:  math.Floor(p.Latitude/resolution) * resolution,
		Longitude: math.Floor(p.Longitude/resolution) * resolution,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
