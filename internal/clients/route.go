package clients

import (
	"context"
	"fmt"
	"net/http"

	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/twpayne/go-polyline"
)

// Route is a provider answer between two points.
type Route struct {
	Distance    float64     `json:"distance"`
	Duration    float64     `json:"duration"`
	Polyline    string      `json:"polyline"`
	Coordinates []geo.Point `json:"coordinates"`
}

// RouteClient queries an OSRM compatible /route endpoint.
type RouteClient struct {
	baseClient
	profile string
}

func NewRouteClient(cfg Config, log *logger.Logger) *RouteClient {
	return &RouteClient{baseClient: newBaseClient("route-service", cfg, log), profile: "driving"}
}

func (c *RouteClient) GetRoute(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	path := fmt.Sprintf("/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline",
		c.profile, origin.Longitude, origin.Latitude, destination.Longitude, destination.Latitude)

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry string  `json:"geometry"`
		} `json:"routes"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, apperrors.Upstream(c.name, fmt.Errorf("no route: %s", out.Code))
	}

	best := out.Routes[0]
	coords, _, err := polyline.DecodeCoords([]byte(best.Geometry))
	if err != nil {
		return nil, apperrors.Upstream(c.name, fmt.Errorf("decode geometry: %w", err))
	}

	points := make([]geo.Point, 0, len(coords))
	for _, coord := range coords {
		points = append(points, geo.Point{Latitude: coord[0], Longitude: coord[1]})
	}
	return &Route{
		Distance:    best.Distance,
		Duration:    best.Duration,
		Polyline:    best.Geometry,
		Coordinates: points,
	}, nil
}
