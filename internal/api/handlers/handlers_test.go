package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/internal/realtime"
	"github.com/gocomet/delivery-tracking/internal/repository/memory"
	rediscache "github.com/gocomet/delivery-tracking/internal/repository/redis"
	"github.com/gocomet/delivery-tracking/internal/service/matching"
	"github.com/gocomet/delivery-tracking/internal/service/tracking"
	"github.com/gocomet/delivery-tracking/pkg/cache"
	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	gorilla "github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDirectory []driver.AvailableDriver

func (d staticDirectory) GetAvailableDrivers(context.Context) ([]driver.AvailableDriver, error) {
	return d, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(...trip.Event) error { return nil }

func setupRouter(t *testing.T, directory staticDirectory) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, 200*time.Millisecond)
	tc := rediscache.NewTrackingCache(cache.NewAside(store, logger.NewNop()), rediscache.TTLs{
		Location: 5 * time.Minute, Trip: 24 * time.Hour, Available: 30 * time.Second, AvailableGrace: 2 * time.Minute,
	})

	locations := memory.NewLocationStore()
	engine := tracking.NewEngine(locations, memory.NewTripStore(), tc, nopPublisher{}, tracking.Config{}, logger.NewNop(),
		tracking.WithCacheHealth(store))
	matcher := matching.NewMatcher(directory, locations, tc, matching.Config{}, logger.NewNop())
	hub := realtime.NewHub(engine, realtime.Config{}, logger.NewNop())
	h := NewHandlers(engine, matcher, hub, logger.NewNop(), gorilla.Upgrader{})

	r := gin.New()
	r.GET("/health/ready", h.Ready)
	r.GET("/v1/nearby-drivers", h.GetNearbyDrivers)
	r.POST("/v1/drivers/:id/location", h.UpdateDriverLocation)
	r.GET("/v1/drivers/:id/location", h.GetDriverLocation)
	r.GET("/v1/drivers/:id/history", h.GetLocationHistory)
	r.GET("/v1/trips", h.ListTrips)
	r.POST("/v1/trips", h.CreateTrip)
	r.POST("/v1/trips/pending", h.CreatePendingTrip)
	r.GET("/v1/trips/:orderId", h.GetTrip)
	r.POST("/v1/trips/:orderId/assign", h.AssignDriver)
	r.PUT("/v1/trips/:orderId/status", h.UpdateTripStatus)
	r.PUT("/v1/trips/:orderId/waypoints/:index", h.UpdateWaypointStatus)
	r.POST("/v1/trips/:orderId/route", h.RefreshTripRoute)
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func tripBody(orderID, driverID string) map[string]any {
	return map[string]any{
		"orderId":    orderID,
		"driverId":   driverID,
		"customerId": "c1",
		"waypoints": []map[string]any{
			{"type": "PICKUP", "latitude": 0, "longitude": 0, "address": "A"},
			{"type": "DROPOFF", "latitude": 0, "longitude": 0.001, "address": "B"},
		},
	}
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	r := setupRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/trips", tripBody("o1", "d1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "SCHEDULED", decode(t, w)["status"])

	w = do(r, http.MethodPost, "/v1/trips", tripBody("o1", "d1"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/v1/drivers/d1/location", map[string]any{"latitude": 0, "longitude": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	require.Len(t, res["trips"], 1)

	w = do(r, http.MethodGet, "/v1/trips/o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "IN_PROGRESS", body["status"])
	assert.NotNil(t, body["driverLocation"])

	w = do(r, http.MethodPut, "/v1/trips/o1/waypoints/7", map[string]string{"status": "ARRIVED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["code"])

	w = do(r, http.MethodPut, "/v1/trips/o1/waypoints/1", map[string]string{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "COMPLETED", decode(t, w)["status"])

	w = do(r, http.MethodPut, "/v1/trips/o1/status", map[string]string{"status": "CANCELLED"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPendingTripAssignment(t *testing.T) {
	r := setupRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/trips/pending", tripBody("o2", ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "PENDING_ACCEPTANCE", decode(t, w)["status"])

	w = do(r, http.MethodPut, "/v1/trips/o2/status", map[string]string{"status": "IN_PROGRESS"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "a driver is required first")

	w = do(r, http.MethodPost, "/v1/trips/o2/assign", map[string]string{"driverId": "d9"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "d9", decode(t, w)["driverId"])

	w = do(r, http.MethodPost, "/v1/trips/o2/assign", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/v1/trips?status=SCHEDULED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(r, http.MethodGet, "/v1/trips?status=PENDING_ACCEPTANCE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestRequestValidation(t *testing.T) {
	r := setupRouter(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing coordinates", http.MethodPost, "/v1/drivers/d1/location", map[string]any{"latitude": 1}, http.StatusBadRequest},
		{"latitude out of range", http.MethodPost, "/v1/drivers/d1/location", map[string]any{"latitude": 91, "longitude": 1}, http.StatusBadRequest},
		{"negative speed", http.MethodPost, "/v1/drivers/d1/location", map[string]any{"latitude": 1, "longitude": 1, "speed": -2}, http.StatusBadRequest},
		{"trip without waypoints", http.MethodPost, "/v1/trips", map[string]any{"orderId": "x", "customerId": "c", "driverId": "d"}, http.StatusBadRequest},
		{"unknown trip", http.MethodGet, "/v1/trips/nope", nil, http.StatusNotFound},
		{"unknown driver location", http.MethodGet, "/v1/drivers/ghost/location", nil, http.StatusNotFound},
		{"non numeric waypoint", http.MethodPut, "/v1/trips/o1/waypoints/abc", map[string]string{"status": "ARRIVED"}, http.StatusBadRequest},
		{"route provider missing", http.MethodPost, "/v1/trips/o1/route", nil, http.StatusBadGateway},
		{"list without status", http.MethodGet, "/v1/trips", nil, http.StatusBadRequest},
		{"list unknown status", http.MethodGet, "/v1/trips?status=LOST", nil, http.StatusBadRequest},
		{"nearby without point", http.MethodGet, "/v1/nearby-drivers?radius=10", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusBadRequest {
				body := decode(t, w)
				assert.Equal(t, "VALIDATION_ERROR", body["code"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestNearbyDrivers(t *testing.T) {
	lat, near, far := 0.0, 0.001, 0.002
	r := setupRouter(t, staticDirectory{
		{DriverID: "far", LastKnownLat: &lat, LastKnownLng: &far},
		{DriverID: "near", LastKnownLat: &lat, LastKnownLng: &near},
	})

	w := do(r, http.MethodGet, "/v1/nearby-drivers?latitude=0&longitude=0&radius=1000&limit=1", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	drivers := body["drivers"].([]any)
	assert.Equal(t, "near", drivers[0].(map[string]any)["driverId"])
}

func TestHistoryAndReadiness(t *testing.T) {
	r := setupRouter(t, nil)
	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/v1/drivers/d1/location", map[string]any{"latitude": 1, "longitude": 1})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(r, http.MethodGet, "/v1/drivers/d1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	from := time.Now().UTC().Format(time.RFC3339)
	to := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	w = do(r, http.MethodGet, fmt.Sprintf("/v1/drivers/d1/history?from=%s&to=%s", from, to), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	ready := decode(t, w)
	assert.Equal(t, "up", ready["store"])
	assert.Equal(t, "up", ready["cache"])
	assert.Equal(t, float64(0), ready["connections"].(map[string]any)["drivers"])
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{trip.ErrInvalidWaypointIndex, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", trip.ErrTripNotFound), http.StatusNotFound},
		{trip.ErrRevisionConflict, http.StatusConflict},
		{apperrors.Unavailable("trips.update", errors.New("dial tcp")), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{apperrors.Upstream("order-service", errors.New("500")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, toAppError(tt.err).Status, tt.err.Error())
	}
}
