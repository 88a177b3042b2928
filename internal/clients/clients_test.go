package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler http.HandlerFunc) Config {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return Config{BaseURL: srv.URL + "/", Timeout: time.Second}
}

func TestOrderClient_UpdateOrderStatus(t *testing.T) {
	var got map[string]any
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/orders/order-1/status", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	client := NewOrderClient(cfg, logger.NewNop())
	err := client.UpdateOrderStatus(context.Background(), "order-1", "DELIVERED", map[string]any{"driverId": "d1"})

	require.NoError(t, err)
	assert.Equal(t, "DELIVERED", got["status"])
	assert.Equal(t, map[string]any{"driverId": "d1"}, got["metadata"])
}

func TestOrderClient_GetOrderDetails(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/orders/public/missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"orderId": "order-1", "customerId": "c1", "status": "CONFIRMED"})
	})
	client := NewOrderClient(cfg, logger.NewNop())

	details, err := client.GetOrderDetails(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", details.CustomerID)

	_, err = client.GetOrderDetails(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.True(t, IsNotFound(err))
}

func TestDriverClient(t *testing.T) {
	var status string
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/drivers/available":
			_, _ = w.Write([]byte(`[{"driverId":"d1","lastKnownLat":1.5,"lastKnownLng":2.5},{"driverId":"d2"}]`))
		case "/api/drivers/d1/status":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			status = body["status"]
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})
	client := NewDriverClient(cfg, logger.NewNop())

	drivers, err := client.GetAvailableDrivers(context.Background())
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	pos, ok := drivers[0].LastKnown()
	assert.True(t, ok)
	assert.Equal(t, geo.Point{Latitude: 1.5, Longitude: 2.5}, pos)
	_, ok = drivers[1].LastKnown()
	assert.False(t, ok)

	require.NoError(t, client.UpdateDriverStatus(context.Background(), "d1", driver.StatusAvailable))
	assert.Equal(t, "AVAILABLE", status)
}

func TestDriverClient_ServerError(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := NewDriverClient(cfg, logger.NewNop()).GetAvailableDrivers(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.False(t, IsNotFound(err))
}

func TestDriverClient_UpdateDriverStatus(t *testing.T) {
	calls := 0
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unknown driver", http.StatusNotFound)
	})
	client := NewDriverClient(cfg, logger.NewNop())

	err := client.UpdateDriverStatus(context.Background(), "ghost", driver.StatusBusy)
	assert.ErrorIs(t, err, driver.ErrDriverNotFound)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)

	err = client.UpdateDriverStatus(context.Background(), "d1", driver.Status("ON_BREAK"))
	assert.ErrorIs(t, err, driver.ErrInvalidDriverStatus)
	assert.Equal(t, 1, calls, "invalid status is rejected before the call")
}

func TestNotificationClient_Notify(t *testing.T) {
	var body map[string]any
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	})

	err := NewNotificationClient(cfg, logger.NewNop()).
		Notify(context.Background(), "c1", TemplateDriverArrived, map[string]any{"orderId": "o1"})

	require.NoError(t, err)
	assert.Equal(t, "c1", body["recipient"])
	assert.Equal(t, TemplateDriverArrived, body["template"])
}

func TestRouteClient_GetRoute(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route/v1/driving/-120.200000,38.500000;-126.453000,43.252000", r.URL.Path)
		assert.Equal(t, "polyline", r.URL.Query().Get("geometries"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "Ok",
			"routes": []map[string]any{{
				"distance": 1234.5,
				"duration": 321.0,
				"geometry": "_p~iF~ps|U_ulLnnqC_mqNvxq`@",
			}},
		})
	})

	route, err := NewRouteClient(cfg, logger.NewNop()).GetRoute(context.Background(),
		geo.Point{Latitude: 38.5, Longitude: -120.2},
		geo.Point{Latitude: 43.252, Longitude: -126.453},
	)

	require.NoError(t, err)
	assert.Equal(t, 1234.5, route.Distance)
	assert.Equal(t, 321.0, route.Duration)
	require.Len(t, route.Coordinates, 3)
	assert.InDelta(t, 38.5, route.Coordinates[0].Latitude, 1e-6)
	assert.InDelta(t, -120.2, route.Coordinates[0].Longitude, 1e-6)
	assert.InDelta(t, 43.252, route.Coordinates[2].Latitude, 1e-6)
}

func TestRouteClient_NoRoute(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	})

	_, err := NewRouteClient(cfg, logger.NewNop()).GetRoute(context.Background(), geo.Point{}, geo.Point{Latitude: 1})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}
