package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleCols = []string{
	"id", "driver_id", "order_id", "lat", "lng",
	"speed", "heading", "accuracy", "battery_level", "status", "recorded_at",
}

func newMock(t *testing.T) (sqlmock.Sqlmock, *LocationStore, *TripStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, NewLocationStore(db, time.Second), NewTripStore(db, time.Second)
}

func TestLocationStore_Append(t *testing.T) {
	mock, locations, _ := newMock(t)
	battery := 80.0
	sample := &location.Sample{
		DriverID:     "driver-1",
		Point:        geo.Point{Latitude: 40.7, Longitude: -73.9},
		Speed:        5,
		BatteryLevel: &battery,
		Status:       location.StatusDelivering,
		Timestamp:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO driver_locations").
		WithArgs(sqlmock.AnyArg(), "driver-1", "", -73.9, 40.7, 5.0, 0.0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "DELIVERING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, locations.Append(context.Background(), sample))
	assert.NotEmpty(t, sample.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationStore_AppendUnavailable(t *testing.T) {
	mock, locations, _ := newMock(t)

	mock.ExpectExec("INSERT INTO driver_locations").
		WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	err := locations.Append(context.Background(), &location.Sample{DriverID: "d"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestLocationStore_Latest(t *testing.T) {
	mock, locations, _ := newMock(t)
	ts := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM driver_locations").
		WithArgs("driver-1").
		WillReturnRows(sqlmock.NewRows(sampleCols).
			AddRow("s-1", "driver-1", "order-1", 40.7, -73.9, 4.5, 90.0, nil, 55.0, "DELIVERING", ts))

	sample, err := locations.Latest(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", sample.OrderID)
	assert.Equal(t, 40.7, sample.Latitude)
	assert.Equal(t, -73.9, sample.Longitude)
	assert.Nil(t, sample.Accuracy)
	require.NotNil(t, sample.BatteryLevel)
	assert.Equal(t, 55.0, *sample.BatteryLevel)
	assert.Equal(t, location.StatusDelivering, sample.Status)
	assert.Equal(t, ts, sample.Timestamp)
}

func TestLocationStore_LatestNotFound(t *testing.T) {
	mock, locations, _ := newMock(t)

	mock.ExpectQuery("FROM driver_locations").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(sampleCols))

	_, err := locations.Latest(context.Background(), "ghost")
	assert.ErrorIs(t, err, location.ErrLocationNotFound)
}

func TestLocationStore_NearestAmong(t *testing.T) {
	mock, locations, _ := newMock(t)
	ts := time.Now().UTC()

	mock.ExpectQuery("DISTINCT ON \\(driver_id\\)").
		WithArgs(-73.9, 40.7, sqlmock.AnyArg(), sqlmock.AnyArg(), 5000.0, 2).
		WillReturnRows(sqlmock.NewRows([]string{"driver_id", "lat", "lng", "distance", "recorded_at"}).
			AddRow("near", 40.701, -73.9, 111.0, ts).
			AddRow("far", 40.71, -73.9, 1112.0, ts))

	got, err := locations.NearestAmong(context.Background(), location.NearestQuery{
		Center:       geo.Point{Latitude: 40.7, Longitude: -73.9},
		RadiusMeters: 5000,
		DriverIDs:    []string{"near", "far", "offline"},
		Since:        ts.Add(-5 * time.Minute),
		Limit:        2,
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].DriverID)
	assert.Equal(t, 111.0, got[0].Distance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationStore_NearestAmongEmptyCandidates(t *testing.T) {
	mock, locations, _ := newMock(t)

	got, err := locations.NearestAmong(context.Background(), location.NearestQuery{Limit: 5})

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationStore_Heatmap(t *testing.T) {
	mock, locations, _ := newMock(t)
	from := time.Now().Add(-time.Hour)
	to := time.Now()

	mock.ExpectQuery("GROUP BY cell_lat, cell_lng").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 0.01).
		WillReturnRows(sqlmock.NewRows([]string{"cell_lat", "cell_lng", "samples"}).
			AddRow(40.7, -73.91, 12).
			AddRow(40.71, -73.9, 3))

	cells, err := locations.Heatmap(context.Background(), from, to, 0.01)

	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, 12, cells[0].Count)
}

func newTrip() *trip.Trip {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	return &trip.Trip{
		OrderID:    "order-1",
		DriverID:   "driver-1",
		CustomerID: "customer-1",
		Status:     trip.StatusScheduled,
		Waypoints: []trip.Waypoint{
			{Type: trip.WaypointPickup, Address: "A", Status: trip.WaypointPending},
			{Type: trip.WaypointDropoff, Address: "B", Status: trip.WaypointPending, Location: geo.Point{Longitude: 0.001}},
		},
		CurrentEta: 60,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestTripStore_Create(t *testing.T) {
	mock, _, trips := newMock(t)
	tr := newTrip()

	mock.ExpectExec("INSERT INTO trips").
		WithArgs("order-1", "driver-1", "customer-1", "SCHEDULED", sqlmock.AnyArg(), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, trips.Create(context.Background(), tr))
	assert.Equal(t, int64(1), tr.Revision)
}

func TestTripStore_CreateDuplicate(t *testing.T) {
	mock, _, trips := newMock(t)

	mock.ExpectExec("INSERT INTO trips").WillReturnError(&pq.Error{Code: "23505"})

	err := trips.Create(context.Background(), newTrip())
	assert.ErrorIs(t, err, trip.ErrDuplicateTrip)
}

func TestTripStore_GetByOrderID(t *testing.T) {
	mock, _, trips := newMock(t)
	doc, err := json.Marshal(newTrip())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT document, revision FROM trips").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"document", "revision"}).AddRow(doc, int64(4)))

	got, err := trips.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Revision)
	assert.Len(t, got.Waypoints, 2)
	assert.Equal(t, trip.WaypointDropoff, got.Waypoints[1].Type)
}

func TestTripStore_GetByOrderIDNotFound(t *testing.T) {
	mock, _, trips := newMock(t)

	mock.ExpectQuery("SELECT document, revision FROM trips").
		WillReturnRows(sqlmock.NewRows([]string{"document", "revision"}))

	_, err := trips.GetByOrderID(context.Background(), "nope")
	assert.ErrorIs(t, err, trip.ErrTripNotFound)
}

func TestTripStore_ListActiveByDriver(t *testing.T) {
	mock, _, trips := newMock(t)
	first, _ := json.Marshal(newTrip())
	second := newTrip()
	second.OrderID = "order-2"
	secondDoc, _ := json.Marshal(second)

	mock.ExpectQuery("status = ANY").
		WithArgs("driver-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"document", "revision"}).
			AddRow(first, int64(1)).
			AddRow(secondDoc, int64(3)))

	got, err := trips.ListActiveByDriver(context.Background(), "driver-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "order-2", got[1].OrderID)
	assert.Equal(t, int64(3), got[1].Revision)
}

func TestTripStore_Update(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   bool
		wantErr  error
		wantRev  int64
	}{
		{name: "applied", affected: 1, wantRev: 3},
		{name: "stale revision", affected: 0, exists: true, wantErr: trip.ErrRevisionConflict, wantRev: 2},
		{name: "missing trip", affected: 0, exists: false, wantErr: trip.ErrTripNotFound, wantRev: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, _, trips := newMock(t)
			tr := newTrip()
			tr.Revision = 2

			mock.ExpectExec("UPDATE trips").
				WithArgs("order-1", "driver-1", "SCHEDULED", sqlmock.AnyArg(), int64(3), sqlmock.AnyArg(), int64(2)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("order-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := trips.Update(context.Background(), tr)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRev, tr.Revision)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
