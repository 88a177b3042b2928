package trip

import (
	"testing"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func twoStopTrip() *Trip {
	return &Trip{
		OrderID:    "order-1",
		DriverID:   "driver-1",
		CustomerID: "customer-1",
		Status:     StatusScheduled,
		Waypoints: []Waypoint{
			{Type: WaypointPickup, Location: geo.Point{Latitude: 0, Longitude: 0}, Address: "A", Status: WaypointPending},
			{Type: WaypointDropoff, Location: geo.Point{Latitude: 0, Longitude: 0.001}, Address: "B", Status: WaypointPending},
		},
		Distance:    111,
		Duration:    600,
		OriginalEta: 600,
		CurrentEta:  600,
		CreatedAt:   testNow,
	}
}

func TestEvaluate_TwoWaypointScenario(t *testing.T) {
	tr := twoStopTrip()
	p := DefaultPolicy()

	out := Evaluate(tr, geo.Point{Latitude: 0, Longitude: 0}, 0, p, testNow)

	assert.True(t, out.Changed)
	assert.Equal(t, WaypointArrived, tr.Waypoints[0].Status)
	assert.Equal(t, WaypointPending, tr.Waypoints[1].Status)
	assert.Equal(t, StatusInProgress, tr.Status)
	require.NotNil(t, tr.StartTime)
	assert.True(t, out.Has(EventDeliveryStarted))
	assert.False(t, out.Has(EventDriverArrived))

	later := testNow.Add(3 * time.Minute)
	out = Evaluate(tr, geo.Point{Latitude: 0, Longitude: 0.001}, 0, p, later)

	assert.Equal(t, WaypointArrived, tr.Waypoints[1].Status)
	assert.Equal(t, StatusCompleted, tr.Status)
	require.NotNil(t, tr.EndTime)
	assert.Equal(t, later, *tr.EndTime)
	assert.Equal(t, testNow, *tr.StartTime, "start time is set once")
	assert.True(t, out.Has(EventDriverArrived))
	assert.True(t, out.Has(EventDeliveryCompleted))
}

func TestEvaluate_FarAwayOnlyRefreshesEta(t *testing.T) {
	tr := twoStopTrip()

	out := Evaluate(tr, geo.Point{Latitude: 0.05, Longitude: 0}, 12, DefaultPolicy(), testNow)

	assert.False(t, out.Changed)
	assert.Empty(t, out.Events)
	assert.Equal(t, StatusScheduled, tr.Status)
	assert.Equal(t, WaypointPending, tr.Waypoints[0].Status)
	require.NotNil(t, tr.EtaUpdatedAt)
	assert.GreaterOrEqual(t, tr.CurrentEta, 60)
}

func TestEvaluate_TerminalTripIsNotMutated(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusPendingAcceptance} {
		t.Run(string(status), func(t *testing.T) {
			tr := twoStopTrip()
			tr.Status = status
			before := tr.Clone()

			out := Evaluate(tr, geo.Point{}, 0, DefaultPolicy(), testNow)

			assert.False(t, out.Changed)
			assert.Equal(t, before, tr)
		})
	}
}

func TestEvaluate_ArrivalHappensOnce(t *testing.T) {
	tr := twoStopTrip()
	tr.Waypoints = tr.Waypoints[1:]
	tr.Status = StatusInProgress
	p := DefaultPolicy()

	first := Evaluate(tr, geo.Point{Latitude: 0, Longitude: 0.001}, 0, p, testNow)
	second := Evaluate(tr, geo.Point{Latitude: 0, Longitude: 0.001}, 0, p, testNow.Add(time.Second))

	assert.True(t, first.Has(EventDriverArrived))
	assert.True(t, first.Has(EventDeliveryCompleted))
	assert.Empty(t, second.Events)
	assert.Equal(t, testNow, *tr.EndTime)
}

func TestApplyWaypointStatus_OutOfRange(t *testing.T) {
	for _, idx := range []int{-1, 2, 10} {
		tr := twoStopTrip()
		before := tr.Clone()

		_, err := ApplyWaypointStatus(tr, idx, WaypointArrived, testNow)

		assert.ErrorIs(t, err, ErrInvalidWaypointIndex)
		assert.Equal(t, before, tr, "trip must be unmodified")
	}
}

func TestApplyWaypointStatus_Rules(t *testing.T) {
	t.Run("first waypoint starts trip", func(t *testing.T) {
		tr := twoStopTrip()
		out, err := ApplyWaypointStatus(tr, 0, WaypointCompleted, testNow)
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, tr.Status)
		assert.Equal(t, WaypointCompleted, tr.Waypoints[0].Status)
		assert.NotNil(t, tr.Waypoints[0].ArrivalTime)
		assert.NotNil(t, tr.Waypoints[0].DepartureTime)
		assert.True(t, out.Has(EventDeliveryStarted))
	})

	t.Run("last waypoint completes trip", func(t *testing.T) {
		tr := twoStopTrip()
		out, err := ApplyWaypointStatus(tr, 1, WaypointCompleted, testNow)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, tr.Status)
		assert.Equal(t, WaypointCompleted, tr.Waypoints[0].Status)
		assert.NotNil(t, tr.EndTime)
		assert.True(t, out.Has(EventDeliveryCompleted))
		assert.True(t, out.Has(EventDriverArrived))
	})

	t.Run("no regression", func(t *testing.T) {
		tr := twoStopTrip()
		_, err := ApplyWaypointStatus(tr, 0, WaypointArrived, testNow)
		require.NoError(t, err)

		_, err = ApplyWaypointStatus(tr, 0, WaypointPending, testNow)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, WaypointArrived, tr.Waypoints[0].Status)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		tr := twoStopTrip()
		_, err := ApplyWaypointStatus(tr, 0, WaypointArrived, testNow)
		require.NoError(t, err)

		out, err := ApplyWaypointStatus(tr, 0, WaypointArrived, testNow.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, out.Changed)
		assert.Equal(t, testNow, *tr.Waypoints[0].ArrivalTime)
	})

	t.Run("terminal trip rejected", func(t *testing.T) {
		tr := twoStopTrip()
		tr.Status = StatusCancelled
		_, err := ApplyWaypointStatus(tr, 0, WaypointArrived, testNow)
		assert.ErrorIs(t, err, ErrTripTerminal)
	})

	t.Run("pending acceptance rejected", func(t *testing.T) {
		tr := twoStopTrip()
		tr.Status = StatusPendingAcceptance
		_, err := ApplyWaypointStatus(tr, 0, WaypointArrived, testNow)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		driver  string
		to      Status
		wantErr error
		want    Status
		event   EventType
	}{
		{"cancel pending", StatusPendingAcceptance, "", StatusCancelled, nil, StatusCancelled, EventTripCancelled},
		{"cancel in progress", StatusInProgress, "d1", StatusCancelled, nil, StatusCancelled, EventTripCancelled},
		{"start", StatusScheduled, "d1", StatusInProgress, nil, StatusInProgress, EventDeliveryStarted},
		{"complete", StatusInProgress, "d1", StatusCompleted, nil, StatusCompleted, EventDeliveryCompleted},
		{"schedule without driver", StatusPendingAcceptance, "", StatusScheduled, ErrDriverRequired, StatusPendingAcceptance, ""},
		{"backwards", StatusInProgress, "d1", StatusScheduled, ErrInvalidTransition, StatusInProgress, ""},
		{"from terminal", StatusCompleted, "d1", StatusCancelled, ErrTripTerminal, StatusCompleted, ""},
		{"unknown", StatusScheduled, "d1", Status("LOST"), ErrInvalidTransition, StatusScheduled, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := twoStopTrip()
			tr.Status = tt.from
			tr.DriverID = tt.driver

			out, err := TransitionTo(tr, tt.to, testNow)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, out.Has(tt.event))
			}
			assert.Equal(t, tt.want, tr.Status)
		})
	}
}

func TestTransitionTo_CompletedClosesWaypoints(t *testing.T) {
	tr := twoStopTrip()
	tr.Status = StatusInProgress

	_, err := TransitionTo(tr, StatusCompleted, testNow)
	require.NoError(t, err)

	for _, wp := range tr.Waypoints {
		assert.Equal(t, WaypointCompleted, wp.Status)
		assert.NotNil(t, wp.ArrivalTime)
		assert.NotNil(t, wp.DepartureTime)
	}
	assert.NotNil(t, tr.EndTime)
}

func TestAssign(t *testing.T) {
	tr := twoStopTrip()
	tr.Status = StatusPendingAcceptance
	tr.DriverID = ""

	out, err := Assign(tr, "driver-9", testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, tr.Status)
	assert.Equal(t, "driver-9", tr.DriverID)
	require.Len(t, out.Events, 1)
	assert.Equal(t, EventDriverAssigned, out.Events[0].Type)
	assert.NotEmpty(t, out.Events[0].ID)

	out, err = Assign(tr, "driver-9", testNow)
	require.NoError(t, err)
	assert.False(t, out.Changed)

	out, err = Assign(tr, "driver-10", testNow)
	require.NoError(t, err)
	assert.Equal(t, "driver-9", out.Events[0].PreviousDriverID)

	tr.Status = StatusInProgress
	_, err = Assign(tr, "driver-11", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Assign(tr, "", testNow)
	assert.ErrorIs(t, err, ErrInvalidTrip)
}

func TestValidate(t *testing.T) {
	tr := twoStopTrip()
	require.NoError(t, tr.Validate())

	tr.Waypoints[1].Address = ""
	assert.ErrorIs(t, tr.Validate(), ErrInvalidTrip)

	tr = twoStopTrip()
	tr.Waypoints[0].Type = "DETOUR"
	assert.ErrorIs(t, tr.Validate(), ErrInvalidTrip)

	tr = twoStopTrip()
	tr.Waypoints = nil
	assert.ErrorIs(t, tr.Validate(), ErrInvalidTrip)
}

func TestClone_IsDeep(t *testing.T) {
	tr := twoStopTrip()
	tr.StartTime = timePtr(testNow)

	c := tr.Clone()
	c.Waypoints[0].Status = WaypointArrived
	*c.StartTime = testNow.Add(time.Hour)

	assert.Equal(t, WaypointPending, tr.Waypoints[0].Status)
	assert.Equal(t, testNow, *tr.StartTime)
}
