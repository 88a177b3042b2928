package trip

import (
	"fmt"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/geo"
)

// Evaluate advances an active trip with a new driver position. It is pure:
// the caller persists t and dispatches the returned events.
//
// The ETA is refreshed on every call. When the position is within the
// proximity threshold of the next PENDING waypoint that waypoint becomes
// ARRIVED. A trip with no PENDING waypoint left is COMPLETED.
func Evaluate(t *Trip, pos geo.Point, speed float64, p Policy, now time.Time) Outcome {
	var out Outcome
	if !t.Status.IsActive() {
		return out
	}

	target := t.NextWaypoint()
	if target < 0 {
		complete(t, now, &out)
		return out
	}

	t.CurrentEta = p.EstimateEta(t, target, pos, speed, now)
	t.EtaUpdatedAt = timePtr(now)

	if geo.Distance(pos, t.Waypoints[target].Location) > p.ProximityMeters {
		return out
	}

	arrive(t, target, now, &out)
	if e := len(out.Events); e > 0 && out.Events[e-1].Type == EventDriverArrived {
		out.Events[e-1].Location = &pos
	}

	if next := t.NextWaypoint(); next >= 0 {
		t.CurrentEta = p.EstimateEta(t, next, pos, speed, now)
		return out
	}
	complete(t, now, &out)
	return out
}

// ApplyWaypointStatus moves waypoint index forward to status on operator
// request. It follows the same rules as Evaluate: the first waypoint reaching
// ARRIVED starts a SCHEDULED trip, and a trip whose waypoints are all past
// PENDING completes. Completing the last waypoint closes any waypoint still
// open before it.
//
// Errors leave t untouched.
func ApplyWaypointStatus(t *Trip, index int, status WaypointStatus, now time.Time) (Outcome, error) {
	var out Outcome
	if index < 0 || index >= len(t.Waypoints) {
		return out, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidWaypointIndex, index, len(t.Waypoints))
	}
	if !status.IsValid() {
		return out, fmt.Errorf("%w: unknown waypoint status %q", ErrInvalidTransition, status)
	}
	if t.Status.IsTerminal() {
		return out, ErrTripTerminal
	}
	if t.Status == StatusPendingAcceptance {
		return out, fmt.Errorf("%w: trip has not been accepted by a driver", ErrInvalidTransition)
	}

	current := t.Waypoints[index].Status
	if status.rank() < current.rank() {
		return out, fmt.Errorf("%w: waypoint %d cannot move from %s to %s", ErrInvalidTransition, index, current, status)
	}
	if status == current {
		return out, nil
	}

	if current == WaypointPending {
		arrive(t, index, now, &out)
	}
	if status == WaypointCompleted {
		depart(t, index, now)
		if index == len(t.Waypoints)-1 {
			for i := 0; i < index; i++ {
				if t.Waypoints[i].Status != WaypointCompleted {
					depart(t, i, now)
				}
			}
		}
	}
	out.Changed = true

	if t.NextWaypoint() < 0 {
		complete(t, now, &out)
	}
	return out, nil
}

// TransitionTo applies an operator driven trip status change. CANCELLED is
// reachable from every non-terminal state; every other move must go forward.
func TransitionTo(t *Trip, status Status, now time.Time) (Outcome, error) {
	var out Outcome
	if !status.IsValid() {
		return out, fmt.Errorf("%w: unknown trip status %q", ErrInvalidTransition, status)
	}
	if t.Status.IsTerminal() {
		return out, ErrTripTerminal
	}
	if status == t.Status {
		return out, nil
	}

	if status == StatusCancelled {
		t.Status = StatusCancelled
		out.emit(NewEvent(EventTripCancelled, t, now))
		return out, nil
	}

	if status.rank() < t.Status.rank() {
		return out, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.Status, status)
	}
	if status != StatusPendingAcceptance && t.DriverID == "" {
		return out, ErrDriverRequired
	}

	switch status {
	case StatusScheduled:
		t.Status = StatusScheduled
		out.Changed = true
	case StatusInProgress:
		start(t, now, &out)
	case StatusCompleted:
		for i := range t.Waypoints {
			if t.Waypoints[i].Status == WaypointPending {
				t.Waypoints[i].Status = WaypointArrived
				if t.Waypoints[i].ArrivalTime == nil {
					t.Waypoints[i].ArrivalTime = timePtr(now)
				}
			}
			if t.Waypoints[i].Status != WaypointCompleted {
				depart(t, i, now)
			}
		}
		complete(t, now, &out)
	}
	return out, nil
}

// Assign sets the driver of a trip that has not started yet and schedules it.
func Assign(t *Trip, driverID string, now time.Time) (Outcome, error) {
	var out Outcome
	if driverID == "" {
		return out, fmt.Errorf("%w: driverId is required", ErrInvalidTrip)
	}
	if t.Status.IsTerminal() {
		return out, ErrTripTerminal
	}
	if t.Status == StatusInProgress {
		return out, fmt.Errorf("%w: trip already in progress", ErrInvalidTransition)
	}
	if t.Status == StatusScheduled && t.DriverID == driverID {
		return out, nil
	}

	previous := t.DriverID
	t.DriverID = driverID
	t.Status = StatusScheduled

	e := NewEvent(EventDriverAssigned, t, now)
	e.PreviousDriverID = previous
	out.emit(e)
	return out, nil
}

func arrive(t *Trip, index int, now time.Time, out *Outcome) {
	first := true
	for i := range t.Waypoints {
		if t.Waypoints[i].Status != WaypointPending {
			first = false
			break
		}
	}

	wp := &t.Waypoints[index]
	wp.Status = WaypointArrived
	if wp.ArrivalTime == nil {
		wp.ArrivalTime = timePtr(now)
	}
	out.Changed = true

	if first && t.Status == StatusScheduled {
		start(t, now, out)
	}
	if wp.Type == WaypointDropoff {
		e := NewEvent(EventDriverArrived, t, now)
		e.WaypointIndex = intPtr(index)
		out.emit(e)
	}
}

func depart(t *Trip, index int, now time.Time) {
	wp := &t.Waypoints[index]
	wp.Status = WaypointCompleted
	if wp.DepartureTime == nil {
		wp.DepartureTime = timePtr(now)
	}
}

func start(t *Trip, now time.Time, out *Outcome) {
	t.Status = StatusInProgress
	if t.StartTime == nil {
		t.StartTime = timePtr(now)
	}
	out.emit(NewEvent(EventDeliveryStarted, t, now))
}

func complete(t *Trip, now time.Time, out *Outcome) {
	t.Status = StatusCompleted
	if t.EndTime == nil {
		t.EndTime = timePtr(now)
	}
	out.emit(NewEvent(EventDeliveryCompleted, t, now))
}

func timePtr(t time.Time) *time.Time { return &t }

func intPtr(i int) *int { return &i }
