package trip

import (
	"time"

	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/google/uuid"
)

type EventType string

const (
	EventDeliveryStarted   EventType = "delivery_started"
	EventDriverArrived     EventType = "driver_arrived"
	EventDeliveryCompleted EventType = "delivery_completed"
	EventDriverAssigned    EventType = "driver_assigned"
	EventTripCancelled     EventType = "trip_cancelled"
)

// Event is a side effect of a committed transition. Events are produced by
// the state machine and dispatched only after the trip has been persisted.
type Event struct {
	ID               string     `json:"id"`
	Type             EventType  `json:"type"`
	OrderID          string     `json:"orderId"`
	DriverID         string     `json:"driverId,omitempty"`
	PreviousDriverID string     `json:"previousDriverId,omitempty"`
	CustomerID       string     `json:"customerId"`
	Status           Status     `json:"status"`
	WaypointIndex    *int       `json:"waypointIndex,omitempty"`
	Location         *geo.Point `json:"location,omitempty"`
	CurrentEta       int        `json:"currentEta"`
	OccurredAt       time.Time  `json:"occurredAt"`
}

// NewEvent stamps an event with the trip's current state.
func NewEvent(typ EventType, t *Trip, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OrderID:    t.OrderID,
		DriverID:   t.DriverID,
		CustomerID: t.CustomerID,
		Status:     t.Status,
		CurrentEta: t.CurrentEta,
		OccurredAt: now,
	}
}

// Outcome describes what a state machine step did to a trip.
type Outcome struct {
	// Changed is true when a status or waypoint moved. ETA refreshes alone
	// leave it false but are still persisted.
	Changed bool
	Events  []Event
}

func (o *Outcome) emit(e Event) {
	o.Changed = true
	o.Events = append(o.Events, e)
}

// Has reports whether an event of typ was emitted.
func (o Outcome) Has(typ EventType) bool {
	for _, e := range o.Events {
		if e.Type == typ {
			return true
		}
	}
	return false
}
