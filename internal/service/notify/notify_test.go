package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []trip.Event
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, e trip.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) received() []trip.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trip.Event(nil), s.events...)
}

func TestDispatcher_DeliversToEverySinkInOrder(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher(Config{Workers: 3, QueueSize: 16}, logger.NewNop(), failing, ok)
	d.Start(context.Background())

	events := []trip.Event{
		{Type: trip.EventDeliveryStarted, OrderID: "o1"},
		{Type: trip.EventDriverArrived, OrderID: "o1"},
		{Type: trip.EventDeliveryCompleted, OrderID: "o1"},
	}
	require.NoError(t, d.Publish(events...))
	require.NoError(t, d.Stop(context.Background()))

	got := ok.received()
	require.Len(t, got, 3)
	for i := range events {
		assert.Equal(t, events[i].Type, got[i].Type)
	}
	assert.Len(t, failing.received(), 3, "a failing sink does not block the others")
}

func TestDispatcher_PublishAfterStop(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1}, logger.NewNop())
	d.Start(context.Background())
	require.NoError(t, d.Stop(context.Background()))

	assert.ErrorIs(t, d.Publish(trip.Event{OrderID: "o1"}), ErrDispatcherClosed)
	assert.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, logger.NewNop(), sink)

	// not started: the first event fills the queue, the second is dropped
	require.NoError(t, d.Publish(trip.Event{OrderID: "a"}, trip.Event{OrderID: "b"}))

	d.Start(context.Background())
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, sink.received(), 1)
}

type fakeNotifier struct {
	recipient, template string
	calls               int
}

func (f *fakeNotifier) Notify(_ context.Context, recipient, template string, _ map[string]any) error {
	f.calls++
	f.recipient, f.template = recipient, template
	return nil
}

func TestNotificationSink(t *testing.T) {
	n := &fakeNotifier{}
	sink := NewNotificationSink(n)

	require.NoError(t, sink.Handle(context.Background(), trip.Event{Type: trip.EventDriverArrived, CustomerID: "c1", OrderID: "o1"}))
	assert.Equal(t, "c1", n.recipient)
	assert.Equal(t, "DRIVER_ARRIVED", n.template)

	require.NoError(t, sink.Handle(context.Background(), trip.Event{Type: "unknown", CustomerID: "c1"}))
	assert.Equal(t, 1, n.calls)
}

type fakeUpstream struct {
	mu      sync.Mutex
	orders  map[string]string
	drivers map[string]driver.Status
	failOn  string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{orders: map[string]string{}, drivers: map[string]driver.Status{}}
}

func (f *fakeUpstream) UpdateOrderStatus(_ context.Context, orderID, status string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "order" {
		return errors.New("order service down")
	}
	f.orders[orderID] = status
	return nil
}

func (f *fakeUpstream) UpdateDriverStatus(_ context.Context, driverID string, status driver.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drivers[driverID] = status
	return nil
}

func TestUpstreamSink(t *testing.T) {
	up := newFakeUpstream()
	sink := NewUpstreamSink(up, up)
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, trip.Event{Type: trip.EventDriverAssigned, OrderID: "o1", DriverID: "d2", PreviousDriverID: "d1"}))
	assert.Equal(t, driver.StatusBusy, up.drivers["d2"])
	assert.Equal(t, driver.StatusAvailable, up.drivers["d1"])

	require.NoError(t, sink.Handle(ctx, trip.Event{Type: trip.EventDeliveryCompleted, OrderID: "o1", DriverID: "d2"}))
	assert.Equal(t, OrderDelivered, up.orders["o1"])
	assert.Equal(t, driver.StatusAvailable, up.drivers["d2"])

	up.failOn = "order"
	up.drivers["d3"] = driver.StatusBusy
	err := sink.Handle(ctx, trip.Event{Type: trip.EventTripCancelled, OrderID: "o2", DriverID: "d3"})
	assert.Error(t, err)
	assert.Equal(t, driver.StatusAvailable, up.drivers["d3"], "driver sync still runs")
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)

	err := sink.Handle(context.Background(), trip.Event{
		ID: "e1", Type: trip.EventDeliveryCompleted, OrderID: "o9", OccurredAt: time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "o9", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"type":"delivery_completed"`)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
}

func TestMetricsSink_NilNewRelic(t *testing.T) {
	sink := NewMetricsSink(nil)
	assert.NoError(t, sink.Handle(context.Background(), trip.Event{Type: trip.EventDeliveryStarted}))
}
