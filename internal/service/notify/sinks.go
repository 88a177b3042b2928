package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
	"github.com/segmentio/kafka-go"
)

// Notifier is the notification service contract.
type Notifier interface {
	Notify(ctx context.Context, recipient, template string, data map[string]any) error
}

// OrderUpdater is the write half of the order service contract.
type OrderUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID, status string, metadata map[string]any) error
}

// DriverUpdater is the write half of the driver directory contract.
type DriverUpdater interface {
	UpdateDriverStatus(ctx context.Context, driverID string, status driver.Status) error
}

// Order statuses reported upstream.
const (
	OrderDelivered = "DELIVERED"
	OrderCancelled = "CANCELLED"
)

var templates = map[trip.EventType]string{
	trip.EventDeliveryStarted:   "DELIVERY_STARTED",
	trip.EventDriverArrived:     "DRIVER_ARRIVED",
	trip.EventDeliveryCompleted: "DELIVERY_COMPLETED",
	trip.EventTripCancelled:     "ORDER_CANCELLED",
	trip.EventDriverAssigned:    "DRIVER_ASSIGNED",
}

// NotificationSink tells the customer about trip milestones.
type NotificationSink struct {
	notifier Notifier
}

func NewNotificationSink(n Notifier) *NotificationSink {
	return &NotificationSink{notifier: n}
}

func (s *NotificationSink) Name() string { return "notification" }

func (s *NotificationSink) Handle(ctx context.Context, e trip.Event) error {
	template, ok := templates[e.Type]
	if !ok || e.CustomerID == "" {
		return nil
	}
	data := map[string]any{
		"orderId":    e.OrderID,
		"driverId":   e.DriverID,
		"status":     string(e.Status),
		"currentEta": e.CurrentEta,
	}
	return s.notifier.Notify(ctx, e.CustomerID, template, data)
}

// UpstreamSink mirrors terminal transitions into the order service and the
// driver directory. Both calls are attempted even when one fails.
type UpstreamSink struct {
	orders  OrderUpdater
	drivers DriverUpdater
}

func NewUpstreamSink(orders OrderUpdater, drivers DriverUpdater) *UpstreamSink {
	return &UpstreamSink{orders: orders, drivers: drivers}
}

func (s *UpstreamSink) Name() string { return "upstream" }

func (s *UpstreamSink) Handle(ctx context.Context, e trip.Event) error {
	var errs []error
	meta := map[string]any{"eventId": e.ID, "occurredAt": e.OccurredAt}

	switch e.Type {
	case trip.EventDeliveryCompleted:
		errs = append(errs, s.orders.UpdateOrderStatus(ctx, e.OrderID, OrderDelivered, meta))
		if e.DriverID != "" {
			errs = append(errs, s.drivers.UpdateDriverStatus(ctx, e.DriverID, driver.StatusAvailable))
		}
	case trip.EventTripCancelled:
		errs = append(errs, s.orders.UpdateOrderStatus(ctx, e.OrderID, OrderCancelled, meta))
		if e.DriverID != "" {
			errs = append(errs, s.drivers.UpdateDriverStatus(ctx, e.DriverID, driver.StatusAvailable))
		}
	case trip.EventDriverAssigned:
		errs = append(errs, s.drivers.UpdateDriverStatus(ctx, e.DriverID, driver.StatusBusy))
		if e.PreviousDriverID != "" {
			errs = append(errs, s.drivers.UpdateDriverStatus(ctx, e.PreviousDriverID, driver.StatusAvailable))
		}
	}
	return errors.Join(errs...)
}

// Broadcaster pushes an event to live subscribers of its order.
type Broadcaster interface {
	BroadcastTripEvent(e trip.Event)
}

// RealtimeSink forwards events to the realtime hub.
type RealtimeSink struct {
	hub Broadcaster
}

func NewRealtimeSink(hub Broadcaster) *RealtimeSink {
	return &RealtimeSink{hub: hub}
}

func (s *RealtimeSink) Name() string { return "realtime" }

func (s *RealtimeSink) Handle(_ context.Context, e trip.Event) error {
	s.hub.BroadcastTripEvent(e)
	return nil
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes every event to a topic keyed by order id, so a
// partition carries the events of an order in order.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, e trip.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

// MetricsSink records transitions in Prometheus and New Relic.
type MetricsSink struct {
	nr *monitoring.NewRelicApp
}

func NewMetricsSink(nr *monitoring.NewRelicApp) *MetricsSink {
	return &MetricsSink{nr: nr}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Handle(_ context.Context, e trip.Event) error {
	monitoring.TripTransitions.WithLabelValues(string(e.Type)).Inc()
	s.nr.RecordTripEvent(string(e.Type), e.OrderID, e.DriverID, float64(e.CurrentEta))
	return nil
}
