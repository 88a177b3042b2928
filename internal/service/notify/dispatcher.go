package notify

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
)

// ErrDispatcherClosed is returned by Publish after Stop.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Sink receives committed trip events. A sink failure is logged and never
// reaches the code that produced the event.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e trip.Event) error
}

// Config controls the dispatcher pool.
type Config struct {
	Workers     int
	QueueSize   int
	SinkTimeout time.Duration
}

// Dispatcher fans trip events out to sinks on a pool of workers. Events of
// one order always land on the same worker so sinks see them in order.
type Dispatcher struct {
	sinks   []Sink
	queues  []chan trip.Event
	timeout time.Duration
	logger  *logger.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before publishing.
func NewDispatcher(cfg Config, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}

	queues := make([]chan trip.Event, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan trip.Event, cfg.QueueSize)
	}
	return &Dispatcher{
		sinks:   sinks,
		queues:  queues,
		timeout: cfg.SinkTimeout,
		logger:  log,
	}
}

// Start launches the workers. Sink calls use contexts derived from ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for _, q := range d.queues {
		d.wg.Add(1)
		go d.worker(ctx, q)
	}
	d.logger.Info("Event dispatcher started",
		logger.Int("workers", len(d.queues)),
		logger.Int("sinks", len(d.sinks)),
	)
}

// Publish enqueues events without blocking. When a worker queue is full the
// event is dropped and counted.
func (d *Dispatcher) Publish(events ...trip.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	for _, e := range events {
		select {
		case d.queues[d.shard(e.OrderID)] <- e:
		default:
			monitoring.EventDispatch.WithLabelValues("queue", "dropped").Inc()
			d.logger.Error("Event queue full, dropping event",
				logger.String("event_type", string(e.Type)),
				logger.OrderID(e.OrderID),
			)
		}
	}
	return nil
}

// Stop closes the queues and waits for queued events to drain or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) shard(orderID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) worker(ctx context.Context, q <-chan trip.Event) {
	defer d.wg.Done()
	for e := range q {
		d.deliver(ctx, e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e trip.Event) {
	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := sink.Handle(sinkCtx, e)
		cancel()

		if err != nil {
			monitoring.EventDispatch.WithLabelValues(sink.Name(), "error").Inc()
			d.logger.Warn("Event sink failed",
				logger.String("sink", sink.Name()),
				logger.String("event_type", string(e.Type)),
				logger.OrderID(e.OrderID),
				logger.Err(err),
			)
			continue
		}
		monitoring.EventDispatch.WithLabelValues(sink.Name(), "ok").Inc()
	}
}
