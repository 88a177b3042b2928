package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/internal/service/tracking"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
	"github.com/gorilla/websocket"
)

// Inbound message types.
const (
	TypeAuthenticate   = "authenticate"
	TypeLocationUpdate = "location_update"
	TypeTrackOrder     = "track_order"
	TypeStopTracking   = "stop_tracking"
	TypePing           = "ping"
)

// Outbound message types.
const (
	TypeAuthenticated        = "authenticated"
	TypeAuthenticationError  = "authentication_error"
	TypeLocationAck          = "location_ack"
	TypeDriverLocationUpdate = "driver_location_update"
	TypeTripStatus           = "trip_status"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientMessage is the envelope of every frame a client sends.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authPayload struct {
	DriverID   string `json:"driverId"`
	CustomerID string `json:"customerId"`
	Token      string `json:"token,omitempty"`
}

type locationPayload struct {
	OrderID      string          `json:"orderId,omitempty"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
	Speed        float64         `json:"speed"`
	Heading      float64         `json:"heading"`
	Accuracy     *float64        `json:"accuracy,omitempty"`
	BatteryLevel *float64        `json:"batteryLevel,omitempty"`
	Status       location.Status `json:"status,omitempty"`
}

type orderPayload struct {
	OrderID string `json:"orderId"`
}

// Tracker is the part of the tracking engine the hub drives.
type Tracker interface {
	RecordLocation(ctx context.Context, sample *location.Sample) (*tracking.RecordResult, error)
	GetTrip(ctx context.Context, orderID string) (*tracking.TripView, error)
}

// Config controls the ingest pool.
type Config struct {
	IngestWorkers int
	IngestQueue   int
	// ProcessTimeout bounds the handling of one ping or subscribe request.
	ProcessTimeout time.Duration
}

type ping struct {
	client *Client
	sample *location.Sample
}

// Hub tracks authenticated driver and customer connections, feeds driver
// pings to the tracking engine on a worker pool and fans trip changes out to
// the customers subscribed to an order.
type Hub struct {
	tracker Tracker
	cfg     Config
	logger  *logger.Logger

	pings chan ping

	mu        sync.RWMutex
	drivers   map[string]*Client
	customers map[string]*Client
	orders    map[string]map[*Client]bool
}

func NewHub(tracker Tracker, cfg Config, log *logger.Logger) *Hub {
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = 8
	}
	if cfg.IngestQueue <= 0 {
		cfg.IngestQueue = 1024
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Second
	}
	return &Hub{
		tracker:   tracker,
		cfg:       cfg,
		logger:    log,
		pings:     make(chan ping, cfg.IngestQueue),
		drivers:   make(map[string]*Client),
		customers: make(map[string]*Client),
		orders:    make(map[string]map[*Client]bool),
	}
}

// Run processes driver pings until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < h.cfg.IngestWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p := <-h.pings:
					h.processPing(ctx, p)
				}
			}
		}()
	}
	h.logger.Info("Realtime hub started", logger.Int("ingest_workers", h.cfg.IngestWorkers))
	wg.Wait()
}

// Serve attaches an upgraded connection and starts its pumps.
func (h *Hub) Serve(conn *websocket.Conn, role Role) *Client {
	c := newClient(h, conn, role)
	go c.WritePump()
	go c.ReadPump()
	return c
}

func (h *Hub) handleMessage(c *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Malformed message")
		return
	}

	switch {
	case msg.Type == TypePing:
		c.Send(Message{Type: TypePong})
	case msg.Type == TypeAuthenticate:
		h.authenticate(c, msg.Data)
	case c.Role == RoleDriver && msg.Type == TypeLocationUpdate:
		h.enqueuePing(c, msg.Data)
	case c.Role == RoleCustomer && msg.Type == TypeTrackOrder:
		h.trackOrder(c, msg.Data)
	case c.Role == RoleCustomer && msg.Type == TypeStopTracking:
		h.stopTracking(c, msg.Data)
	default:
		h.logger.Warn("Unknown message type",
			logger.String("type", msg.Type),
			logger.String("role", string(c.Role)),
			logger.String("client_id", c.ID),
		)
		c.sendError("Unknown message type")
	}
}

func (h *Hub) authenticate(c *Client, data json.RawMessage) {
	var p authPayload
	if len(data) > 0 && json.Unmarshal(data, &p) != nil {
		c.sendError("Malformed message")
		return
	}

	id := p.DriverID
	if c.Role == RoleCustomer {
		id = p.CustomerID
	}
	if id == "" {
		c.Send(Message{Type: TypeAuthenticationError, Data: map[string]string{
			"message": string(c.Role) + " id is required",
		}})
		return
	}

	h.mu.Lock()
	index := h.index(c.Role)
	c.mu.Lock()
	previous := c.identity
	c.identity = id
	c.mu.Unlock()
	if previous != "" && index[previous] == c {
		delete(index, previous)
	} else if previous == "" {
		monitoring.RealtimeConnections.WithLabelValues(string(c.Role)).Inc()
	}
	// Subscriptions were authorized for the previous identity.
	if previous != "" && previous != id {
		for orderID := range c.subscriptions {
			h.unsubscribeLocked(c, orderID)
		}
	}
	index[id] = c
	h.mu.Unlock()

	c.Send(Message{Type: TypeAuthenticated, Data: map[string]bool{"success": true}})
	h.logger.Info("Connection authenticated",
		logger.String("role", string(c.Role)),
		logger.String("identity", id),
		logger.String("client_id", c.ID),
	)
}

func (h *Hub) index(role Role) map[string]*Client {
	if role == RoleDriver {
		return h.drivers
	}
	return h.customers
}

func (h *Hub) enqueuePing(c *Client, data json.RawMessage) {
	driverID := c.Identity()
	if driverID == "" {
		c.sendError("Not authenticated")
		return
	}

	var p locationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Latitude == nil || p.Longitude == nil {
		c.sendError("Latitude and longitude are required")
		return
	}

	sample := &location.Sample{
		DriverID:     driverID,
		OrderID:      p.OrderID,
		Point:        geo.Point{Latitude: *p.Latitude, Longitude: *p.Longitude},
		Speed:        p.Speed,
		Heading:      p.Heading,
		Accuracy:     p.Accuracy,
		BatteryLevel: p.BatteryLevel,
		Status:       p.Status,
	}

	select {
	case h.pings <- ping{client: c, sample: sample}:
	default:
		monitoring.RealtimePingsDropped.Inc()
		c.sendError("Server busy, retry the location update")
	}
}

func (h *Hub) processPing(ctx context.Context, p ping) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProcessTimeout)
	defer cancel()

	res, err := h.tracker.RecordLocation(ctx, p.sample)
	if err != nil {
		h.logger.Warn("Failed to process driver location",
			logger.DriverID(p.sample.DriverID),
			logger.Err(err),
		)
		c := p.client
		switch {
		case errors.Is(err, location.ErrInvalidCoordinates),
			errors.Is(err, location.ErrInvalidSample),
			errors.Is(err, location.ErrMissingDriverID):
			c.sendError(err.Error())
		default:
			c.sendError("Failed to process location update")
		}
		return
	}

	s := res.Sample
	p.client.Send(Message{Type: TypeLocationAck, Data: map[string]any{
		"success":   true,
		"timestamp": s.Timestamp,
	}})

	for _, u := range res.Trips {
		h.pushToCustomer(u.CustomerID, Message{Type: TypeDriverLocationUpdate, Data: map[string]any{
			"orderId":          u.OrderID,
			"driverId":         s.DriverID,
			"latitude":         s.Latitude,
			"longitude":        s.Longitude,
			"speed":            s.Speed,
			"heading":          s.Heading,
			"status":           u.Status,
			"estimatedArrival": u.CurrentEta,
			"timestamp":        s.Timestamp,
		}})
	}
}

func (h *Hub) pushToCustomer(customerID string, msg Message) {
	h.mu.RLock()
	c, ok := h.customers[customerID]
	h.mu.RUnlock()
	if ok {
		c.Send(msg)
	}
}

func (h *Hub) trackOrder(c *Client, data json.RawMessage) {
	customerID := c.Identity()
	if customerID == "" {
		c.sendError("Not authenticated")
		return
	}
	var p orderPayload
	if err := json.Unmarshal(data, &p); err != nil || p.OrderID == "" {
		c.sendError("Order ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ProcessTimeout)
	defer cancel()

	view, err := h.tracker.GetTrip(ctx, p.OrderID)
	if errors.Is(err, trip.ErrTripNotFound) {
		c.sendError("Trip not found for this order")
		return
	}
	if err != nil {
		h.logger.Warn("Failed to load trip for subscription",
			logger.OrderID(p.OrderID),
			logger.Err(err),
		)
		c.sendError("Failed to start tracking")
		return
	}
	if view.CustomerID != customerID {
		h.logger.Warn("Rejected order subscription",
			logger.OrderID(p.OrderID),
			logger.String("customer_id", customerID),
		)
		c.sendError("Unauthorized to track this order")
		return
	}

	h.mu.Lock()
	subs, ok := h.orders[p.OrderID]
	if !ok {
		subs = make(map[*Client]bool)
		h.orders[p.OrderID] = subs
	}
	subs[c] = true
	c.subscriptions[p.OrderID] = true
	h.mu.Unlock()

	c.Send(Message{Type: TypeTripStatus, Data: map[string]any{
		"orderId":          view.OrderID,
		"driverId":         view.DriverID,
		"status":           view.Status,
		"waypoints":        view.Waypoints,
		"estimatedArrival": view.CurrentEta,
		"driverLocation":   view.DriverLocation,
		"timestamp":        time.Now().UTC(),
	}})
}

func (h *Hub) stopTracking(c *Client, data json.RawMessage) {
	var p orderPayload
	if err := json.Unmarshal(data, &p); err != nil || p.OrderID == "" {
		return
	}
	h.mu.Lock()
	h.unsubscribeLocked(c, p.OrderID)
	h.mu.Unlock()
}

func (h *Hub) unsubscribeLocked(c *Client, orderID string) {
	delete(c.subscriptions, orderID)
	if subs, ok := h.orders[orderID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.orders, orderID)
		}
	}
}

// BroadcastTripEvent pushes a committed trip event to the order's subscribers.
func (h *Hub) BroadcastTripEvent(e trip.Event) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.orders[e.OrderID]))
	for c := range h.orders[e.OrderID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	msg := Message{Type: TypeTripStatus, Data: map[string]any{
		"orderId":          e.OrderID,
		"driverId":         e.DriverID,
		"status":           e.Status,
		"event":            e.Type,
		"waypointIndex":    e.WaypointIndex,
		"estimatedArrival": e.CurrentEta,
		"timestamp":        e.OccurredAt,
	}}
	for _, c := range subs {
		c.Send(msg)
	}
}

// disconnect drops every mapping of c. Trips and samples are not touched.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	for orderID := range c.subscriptions {
		h.unsubscribeLocked(c, orderID)
	}
	if id := c.Identity(); id != "" {
		index := h.index(c.Role)
		if index[id] == c {
			delete(index, id)
		}
		monitoring.RealtimeConnections.WithLabelValues(string(c.Role)).Dec()
	}
	h.mu.Unlock()

	c.close()
	h.logger.Info("Connection closed",
		logger.String("role", string(c.Role)),
		logger.String("client_id", c.ID),
	)
}

// Connections returns the number of authenticated connections per role.
func (h *Hub) Connections() map[Role]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[Role]int{RoleDriver: len(h.drivers), RoleCustomer: len(h.customers)}
}
