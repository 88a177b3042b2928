package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gocomet/delivery-tracking/internal/domain/trip"
)

// TripStore holds deep copies of trips keyed by order id and enforces the
// same revision check as the SQL store.
type TripStore struct {
	mu    sync.RWMutex
	trips map[string]*trip.Trip
}

func NewTripStore() *TripStore {
	return &TripStore{trips: make(map[string]*trip.Trip)}
}

func (s *TripStore) Create(ctx context.Context, t *trip.Trip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trips[t.OrderID]; exists {
		return trip.ErrDuplicateTrip
	}
	t.Revision = 1
	s.trips[t.OrderID] = t.Clone()
	return nil
}

func (s *TripStore) GetByOrderID(ctx context.Context, orderID string) (*trip.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trips[orderID]
	if !ok {
		return nil, trip.ErrTripNotFound
	}
	return t.Clone(), nil
}

func (s *TripStore) ListActiveByDriver(ctx context.Context, driverID string) ([]*trip.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trip.Trip, 0)
	for _, t := range s.trips {
		if t.DriverID == driverID && t.Status.IsActive() {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *TripStore) ListByStatus(ctx context.Context, status trip.Status, limit int) ([]*trip.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trip.Trip, 0)
	for _, t := range s.trips {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TripStore) Update(ctx context.Context, t *trip.Trip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.trips[t.OrderID]
	if !ok {
		return trip.ErrTripNotFound
	}
	if stored.Revision != t.Revision {
		return trip.ErrRevisionConflict
	}

	next := t.Clone()
	next.Revision = t.Revision + 1
	s.trips[t.OrderID] = next
	t.Revision = next.Revision
	return nil
}

func (s *TripStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ trip.Repository = (*TripStore)(nil)
