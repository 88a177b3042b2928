package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// TripStore keeps each trip as a JSONB document next to the columns it is
// queried by. The revision column backs optimistic concurrency.
type TripStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTripStore creates a trip store. timeout bounds every query.
func NewTripStore(db *sql.DB, timeout time.Duration) *TripStore {
	return &TripStore{db: db, timeout: timeout}
}

// Create inserts a new trip at revision 1.
func (s *TripStore) Create(ctx context.Context, t *trip.Trip) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	doc := t.Clone()
	doc.Revision = 1
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode trip: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trips (
			order_id, driver_id, customer_id, status, document, revision, created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
	`, doc.OrderID, doc.DriverID, doc.CustomerID, string(doc.Status), payload, doc.Revision, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return trip.ErrDuplicateTrip
		}
		return classify("create trip", err)
	}

	t.Revision = doc.Revision
	return nil
}

// GetByOrderID loads one trip.
func (s *TripStore) GetByOrderID(ctx context.Context, orderID string) (*trip.Trip, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT document, revision FROM trips WHERE order_id = $1
	`, orderID)

	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trip.ErrTripNotFound
	}
	if err != nil {
		return nil, classify("get trip", err)
	}
	return t, nil
}

// ListActiveByDriver returns the SCHEDULED and IN_PROGRESS trips of a driver, oldest first.
func (s *TripStore) ListActiveByDriver(ctx context.Context, driverID string) ([]*trip.Trip, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	active := []string{string(trip.StatusScheduled), string(trip.StatusInProgress)}
	rows, err := s.db.QueryContext(ctx, `
		SELECT document, revision FROM trips
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC
	`, driverID, pq.Array(active))
	if err != nil {
		return nil, classify("list active trips", err)
	}
	return collectTrips(rows, "list active trips")
}

// ListByStatus returns the newest trips in a status.
func (s *TripStore) ListByStatus(ctx context.Context, status trip.Status, limit int) ([]*trip.Trip, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document, revision FROM trips
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, classify("list trips", err)
	}
	return collectTrips(rows, "list trips")
}

// Update writes t when the stored revision still matches t.Revision.
func (s *TripStore) Update(ctx context.Context, t *trip.Trip) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	doc := t.Clone()
	doc.Revision = t.Revision + 1
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode trip: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE trips
		SET driver_id = NULLIF($2, ''), status = $3, document = $4, revision = $5, updated_at = $6
		WHERE order_id = $1 AND revision = $7
	`, doc.OrderID, doc.DriverID, string(doc.Status), payload, doc.Revision, doc.UpdatedAt, t.Revision)
	if err != nil {
		return classify("update trip", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return classify("update trip", err)
	}
	if affected == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM trips WHERE order_id = $1)`, t.OrderID).Scan(&exists)
		if err != nil {
			return classify("update trip", err)
		}
		if !exists {
			return trip.ErrTripNotFound
		}
		return trip.ErrRevisionConflict
	}

	t.Revision = doc.Revision
	return nil
}

// Ping checks the connection pool.
func (s *TripStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func scanTrip(row scanner) (*trip.Trip, error) {
	var (
		payload  []byte
		revision int64
	)
	if err := row.Scan(&payload, &revision); err != nil {
		return nil, err
	}
	var t trip.Trip
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode trip: %w", err)
	}
	t.Revision = revision
	return &t, nil
}

func collectTrips(rows *sql.Rows, op string) ([]*trip.Trip, error) {
	defer rows.Close()

	trips := make([]*trip.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		trips = append(trips, t)
	}
	return trips, classify(op, rows.Err())
}

var _ trip.Repository = (*TripStore)(nil)
