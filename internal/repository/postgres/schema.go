package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/lib/pq"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS driver_locations (
	id            UUID PRIMARY KEY,
	driver_id     TEXT NOT NULL,
	order_id      TEXT,
	location      GEOGRAPHY(POINT, 4326) NOT NULL,
	speed         DOUBLE PRECISION NOT NULL DEFAULT 0,
	heading       DOUBLE PRECISION NOT NULL DEFAULT 0,
	accuracy      DOUBLE PRECISION,
	battery_level DOUBLE PRECISION,
	status        TEXT NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS driver_locations_location_idx ON driver_locations USING GIST (location);
CREATE INDEX IF NOT EXISTS driver_locations_driver_time_idx ON driver_locations (driver_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS driver_locations_time_idx ON driver_locations (recorded_at);

CREATE TABLE IF NOT EXISTS trips (
	order_id    TEXT PRIMARY KEY,
	driver_id   TEXT,
	customer_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	document    JSONB NOT NULL,
	revision    BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trips_driver_status_idx ON trips (driver_id, status);
CREATE INDEX IF NOT EXISTS trips_status_created_idx ON trips (status, created_at DESC);
`

// EnsureSchema creates the tables and indexes used by the stores.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return classify("ensure schema", err)
	}
	return nil
}

// classify maps driver errors into the store taxonomy. Connection level
// failures and deadlines become ErrStoreUnavailable so callers can retry.
func classify(op string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return apperrors.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if apperrors.IsTimeout(err) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		return apperrors.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
