package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const sampleColumns = `id, driver_id, COALESCE(order_id, ''),
	ST_Y(location::geometry), ST_X(location::geometry),
	speed, heading, accuracy, battery_level, status, recorded_at`

// LocationStore keeps driver samples in a PostGIS geography column.
type LocationStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewLocationStore creates a location store. timeout bounds every query.
func NewLocationStore(db *sql.DB, timeout time.Duration) *LocationStore {
	return &LocationStore{db: db, timeout: timeout}
}

// Append inserts a sample. Samples are never updated.
func (s *LocationStore) Append(ctx context.Context, sample *location.Sample) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO driver_locations (
			id, driver_id, order_id, location,
			speed, heading, accuracy, battery_level, status, recorded_at
		) VALUES (
			$1, $2, NULLIF($3, ''), ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography,
			$6, $7, $8, $9, $10, $11
		)
	`,
		sample.ID, sample.DriverID, sample.OrderID, sample.Longitude, sample.Latitude,
		sample.Speed, sample.Heading, nullFloat(sample.Accuracy), nullFloat(sample.BatteryLevel),
		string(sample.Status), sample.Timestamp,
	)
	return classify("append location", err)
}

// Latest returns the newest sample of a driver.
func (s *LocationStore) Latest(ctx context.Context, driverID string) (*location.Sample, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+sampleColumns+`
		FROM driver_locations
		WHERE driver_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, driverID)

	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, location.ErrLocationNotFound
	}
	if err != nil {
		return nil, classify("latest location", err)
	}
	return sample, nil
}

// History returns samples of a driver recorded within [from, to], newest first.
func (s *LocationStore) History(ctx context.Context, driverID string, from, to time.Time, limit int) ([]*location.Sample, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sampleColumns+`
		FROM driver_locations
		WHERE driver_id = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at DESC
		LIMIT $4
	`, driverID, from, to, limit)
	if err != nil {
		return nil, classify("location history", err)
	}
	defer rows.Close()

	samples := make([]*location.Sample, 0)
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, classify("location history", err)
		}
		samples = append(samples, sample)
	}
	return samples, classify("location history", rows.Err())
}

// NearestAmong takes the most recent sample of every candidate driver since
// q.Since and keeps those within the radius, nearest first.
func (s *LocationStore) NearestAmong(ctx context.Context, q location.NearestQuery) ([]location.NearbyDriver, error) {
	if len(q.DriverIDs) == 0 {
		return []location.NearbyDriver{}, nil
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (driver_id)
				driver_id, location, recorded_at
			FROM driver_locations
			WHERE driver_id = ANY($3) AND recorded_at >= $4
			ORDER BY driver_id, recorded_at DESC
		)
		SELECT driver_id,
			ST_Y(location::geometry), ST_X(location::geometry),
			ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance,
			recorded_at
		FROM latest
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $5)
		ORDER BY distance ASC
		LIMIT $6
	`, q.Center.Longitude, q.Center.Latitude, pq.Array(q.DriverIDs), q.Since, q.RadiusMeters, q.Limit)
	if err != nil {
		return nil, classify("nearest drivers", err)
	}
	defer rows.Close()

	drivers := make([]location.NearbyDriver, 0, q.Limit)
	for rows.Next() {
		var d location.NearbyDriver
		if err := rows.Scan(&d.DriverID, &d.Latitude, &d.Longitude, &d.Distance, &d.Timestamp); err != nil {
			return nil, classify("nearest drivers", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, classify("nearest drivers", rows.Err())
}

// Heatmap counts samples per grid cell, busiest cells first.
func (s *LocationStore) Heatmap(ctx context.Context, from, to time.Time, resolution float64) ([]location.HeatCell, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			FLOOR(ST_Y(location::geometry) / $3) * $3 AS cell_lat,
			FLOOR(ST_X(location::geometry) / $3) * $3 AS cell_lng,
			COUNT(*) AS samples
		FROM driver_locations
		WHERE recorded_at BETWEEN $1 AND $2
		GROUP BY cell_lat, cell_lng
		ORDER BY samples DESC
	`, from, to, resolution)
	if err != nil {
		return nil, classify("heatmap", err)
	}
	defer rows.Close()

	cells := make([]location.HeatCell, 0)
	for rows.Next() {
		var c location.HeatCell
		if err := rows.Scan(&c.Latitude, &c.Longitude, &c.Count); err != nil {
			return nil, classify("heatmap", err)
		}
		cells = append(cells, c)
	}
	return cells, classify("heatmap", rows.Err())
}

// Ping checks the connection pool.
func (s *LocationStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (*location.Sample, error) {
	var (
		sample       location.Sample
		status       string
		accuracy     sql.NullFloat64
		batteryLevel sql.NullFloat64
	)
	err := row.Scan(
		&sample.ID, &sample.DriverID, &sample.OrderID,
		&sample.Latitude, &sample.Longitude,
		&sample.Speed, &sample.Heading, &accuracy, &batteryLevel,
		&status, &sample.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	sample.Status = location.Status(status)
	if accuracy.Valid {
		sample.Accuracy = &accuracy.Float64
	}
	if batteryLevel.Valid {
		sample.BatteryLevel = &batteryLevel.Float64
	}
	sample.Timestamp = sample.Timestamp.UTC()
	return &sample, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

var _ location.Repository = (*LocationStore)(nil)
