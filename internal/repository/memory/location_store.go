package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/google/uuid"
)

// LocationStore keeps samples per driver in arrival order. Queries scan; it
// backs tests and single-node development runs.
type LocationStore struct {
	mu      sync.RWMutex
	samples map[string][]location.Sample // driverID → samples
}

func NewLocationStore() *LocationStore {
	return &LocationStore{samples: make(map[string][]location.Sample)}
}

func (s *LocationStore) Append(ctx context.Context, sample *location.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.DriverID] = append(s.samples[sample.DriverID], copySample(*sample))
	return nil
}

// Latest picks the newest timestamp, not the last appended sample.
func (s *LocationStore) Latest(ctx context.Context, driverID string) (*location.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest, ok := s.latestLocked(driverID, time.Time{})
	if !ok {
		return nil, location.ErrLocationNotFound
	}
	out := copySample(latest)
	return &out, nil
}

func (s *LocationStore) History(ctx context.Context, driverID string, from, to time.Time, limit int) ([]*location.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*location.Sample, 0)
	for _, sample := range s.samples[driverID] {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		c := copySample(sample)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LocationStore) NearestAmong(ctx context.Context, q location.NearestQuery) ([]location.NearbyDriver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]location.NearbyDriver, 0)
	for _, driverID := range q.DriverIDs {
		latest, ok := s.latestLocked(driverID, q.Since)
		if !ok {
			continue
		}
		d := geo.Distance(q.Center, latest.Point)
		if d > q.RadiusMeters {
			continue
		}
		out = append(out, location.NearbyDriver{
			DriverID:  driverID,
			Point:     latest.Point,
			Distance:  d,
			Timestamp: latest.Timestamp,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *LocationStore) Heatmap(ctx context.Context, from, to time.Time, resolution float64) ([]location.HeatCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[geo.Point]int)
	for _, samples := range s.samples {
		for _, sample := range samples {
			if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
				continue
			}
			counts[geo.GridCell(sample.Point, resolution)]++
		}
	}

	cells := make([]location.HeatCell, 0, len(counts))
	for cell, n := range counts {
		cells = append(cells, location.HeatCell{Latitude: cell.Latitude, Longitude: cell.Longitude, Count: n})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Count != cells[j].Count {
			return cells[i].Count > cells[j].Count
		}
		if cells[i].Latitude != cells[j].Latitude {
			return cells[i].Latitude < cells[j].Latitude
		}
		return cells[i].Longitude < cells[j].Longitude
	})
	return cells, nil
}

func (s *LocationStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *LocationStore) latestLocked(driverID string, since time.Time) (location.Sample, bool) {
	var (
		latest location.Sample
		found  bool
	)
	for _, sample := range s.samples[driverID] {
		if sample.Timestamp.Before(since) {
			continue
		}
		if !found || !sample.Timestamp.Before(latest.Timestamp) {
			latest = sample
			found = true
		}
	}
	return latest, found
}

func copySample(s location.Sample) location.Sample {
	if s.Accuracy != nil {
		v := *s.Accuracy
		s.Accuracy = &v
	}
	if s.BatteryLevel != nil {
		v := *s.BatteryLevel
		s.BatteryLevel = &v
	}
	return s
}

var _ location.Repository = (*LocationStore)(nil)
