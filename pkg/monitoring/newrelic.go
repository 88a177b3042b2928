package monitoring

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

// NewRelicApp wraps the New Relic application
type NewRelicApp struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*NewRelicApp, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return &NewRelicApp{nil, false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &NewRelicApp{app, true}, nil
}

// RecordCustomEvent records a custom event
func (nr *NewRelicApp) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if nr == nil || !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomEvent(eventType, params)
}

// RecordCustomMetric records a custom metric
func (nr *NewRelicApp) RecordCustomMetric(name string, value float64) {
	if nr == nil || !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomMetric(name, value)
}

// Shutdown gracefully shuts down the New Relic application
func (nr *NewRelicApp) Shutdown(timeout time.Duration) {
	if nr == nil || !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.Shutdown(timeout)
}

// RecordTripEvent records a trip lifecycle event (started, arrived, completed, cancelled).
func (nr *NewRelicApp) RecordTripEvent(eventType, orderID, driverID string, etaSeconds float64) {
	nr.RecordCustomEvent("TripLifecycle", map[string]interface{}{
		"event":       eventType,
		"order_id":    orderID,
		"driver_id":   driverID,
		"eta_seconds": etaSeconds,
		"timestamp":   time.Now().Unix(),
	})
}

// RecordRedisPoolStats records Redis pool statistics
func (nr *NewRelicApp) RecordRedisPoolStats(stats map[string]interface{}) {
	if hits, ok := stats["hits"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_hits", float64(hits))
	}
	if misses, ok := stats["misses"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_misses", float64(misses))
	}
	if timeouts, ok := stats["timeouts"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/timeouts", float64(timeouts))
	}
}

// RecordDatabasePoolStats records database connection pool statistics
func (nr *NewRelicApp) RecordDatabasePoolStats(open, inUse, idle int) {
	nr.RecordCustomMetric("custom/db/open_connections", float64(open))
	nr.RecordCustomMetric("custom/db/in_use_connections", float64(inUse))
	nr.RecordCustomMetric("custom/db/idle_connections", float64(idle))
}

// IsEnabled returns whether New Relic is enabled
func (nr *NewRelicApp) IsEnabled() bool {
	return nr != nil && nr.enabled
}
