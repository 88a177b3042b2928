package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Log      LogConfig
	Realtime RealtimeConfig
	Tracking TrackingConfig
	Matching MatchingConfig
	Services ServicesConfig
	Kafka    KafkaConfig
	Notify   NotifyConfig
	Store    StoreConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	Host            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
	MaxIdleConns   int
	MaxLifetime    time.Duration
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type NewRelicConfig struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type RealtimeConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	IngestWorkers   int
	IngestQueue     int
	ProcessTimeout  time.Duration
}

type TrackingConfig struct {
	ProximityMeters   float64
	MinEtaSeconds     int
	MinSpeed          float64
	DefaultSpeed      float64
	EtaStaleAfter     time.Duration
	TrafficTimezone   string
	EvaluationWorkers int
	LocationTTL       time.Duration
	TripTTL           time.Duration
	StoreTimeout      time.Duration
	CacheTimeout      time.Duration
	HistoryLimit      int
	HeatmapResolution float64
}

type MatchingConfig struct {
	DefaultRadiusMeters float64
	DefaultLimit        int
	MaxLimit            int
	RecentWindow        time.Duration
	AvailabilityTTL     time.Duration
	AvailabilityGrace   time.Duration
}

type ServicesConfig struct {
	OrderURL        string
	DriverURL       string
	NotificationURL string
	RouteURL        string
	Timeout         time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type NotifyConfig struct {
	Workers     int
	QueueSize   int
	SinkTimeout time.Duration
}

type StoreConfig struct {
	Backend string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("SERVER_ENV", "development"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: parseDuration(getEnv("SERVER_SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			Name:           getEnv("DB_NAME", "tracking"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConnections: getEnvAsInt("DB_MAX_CONNECTIONS", 50),
			MaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 10),
			MaxLifetime:    time.Duration(getEnvAsInt("DB_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			MaxRetries:  getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 100),
			MinIdleConn: 10,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		NewRelic: NewRelicConfig{
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			AppName:    getEnv("NEW_RELIC_APP_NAME", "Delivery-Tracking"),
			Enabled:    getEnvAsBool("NEW_RELIC_ENABLED", false),
			LogLevel:   getEnv("NEW_RELIC_LOG_LEVEL", "info"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Realtime: RealtimeConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
			IngestWorkers:   getEnvAsInt("WS_INGEST_WORKERS", 8),
			IngestQueue:     getEnvAsInt("WS_INGEST_QUEUE", 1024),
			ProcessTimeout:  parseDuration(getEnv("WS_PROCESS_TIMEOUT", "5s"), 5*time.Second),
		},
		Tracking: TrackingConfig{
			ProximityMeters:   getEnvAsFloat64("TRACKING_PROXIMITY_METERS", 50),
			MinEtaSeconds:     getEnvAsInt("TRACKING_MIN_ETA_SECONDS", 60),
			MinSpeed:          getEnvAsFloat64("TRACKING_MIN_SPEED", 1),
			DefaultSpeed:      getEnvAsFloat64("TRACKING_DEFAULT_SPEED", 10),
			EtaStaleAfter:     parseDuration(getEnv("TRACKING_ETA_STALE_AFTER", "5m"), 5*time.Minute),
			TrafficTimezone:   getEnv("TRACKING_TRAFFIC_TIMEZONE", "UTC"),
			EvaluationWorkers: getEnvAsInt("TRACKING_EVALUATION_WORKERS", 4),
			LocationTTL:       parseDuration(getEnv("CACHE_TTL_DRIVER_LOCATION", "5m"), 5*time.Minute),
			TripTTL:           parseDuration(getEnv("CACHE_TTL_TRIP", "24h"), 24*time.Hour),
			StoreTimeout:      parseDuration(getEnv("STORE_TIMEOUT", "3s"), 3*time.Second),
			CacheTimeout:      parseDuration(getEnv("CACHE_TIMEOUT", "200ms"), 200*time.Millisecond),
			HistoryLimit:      getEnvAsInt("TRACKING_HISTORY_LIMIT", 1000),
			HeatmapResolution: getEnvAsFloat64("TRACKING_HEATMAP_RESOLUTION", 0.01),
		},
		Matching: MatchingConfig{
			DefaultRadiusMeters: getEnvAsFloat64("MATCHING_DEFAULT_RADIUS_METERS", 5000),
			DefaultLimit:        getEnvAsInt("MATCHING_DEFAULT_LIMIT", 10),
			MaxLimit:            getEnvAsInt("MATCHING_MAX_LIMIT", 100),
			RecentWindow:        parseDuration(getEnv("MATCHING_RECENT_WINDOW", "10m"), 10*time.Minute),
			AvailabilityTTL:     parseDuration(getEnv("CACHE_TTL_AVAILABLE_DRIVERS", "30s"), 30*time.Second),
			AvailabilityGrace:   parseDuration(getEnv("CACHE_GRACE_AVAILABLE_DRIVERS", "2m"), 2*time.Minute),
		},
		Services: ServicesConfig{
			OrderURL:        getEnv("ORDER_SERVICE_URL", "http://localhost:8081"),
			DriverURL:       getEnv("DRIVER_SERVICE_URL", "http://localhost:8082"),
			NotificationURL: getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8083"),
			RouteURL:        getEnv("ROUTE_SERVICE_URL", ""),
			Timeout:         parseDuration(getEnv("SERVICE_TIMEOUT", "5s"), 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TRIP_EVENTS_TOPIC", "trip-events"),
		},
		Notify: NotifyConfig{
			Workers:     getEnvAsInt("NOTIFY_WORKERS", 4),
			QueueSize:   getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			SinkTimeout: parseDuration(getEnv("NOTIFY_SINK_TIMEOUT", "5s"), 5*time.Second),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", StorePostgres),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}
	switch c.Store.Backend {
	case StorePostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the postgres store")
		}
	case StoreMemory:
		if c.Server.Env == "production" {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q", StorePostgres, StoreMemory)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Tracking.ProximityMeters <= 0 {
		return fmt.Errorf("TRACKING_PROXIMITY_METERS must be positive")
	}
	if c.Tracking.MinEtaSeconds < 0 {
		return fmt.Errorf("TRACKING_MIN_ETA_SECONDS must not be negative")
	}
	if c.Tracking.DefaultSpeed <= 0 {
		return fmt.Errorf("TRACKING_DEFAULT_SPEED must be positive")
	}
	if _, err := time.LoadLocation(c.Tracking.TrafficTimezone); err != nil {
		return fmt.Errorf("TRACKING_TRAFFIC_TIMEZONE: %w", err)
	}
	if c.Matching.AvailabilityGrace < c.Matching.AvailabilityTTL {
		return fmt.Errorf("CACHE_GRACE_AVAILABLE_DRIVERS must not be shorter than CACHE_TTL_AVAILABLE_DRIVERS")
	}
	if c.Matching.DefaultLimit > c.Matching.MaxLimit {
		return fmt.Errorf("MATCHING_DEFAULT_LIMIT must not exceed MATCHING_MAX_LIMIT")
	}
	if c.Services.OrderURL == "" || c.Services.DriverURL == "" || c.Services.NotificationURL == "" {
		return fmt.Errorf("ORDER_SERVICE_URL, DRIVER_SERVICE_URL and NOTIFICATION_SERVICE_URL are required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
