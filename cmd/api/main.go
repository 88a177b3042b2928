package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/api/handlers"
	"github.com/gocomet/delivery-tracking/internal/api/routes"
	"github.com/gocomet/delivery-tracking/internal/clients"
	"github.com/gocomet/delivery-tracking/internal/config"
	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/internal/realtime"
	"github.com/gocomet/delivery-tracking/internal/repository/memory"
	"github.com/gocomet/delivery-tracking/internal/repository/postgres"
	rediscache "github.com/gocomet/delivery-tracking/internal/repository/redis"
	"github.com/gocomet/delivery-tracking/internal/service/matching"
	"github.com/gocomet/delivery-tracking/internal/service/notify"
	"github.com/gocomet/delivery-tracking/internal/service/tracking"
	"github.com/gocomet/delivery-tracking/pkg/cache"
	"github.com/gocomet/delivery-tracking/pkg/database"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
	"github.com/gorilla/websocket"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
)

// hubBroadcaster lets the dispatcher be built before the hub it feeds.
type hubBroadcaster struct {
	hub *realtime.Hub
}

func (b *hubBroadcaster) BroadcastTripEvent(e trip.Event) {
	if b.hub != nil {
		b.hub.BroadcastTripEvent(e)
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: "delivery-tracking",
		Env:     cfg.Server.Env,
	}
	if cfg.Server.Env == "production" {
		logCfg.SampleInitial, logCfg.SampleThereafter = 100, 100
	}
	appLogger, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting GoComet Delivery Tracking Service",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
		logger.String("store", cfg.Store.Backend),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp, _ = monitoring.New(monitoring.Config{})
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized successfully",
			logger.String("app_name", cfg.NewRelic.AppName),
			logger.Bool("enabled", true))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize Redis
	redisClient, err := cache.NewRedisClient(cache.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		PoolSize:    cfg.Redis.PoolSize,
		MinIdleConn: cfg.Redis.MinIdleConn,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	if err != nil {
		// The cache is an accelerator; the service keeps answering from the store.
		appLogger.Warn("Redis unreachable at startup, continuing without warm cache", logger.Err(err))
	} else {
		appLogger.Info("Connected to Redis successfully")
	}
	defer cache.Close(redisClient)

	redisStore := cache.NewRedisStore(redisClient, cfg.Tracking.CacheTimeout)
	trackingCache := rediscache.NewTrackingCache(cache.NewAside(redisStore, appLogger.Named("cache")), rediscache.TTLs{
		Location:       cfg.Tracking.LocationTTL,
		Trip:           cfg.Tracking.TripTTL,
		Available:      cfg.Matching.AvailabilityTTL,
		AvailableGrace: cfg.Matching.AvailabilityGrace,
	})

	// Initialize stores
	var (
		locations location.Repository
		trips     trip.Repository
		db        *sql.DB
	)
	switch cfg.Store.Backend {
	case config.StoreMemory:
		locations = memory.NewLocationStore()
		trips = memory.NewTripStore()
		appLogger.Warn("Using in-memory stores, data is lost on restart")
	default:
		db, err = database.NewPostgresDB(database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.Name,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConnections,
			MaxIdle:     cfg.Database.MaxIdleConns,
			MaxLifetime: cfg.Database.MaxLifetime,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer db.Close()

		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = postgres.EnsureSchema(schemaCtx, db)
		cancel()
		if err != nil {
			appLogger.Fatal("Failed to prepare schema", logger.Err(err))
		}
		locations = postgres.NewLocationStore(db, cfg.Tracking.StoreTimeout)
		trips = postgres.NewTripStore(db, cfg.Tracking.StoreTimeout)
		appLogger.Info("Connected to PostgreSQL successfully")
	}

	// Collaborators
	serviceCfg := func(url string) clients.Config {
		return clients.Config{BaseURL: url, Timeout: cfg.Services.Timeout}
	}
	clientLogger := appLogger.Named("clients")
	orderClient := clients.NewOrderClient(serviceCfg(cfg.Services.OrderURL), clientLogger)
	driverClient := clients.NewDriverClient(serviceCfg(cfg.Services.DriverURL), clientLogger)
	notificationClient := clients.NewNotificationClient(serviceCfg(cfg.Services.NotificationURL), clientLogger)

	// Event fan-out
	broadcaster := &hubBroadcaster{}
	sinks := []notify.Sink{
		notify.NewNotificationSink(notificationClient),
		notify.NewUpstreamSink(orderClient, driverClient),
		notify.NewRealtimeSink(broadcaster),
		notify.NewMetricsSink(nrApp),
	}
	var kafkaCloser func() error
	if len(cfg.Kafka.Brokers) > 0 {
		writer := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		kafkaCloser = writer.Close
		sinks = append(sinks, notify.NewKafkaSink(writer))
		appLogger.Info("Publishing trip events to Kafka",
			logger.Strings("brokers", cfg.Kafka.Brokers),
			logger.String("topic", cfg.Kafka.Topic))
	}
	dispatcher := notify.NewDispatcher(notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SinkTimeout: cfg.Notify.SinkTimeout,
	}, appLogger.Named("notify"), sinks...)

	// Tracking engine
	trafficZone, err := time.LoadLocation(cfg.Tracking.TrafficTimezone)
	if err != nil {
		appLogger.Fatal("Invalid traffic timezone", logger.Err(err))
	}
	engineOpts := []tracking.Option{tracking.WithCacheHealth(redisStore)}
	if cfg.Services.RouteURL != "" {
		engineOpts = append(engineOpts, tracking.WithRouteProvider(
			clients.NewRouteClient(serviceCfg(cfg.Services.RouteURL), clientLogger)))
	}
	engine := tracking.NewEngine(locations, trips, trackingCache, dispatcher, tracking.Config{
		Policy: trip.Policy{
			ProximityMeters: cfg.Tracking.ProximityMeters,
			MinEtaSeconds:   cfg.Tracking.MinEtaSeconds,
			MinSpeed:        cfg.Tracking.MinSpeed,
			DefaultSpeed:    cfg.Tracking.DefaultSpeed,
			EtaStaleAfter:   cfg.Tracking.EtaStaleAfter,
			Location:        trafficZone,
		},
		EvaluationWorkers: cfg.Tracking.EvaluationWorkers,
		HistoryLimit:      cfg.Tracking.HistoryLimit,
		HeatmapResolution: cfg.Tracking.HeatmapResolution,
	}, appLogger.Named("tracking"), engineOpts...)

	matcher := matching.NewMatcher(
		matching.NewCachedAvailability(driverClient, trackingCache, appLogger.Named("matching")),
		locations,
		trackingCache,
		matching.Config{
			DefaultRadius: cfg.Matching.DefaultRadiusMeters,
			DefaultLimit:  cfg.Matching.DefaultLimit,
			MaxLimit:      cfg.Matching.MaxLimit,
			RecentWindow:  cfg.Matching.RecentWindow,
		},
		appLogger.Named("matching"),
	)

	// Initialize realtime hub
	hub := realtime.NewHub(engine, realtime.Config{
		IngestWorkers:  cfg.Realtime.IngestWorkers,
		IngestQueue:    cfg.Realtime.IngestQueue,
		ProcessTimeout: cfg.Realtime.ProcessTimeout,
	}, appLogger.Named("realtime"))
	broadcaster.hub = hub

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	dispatcher.Start(ctx)
	go hub.Run(ctx)
	go reportPoolStats(ctx, nrApp, redisClient, db)

	h := handlers.NewHandlers(engine, matcher, hub, appLogger, websocket.Upgrader{
		ReadBufferSize:  cfg.Realtime.ReadBufferSize,
		WriteBufferSize: cfg.Realtime.WriteBufferSize,
		// Drivers and customers connect from mobile apps without an Origin.
		CheckOrigin: func(r *http.Request) bool { return true },
	})

	// Initialize Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	var nrApplication *newrelic.Application
	if nrApp.IsEnabled() {
		nrApplication = nrApp.Application
	}
	routes.SetupRoutes(router, h, nrApplication, appLogger)

	appLogger.Info("Routes configured successfully")

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}

	// Drain queued events before the sink contexts go away.
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		appLogger.Warn("Event dispatcher did not drain", logger.Err(err))
	}
	stop()

	if kafkaCloser != nil {
		if err := kafkaCloser(); err != nil {
			appLogger.Warn("Failed to close Kafka writer", logger.Err(err))
		}
	}

	appLogger.Info("Server stopped gracefully")
}

// reportPoolStats forwards connection pool statistics to New Relic.
func reportPoolStats(ctx context.Context, nrApp *monitoring.NewRelicApp, redisClient *redis.Client, db *sql.DB) {
	if !nrApp.IsEnabled() {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nrApp.RecordRedisPoolStats(cache.GetClientStats(redisClient))
			if db != nil {
				stats := db.Stats()
				nrApp.RecordDatabasePoolStats(stats.OpenConnections, stats.InUse, stats.Idle)
			}
		}
	}
}
