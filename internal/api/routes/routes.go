package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/api/handlers"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application, log *logger.Logger) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}
	r.Use(RequestID(), Observability(log))

	r.GET("/health", h.Health)
	r.GET("/health/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Realtime channels
	ws := r.Group("/ws")
	{
		ws.GET("/driver", h.DriverSocket)
		ws.GET("/customer", h.CustomerSocket)
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/nearby-drivers", h.GetNearbyDrivers)
		v1.GET("/heatmap", h.GetHeatmap)

		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/location", h.UpdateDriverLocation)
			drivers.GET("/:id/location", h.GetDriverLocation)
			drivers.GET("/:id/history", h.GetLocationHistory)
		}

		trips := v1.Group("/trips")
		{
			trips.GET("", h.ListTrips)
			trips.POST("", h.CreateTrip)
			trips.POST("/pending", h.CreatePendingTrip)
			trips.GET("/:orderId", h.GetTrip)
			trips.POST("/:orderId/assign", h.AssignDriver)
			trips.PUT("/:orderId/status", h.UpdateTripStatus)
			trips.PUT("/:orderId/waypoints/:index", h.UpdateWaypointStatus)
			trips.POST("/:orderId/route", h.RefreshTripRoute)
		}
	}
}
