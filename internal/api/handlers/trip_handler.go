package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/api/dto"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// CreateTrip handles POST /v1/trips
func (h *Handlers) CreateTrip(c *gin.Context) {
	var req dto.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	t, err := h.Engine.CreateTrip(c.Request.Context(), req.Input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// CreatePendingTrip handles POST /v1/trips/pending
func (h *Handlers) CreatePendingTrip(c *gin.Context) {
	var req dto.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	t, err := h.Engine.CreatePendingTrip(c.Request.Context(), req.Input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// GetTrip handles GET /v1/trips/:orderId
func (h *Handlers) GetTrip(c *gin.Context) {
	view, err := h.Engine.GetTrip(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListTrips handles GET /v1/trips
func (h *Handlers) ListTrips(c *gin.Context) {
	var q dto.ListTripsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondBindError(c, err)
		return
	}

	trips, err := h.Engine.ListTrips(c.Request.Context(), trip.Status(q.Status), q.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trips), "trips": trips})
}

// AssignDriver handles POST /v1/trips/:orderId/assign
func (h *Handlers) AssignDriver(c *gin.Context) {
	var req dto.AssignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	t, err := h.Engine.AssignDriver(c.Request.Context(), c.Param("orderId"), req.DriverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.Logger.Info("Driver assigned",
		logger.OrderID(t.OrderID),
		logger.DriverID(t.DriverID),
	)
	c.JSON(http.StatusOK, t)
}

// UpdateTripStatus handles PUT /v1/trips/:orderId/status
func (h *Handlers) UpdateTripStatus(c *gin.Context) {
	var req dto.UpdateTripStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	t, err := h.Engine.UpdateTripStatus(c.Request.Context(), c.Param("orderId"), trip.Status(req.Status))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateWaypointStatus handles PUT /v1/trips/:orderId/waypoints/:index
func (h *Handlers) UpdateWaypointStatus(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.respondError(c, trip.ErrInvalidWaypointIndex)
		return
	}

	var req dto.UpdateWaypointStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	t, err := h.Engine.UpdateWaypointStatus(c.Request.Context(), c.Param("orderId"), index, trip.WaypointStatus(req.Status))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// RefreshTripRoute handles POST /v1/trips/:orderId/route
func (h *Handlers) RefreshTripRoute(c *gin.Context) {
	t, err := h.Engine.RefreshTripRoute(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
