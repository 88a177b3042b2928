package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/api/dto"
	"github.com/gocomet/delivery-tracking/pkg/geo"
	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// UpdateDriverLocation handles POST /v1/drivers/:id/location
func (h *Handlers) UpdateDriverLocation(c *gin.Context) {
	driverID := c.Param("id")

	var req dto.UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	res, err := h.Engine.RecordLocation(c.Request.Context(), req.Sample(driverID))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Debug("Driver location recorded",
		logger.DriverID(driverID),
		logger.Int("trips", len(res.Trips)),
		logger.Int("failed_trips", len(res.FailedTrips)),
	)
	c.JSON(http.StatusOK, res)
}

// GetDriverLocation handles GET /v1/drivers/:id/location
func (h *Handlers) GetDriverLocation(c *gin.Context) {
	sample, err := h.Engine.GetDriverLocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sample)
}

// GetLocationHistory handles GET /v1/drivers/:id/history
func (h *Handlers) GetLocationHistory(c *gin.Context) {
	var q dto.TimeRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondBindError(c, err)
		return
	}

	samples, err := h.Engine.History(c.Request.Context(), c.Param("id"), q.From, q.To, q.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driverId": c.Param("id"), "count": len(samples), "locations": samples})
}

// GetNearbyDrivers handles GET /v1/nearby-drivers
func (h *Handlers) GetNearbyDrivers(c *gin.Context) {
	var q dto.NearbyDriversQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondBindError(c, err)
		return
	}

	center := geo.Point{Latitude: *q.Latitude, Longitude: *q.Longitude}
	drivers, err := h.Matcher.FindNearby(c.Request.Context(), center, q.Radius, q.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(drivers), "drivers": drivers})
}

// GetHeatmap handles GET /v1/heatmap
func (h *Handlers) GetHeatmap(c *gin.Context) {
	var q dto.TimeRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondBindError(c, err)
		return
	}

	cells, err := h.Engine.Heatmap(c.Request.Context(), q.From, q.To, q.Resolution)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cells": cells})
}
