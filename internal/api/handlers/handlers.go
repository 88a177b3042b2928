package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/api/dto"
	"github.com/gocomet/delivery-tracking/internal/domain/location"
	"github.com/gocomet/delivery-tracking/internal/domain/trip"
	"github.com/gocomet/delivery-tracking/internal/realtime"
	"github.com/gocomet/delivery-tracking/internal/service/matching"
	"github.com/gocomet/delivery-tracking/internal/service/tracking"
	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	gorilla "github.com/gorilla/websocket"
)

// Handlers holds all handler dependencies
type Handlers struct {
	Engine   *tracking.Engine
	Matcher  *matching.Matcher
	Hub      *realtime.Hub
	Logger   *logger.Logger
	Upgrader gorilla.Upgrader
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *tracking.Engine, matcher *matching.Matcher, hub *realtime.Hub, log *logger.Logger, upgrader gorilla.Upgrader) *Handlers {
	return &Handlers{
		Engine:   engine,
		Matcher:  matcher,
		Hub:      hub,
		Logger:   log,
		Upgrader: upgrader,
	}
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready handles GET /health/ready
func (h *Handlers) Ready(c *gin.Context) {
	report := h.Engine.Health(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	connections := h.Hub.Connections()
	c.JSON(status, gin.H{
		"store": report.Store,
		"cache": report.Cache,
		"connections": gin.H{
			"drivers":   connections[realtime.RoleDriver],
			"customers": connections[realtime.RoleCustomer],
		},
	})
}

var (
	validationErrors = []error{
		location.ErrMissingDriverID,
		location.ErrInvalidCoordinates,
		location.ErrInvalidSample,
		location.ErrInvalidTimeRange,
		location.ErrInvalidResolution,
		location.ErrInvalidNearestQuery,
		trip.ErrInvalidTrip,
		trip.ErrInvalidWaypointIndex,
		trip.ErrInvalidTransition,
		trip.ErrDriverRequired,
	}
	notFoundErrors = []error{
		trip.ErrTripNotFound,
		location.ErrLocationNotFound,
	}
	conflictErrors = []error{
		trip.ErrDuplicateTrip,
		trip.ErrTripTerminal,
		trip.ErrRevisionConflict,
	}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// toAppError maps domain failures onto the transport taxonomy.
func toAppError(err error) *apperrors.AppError {
	switch {
	case isAny(err, validationErrors):
		return apperrors.Validation(err.Error(), err)
	case isAny(err, notFoundErrors):
		return apperrors.NotFound(err.Error(), err)
	case isAny(err, conflictErrors):
		return apperrors.Conflict(err.Error(), err)
	}
	return apperrors.GetAppError(err)
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			logger.String("path", c.FullPath()),
			logger.String("code", appErr.Code),
			logger.Err(err),
		)
	}
	c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message})
}

func (h *Handlers) respondBindError(c *gin.Context, err error) {
	appErr := apperrors.Validation(err.Error(), err)
	c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message})
}
