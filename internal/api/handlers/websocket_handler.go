package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/internal/realtime"
	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// DriverSocket handles GET /ws/driver
func (h *Handlers) DriverSocket(c *gin.Context) {
	h.serveSocket(c, realtime.RoleDriver)
}

// CustomerSocket handles GET /ws/customer
func (h *Handlers) CustomerSocket(c *gin.Context) {
	h.serveSocket(c, realtime.RoleCustomer)
}

// serveSocket upgrades the request. The peer authenticates over the socket.
func (h *Handlers) serveSocket(c *gin.Context, role realtime.Role) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("Failed to upgrade to WebSocket",
			logger.String("role", string(role)),
			logger.Err(err),
		)
		return
	}

	client := h.Hub.Serve(conn, role)
	h.Logger.Debug("WebSocket connected",
		logger.String("role", string(role)),
		logger.String("client_id", client.ID),
	)
}
