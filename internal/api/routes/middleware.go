package routes

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/gocomet/delivery-tracking/pkg/monitoring"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request id or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Observability records request metrics by route template and logs each request.
func Observability(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		elapsed := time.Since(start)

		monitoring.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(elapsed.Seconds())

		log.Debug("http_request",
			logger.String("method", c.Request.Method),
			logger.String("route", route),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", elapsed),
			logger.String("remote_addr", c.ClientIP()),
			logger.String("request_id", c.GetString("request_id")),
		)
	}
}
