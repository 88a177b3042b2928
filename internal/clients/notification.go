package clients

import (
	"context"
	"net/http"

	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// Notification templates known to the notification service.
const (
	TemplateDeliveryStarted   = "DELIVERY_STARTED"
	TemplateDriverArrived     = "DRIVER_ARRIVED"
	TemplateDeliveryCompleted = "DELIVERY_COMPLETED"
	TemplateOrderCancelled    = "ORDER_CANCELLED"
	TemplateDriverAssigned    = "DRIVER_ASSIGNED"
)

// NotificationClient posts notifications. Delivery is the service's concern.
type NotificationClient struct {
	baseClient
}

func NewNotificationClient(cfg Config, log *logger.Logger) *NotificationClient {
	return &NotificationClient{baseClient: newBaseClient("notification-service", cfg, log)}
}

func (c *NotificationClient) Notify(ctx context.Context, recipient, template string, data map[string]any) error {
	body := map[string]any{
		"recipient": recipient,
		"template":  template,
		"context":   data,
	}
	return c.do(ctx, http.MethodPost, "/api/notifications", body, nil)
}
