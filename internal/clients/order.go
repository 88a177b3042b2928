package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// OrderDetails is the subset of the order service record tracking needs.
type OrderDetails struct {
	OrderID        string `json:"orderId"`
	CustomerID     string `json:"customerId"`
	Status         string `json:"status"`
	PickupAddress  string `json:"pickupAddress,omitempty"`
	DropoffAddress string `json:"dropoffAddress,omitempty"`
}

// OrderClient talks to the order service.
type OrderClient struct {
	baseClient
}

func NewOrderClient(cfg Config, log *logger.Logger) *OrderClient {
	return &OrderClient{baseClient: newBaseClient("order-service", cfg, log)}
}

// GetOrderDetails fetches an order by id.
func (c *OrderClient) GetOrderDetails(ctx context.Context, orderID string) (*OrderDetails, error) {
	var out OrderDetails
	if err := c.do(ctx, http.MethodGet, "/orders/public/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return &out, nil
}

// UpdateOrderStatus reports a tracking driven status (DELIVERED, CANCELLED, ...).
func (c *OrderClient) UpdateOrderStatus(ctx context.Context, orderID, status string, metadata map[string]any) error {
	body := map[string]any{"status": status}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	return c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/status", body, nil)
}
