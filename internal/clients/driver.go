package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gocomet/delivery-tracking/internal/domain/driver"
	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// DriverClient talks to the driver directory service.
type DriverClient struct {
	baseClient
}

func NewDriverClient(cfg Config, log *logger.Logger) *DriverClient {
	return &DriverClient{baseClient: newBaseClient("driver-service", cfg, log)}
}

// GetAvailableDrivers lists drivers the directory marks AVAILABLE.
func (c *DriverClient) GetAvailableDrivers(ctx context.Context) ([]driver.AvailableDriver, error) {
	var out []driver.AvailableDriver
	if err := c.do(ctx, http.MethodGet, "/api/drivers/available", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []driver.AvailableDriver{}
	}
	return out, nil
}

// UpdateDriverStatus sets the directory status of a driver.
func (c *DriverClient) UpdateDriverStatus(ctx context.Context, driverID string, status driver.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", driver.ErrInvalidDriverStatus, status)
	}
	body := map[string]string{"status": string(status)}
	err := c.do(ctx, http.MethodPut, "/api/drivers/"+url.PathEscape(driverID)+"/status", body, nil)
	if IsNotFound(err) {
		return fmt.Errorf("driver %s: %w: %w", driverID, driver.ErrDriverNotFound, err)
	}
	return err
}
