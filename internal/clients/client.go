package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/gocomet/delivery-tracking/pkg/errors"
	"github.com/gocomet/delivery-tracking/pkg/logger"
)

// Config configures one collaborator endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// StatusError is a non-2xx answer from a collaborator.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err carries a 404 answer.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

type baseClient struct {
	name    string
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

func newBaseClient(name string, cfg Config, log *logger.Logger) baseClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return baseClient{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// do sends a JSON request and decodes a JSON answer into out when out is not
// nil. Every failure is wrapped as an upstream error.
func (c *baseClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Upstream(c.name, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Upstream(c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Upstream(c.name, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Upstream call",
		logger.String("service", c.name),
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Upstream(c.name, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Upstream(c.name, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
