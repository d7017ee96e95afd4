// Package service provides the shared plumbing for paperboy's typed
// HTTP clients: a JSON request helper and the APIError type the retry
// classifier inspects for status codes.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scholarstream/paperboy/internal/logging"
)

// APIError describes a non-2xx response from a collaborator service.
type APIError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s %s returned %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s %s returned %d", e.Service, e.Method, e.Path, e.StatusCode)
}

// Retryable reports whether the response status indicates a transient
// condition (server errors and rate limiting). Client errors are
// permanent: retrying a validation failure cannot succeed.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsTransport reports whether err is a network-level failure (dial,
// timeout, connection reset) rather than a decoded service response.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Client is the base for the typed collaborator clients.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient creates a base client for the named service.
func NewClient(name, baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named(name),
	}
}

// Name returns the service name used in errors and logs.
func (c *Client) Name() string {
	return c.name
}

// DoJSON issues an HTTP request with an optional JSON body and decodes
// a 2xx JSON response into out (when out is non-nil). Non-2xx statuses
// become *APIError with the body captured as the message.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode %s %s request: %w", c.name, method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build %s %s request: %w", c.name, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %s %s: %w", c.name, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read %s %s response: %w", c.name, method, path, err)
	}

	c.logger.Debug(ctx, "request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode/100 != 2 {
		return &APIError{
			Service:    c.name,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: failed to decode %s %s response: %w", c.name, method, path, err)
	}
	return nil
}

// errorMessage extracts a service error message from a response body,
// falling back to the trimmed raw body.
func errorMessage(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
