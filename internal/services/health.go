// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes health check failures.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeUnhealthy
	ErrTypeInvalidResponse
	// ErrTypeUnverified is a healthy answer that names no recognizable
	// backend. It is retried like an unhealthy one.
	ErrTypeUnverified
)

// ClientError is a failed health check.
type ClientError struct {
	Type    ErrorType
	URL     string
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if e.URL != "" {
		msg = e.URL + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// BackendMismatchError reports a healthy service running on another backend
// than the one it was configured for.
type BackendMismatchError struct {
	URL      string
	Want     hardware.Class
	Reported string
}

func (e *BackendMismatchError) Error() string {
	return fmt.Sprintf("%s: service is healthy but reports backend %q, want %s", e.URL, e.Reported, e.Want)
}

// =============================================================================
// HEALTH PAYLOAD
// =============================================================================

// HealthStatus is the JSON document served on a health endpoint.
type HealthStatus struct {
	Status      string `json:"status"`
	Backend     string `json:"backend,omitempty"`
	Device      string `json:"device,omitempty"`
	Model       string `json:"model,omitempty"`
	ComputeType string `json:"compute_type,omitempty"`
	// ExecutionProvider is the ONNX Runtime provider in use, for example
	// "CUDAExecutionProvider".
	ExecutionProvider string `json:"execution_provider,omitempty"`
}

// Healthy reports whether the status field says the service is ready.
func (h HealthStatus) Healthy() bool {
	switch strings.ToLower(strings.TrimSpace(h.Status)) {
	case "healthy", "ok", "ready", "up":
		return true
	}
	return false
}

// identifiers returns the non-empty backend fields in precedence order.
func (h HealthStatus) identifiers() []string {
	var out []string
	for _, s := range []string{h.Backend, h.Device, h.ExecutionProvider} {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// ActiveBackend returns the class the service reports running on. Backend
// wins over device, device over execution_provider; ok is false when none
// names a class.
func (h HealthStatus) ActiveBackend() (hardware.Class, string, bool) {
	for _, reported := range h.identifiers() {
		if c, err := hardware.ParseClass(reported); err == nil {
			return c, reported, true
		}
	}
	return "", "", false
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds the health client options.
type ClientConfig struct {
	// RequestTimeout bounds a single GET (default: 5s)
	RequestTimeout time.Duration

	// InitialInterval is the first retry delay (default: 1s)
	InitialInterval time.Duration

	// MaxInterval caps the retry delay (default: 15s)
	MaxInterval time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:  5 * time.Second,
		InitialInterval: 1 * time.Second,
		MaxInterval:     15 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// HealthClient polls service health endpoints. Safe for concurrent use.
type HealthClient struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHealthClient creates a client. A nil config uses the defaults.
func NewHealthClient(config *ClientConfig, logger *slog.Logger) *HealthClient {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.InitialInterval == 0 {
		config.InitialInterval = 1 * time.Second
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger,
	}
}

// Check performs one health request. A non-200 answer or a status other
// than healthy is an error.
func (c *HealthClient) Check(ctx context.Context, url string) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{}, &ClientError{Type: ErrTypeInvalidResponse, URL: url, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return HealthStatus{}, &ClientError{Type: ErrTypeTimeout, URL: url, Message: "request timed out", Cause: err}
		}
		return HealthStatus{}, &ClientError{Type: ErrTypeNotRunning, URL: url, Message: "service not reachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{}, &ClientError{Type: ErrTypeUnhealthy, URL: url, Message: "unexpected status " + resp.Status}
	}

	var status HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return HealthStatus{}, &ClientError{Type: ErrTypeInvalidResponse, URL: url, Message: "failed to decode health response", Cause: err}
	}
	if !status.Healthy() {
		return status, &ClientError{Type: ErrTypeUnhealthy, URL: url, Message: fmt.Sprintf("service reports status %q", status.Status)}
	}
	return status, nil
}

// Verify checks that a healthy status was produced by the wanted backend.
// A status naming no recognizable backend is an ErrTypeUnverified error; one
// naming another backend is a BackendMismatchError.
func Verify(url string, status HealthStatus, want hardware.Class) error {
	ids := status.identifiers()
	if len(ids) == 0 {
		return &ClientError{Type: ErrTypeUnverified, URL: url, Message: fmt.Sprintf("service is healthy but reports no backend, want %s", want)}
	}
	for _, id := range ids {
		if want.Matches(id) {
			return nil
		}
	}
	if _, reported, ok := status.ActiveBackend(); ok {
		return &BackendMismatchError{URL: url, Want: want, Reported: reported}
	}
	return &ClientError{Type: ErrTypeUnverified, URL: url, Message: fmt.Sprintf("service is healthy but reports unrecognized backend %q, want %s", ids[0], want)}
}

// WaitHealthy polls url with exponential backoff until the service is
// healthy on backend want, the timeout elapses or ctx is cancelled. A
// backend mismatch stops polling at once; an unverifiable backend is
// polled again.
func (c *HealthClient) WaitHealthy(ctx context.Context, url string, want hardware.Class, timeout time.Duration) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialInterval
	b.MaxInterval = c.config.MaxInterval

	attempts := 0
	var lastErr error
	operation := func() (HealthStatus, error) {
		attempts++
		status, err := c.Check(ctx, url)
		if err != nil {
			lastErr = err
			return status, err
		}
		if err := Verify(url, status, want); err != nil {
			var mismatch *BackendMismatchError
			if errors.As(err, &mismatch) {
				return status, backoff.Permanent(err)
			}
			lastErr = err
			return status, err
		}
		return status, nil
	}

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("service not healthy yet",
				slog.String("url", url),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		c.logger.Debug("health wait ended", slog.String("url", url), slog.Int("attempts", attempts), slog.String("error", err.Error()))
		var mismatch *BackendMismatchError
		if !errors.As(err, &mismatch) && lastErr != nil && ctx.Err() != nil {
			return status, fmt.Errorf("not healthy after %s (%d attempts): %w", timeout, attempts, lastErr)
		}
		return status, err
	}
	return status, nil
}
