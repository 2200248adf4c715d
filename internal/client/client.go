// Package client provides HTTP clients for the two endpoints lunatix talks to:
//
//   - the backend server (local sidecar or remote), probed via GET /status
//   - the local shell bridge of a running `lunatix serve`
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lunatix-dev/lunatix/internal/buildinfo"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultPollInterval is the default interval between readiness probes.
	DefaultPollInterval = 500 * time.Millisecond
	// MinBackendVersion is the oldest backend release this shell supports.
	MinBackendVersion = "0.1.0"
)

// ErrIncompatibleBackend is returned when the backend version is unsupported.
var ErrIncompatibleBackend = errors.New("incompatible backend version")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}

	return msg
}

// Client talks to a lunatix backend server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// OK reports whether the backend declared itself healthy.
func (s *StatusResponse) OK() bool {
	return s != nil && s.Status == "ok"
}

// New creates a backend client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: newHTTPClient(),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status checks whether the backend server is alive.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/status", &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// WaitReady polls Status until the backend reports ok or ctx ends. The
// supervisor performs no readiness handshake after spawning; callers that
// need the backend use this to retry until it is up.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) (*StatusResponse, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error

	for {
		status, err := c.Status(ctx)
		if err == nil && status.OK() {
			return status, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("backend status %q", status.Status)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("backend not ready: %w (last error: %v)", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// CheckCompatible verifies that version satisfies MinBackendVersion.
func CheckCompatible(version string) error {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if err != nil {
		return fmt.Errorf("%w: parse %q: %w", ErrIncompatibleBackend, version, err)
	}

	constraint, err := semver.NewConstraint(">= " + MinBackendVersion)
	if err != nil {
		return fmt.Errorf("parse version constraint: %w", err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s is older than %s", ErrIncompatibleBackend, v, MinBackendVersion)
	}

	return nil
}

func getJSON(ctx context.Context, hc *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return doJSON(hc, req, out)
}

func doJSON(hc *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lunatix/"+buildinfo.Version)

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
