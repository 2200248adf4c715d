package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBridgeAddr is the loopback address `lunatix serve` listens on.
const DefaultBridgeAddr = "127.0.0.1:17380"

// ModeInfo mirrors the supervisor snapshot served by the bridge.
type ModeInfo struct {
	Mode string `json:"mode"`
	URL  string `json:"url"`
	PID  int    `json:"pid,omitempty"`
}

// BridgeError is an error reported by the bridge in its response envelope.
type BridgeError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *BridgeError    `json:"error,omitempty"`
}

// BridgeClient talks to the shell bridge of a running `lunatix serve`.
type BridgeClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBridge creates a bridge client for addr (host:port or URL).
func NewBridge(addr string) *BridgeClient {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = DefaultBridgeAddr
	}

	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	return &BridgeClient{
		baseURL:    strings.TrimRight(addr, "/"),
		httpClient: newHTTPClient(),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *BridgeClient) WithHTTPClient(hc *http.Client) *BridgeClient {
	c.httpClient = hc
	return c
}

// BaseURL returns the bridge base URL.
func (c *BridgeClient) BaseURL() string {
	return c.baseURL
}

// Health checks that the bridge is serving.
func (c *BridgeClient) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

// APIURL returns the backend URL the bridge currently advertises.
func (c *BridgeClient) APIURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}

	if err := c.call(ctx, http.MethodGet, "/api/url", nil, &out); err != nil {
		return "", err
	}

	return out.URL, nil
}

// Mode returns the current supervisor snapshot.
func (c *BridgeClient) Mode(ctx context.Context) (*ModeInfo, error) {
	var info ModeInfo
	if err := c.call(ctx, http.MethodGet, "/api/mode", nil, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// SetRemote switches the bridge to remote mode at url.
func (c *BridgeClient) SetRemote(ctx context.Context, url string) (*ModeInfo, error) {
	var info ModeInfo

	body := map[string]string{"url": url}
	if err := c.call(ctx, http.MethodPost, "/api/mode/remote", body, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// SetStandalone asks the bridge to spawn the local sidecar.
func (c *BridgeClient) SetStandalone(ctx context.Context) (*ModeInfo, error) {
	var info ModeInfo
	if err := c.call(ctx, http.MethodPost, "/api/mode/standalone", nil, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// WindowDestroyed delivers the main-window-destroyed lifecycle event.
func (c *BridgeClient) WindowDestroyed(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/window/destroyed", nil, nil)
}

func (c *BridgeClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode}
		}

		return fmt.Errorf("failed to decode bridge response: %w", err)
	}

	if !env.OK {
		if env.Error == nil {
			env.Error = &BridgeError{Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
		}

		env.Error.StatusCode = resp.StatusCode

		return env.Error
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode bridge data: %w", err)
	}

	return nil
}
