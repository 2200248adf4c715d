package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lunatix-dev/lunatix/internal/supervisor"
)

type envelopeBody struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *Error          `json:"error"`
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (int, envelopeBody) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
	}

	return rec.Code, env
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name       string
		launchErr  error
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
		wantData   string
	}{
		{name: "health", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK, wantData: `"ok"`},
		{name: "get url", method: http.MethodGet, path: "/api/url", wantStatus: http.StatusOK, wantData: supervisor.DefaultLocalURL},
		{name: "get mode", method: http.MethodGet, path: "/api/mode", wantStatus: http.StatusOK, wantData: `"remote"`},
		{
			name: "remote ok", method: http.MethodPost, path: "/api/mode/remote",
			body: `{"url":"https://api.example.dev"}`, wantStatus: http.StatusOK, wantData: "https://api.example.dev",
		},
		{
			name: "remote empty url", method: http.MethodPost, path: "/api/mode/remote",
			body: `{"url":""}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadPayload,
		},
		{
			name: "remote bad scheme", method: http.MethodPost, path: "/api/mode/remote",
			body: `{"url":"ftp://example.dev"}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadPayload,
		},
		{
			name: "remote missing body", method: http.MethodPost, path: "/api/mode/remote",
			wantStatus: http.StatusBadRequest, wantCode: CodeBadPayload,
		},
		{
			name: "standalone ok", method: http.MethodPost, path: "/api/mode/standalone",
			wantStatus: http.StatusOK, wantData: `"standalone"`,
		},
		{
			name: "standalone spawn failure", launchErr: errors.New("exec: not found"),
			method: http.MethodPost, path: "/api/mode/standalone",
			wantStatus: http.StatusBadGateway, wantCode: CodeSpawnFailed,
		},
		{
			name: "invoke", method: http.MethodPost, path: "/api/invoke",
			body: `{"cmd":"get_api_url"}`, wantStatus: http.StatusOK, wantData: supervisor.DefaultLocalURL,
		},
		{
			name: "invoke remote non-url", method: http.MethodPost, path: "/api/invoke",
			body: `{"cmd":"set_remote_mode","payload":{"url":"not a url"}}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadPayload,
		},
		{
			name: "invoke unknown", method: http.MethodPost, path: "/api/invoke",
			body: `{"cmd":"nope"}`, wantStatus: http.StatusNotFound, wantCode: CodeUnknownCommand,
		},
		{
			name: "unknown route", method: http.MethodGet, path: "/api/nope",
			wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND",
		},
		{
			name: "wrong method", method: http.MethodDelete, path: "/api/url",
			wantStatus: http.StatusMethodNotAllowed, wantCode: "METHOD_NOT_ALLOWED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(&stubLauncher{err: tt.launchErr}, nil)
			srv := NewServer(b, nil, nil)

			status, env := doRequest(t, srv.Handler(), tt.method, tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}

			if tt.wantCode != "" {
				if env.OK || env.Error == nil || env.Error.Code != tt.wantCode {
					t.Fatalf("envelope = %+v, want error code %s", env, tt.wantCode)
				}

				return
			}

			if !env.OK || !strings.Contains(string(env.Data), tt.wantData) {
				t.Fatalf("envelope data = %s, want containing %s", env.Data, tt.wantData)
			}
		})
	}
}

func TestServer_WindowDestroyed(t *testing.T) {
	launcher := &stubLauncher{}
	b := newTestBridge(launcher, nil)
	srv := NewServer(b, nil, nil)

	if err := b.SetStandaloneMode(context.Background()); err != nil {
		t.Fatalf("SetStandaloneMode() error = %v", err)
	}

	status, _ := doRequest(t, srv.Handler(), http.MethodPost, "/api/window/moved", "")
	if status != http.StatusOK {
		t.Fatalf("moved status = %d", status)
	}

	select {
	case <-srv.Destroyed():
		t.Fatal("Destroyed() closed by a non-destroy event")
	default:
	}

	doRequest(t, srv.Handler(), http.MethodPost, "/api/window/destroyed", "")
	doRequest(t, srv.Handler(), http.MethodPost, "/api/window/destroyed", "")

	select {
	case <-srv.Destroyed():
	default:
		t.Fatal("Destroyed() not closed")
	}

	if got := launcher.launched()[0].kills.Load(); got != 1 {
		t.Fatalf("kills = %d, want 1", got)
	}
}

func TestServer_ServeStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(newTestBridge(&stubLauncher{}, nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() { errCh <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}

	_ = resp.Body.Close()

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestHub_PublishesModeChanges(t *testing.T) {
	hub := NewHub(nil)
	b := newTestBridge(&stubLauncher{}, hub.ModeChanged)
	srv := NewServer(b, hub, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	for hub.Clients() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	b.SetRemoteMode(ctx, "https://api.example.dev")

	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read ws failed: %v", err)
	}

	var evt struct {
		ID      string              `json:"id"`
		Op      string              `json:"op"`
		Payload supervisor.Snapshot `json:"payload"`
	}

	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("decode ws event failed: %v", err)
	}

	if evt.Op != TopicModeChanged || evt.ID == "" {
		t.Fatalf("event = %+v", evt)
	}

	if evt.Payload.Mode != supervisor.ModeRemote || evt.Payload.URL != "https://api.example.dev" {
		t.Fatalf("payload = %+v", evt.Payload)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: " http://localhost:8080 ", want: "http://localhost:8080"},
		{in: "https://api.example.dev/v1", want: "https://api.example.dev/v1"},
		{in: "", wantErr: true},
		{in: "localhost:8080", wantErr: true},
		{in: "http://", wantErr: true},
		{in: "ws://example.dev", wantErr: true},
	}

	for _, tt := range tests {
		got, err := validateURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}

		if got != tt.want {
			t.Errorf("validateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServer_CrossOriginRequests(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		path        string
		origin      string
		body        string
		wantStatus  int
		wantAllowed bool
		wantMethods string
	}{
		{
			name: "tauri preflight", method: http.MethodOptions, path: "/api/mode/remote", origin: "tauri://localhost",
			wantStatus: http.StatusNoContent, wantAllowed: true, wantMethods: http.MethodPost,
		},
		{
			name: "dev server preflight", method: http.MethodOptions, path: "/api/window/destroyed", origin: "http://localhost:5173",
			wantStatus: http.StatusNoContent, wantAllowed: true, wantMethods: http.MethodPost,
		},
		{
			name: "loopback get", method: http.MethodGet, path: "/api/url", origin: "http://127.0.0.1:3000",
			wantStatus: http.StatusOK, wantAllowed: true,
		},
		{
			name: "configured origin", origins: []string{"ui.example.dev"}, method: http.MethodPost,
			path: "/api/mode/remote", origin: "https://ui.example.dev", body: `{"url":"https://api.example.dev"}`,
			wantStatus: http.StatusOK, wantAllowed: true,
		},
		{
			name: "configured origins replace defaults", origins: []string{"ui.example.dev"}, method: http.MethodOptions,
			path: "/api/mode", origin: "http://localhost:5173", wantStatus: http.StatusForbidden,
		},
		{
			name: "foreign origin", method: http.MethodPost, path: "/api/mode/remote", origin: "https://evil.example",
			body: `{"url":"https://evil.example"}`, wantStatus: http.StatusForbidden,
		},
		{
			name: "no origin", method: http.MethodGet, path: "/api/url", wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(&stubLauncher{}, nil)
			srv := NewServer(b, nil, nil, tt.origins...)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			allowOrigin := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllowed && allowOrigin != tt.origin {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", allowOrigin, tt.origin)
			}

			if !tt.wantAllowed && allowOrigin != "" {
				t.Fatalf("Access-Control-Allow-Origin = %q, want none", allowOrigin)
			}

			if tt.wantMethods != "" && !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), tt.wantMethods) {
				t.Fatalf("Access-Control-Allow-Methods = %q, want %s", rec.Header().Get("Access-Control-Allow-Methods"), tt.wantMethods)
			}

			if tt.wantStatus == http.StatusForbidden && b.GetAPIURL() != supervisor.DefaultLocalURL {
				t.Fatalf("rejected request changed url to %q", b.GetAPIURL())
			}
		})
	}
}

func TestHub_OriginPatterns(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{name: "dev server", origin: "http://localhost:5173"},
		{name: "tauri webview", origin: "tauri://localhost"},
		{name: "foreign", origin: "https://evil.example", wantErr: true},
	}

	hub := NewHub(nil)
	srv := NewServer(newTestBridge(&stubLauncher{}, hub.ModeChanged), hub, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{tt.origin}},
			})

			if tt.wantErr {
				if err == nil {
					_ = conn.Close(websocket.StatusNormalClosure, "")
					t.Fatal("dial succeeded for a foreign origin")
				}

				return
			}

			if err != nil {
				t.Fatalf("dial with origin %s: %v", tt.origin, err)
			}

			_ = conn.Close(websocket.StatusNormalClosure, "")
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{origin: "http://localhost:5173", host: "127.0.0.1:17380", want: true},
		{origin: "HTTP://LOCALHOST:5173", host: "127.0.0.1:17380", want: true},
		{origin: "tauri://localhost", host: "127.0.0.1:17380", want: true},
		{origin: "https://tauri.localhost", host: "127.0.0.1:17380", want: true},
		{origin: "http://127.0.0.1:17380", host: "127.0.0.1:17380", want: true},
		{origin: "http://localhost.evil.example", host: "127.0.0.1:17380", want: false},
		{origin: "null", host: "127.0.0.1:17380", want: false},
	}

	for _, tt := range tests {
		if got := originAllowed(tt.origin, tt.host, DefaultOriginPatterns); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
