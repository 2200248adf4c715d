package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lunatix-dev/lunatix/internal/buildinfo"
	"github.com/lunatix-dev/lunatix/internal/config"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusPass, "pass"},
		{StatusWarn, "warn"},
		{StatusFail, "fail"},
		{Status(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}

	data, err := json.Marshal(Result{Name: "x", Status: StatusWarn})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if !strings.Contains(string(data), `"status":"warn"`) {
		t.Fatalf("Marshal() = %s, want textual status", data)
	}
}

func TestRunner_RunNamesResultsInOrder(t *testing.T) {
	r := &Runner{}
	r.AddCheck("First", func(context.Context) Result { return Result{Name: "ignored", Status: StatusPass} })
	r.AddCheck("Second", func(context.Context) Result { return Result{Status: StatusFail} })

	results := r.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("Run() returned %d results, want 2", len(results))
	}

	if results[0].Name != "First" || results[1].Name != "Second" {
		t.Fatalf("Run() names = %q, %q", results[0].Name, results[1].Name)
	}
}

func TestSummary(t *testing.T) {
	results := []Result{
		{Status: StatusPass},
		{Status: StatusPass},
		{Status: StatusWarn},
		{Status: StatusFail},
	}

	passed, failed, warnings := Summary(results)
	if passed != 2 || failed != 1 || warnings != 1 {
		t.Fatalf("Summary() = %d, %d, %d", passed, failed, warnings)
	}
}

func statusServer(t *testing.T, code int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestCheckBackend(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want Status
	}{
		{name: "healthy", code: http.StatusOK, body: `{"status":"ok","version":"1.2.0","uptime_seconds":90}`, want: StatusPass},
		{name: "too old", code: http.StatusOK, body: `{"status":"ok","version":"0.0.1"}`, want: StatusWarn},
		{name: "server error", code: http.StatusInternalServerError, body: `boom`, want: StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := statusServer(t, tt.code, tt.body)

			got := checkBackend(context.Background(), srv.URL)
			if got.Status != tt.want {
				t.Fatalf("checkBackend() = %+v, want status %s", got, tt.want)
			}
		})
	}
}

func TestCheckBackend_LocalNotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	got := checkBackend(context.Background(), url)
	if got.Status != StatusWarn {
		t.Fatalf("checkBackend() = %+v, want warn", got)
	}

	if !strings.Contains(got.Message, "not running") {
		t.Fatalf("Message = %q", got.Message)
	}
}

func TestCheckBackend_RemoteUnreachable(t *testing.T) {
	got := checkBackend(context.Background(), "http://backend.invalid")
	if got.Status != StatusFail {
		t.Fatalf("checkBackend() = %+v, want fail", got)
	}
}

func TestCheckBridge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mode" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"data":{"mode":"standalone","url":"http://localhost:8080","pid":4242}}`)
	}))
	defer srv.Close()

	got := checkBridge(context.Background(), srv.URL)
	if got.Status != StatusPass {
		t.Fatalf("checkBridge() = %+v, want pass", got)
	}

	want := "standalone mode, http://localhost:8080 (sidecar pid 4242)"
	if got.Message != want {
		t.Fatalf("Message = %q, want %q", got.Message, want)
	}
}

func TestCheckBridge_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if got := checkBridge(context.Background(), addr); got.Status != StatusWarn {
		t.Fatalf("checkBridge() = %+v, want warn", got)
	}
}

func TestCheckConfig(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", root)

	got := checkConfig(config.Load())
	if got.Status != StatusPass || !strings.HasPrefix(got.Message, "Defaults") {
		t.Fatalf("checkConfig() without file = %+v", got)
	}

	dir := filepath.Join(root, "lunatix")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte("standalone: false\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got = checkConfig(config.Load())
	if got.Status != StatusPass || got.Message != file {
		t.Fatalf("checkConfig() with file = %+v", got)
	}
}

func TestCheckSidecar(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	binary := filepath.Join(t.TempDir(), "cpp-server")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil { //nolint:gosec // test executable
		t.Fatalf("write binary: %v", err)
	}

	tests := []struct {
		name string
		env  map[string]string
		want Status
	}{
		{name: "explicit path", env: map[string]string{"LUNATIX_SIDECAR_PATH": binary}, want: StatusPass},
		{name: "missing binary", env: map[string]string{"LUNATIX_SIDECAR_PATH": filepath.Join(t.TempDir(), "nope")}, want: StatusWarn},
		{name: "unknown sidecar", env: map[string]string{"LUNATIX_SIDECAR_NAME": "rust-server"}, want: StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := checkSidecar(config.Load(), nil)
			if got.Status != tt.want {
				t.Fatalf("checkSidecar() = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckSidecar_PortOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	binary := filepath.Join(t.TempDir(), "cpp-server")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil { //nolint:gosec // test executable
		t.Fatalf("write binary: %v", err)
	}

	t.Setenv("LUNATIX_SIDECAR_PATH", binary)
	t.Setenv("LUNATIX_SIDECAR_PORT", "9191")

	got := checkSidecar(config.Load(), nil)
	if !strings.HasSuffix(got.Message, "(port 9191)") {
		t.Fatalf("Message = %q, want port 9191", got.Message)
	}
}

func TestCheckVersion(t *testing.T) {
	orig := buildinfo.Version

	t.Cleanup(func() { buildinfo.Version = orig })

	buildinfo.Version = "dev"
	if got := checkVersion(); got.Status != StatusWarn {
		t.Fatalf("checkVersion(dev) = %+v", got)
	}

	buildinfo.Version = "1.4.0"
	if got := checkVersion(); got.Status != StatusPass || got.Message != "v1.4.0" {
		t.Fatalf("checkVersion(1.4.0) = %+v", got)
	}
}

func TestRenderResults(t *testing.T) {
	var lines []string

	record := func(prefix string) func(string, ...any) {
		return func(format string, args ...any) {
			lines = append(lines, prefix+fmt.Sprintf(format, args...))
		}
	}

	RenderResults([]Result{
		{Name: "Backend", Status: StatusPass, Message: "ok"},
		{Name: "Shell Bridge", Status: StatusWarn, Message: "down", Detail: "start it"},
		{Name: "Config", Status: StatusFail, Message: "bad"},
	}, record("pass:"), record("warn:"), record("fail:"), record("muted:"))

	want := []string{
		"pass:Backend         ok",
		"warn:Shell Bridge    down",
		"muted:    start it",
		"fail:Config          bad",
	}

	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("RenderResults() =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}
