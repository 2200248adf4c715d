// Package doctor provides diagnostic checks for a lunatix installation.
//
// The default checks cover:
//   - the config file
//   - the bundled sidecar binary
//   - the backend status endpoint and version
//   - the shell bridge of a running `lunatix serve`
//   - the build version
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/lunatix-dev/lunatix/internal/buildinfo"
	"github.com/lunatix-dev/lunatix/internal/client"
	"github.com/lunatix-dev/lunatix/internal/config"
	"github.com/lunatix-dev/lunatix/internal/sidecar"
)

const probeTimeout = 3 * time.Second

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// String returns the lowercase status name used in JSON output.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Options configures the default checks.
type Options struct {
	Config *config.Config

	// OverrideDirs are searched for sidecar.toml, in order.
	OverrideDirs []string
}

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a runner with the default checks registered.
func New(opts Options) *Runner {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}

	r := &Runner{}
	r.AddCheck("Config", func(context.Context) Result { return checkConfig(cfg) })
	r.AddCheck("Sidecar Binary", func(context.Context) Result { return checkSidecar(cfg, opts.OverrideDirs) })
	r.AddCheck("Backend", func(ctx context.Context) Result { return checkBackend(ctx, cfg.BackendURL()) })
	r.AddCheck("Shell Bridge", func(ctx context.Context) Result { return checkBridge(ctx, cfg.BridgeAddr()) })
	r.AddCheck("Version", func(context.Context) Result { return checkVersion() })

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

func checkConfig(cfg *config.Config) Result {
	file := cfg.File()
	if file == "" {
		return Result{Status: StatusWarn, Message: "Config directory could not be resolved (using defaults)"}
	}

	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Status: StatusPass, Message: "Defaults (no config file)", Detail: file}
		}

		return Result{Status: StatusFail, Message: file, Detail: err.Error()}
	}

	return Result{Status: StatusPass, Message: file}
}

func checkSidecar(cfg *config.Config, overrideDirs []string) Result {
	m, spec, err := sidecar.Prepare(cfg.SidecarName(), cfg.SidecarPath(), cfg.SidecarPort(), overrideDirs...)

	switch {
	case errors.Is(err, sidecar.ErrUnknownSidecar):
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("Unknown sidecar %q", cfg.SidecarName()),
			Detail:  fmt.Sprintf("Available: %v", sidecar.Names()),
		}
	case errors.Is(err, sidecar.ErrBinaryNotFound):
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found (standalone mode unavailable)", m.Binary),
			Detail:  "Install it next to lunatix, add it to PATH, or set sidecar.path",
		}
	case err != nil:
		return Result{Status: StatusFail, Message: "Invalid sidecar override", Detail: err.Error()}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s at %s (port %d)", m.Name, spec.Path, m.Port),
	}
}

func checkBackend(ctx context.Context, backendURL string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	status, err := client.New(backendURL).Status(probeCtx)
	elapsed := time.Since(start)

	if err != nil {
		if isLocal(backendURL) && !portInUse(backendURL) {
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not running", backendURL),
				Detail:  "Start it with 'lunatix mode standalone' or 'lunatix serve --standalone'",
			}
		}

		return Result{Status: StatusFail, Message: backendURL, Detail: err.Error()}
	}

	if compatErr := client.CheckCompatible(status.Version); compatErr != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s v%s (%dms)", backendURL, status.Version, elapsed.Milliseconds()),
			Detail:  compatErr.Error(),
		}
	}

	return Result{
		Status: StatusPass,
		Message: fmt.Sprintf("%s v%s, up %s (%dms)", backendURL, status.Version,
			time.Duration(status.UptimeSeconds)*time.Second, elapsed.Milliseconds()),
	}
}

func checkBridge(ctx context.Context, addr string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info, err := client.NewBridge(addr).Mode(probeCtx)
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("Not running at %s", addr),
			Detail:  "Start it with 'lunatix serve'",
		}
	}

	msg := fmt.Sprintf("%s mode, %s", info.Mode, info.URL)
	if info.PID > 0 {
		msg += fmt.Sprintf(" (sidecar pid %d)", info.PID)
	}

	return Result{Status: StatusPass, Message: msg}
}

func checkVersion() Result {
	if buildinfo.Version == "dev" {
		return Result{Status: StatusWarn, Message: "Development build"}
	}

	return Result{Status: StatusPass, Message: "v" + buildinfo.Version}
}

func isLocal(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// portInUse reports whether something accepts TCP connections at the
// host:port of raw.
func portInUse(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}

	conn, err := net.DialTimeout("tcp", host, 500*time.Millisecond)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

// RenderResults formats diagnostic results using the given print functions.
func RenderResults(results []Result, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	width := 0
	for _, r := range results {
		width = max(width, len(r.Name))
	}

	for _, r := range results {
		report := failureFn

		switch r.Status {
		case StatusPass:
			report = successFn
		case StatusWarn:
			report = warningFn
		}

		report("%-*s%s", width+4, r.Name, r.Message)

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}
