// Package bridge exposes the supervisor to the desktop shell: the three
// invokable commands, the startup hook, and the window lifecycle hook.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/lunatix-dev/lunatix/internal/sidecar"
	"github.com/lunatix-dev/lunatix/internal/supervisor"
)

// Command names accepted by Invoke.
const (
	CommandGetAPIURL         = "get_api_url"
	CommandSetRemoteMode     = "set_remote_mode"
	CommandSetStandaloneMode = "set_standalone_mode"
)

// Error codes carried by a failed Response.
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeBadPayload     = "BAD_PAYLOAD"
	CodeSpawnFailed    = "SPAWN_FAILED"
	CodeShutdown       = "SHUT_DOWN"
	CodeInternal       = "INTERNAL"
)

// WindowEvent is a lifecycle event of the main window.
type WindowEvent string

const (
	WindowDestroyed WindowEvent = "destroyed"
	WindowFocused   WindowEvent = "focused"
	WindowMoved     WindowEvent = "moved"
)

// Command is one invocation from the UI.
type Command struct {
	Name    string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the result of Invoke.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error is a command failure reported to the UI.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

type remotePayload struct {
	URL string `json:"url"`
}

// Bridge routes shell commands and lifecycle events to a Supervisor.
type Bridge struct {
	sup    *supervisor.Supervisor
	logger *slog.Logger
}

// New creates a Bridge for sup.
func New(sup *supervisor.Supervisor, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{sup: sup, logger: logger.With(slog.String("component", "bridge"))}
}

// Supervisor returns the wrapped supervisor.
func (b *Bridge) Supervisor() *supervisor.Supervisor {
	return b.sup
}

// GetAPIURL returns the backend URL the UI should use.
func (b *Bridge) GetAPIURL() string {
	return b.sup.APIURL()
}

// SetRemoteMode switches to the backend at url. It never fails.
func (b *Bridge) SetRemoteMode(ctx context.Context, url string) {
	b.sup.SetRemote(ctx, url)
}

// SetStandaloneMode spawns the bundled backend if it is not already running.
func (b *Bridge) SetStandaloneMode(ctx context.Context) error {
	return b.sup.SetStandalone(ctx)
}

// Startup runs the startup hook. When standalone is set it attempts one
// spawn; a failure is logged and the application keeps its configured URL.
func (b *Bridge) Startup(ctx context.Context, standalone bool) {
	if !standalone {
		b.logger.Debug("standalone flag not set, staying remote",
			slog.String("event.type", "bridge.startup"),
			slog.String("backend.url", b.sup.APIURL()))

		return
	}

	if err := b.sup.SetStandalone(ctx); err != nil {
		b.logger.Error("failed to start bundled backend, continuing in remote mode",
			slog.String("event.type", "bridge.startup.failed"),
			slog.String("backend.url", b.sup.APIURL()),
			slog.String("error", err.Error()))

		return
	}

	b.logger.Info("started in standalone mode",
		slog.String("event.type", "bridge.startup"),
		slog.String("backend.url", b.sup.APIURL()))
}

// HandleWindowEvent reacts to main window lifecycle events. Only
// WindowDestroyed has an effect.
func (b *Bridge) HandleWindowEvent(ctx context.Context, ev WindowEvent) {
	if ev != WindowDestroyed {
		return
	}

	b.logger.Info("main window destroyed", slog.String("event.type", "bridge.window.destroyed"))
	b.sup.Shutdown(ctx)
}

// Invoke dispatches cmd by name.
func (b *Bridge) Invoke(ctx context.Context, cmd Command) Response {
	switch cmd.Name {
	case CommandGetAPIURL:
		return success(map[string]string{"url": b.GetAPIURL()})

	case CommandSetRemoteMode:
		var p remotePayload
		if err := decodePayload(cmd.Payload, &p); err != nil {
			return failure(CodeBadPayload, err.Error())
		}

		target, err := validateURL(p.URL)
		if err != nil {
			return failure(CodeBadPayload, err.Error())
		}

		b.SetRemoteMode(ctx, target)

		return success(b.sup.Snapshot())

	case CommandSetStandaloneMode:
		if err := b.SetStandaloneMode(ctx); err != nil {
			return errorResponse(err)
		}

		return success(b.sup.Snapshot())

	default:
		return failure(CodeUnknownCommand, "unknown command "+strings.TrimSpace(cmd.Name))
	}
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("payload is required")
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.New("invalid payload: " + err.Error())
	}

	return nil
}

func errorResponse(err error) Response {
	var spawnErr *sidecar.SpawnError

	switch {
	case errors.As(err, &spawnErr):
		return failure(CodeSpawnFailed, err.Error())
	case errors.Is(err, supervisor.ErrShutdown):
		return failure(CodeShutdown, err.Error())
	default:
		return failure(CodeInternal, err.Error())
	}
}

func success(data any) Response {
	return Response{OK: true, Data: data}
}

func failure(code, msg string) Response {
	return Response{Error: &Error{Code: code, Message: msg}}
}
