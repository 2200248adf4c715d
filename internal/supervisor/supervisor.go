// Package supervisor decides whether the application talks to a locally
// spawned backend (standalone mode) or to an externally reachable one
// (remote mode), and owns the local process while in standalone mode.
//
// All state lives in one record guarded by one RWMutex. Transitions are
// additionally serialized by a transition mutex so that the record lock is
// only ever held for the short read-modify-write, never across a spawn;
// readers of the backend URL are therefore never stalled by process creation.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lunatix-dev/lunatix/internal/observability"
	"github.com/lunatix-dev/lunatix/internal/sidecar"
)

// DefaultLocalURL is the canonical URL of the bundled backend.
const DefaultLocalURL = "http://localhost:8080"

// ErrShutdown is returned by SetStandalone after Shutdown has run.
var ErrShutdown = errors.New("supervisor is shut down")

// Mode is the backend connection mode.
type Mode string

const (
	// ModeStandalone means a locally spawned sidecar serves the backend.
	ModeStandalone Mode = "standalone"
	// ModeRemote means the backend is an externally supplied URL.
	ModeRemote Mode = "remote"
)

// Snapshot is a consistent view of the supervisor record.
type Snapshot struct {
	Mode Mode   `json:"mode"`
	URL  string `json:"url"`
	PID  int    `json:"pid,omitempty"`
}

// Options configures a Supervisor.
type Options struct {
	// Launcher starts the sidecar. Required.
	Launcher sidecar.Launcher

	// Spec is the sidecar launch spec used by SetStandalone.
	Spec sidecar.Spec

	// LocalURL is the canonical URL of the sidecar. Defaults to DefaultLocalURL.
	LocalURL string

	// Sink receives relayed sidecar output. Nil discards it.
	Sink sidecar.Sink

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnChange is called after every transition, in transition order.
	OnChange func(Snapshot)
}

// record is the single shared state of the supervisor.
type record struct {
	process sidecar.Process
	relay   *sidecar.Relay
	url     string
	closed  bool
}

// Supervisor is the backend mode state machine.
type Supervisor struct {
	transMu sync.Mutex

	mu  sync.RWMutex
	rec record

	launcher sidecar.Launcher
	spec     sidecar.Spec
	localURL string
	sink     sidecar.Sink
	logger   *slog.Logger
	onChange func(Snapshot)
	tracer   trace.Tracer
}

// New creates a Supervisor in remote mode pointing at the canonical local URL
// with no process running.
func New(opts Options) *Supervisor {
	localURL := strings.TrimSpace(opts.LocalURL)
	if localURL == "" {
		localURL = DefaultLocalURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		rec:      record{url: localURL},
		launcher: opts.Launcher,
		spec:     opts.Spec,
		localURL: localURL,
		sink:     opts.Sink,
		logger:   logger.With(slog.String("component", "supervisor")),
		onChange: opts.OnChange,
		tracer:   observability.Tracer("lunatix/supervisor"),
	}
}

// LocalURL returns the canonical URL of the local sidecar.
func (s *Supervisor) LocalURL() string {
	return s.localURL
}

// APIURL returns the backend URL the UI should use.
func (s *Supervisor) APIURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rec.url
}

// Mode returns the current connection mode.
func (s *Supervisor) Mode() Mode {
	return s.Snapshot().Mode
}

// Snapshot returns the mode, URL and sidecar pid as one consistent view.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// RelayDone returns the drained signal of the running sidecar's output
// relay, or nil when no sidecar is running.
func (s *Supervisor) RelayDone() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rec.relay == nil {
		return nil
	}

	return s.rec.relay.Done()
}

func (s *Supervisor) snapshotLocked() Snapshot {
	if s.rec.process == nil {
		return Snapshot{Mode: ModeRemote, URL: s.rec.url}
	}

	return Snapshot{Mode: ModeStandalone, URL: s.rec.url, PID: s.rec.process.PID()}
}

// SetRemote points the application at url. A running sidecar is detached
// from the record and killed; kill failures are logged, never returned.
// An empty url is ignored.
func (s *Supervisor) SetRemote(ctx context.Context, url string) {
	url = strings.TrimSpace(url)

	_, span := s.tracer.Start(ctx, "supervisor.SetRemote",
		trace.WithAttributes(attribute.String("backend.url", url)))
	defer span.End()

	if url == "" {
		s.logger.Warn("ignoring remote mode request with empty url",
			slog.String("event.type", "supervisor.mode.remote.rejected"))

		return
	}

	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.logger.Info("switching to remote mode",
		slog.String("event.type", "supervisor.mode.remote"),
		slog.String("backend.url", url))

	s.mu.Lock()
	proc := s.rec.process
	s.rec.process = nil
	s.rec.relay = nil
	s.rec.url = url
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.kill(proc, "remote mode")
	s.notify(snap)
}

// SetStandalone launches the sidecar and points the application at it. If a
// sidecar is already running the call is a successful no-op. On launch
// failure the record is left untouched and a *sidecar.SpawnError is returned.
func (s *Supervisor) SetStandalone(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "supervisor.SetStandalone")
	defer span.End()

	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.RLock()
	closed := s.rec.closed
	running := s.rec.process
	s.mu.RUnlock()

	if closed {
		span.SetStatus(codes.Error, ErrShutdown.Error())
		return ErrShutdown
	}

	if running != nil {
		s.logger.Info("sidecar already running",
			slog.String("event.type", "supervisor.mode.standalone.noop"),
			slog.Int("sidecar.pid", running.PID()))

		return nil
	}

	s.logger.Info("switching to standalone mode",
		slog.String("event.type", "supervisor.mode.standalone"),
		slog.String("sidecar.name", s.spec.Name))

	proc, err := s.launch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		s.logger.Error("failed to spawn sidecar",
			slog.String("event.type", "supervisor.spawn.failed"),
			slog.String("error", err.Error()))

		return err
	}

	relay := sidecar.StartRelay(proc, s.spec.Name, s.sink)

	s.mu.Lock()
	s.rec.process = proc
	s.rec.relay = relay
	s.rec.url = s.localURL
	snap := s.snapshotLocked()
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("sidecar.pid", proc.PID()))
	s.logger.Info("spawned sidecar",
		slog.String("event.type", "supervisor.spawn"),
		slog.Int("sidecar.pid", proc.PID()),
		slog.String("backend.url", s.localURL))

	s.notify(snap)

	return nil
}

// Shutdown kills the running sidecar, if any, and moves the supervisor to
// its terminal state. It is safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "supervisor.Shutdown")
	defer span.End()

	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	alreadyClosed := s.rec.closed
	proc := s.rec.process
	s.rec.process = nil
	s.rec.relay = nil
	s.rec.closed = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if alreadyClosed && proc == nil {
		return
	}

	s.logger.Info("shutting down supervisor", slog.String("event.type", "supervisor.shutdown"))

	s.kill(proc, "shutdown")
	s.notify(snap)
}

func (s *Supervisor) launch(ctx context.Context) (sidecar.Process, error) {
	if s.launcher == nil {
		return nil, &sidecar.SpawnError{Name: s.spec.Name, Path: s.spec.Path, Err: errors.New("no process launcher configured")}
	}

	proc, err := s.launcher.Launch(ctx, s.spec)
	if err != nil {
		var spawnErr *sidecar.SpawnError
		if errors.As(err, &spawnErr) {
			return nil, err
		}

		return nil, &sidecar.SpawnError{Name: s.spec.Name, Path: s.spec.Path, Err: err}
	}

	if proc == nil {
		return nil, &sidecar.SpawnError{Name: s.spec.Name, Path: s.spec.Path, Err: errors.New("launcher returned no process")}
	}

	return proc, nil
}

func (s *Supervisor) kill(proc sidecar.Process, reason string) {
	if proc == nil {
		return
	}

	if err := proc.Kill(); err != nil {
		s.logger.Warn("failed to kill sidecar",
			slog.String("event.type", "supervisor.kill.failed"),
			slog.String("reason", reason),
			slog.Int("sidecar.pid", proc.PID()),
			slog.String("error", err.Error()))

		return
	}

	s.logger.Info("killed local sidecar",
		slog.String("event.type", "supervisor.kill"),
		slog.String("reason", reason),
		slog.Int("sidecar.pid", proc.PID()))
}

// notify runs under transMu, so callbacks observe transitions in order.
func (s *Supervisor) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
