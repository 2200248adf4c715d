package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lunatix-dev/lunatix/internal/client"
	"github.com/lunatix-dev/lunatix/internal/sidecar"
)

type fakeProcess struct {
	kills atomic.Int32
	outR  *io.PipeReader
	outW  *io.PipeWriter
	errR  *io.PipeReader
	errW  *io.PipeWriter
}

func newFakeProcess() *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	return &fakeProcess{outR: outR, outW: outW, errR: errR, errW: errW}
}

func (p *fakeProcess) PID() int          { return 4242 }
func (p *fakeProcess) Stdout() io.Reader { return p.outR }
func (p *fakeProcess) Stderr() io.Reader { return p.errR }

func (p *fakeProcess) Kill() error {
	if p.kills.Add(1) == 1 {
		_ = p.outW.Close()
		_ = p.errW.Close()
	}

	return nil
}

type fakeLauncher struct {
	mu    sync.Mutex
	err   error
	procs []*fakeProcess
}

func (l *fakeLauncher) Launch(context.Context, sidecar.Spec) (sidecar.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, &sidecar.SpawnError{Name: "cpp-server", Path: "cpp-server", Err: l.err}
	}

	p := newFakeProcess()
	l.procs = append(l.procs, p)

	return p, nil
}

func (l *fakeLauncher) launched() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*fakeProcess(nil), l.procs...)
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Line(tag string, stream sidecar.Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, "["+tag+"] "+string(stream)+": "+line)
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.lines...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServe runs runServe on a loopback listener and returns a bridge
// client for it and a channel that receives runServe's result.
func startServe(ctx context.Context, t *testing.T, opts serveOptions) (*client.BridgeClient, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	if opts.Spec.Name == "" {
		opts.Spec = sidecar.Spec{Name: "cpp-server", Path: "cpp-server", Args: []string{"--port", "8080"}}
	}

	if opts.LocalURL == "" {
		opts.LocalURL = "http://localhost:8080"
	}

	out, _ := testWriter()
	done := make(chan error, 1)

	go func() {
		done <- runServe(ctx, out, discardLogger(), ln, opts)
	}()

	return client.NewBridge(ln.Addr().String()), done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return")
		return nil
	}
}

func TestRunServe_StandaloneLifecycle(t *testing.T) {
	launcher := &fakeLauncher{}
	console := &lineRecorder{}

	bc, done := startServe(t.Context(), t, serveOptions{
		Standalone: true,
		BackendURL: "http://localhost:8080",
		Launcher:   launcher,
		Console:    console,
	})

	info, err := bc.Mode(t.Context())
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}

	if info.Mode != "standalone" || info.URL != "http://localhost:8080" || info.PID != 4242 {
		t.Fatalf("Mode() = %+v", info)
	}

	procs := launcher.launched()
	if len(procs) != 1 {
		t.Fatalf("launched %d processes, want 1", len(procs))
	}

	if _, err := io.WriteString(procs[0].outW, "listening on 8080\n"); err != nil {
		t.Fatalf("write sidecar output: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(console.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := console.snapshot(); len(got) != 1 || got[0] != "[cpp-server] stdout: listening on 8080" {
		t.Fatalf("console lines = %q", got)
	}

	info, err = bc.SetRemote(t.Context(), "https://api.example.com")
	if err != nil {
		t.Fatalf("SetRemote() error = %v", err)
	}

	if info.Mode != "remote" || info.URL != "https://api.example.com" {
		t.Fatalf("SetRemote() = %+v", info)
	}

	if got := procs[0].kills.Load(); got != 1 {
		t.Fatalf("sidecar killed %d times, want 1", got)
	}

	if err := bc.WindowDestroyed(t.Context()); err != nil {
		t.Fatalf("WindowDestroyed() error = %v", err)
	}

	if err := waitDone(t, done); err != nil {
		t.Fatalf("runServe() error = %v", err)
	}
}

func TestRunServe_ConfiguredRemoteURL(t *testing.T) {
	launcher := &fakeLauncher{}
	ctx, cancel := context.WithCancel(t.Context())

	bc, done := startServe(ctx, t, serveOptions{
		BackendURL: " https://api.example.com/ ",
		Launcher:   launcher,
	})

	url, err := bc.APIURL(t.Context())
	if err != nil {
		t.Fatalf("APIURL() error = %v", err)
	}

	if url != "https://api.example.com" {
		t.Fatalf("APIURL() = %q", url)
	}

	cancel()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("runServe() error = %v", err)
	}

	if n := len(launcher.launched()); n != 0 {
		t.Fatalf("launched %d processes without standalone", n)
	}
}

func TestRunServe_SpawnFailureKeepsConfiguredURL(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("exec: \"cpp-server\": executable file not found in $PATH")}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	bc, done := startServe(ctx, t, serveOptions{
		Standalone: true,
		BackendURL: "http://localhost:8080",
		Launcher:   launcher,
	})

	info, err := bc.Mode(t.Context())
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}

	if info.Mode != "remote" || info.URL != "http://localhost:8080" {
		t.Fatalf("Mode() after failed spawn = %+v", info)
	}

	_, err = bc.SetStandalone(t.Context())

	var be *client.BridgeError
	if !errors.As(err, &be) || be.Code != "SPAWN_FAILED" {
		t.Fatalf("SetStandalone() error = %v, want SPAWN_FAILED", err)
	}

	if !strings.Contains(be.Message, "executable file not found") {
		t.Fatalf("SetStandalone() message = %q", be.Message)
	}

	cancel()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("runServe() error = %v", err)
	}
}

func TestRunServe_ShutdownKillsSidecar(t *testing.T) {
	launcher := &fakeLauncher{}
	ctx, cancel := context.WithCancel(t.Context())

	bc, done := startServe(ctx, t, serveOptions{Standalone: true, Launcher: launcher})

	if _, err := bc.Mode(t.Context()); err != nil {
		t.Fatalf("Mode() error = %v", err)
	}

	cancel()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("runServe() error = %v", err)
	}

	procs := launcher.launched()
	if len(procs) != 1 {
		t.Fatalf("launched %d processes, want 1", len(procs))
	}

	if got := procs[0].kills.Load(); got != 1 {
		t.Fatalf("sidecar killed %d times, want 1", got)
	}
}
