package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ErrBinaryNotFound is returned when the sidecar executable cannot be located.
var ErrBinaryNotFound = errors.New("sidecar binary not found")

// Spec describes how to launch a sidecar process.
type Spec struct {
	// Name is the sidecar label used for logging and output tagging.
	Name string

	// Path is the executable path, or a bare name resolved through PATH.
	Path string

	// Args are passed to the executable.
	Args []string

	// Env is appended to the parent environment.
	Env []string

	// Dir is the working directory. Empty means the parent's.
	Dir string
}

// Launcher starts sidecar processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Process, error)
}

// SpawnError reports a failure to create a sidecar process.
type SpawnError struct {
	Name string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn sidecar %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecLauncher launches sidecars as OS child processes.
type ExecLauncher struct {
	// KillGrace is how long a terminated child gets before SIGKILL.
	KillGrace time.Duration
}

// NewExecLauncher returns an ExecLauncher with default settings.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{KillGrace: defaultKillGrace}
}

// Launch starts the process described by spec. It returns as soon as the OS
// has created the process; no readiness check is performed. The child is
// not tied to ctx: it lives until killed.
func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
	}

	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: fmt.Errorf("%w: %w", ErrBinaryNotFound, err)}
	}

	cmd := exec.Command(path, spec.Args...) //nolint:gosec // G204: path and args come from the bundled sidecar manifest
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	setProcessGroup(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, Path: path, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, &SpawnError{Name: spec.Name, Path: path, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()

	// The child holds its own copies of the write ends; closing ours lets
	// readers see EOF once the child (and anything it forked) exits.
	closeAll(stdoutW, stderrW)

	if startErr != nil {
		closeAll(stdoutR, stderrR)
		return nil, &SpawnError{Name: spec.Name, Path: path, Err: startErr}
	}

	slog.Default().Info(
		"sidecar spawned",
		slog.String("component", "sidecar"),
		slog.String("event.type", "sidecar.spawn"),
		slog.String("sidecar.name", spec.Name),
		slog.String("sidecar.path", path),
		slog.Any("sidecar.args", spec.Args),
		slog.Int("sidecar.pid", cmd.Process.Pid),
	)

	return newHandle(spec.Name, cmd, stdoutR, stderrR, l.KillGrace), nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Ensure ExecLauncher satisfies the Launcher interface.
var _ Launcher = (*ExecLauncher)(nil)
