// Package sidecar launches and supervises the bundled local backend server.
//
// A launched sidecar is represented by a Process: a pid, a kill capability
// and the two output streams of the child. Output is drained by a Relay
// which forwards each line to a Sink until the streams close.
package sidecar

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// defaultKillGrace is how long a terminated child gets before it is force-killed.
const defaultKillGrace = 3 * time.Second

// Process is a killable handle to a launched OS process and its output.
type Process interface {
	// PID returns the OS process id.
	PID() int

	// Kill signals the process to terminate without waiting for it to exit.
	// Killing an already exited or already killed process returns nil.
	Kill() error

	// Stdout returns the process's standard output stream.
	Stdout() io.Reader

	// Stderr returns the process's standard error stream.
	Stderr() io.Reader
}

// Handle is the Process implementation backed by an *exec.Cmd.
type Handle struct {
	name string
	cmd  *exec.Cmd
	pgid int

	stdout *os.File
	stderr *os.File

	killMu    sync.Mutex
	killed    bool
	killGrace time.Duration

	exited  chan struct{}
	waitErr error
}

func newHandle(name string, cmd *exec.Cmd, stdout, stderr *os.File, killGrace time.Duration) *Handle {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}

	h := &Handle{
		name:      name,
		cmd:       cmd,
		pgid:      processGroup(cmd.Process.Pid),
		stdout:    stdout,
		stderr:    stderr,
		killGrace: killGrace,
		exited:    make(chan struct{}),
	}

	go h.reap()

	return h
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Stdout returns the read end of the child's stdout pipe.
func (h *Handle) Stdout() io.Reader {
	return h.stdout
}

// Stderr returns the read end of the child's stderr pipe.
func (h *Handle) Stderr() io.Reader {
	return h.stderr
}

// Exited is closed once the child has exited and been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr blocks until the child exits and returns the error reported by Wait.
func (h *Handle) ExitErr() error {
	<-h.exited
	return h.waitErr
}

// Kill sends SIGTERM to the child's process group and returns immediately.
// After the grace period the whole group is force-killed in the background,
// even when the leader has already exited.
func (h *Handle) Kill() error {
	h.killMu.Lock()
	defer h.killMu.Unlock()

	if h.killed {
		return nil
	}

	select {
	case <-h.exited:
		if h.pgid <= 0 {
			h.killed = true
			return nil
		}
	default:
	}

	slog.Default().Debug(
		"killing sidecar",
		slog.String("component", "sidecar"),
		slog.String("event.type", "sidecar.kill"),
		slog.String("sidecar.name", h.name),
		slog.Int("sidecar.pid", h.PID()),
		slog.Int("sidecar.pgid", h.pgid),
	)

	if err := terminate(h.cmd.Process, h.pgid); err != nil && !isProcessGone(err) {
		return fmt.Errorf("kill %s (pid %d): %w", h.name, h.PID(), err)
	}

	h.killed = true

	go h.escalate()

	return nil
}

func (h *Handle) escalate() {
	timer := time.NewTimer(h.killGrace)
	defer timer.Stop()

	// Without a group only the leader can be reached.
	if h.pgid <= 0 {
		select {
		case <-h.exited:
			return
		case <-timer.C:
		}
	} else {
		<-timer.C
	}

	if err := forceKill(h.cmd.Process, h.pgid); err != nil && !isProcessGone(err) {
		slog.Default().Warn(
			"force kill failed",
			slog.String("component", "sidecar"),
			slog.String("event.type", "sidecar.kill.failed"),
			slog.String("sidecar.name", h.name),
			slog.Int("sidecar.pgid", h.pgid),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handle) reap() {
	h.waitErr = h.cmd.Wait()
	close(h.exited)
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || isNoSuchProcess(err)
}

// Ensure Handle satisfies the Process interface.
var _ Process = (*Handle)(nil)
