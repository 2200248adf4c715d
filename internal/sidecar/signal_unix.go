//go:build unix

package sidecar

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup places the child in its own process group so that a kill
// also reaches anything the sidecar forked.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	cmd.SysProcAttr.Setpgid = true
}

// processGroup returns the group id of a child started with
// setProcessGroup. Setpgid makes the child its own group leader.
func processGroup(pid int) int {
	return pid
}

func terminate(proc *os.Process, pgid int) error {
	return sendSignal(proc, pgid, unix.SIGTERM)
}

func forceKill(proc *os.Process, pgid int) error {
	return sendSignal(proc, pgid, unix.SIGKILL)
}

func sendSignal(proc *os.Process, pgid int, sig unix.Signal) error {
	if pgid > 0 && pgid != unix.Getpgrp() {
		if err := unix.Kill(-pgid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return err
		}
	}

	return proc.Signal(sig)
}

func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
