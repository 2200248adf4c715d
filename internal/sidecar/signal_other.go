//go:build !unix

package sidecar

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func processGroup(int) int { return 0 }

func terminate(proc *os.Process, _ int) error {
	return proc.Kill()
}

func forceKill(proc *os.Process, _ int) error {
	return proc.Kill()
}

func isNoSuchProcess(error) bool { return false }
