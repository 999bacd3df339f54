// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/xgenc/internal/metrics"
)

// Terminate gracefully stops a process group.
// It sends SIGTERM, waits for exited to close, and sends SIGKILL if the
// process is still alive after grace. exited must be closed by whoever owns
// cmd.Wait. It returns ErrKillFailed if the process survives SIGKILL for
// another grace period. It is safe to call on nil commands.
func Terminate(cmd *exec.Cmd, exited <-chan struct{}, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signal(cmd, syscall.SIGTERM)

	select {
	case <-exited:
		metrics.IncProcWait("after_sigterm")
		return nil
	case <-time.After(grace):
	}

	signal(cmd, syscall.SIGKILL)

	select {
	case <-exited:
		metrics.IncProcWait("after_sigkill")
		return nil
	case <-time.After(grace):
		metrics.IncProcWait("stuck")
		return ErrKillFailed
	}
}

// ForceKill sends SIGKILL to the group and records the outcome.
func ForceKill(cmd *exec.Cmd) {
	signal(cmd, syscall.SIGKILL)
}

func signal(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	switch err := Kill(cmd, sig); {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case isGone(err):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}
