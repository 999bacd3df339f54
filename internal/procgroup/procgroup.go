// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns encoder processes in their own process group so
// that helper children are signalled together with the encoder.
package procgroup

import (
	"errors"
	"os"
	"syscall"
)

var (
	ErrKillFailed = errors.New("kill operation failed")
)

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
