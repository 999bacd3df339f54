// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by StartSession while a session is active.
	ErrAlreadyRunning = errors.New("a session is already running")
	// ErrNoActiveSession is returned when no session matches the given id.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNotApplicable is returned when a command is not valid in the
	// current session or job state.
	ErrNotApplicable = errors.New("operation not applicable in current state")
	// ErrInvalidInput marks caller mistakes. Session state is unaffected.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownJob is an ErrInvalidInput for a job id not in the session.
	ErrUnknownJob = fmt.Errorf("%w: unknown job", ErrInvalidInput)
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
