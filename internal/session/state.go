// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"github.com/ManuGH/xgenc/internal/fsm"
	"github.com/ManuGH/xgenc/internal/session/model"
)

type sessionEvent string

const (
	evStart  sessionEvent = "start"
	evStop   sessionEvent = "stop"
	evResume sessionEvent = "resume"
	evAbort  sessionEvent = "abort"
	evFinish sessionEvent = "finish"
)

type stateMachine = fsm.Machine[model.SessionState, sessionEvent]

// sessionTransitions is the complete session lifecycle. Finishing from
// aborting always lands in aborted.
var sessionTransitions = []fsm.Transition[model.SessionState, sessionEvent]{
	{From: model.SessionIdle, Event: evStart, To: model.SessionRunning},
	{From: model.SessionRunning, Event: evStop, To: model.SessionStopping},
	{From: model.SessionStopping, Event: evResume, To: model.SessionRunning},
	{From: model.SessionRunning, Event: evAbort, To: model.SessionAborting},
	{From: model.SessionStopping, Event: evAbort, To: model.SessionAborting},
	{From: model.SessionRunning, Event: evFinish, To: model.SessionCompleted},
	{From: model.SessionStopping, Event: evFinish, To: model.SessionCompleted},
	{From: model.SessionAborting, Event: evFinish, To: model.SessionAborted},
}

func newStateMachine() *stateMachine {
	return fsm.MustNew(model.SessionIdle, sessionTransitions)
}
