// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldWorkerID  = "worker_id"
	FieldTraceID   = "trace_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldArgv      = "argv"

	// Encode fields
	FieldEncoder = "encoder"
	FieldProfile = "profile"
	FieldStatus  = "status"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath      = "path"
	FieldInputPath = "input_path"
	FieldTempPath  = "temp_path"
	FieldFinalPath = "final_path"
)
