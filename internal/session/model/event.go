package model

import "time"

type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionState      EventType = "session_state"
	EventJobStarted        EventType = "job_started"
	EventJobProgress       EventType = "job_progress"
	EventJobLog            EventType = "job_log"
	EventJobNeedsOverwrite EventType = "job_needs_overwrite"
	EventJobFinished       EventType = "job_finished"
	EventSessionFinished   EventType = "session_finished"
)

// Event is one entry of a session's ordered event stream. Seq increases by
// one per event within a session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload"`
}

type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
	TotalJobs int    `json:"total_jobs"`
}

type SessionStatePayload struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	StopRequested  bool         `json:"stop_requested"`
	AbortRequested bool         `json:"abort_requested"`
}

type JobStartedPayload struct {
	SessionID      string `json:"session_id"`
	JobID          string `json:"job_id"`
	WorkerID       int    `json:"worker_id"`
	InputPath      string `json:"input_path"`
	TempOutputPath string `json:"temp_output_path"`
}

type JobProgressPayload struct {
	JobID       string   `json:"job_id"`
	Percent     *float64 `json:"percent"`
	FPS         *float64 `json:"fps"`
	BitrateKbps *float64 `json:"bitrate_kbps"`
	ETASec      *int64   `json:"eta_sec"`
}

type JobLogPayload struct {
	JobID string `json:"job_id"`
	Line  string `json:"line"`
}

type JobNeedsOverwritePayload struct {
	SessionID       string `json:"session_id"`
	JobID           string `json:"job_id"`
	FinalOutputPath string `json:"final_output_path"`
}

type JobFinishedPayload struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

type SessionFinishedPayload struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	TotalJobs int          `json:"total_jobs"`
	Counters
}

// OverwriteDecision answers a job_needs_overwrite request.
type OverwriteDecision string

const (
	DecisionOverwrite OverwriteDecision = "overwrite"
	DecisionSkip      OverwriteDecision = "skip"
	DecisionAbort     OverwriteDecision = "abort"
)

func (d OverwriteDecision) Valid() bool {
	switch d {
	case DecisionOverwrite, DecisionSkip, DecisionAbort:
		return true
	}
	return false
}

// OverwriteRequest describes a job blocked on an existing output file.
type OverwriteRequest struct {
	SessionID       string `json:"session_id"`
	JobID           string `json:"job_id"`
	FinalOutputPath string `json:"final_output_path"`
}
