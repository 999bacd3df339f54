// Package model holds the data shared between the session orchestrator,
// its HTTP surface and its subscribers.
package model

import (
	"time"

	"github.com/ManuGH/xgenc/internal/progress"
)

type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionRunning   SessionState = "running"
	SessionStopping  SessionState = "stopping"
	SessionAborting  SessionState = "aborting"
	SessionCompleted SessionState = "completed"
	SessionAborted   SessionState = "aborted"
)

// IsTerminal reports whether no further transition is possible.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobTimeout   JobStatus = "timeout"
	JobSkipped   JobStatus = "skipped"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout, JobSkipped:
		return true
	}
	return false
}

// Progress is the last known value of each progress field.
type Progress struct {
	Percent     *float64 `json:"percent"`
	FPS         *float64 `json:"fps"`
	BitrateKbps *float64 `json:"bitrate_kbps"`
	ETASec      *int64   `json:"eta_sec"`
}

// Apply merges a sample, keeping previously observed fields the sample lacks.
func (p *Progress) Apply(s progress.Sample) {
	if s.Percent != nil {
		v := *s.Percent
		p.Percent = &v
	}
	if s.FPS != nil {
		v := *s.FPS
		p.FPS = &v
	}
	if s.BitrateKbps != nil {
		v := *s.BitrateKbps
		p.BitrateKbps = &v
	}
	if s.ETASec != nil {
		v := *s.ETASec
		p.ETASec = &v
	}
}

// Clone returns a deep copy.
func (p Progress) Clone() Progress {
	var out Progress
	if p.Percent != nil {
		v := *p.Percent
		out.Percent = &v
	}
	if p.FPS != nil {
		v := *p.FPS
		out.FPS = &v
	}
	if p.BitrateKbps != nil {
		v := *p.BitrateKbps
		out.BitrateKbps = &v
	}
	if p.ETASec != nil {
		v := *p.ETASec
		out.ETASec = &v
	}
	return out
}

type Job struct {
	ID                string     `json:"job_id"`
	InputPath         string     `json:"input_path"`
	InputSizeBytes    int64      `json:"input_size_bytes"`
	Status            JobStatus  `json:"status"`
	WorkerID          *int       `json:"worker_id,omitempty"`
	TempOutputPath    string     `json:"temp_output_path,omitempty"`
	FinalOutputPath   string     `json:"final_output_path,omitempty"`
	ExitCode          *int       `json:"exit_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	Progress          Progress   `json:"progress"`
	AwaitingOverwrite bool       `json:"awaiting_overwrite"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j Job) Clone() Job {
	out := j
	if j.WorkerID != nil {
		v := *j.WorkerID
		out.WorkerID = &v
	}
	if j.ExitCode != nil {
		v := *j.ExitCode
		out.ExitCode = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		out.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		out.FinishedAt = &v
	}
	out.Progress = j.Progress.Clone()
	return out
}

// Counters are the per-status totals of a session.
type Counters struct {
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CancelledJobs int `json:"cancelled_jobs"`
	TimeoutJobs   int `json:"timeout_jobs"`
	SkippedJobs   int `json:"skipped_jobs"`
}

// Sum is the number of jobs in a terminal status.
func (c Counters) Sum() int {
	return c.CompletedJobs + c.FailedJobs + c.CancelledJobs + c.TimeoutJobs + c.SkippedJobs
}

// Inc increments the counter matching a terminal status.
func (c *Counters) Inc(s JobStatus) {
	switch s {
	case JobCompleted:
		c.CompletedJobs++
	case JobFailed:
		c.FailedJobs++
	case JobCancelled:
		c.CancelledJobs++
	case JobTimeout:
		c.TimeoutJobs++
	case JobSkipped:
		c.SkippedJobs++
	}
}

type Session struct {
	ID             string       `json:"session_id"`
	State          SessionState `json:"state"`
	TotalJobs      int          `json:"total_jobs"`
	Counters                    // inlined into JSON
	RunningJobs    int          `json:"running_jobs"`
	StopRequested  bool         `json:"stop_requested"`
	AbortRequested bool         `json:"abort_requested"`
	ProfileID      string       `json:"profile_id,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
}

// Snapshot is a consistent copy of a session and its jobs.
type Snapshot struct {
	Session Session `json:"session"`
	Jobs    []Job   `json:"jobs"`
}
