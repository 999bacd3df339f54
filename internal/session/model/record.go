package model

import "time"

// JobRecordSchemaVersion is bumped when JobRecord changes incompatibly.
const JobRecordSchemaVersion = 1

// JobRecord is the operational record written once per finished job next to
// its encoder log.
type JobRecord struct {
	SchemaVersion int    `json:"schema_version"`
	AppVersion    string `json:"app_version"`
	SessionID     string `json:"session_id"`
	JobID         string `json:"job_id"`

	ProfileID      string      `json:"profile_id"`
	ProfileName    string      `json:"profile_name"`
	ProfileVersion int         `json:"profile_version"`
	EncoderType    EncoderType `json:"encoder_type"`

	InputPath       string   `json:"input_path"`
	TempOutputPath  string   `json:"temp_output_path"`
	FinalOutputPath string   `json:"final_output_path"`
	Argv            []string `json:"argv"`

	MaxConcurrentJobs int `json:"max_concurrent_jobs"`
	WorkerID          int `json:"worker_id"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       JobStatus  `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	RetryApplied bool   `json:"retry_applied"`
	RetryDetail  string `json:"retry_detail,omitempty"`
}
