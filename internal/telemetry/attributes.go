package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by session and job spans.
const (
	SessionIDKey      = "session.id"
	SessionJobsKey    = "session.total_jobs"
	SessionMaxJobsKey = "session.max_concurrent_jobs"
	SessionStateKey   = "session.state"
	ProfileIDKey      = "profile.id"
	EncoderTypeKey    = "encoder.type"

	JobIDKey       = "job.id"
	JobInputKey    = "job.input_path"
	JobWorkerKey   = "job.worker_id"
	JobStatusKey   = "job.status"
	JobExitCodeKey = "job.exit_code"
	JobAttemptKey  = "job.attempt"

	ErrorTypeKey = "error.type"
)

// SessionAttributes describes a session span.
func SessionAttributes(sessionID, profileID, encoderType string, totalJobs, maxJobs int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Int(SessionJobsKey, totalJobs),
		attribute.Int(SessionMaxJobsKey, maxJobs),
	}
	if profileID != "" {
		attrs = append(attrs, attribute.String(ProfileIDKey, profileID))
	}
	if encoderType != "" {
		attrs = append(attrs, attribute.String(EncoderTypeKey, encoderType))
	}
	return attrs
}

// JobAttributes describes a job span at dispatch.
func JobAttributes(jobID, input string, workerID int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobInputKey, input),
		attribute.Int(JobWorkerKey, workerID),
	}
}

// JobResultAttributes describes how a job ended. exitCode is omitted when nil.
func JobResultAttributes(status string, exitCode *int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(JobStatusKey, status)}
	if exitCode != nil {
		attrs = append(attrs, attribute.Int(JobExitCodeKey, *exitCode))
	}
	return attrs
}
