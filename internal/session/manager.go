// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session orchestrates encode sessions: a queue of jobs run by a
// bounded pool of encoder processes, with stop, abort and overwrite control
// and an ordered event stream.
package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/xgenc/internal/bus"
	"github.com/ManuGH/xgenc/internal/encoder"
	"github.com/ManuGH/xgenc/internal/fsutil"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/metrics"
	"github.com/ManuGH/xgenc/internal/output"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/ManuGH/xgenc/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// CommandBuilder turns a profile into the encoder argv for one job.
type CommandBuilder interface {
	BuildArgs(p model.Profile, cfg model.ConfigSnapshot, input, output string) ([]string, error)
}

// FallbackBuilder is implemented by builders that can retry a failed job
// with software decoding.
type FallbackBuilder interface {
	FallbackArgs(p model.Profile, cfg model.ConfigSnapshot, input, output string) ([]string, bool, error)
}

// PathResolver computes the candidate final output path of a job.
type PathResolver interface {
	Resolve(cfg model.ConfigSnapshot, input string) (string, error)
}

// Launcher starts encoder processes.
type Launcher interface {
	Start(ctx context.Context, argv []string) (*encoder.Handle, error)
}

// TempTracker records temp outputs while they are being written.
type TempTracker interface {
	Track(sessionID, temp string) error
	Untrack(temp string) error
}

// JobLogSink keeps the raw encoder output of each attempt and a record of
// every finished job.
type JobLogSink interface {
	OpenOutput(jobID string, retry bool) (io.WriteCloser, error)
	WriteRecord(rec model.JobRecord) error
}

// PostActionRunner executes the post-complete action.
type PostActionRunner interface {
	Run(ctx context.Context, action model.PostAction, custom string) error
}

const (
	defaultProgressInterval = 500 * time.Millisecond
	defaultPublishTimeout   = 10 * time.Second
	defaultCancelGrace      = 3 * time.Second
)

// Deps are the collaborators of a Manager. Bus and Builder are required.
type Deps struct {
	Bus      *bus.MemoryBus[model.Event]
	Builder  CommandBuilder
	Launcher Launcher
	Resolver PathResolver
	Temps    TempTracker
	JobLogs  JobLogSink
	Post     PostActionRunner
	Tracer   trace.Tracer
	Logger   zerolog.Logger

	// WatchdogInterval is the liveness evaluation tick (default 1s).
	WatchdogInterval time.Duration
	// ProgressInterval throttles job_progress per job (default 500ms).
	ProgressInterval time.Duration
	// PublishTimeout caps delivery of one event across all subscribers
	// (default 10s). A single stalled subscriber is evicted by the bus first.
	PublishTimeout time.Duration
	// CancelGrace is the SIGTERM grace for CancelJob before SIGKILL.
	CancelGrace time.Duration
}

// Manager owns at most one active session.
type Manager struct {
	deps   Deps
	logger zerolog.Logger

	mu     sync.Mutex
	active *runtime
}

// New returns a Manager with defaults applied to unset dependencies.
func New(deps Deps) *Manager {
	if deps.Bus == nil {
		deps.Bus = bus.NewMemoryBus[model.Event]("session_events", 0)
	}
	if deps.Launcher == nil {
		deps.Launcher = encoder.NewExecutor(deps.Logger.With().Str(xglog.FieldComponent, "encoder").Logger())
	}
	if deps.Resolver == nil {
		deps.Resolver = output.TemplateResolver{}
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer("xgenc/session")
	}
	if deps.ProgressInterval <= 0 {
		deps.ProgressInterval = defaultProgressInterval
	}
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = defaultPublishTimeout
	}
	if deps.CancelGrace <= 0 {
		deps.CancelGrace = defaultCancelGrace
	}
	return &Manager{
		deps:   deps,
		logger: deps.Logger.With().Str(xglog.FieldComponent, "session").Logger(),
	}
}

// Bus returns the event bus sessions publish to.
func (m *Manager) Bus() *bus.MemoryBus[model.Event] {
	return m.deps.Bus
}

// JobSpec is one input of a StartRequest. An empty ID gets a generated one.
type JobSpec struct {
	ID        string `json:"job_id,omitempty"`
	InputPath string `json:"input_path"`
}

// StartRequest describes a new session.
type StartRequest struct {
	Jobs    []JobSpec            `json:"jobs"`
	Profile model.Profile        `json:"profile"`
	Config  model.ConfigSnapshot `json:"config"`
}

func (r StartRequest) validate() error {
	if len(r.Jobs) == 0 {
		return invalidInput("at least one job is required")
	}
	seen := make(map[string]struct{}, len(r.Jobs))
	for i, j := range r.Jobs {
		if strings.TrimSpace(j.InputPath) == "" {
			return invalidInput("job %d: input_path is required", i)
		}
		if j.ID == "" {
			continue
		}
		if _, dup := seen[j.ID]; dup {
			return invalidInput("duplicate job id %q", j.ID)
		}
		seen[j.ID] = struct{}{}
	}
	if err := r.Config.Validate(); err != nil {
		return invalidInput("%v", err)
	}
	return nil
}

// StartSession creates and starts a session. It fails with ErrAlreadyRunning
// while a previous session has not finished.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (model.Snapshot, error) {
	if err := req.validate(); err != nil {
		return model.Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !m.active.finished() {
		return model.Snapshot{}, ErrAlreadyRunning
	}

	id := uuid.NewString()
	jobs := make([]*jobEntry, len(req.Jobs))
	for i, spec := range req.Jobs {
		jobID := spec.ID
		if jobID == "" {
			jobID = uuid.NewString()
		}
		var size int64
		if n, err := fsutil.IsRegularFile(spec.InputPath); err == nil {
			size = n
		}
		jobs[i] = &jobEntry{job: model.Job{
			ID:             jobID,
			InputPath:      spec.InputPath,
			InputSizeBytes: size,
			Status:         model.JobPending,
		}}
	}

	rt := newRuntime(ctx, m, id, req.Profile, req.Config, jobs)
	m.active = rt
	rt.start()
	metrics.SessionsStartedTotal.Inc()
	return rt.snapshot(), nil
}

// lookup returns the session with the given id. Commands must name their
// session, so an empty id never matches.
func (m *Manager) lookup(sessionID string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || sessionID == "" || m.active.id != sessionID {
		return nil, ErrNoActiveSession
	}
	return m.active, nil
}

func (m *Manager) latest() (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNoActiveSession
	}
	return m.active, nil
}

// RequestGracefulStop stops dispatching new jobs and lets running ones finish.
func (m *Manager) RequestGracefulStop(sessionID string) error {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return rt.requestStop()
}

// Resume continues dispatching after a graceful stop.
func (m *Manager) Resume(sessionID string) error {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return rt.resume()
}

// RequestAbort kills every running job and cancels the rest. Repeated calls
// are no-ops.
func (m *Manager) RequestAbort(sessionID string) error {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return rt.requestAbort()
}

// ResolveOverwrite answers a pending job_needs_overwrite request.
func (m *Manager) ResolveOverwrite(sessionID, jobID string, decision model.OverwriteDecision) error {
	if !decision.Valid() {
		return invalidInput("unknown overwrite decision %q", decision)
	}
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return rt.resolveOverwrite(jobID, decision)
}

// SkipJob marks a pending or blocked job as skipped.
func (m *Manager) SkipJob(sessionID, jobID string) error {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return rt.skipJob(jobID)
}

// CancelJob cancels one job, killing its process if it is running.
func (m *Manager) CancelJob(sessionID, jobID string) error {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return rt.cancelJob(jobID)
}

// Current returns a copy of the most recent session, finished or not.
func (m *Manager) Current() (model.Snapshot, error) {
	rt, err := m.latest()
	if err != nil {
		return model.Snapshot{}, err
	}
	return rt.snapshot(), nil
}

// PendingOverwrites lists the jobs of the current session waiting for a decision.
func (m *Manager) PendingOverwrites() []model.OverwriteRequest {
	rt, err := m.latest()
	if err != nil {
		return nil
	}
	return rt.pendingOverwrites()
}

// Wait blocks until the session finished and returns its final snapshot.
func (m *Manager) Wait(ctx context.Context, sessionID string) (model.Snapshot, error) {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return model.Snapshot{}, err
	}
	select {
	case <-rt.done:
		return rt.snapshot(), nil
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
}

// Shutdown aborts the active session, if any, and waits for it to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rt := m.active
	m.mu.Unlock()
	if rt == nil || rt.finished() {
		return nil
	}
	m.logger.Info().Str(xglog.FieldEvent, "session.shutdown").Str(xglog.FieldSessionID, rt.id).Msg("aborting active session for shutdown")
	_ = rt.requestAbort()
	select {
	case <-rt.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
