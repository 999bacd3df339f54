// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/xgenc/internal/fsutil"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/metrics"
	"github.com/ManuGH/xgenc/internal/output"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/ManuGH/xgenc/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgStopRequested  = "stop requested"
	msgSessionAborted = "session aborted"
)

type jobEntry struct {
	job model.Job

	// approvedFinal is set when the user allowed overwriting an existing output.
	approvedFinal string
	dispatchedAt  time.Time
}

type overwriteWait struct {
	final string
	quit  chan struct{}
}

type runningJob struct {
	cancel     context.CancelFunc
	userCancel bool
}

// runtime is one session. All fields below mu are guarded by it.
type runtime struct {
	m       *Manager
	id      string
	cfg     model.ConfigSnapshot
	profile model.Profile
	logger  zerolog.Logger

	ctx    context.Context // cancelled on abort
	cancel context.CancelFunc
	span   trace.Span

	mu          sync.Mutex
	fsm         *stateMachine
	sess        model.Session
	order       []*jobEntry
	byID        map[string]*jobEntry
	pending     []string
	blocked     map[string]*overwriteWait
	running     map[string]*runningJob
	freeWorkers []int
	reserved    map[string]string // final path -> job id
	seq         uint64

	events        *outbox
	publisherDone chan struct{}
	wake          chan struct{}
	wg            sync.WaitGroup
	done          chan struct{}
}

func newRuntime(parent context.Context, m *Manager, id string, p model.Profile, cfg model.ConfigSnapshot, jobs []*jobEntry) *runtime {
	spanCtx, span := m.deps.Tracer.Start(context.WithoutCancel(parent), "encode.session",
		trace.WithAttributes(telemetry.SessionAttributes(id, p.ID, string(p.EncoderType), len(jobs), cfg.MaxConcurrentJobs)...))
	ctx, cancel := context.WithCancel(xglog.ContextWithSessionID(spanCtx, id))

	rt := &runtime{
		m:             m,
		id:            id,
		cfg:           cfg,
		profile:       p,
		logger:        m.logger.With().Str(xglog.FieldSessionID, id).Logger(),
		ctx:           ctx,
		cancel:        cancel,
		span:          span,
		fsm:           newStateMachine(),
		order:         jobs,
		byID:          make(map[string]*jobEntry, len(jobs)),
		pending:       make([]string, 0, len(jobs)),
		blocked:       make(map[string]*overwriteWait),
		running:       make(map[string]*runningJob),
		freeWorkers:   make([]int, cfg.MaxConcurrentJobs),
		reserved:      make(map[string]string),
		events:        newOutbox(),
		publisherDone: make(chan struct{}),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for i := range rt.freeWorkers {
		rt.freeWorkers[i] = i
	}
	for _, e := range jobs {
		rt.byID[e.job.ID] = e
		rt.pending = append(rt.pending, e.job.ID)
	}
	rt.sess = model.Session{
		ID:        id,
		State:     model.SessionIdle,
		TotalJobs: len(jobs),
		ProfileID: p.ID,
		StartedAt: time.Now().UTC(),
	}
	// Fire is only called with mu held, so the observer may touch sess.
	rt.fsm.OnTransition(func(from, to model.SessionState, ev sessionEvent) {
		rt.sess.State = to
		rt.logger.Info().
			Str(xglog.FieldEvent, "session.transition").
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Str("trigger", string(ev)).
			Msg("session state changed")
	})
	return rt
}

func (rt *runtime) start() {
	rt.mu.Lock()
	_, _ = rt.fsm.Fire(rt.ctx, evStart)
	rt.emitLocked(model.EventSessionStarted, model.SessionStartedPayload{
		SessionID: rt.id,
		TotalJobs: rt.sess.TotalJobs,
	})
	rt.mu.Unlock()

	rt.logger.Info().
		Str(xglog.FieldEvent, "session.started").
		Int("total_jobs", rt.sess.TotalJobs).
		Int("max_concurrent_jobs", rt.cfg.MaxConcurrentJobs).
		Str(xglog.FieldProfile, rt.profile.ID).
		Msg("encode session started")

	go rt.publish()
	go rt.loop()
}

func (rt *runtime) finished() bool {
	select {
	case <-rt.done:
		return true
	default:
		return false
	}
}

func (rt *runtime) signal() {
	select {
	case rt.wake <- struct{}{}:
	default:
	}
}

// emitLocked assigns the next sequence number and queues ev for publishing.
func (rt *runtime) emitLocked(t model.EventType, payload any) {
	rt.seq++
	rt.events.push(model.Event{
		Type:      t,
		SessionID: rt.id,
		Seq:       rt.seq,
		At:        time.Now().UTC(),
		Payload:   payload,
	})
}

func (rt *runtime) emitStateLocked() {
	rt.emitLocked(model.EventSessionState, model.SessionStatePayload{
		SessionID:      rt.id,
		State:          rt.sess.State,
		StopRequested:  rt.sess.StopRequested,
		AbortRequested: rt.sess.AbortRequested,
	})
}

func (rt *runtime) publish() {
	defer close(rt.publisherDone)
	for {
		ev, ok := rt.events.next()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), rt.m.deps.PublishTimeout)
		if err := rt.m.deps.Bus.Publish(ctx, ev); err != nil {
			rt.logger.Debug().Err(err).Str(xglog.FieldEvent, "session.publish_failed").Str("type", string(ev.Type)).Msg("event not delivered to every subscriber")
		}
		cancel()
	}
}

// loop is the scheduler. It re-evaluates the session on every wake-up until
// the session reaches a terminal state.
func (rt *runtime) loop() {
	for {
		rt.mu.Lock()
		done := rt.stepLocked()
		rt.mu.Unlock()
		if done {
			break
		}
		<-rt.wake
	}

	rt.wg.Wait()
	rt.cancel()
	rt.events.close()
	<-rt.publisherDone

	rt.mu.Lock()
	state := rt.sess.State
	rt.mu.Unlock()
	close(rt.done)

	if state == model.SessionCompleted && rt.m.deps.Post != nil {
		if err := rt.m.deps.Post.Run(context.Background(), rt.cfg.PostCompleteAction, rt.cfg.PostCompleteCommand); err != nil {
			rt.logger.Error().Err(err).Str(xglog.FieldEvent, "session.post_action_failed").Msg("post-complete action failed")
		}
	}
}

// stepLocked dispatches what it can and finalizes the session when nothing
// is left. It reports whether the session is finished.
func (rt *runtime) stepLocked() bool {
	for rt.sess.State == model.SessionRunning &&
		len(rt.running) < rt.cfg.MaxConcurrentJobs &&
		len(rt.pending) > 0 {
		id := rt.pending[0]
		rt.pending = rt.pending[1:]
		rt.dispatchLocked(rt.byID[id])
	}

	switch rt.sess.State {
	case model.SessionRunning:
		if len(rt.pending) > 0 || len(rt.blocked) > 0 || len(rt.running) > 0 {
			return false
		}
	case model.SessionStopping:
		if len(rt.blocked) > 0 || len(rt.running) > 0 {
			return false
		}
		rt.drainPendingLocked(model.JobSkipped, msgStopRequested)
	case model.SessionAborting:
		rt.drainPendingLocked(model.JobCancelled, msgSessionAborted)
		if len(rt.blocked) > 0 || len(rt.running) > 0 {
			return false
		}
	default:
		return rt.sess.State.IsTerminal()
	}
	rt.finalizeLocked()
	return true
}

func (rt *runtime) drainPendingLocked(status model.JobStatus, msg string) {
	ids := rt.pending
	rt.pending = nil
	for _, id := range ids {
		rt.finishJobLocked(rt.byID[id], status, nil, msg)
	}
}

func (rt *runtime) finalizeLocked() {
	if _, err := rt.fsm.Fire(rt.ctx, evFinish); err != nil {
		rt.logger.Error().Err(err).Msg("session finalize rejected")
		return
	}
	now := time.Now().UTC()
	rt.sess.FinishedAt = &now
	rt.emitLocked(model.EventSessionFinished, model.SessionFinishedPayload{
		SessionID: rt.id,
		State:     rt.sess.State,
		TotalJobs: rt.sess.TotalJobs,
		Counters:  rt.sess.Counters,
	})
	metrics.SessionsFinishedTotal.WithLabelValues(string(rt.sess.State)).Inc()

	rt.span.SetAttributes(attribute.String(telemetry.SessionStateKey, string(rt.sess.State)))
	rt.span.End()

	rt.logger.Info().
		Str(xglog.FieldEvent, "session.finished").
		Str(xglog.FieldStatus, string(rt.sess.State)).
		Int("completed_jobs", rt.sess.CompletedJobs).
		Int("failed_jobs", rt.sess.FailedJobs).
		Int("cancelled_jobs", rt.sess.CancelledJobs).
		Int("timeout_jobs", rt.sess.TimeoutJobs).
		Int("skipped_jobs", rt.sess.SkippedJobs).
		Dur("duration", now.Sub(rt.sess.StartedAt)).
		Msg("encode session finished")
}

// isTakenLocked reports whether path is on disk or reserved by another job.
func (rt *runtime) isTakenLocked(path, jobID string) bool {
	if owner, ok := rt.reserved[path]; ok && owner != jobID {
		return true
	}
	return fsutil.Exists(path)
}

func (rt *runtime) dispatchLocked(e *jobEntry) {
	id := e.job.ID
	final := e.approvedFinal
	if final == "" {
		cand, err := rt.m.deps.Resolver.Resolve(rt.cfg, e.job.InputPath)
		if err != nil {
			rt.finishJobLocked(e, model.JobFailed, nil, fmt.Sprintf("resolve output: %v", err))
			return
		}
		final = cand
		if rt.isTakenLocked(final, id) {
			owner, reserved := rt.reserved[final]
			if rt.cfg.OverwriteMode == model.OverwriteAsk && !(reserved && owner != id) {
				rt.blockLocked(e, final)
				return
			}
			final = output.AutoRename(final, func(p string) bool { return rt.isTakenLocked(p, id) })
		}
	} else if owner, ok := rt.reserved[final]; ok && owner != id {
		final = output.AutoRename(final, func(p string) bool { return rt.isTakenLocked(p, id) })
	}

	worker := rt.freeWorkers[0]
	rt.freeWorkers = rt.freeWorkers[1:]
	rt.reserved[final] = id

	now := time.Now().UTC()
	e.dispatchedAt = now
	e.job.Status = model.JobRunning
	e.job.WorkerID = &worker
	e.job.FinalOutputPath = final
	e.job.TempOutputPath = output.TempPath(final)
	e.job.StartedAt = &now
	rt.sess.RunningJobs++
	metrics.JobsRunning.Inc()

	jctx, cancel := context.WithCancel(xglog.ContextWithJobID(rt.ctx, id))
	rt.running[id] = &runningJob{cancel: cancel}

	rt.emitLocked(model.EventJobStarted, model.JobStartedPayload{
		SessionID:      rt.id,
		JobID:          id,
		WorkerID:       worker,
		InputPath:      e.job.InputPath,
		TempOutputPath: e.job.TempOutputPath,
	})
	rt.logger.Info().
		Str(xglog.FieldEvent, "job.dispatched").
		Str(xglog.FieldJobID, id).
		Int(xglog.FieldWorkerID, worker).
		Str(xglog.FieldInputPath, e.job.InputPath).
		Str(xglog.FieldFinalPath, final).
		Msg("job dispatched")

	task := jobTask{
		id:       id,
		worker:   worker,
		input:    e.job.InputPath,
		temp:     e.job.TempOutputPath,
		final:    final,
		runState: rt.running[id],
	}
	rt.wg.Add(1)
	go rt.runJob(jctx, task)
}

func (rt *runtime) blockLocked(e *jobEntry, final string) {
	id := e.job.ID
	w := &overwriteWait{final: final, quit: make(chan struct{})}
	rt.blocked[id] = w
	e.job.AwaitingOverwrite = true
	e.job.FinalOutputPath = final

	rt.emitLocked(model.EventJobNeedsOverwrite, model.JobNeedsOverwritePayload{
		SessionID:       rt.id,
		JobID:           id,
		FinalOutputPath: final,
	})
	rt.logger.Info().
		Str(xglog.FieldEvent, "job.needs_overwrite").
		Str(xglog.FieldJobID, id).
		Str(xglog.FieldFinalPath, final).
		Msg("output exists, waiting for overwrite decision")

	if timeout := rt.cfg.OverwriteTimeout(); timeout > 0 {
		rt.wg.Add(1)
		go rt.awaitDecision(id, w, timeout)
	}
}

// awaitDecision resolves a blocked job as skipped if nobody answers in time.
func (rt *runtime) awaitDecision(id string, w *overwriteWait, timeout time.Duration) {
	defer rt.wg.Done()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.quit:
		return
	case <-t.C:
	}
	rt.mu.Lock()
	if rt.blocked[id] == w {
		rt.applyOverwriteLocked(id, model.DecisionSkip, "timeout")
	}
	rt.mu.Unlock()
}

func (rt *runtime) unblockLocked(id string) (*overwriteWait, bool) {
	w, ok := rt.blocked[id]
	if !ok {
		return nil, false
	}
	delete(rt.blocked, id)
	close(w.quit)
	rt.byID[id].job.AwaitingOverwrite = false
	return w, true
}

func (rt *runtime) applyOverwriteLocked(id string, d model.OverwriteDecision, source string) {
	w, ok := rt.unblockLocked(id)
	if !ok {
		return
	}
	e := rt.byID[id]
	metrics.IncOverwriteDecision(string(d), source)
	rt.logger.Info().
		Str(xglog.FieldEvent, "job.overwrite_decision").
		Str(xglog.FieldJobID, id).
		Str("decision", string(d)).
		Str("source", source).
		Msg("overwrite request resolved")

	switch d {
	case model.DecisionOverwrite:
		e.approvedFinal = w.final
		rt.pending = append([]string{id}, rt.pending...)
		rt.signal()
	case model.DecisionSkip:
		rt.finishJobLocked(e, model.JobSkipped, nil, "output exists")
	case model.DecisionAbort:
		rt.finishJobLocked(e, model.JobCancelled, nil, "aborted at overwrite prompt")
		_ = rt.abortLocked()
	}
}

// finishJobLocked records a terminal status. Later calls for the same job
// are ignored.
func (rt *runtime) finishJobLocked(e *jobEntry, status model.JobStatus, exitCode *int, msg string) {
	if e.job.Status.IsTerminal() {
		return
	}
	id := e.job.ID
	now := time.Now().UTC()
	e.job.Status = status
	e.job.ExitCode = exitCode
	e.job.ErrorMessage = msg
	e.job.FinishedAt = &now
	e.job.AwaitingOverwrite = false

	if r, ok := rt.running[id]; ok {
		delete(rt.running, id)
		r.cancel()
		rt.sess.RunningJobs--
		metrics.JobsRunning.Dec()
		if e.job.WorkerID != nil {
			rt.freeWorkers = append(rt.freeWorkers, *e.job.WorkerID)
			sort.Ints(rt.freeWorkers)
		}
	}
	if owner, ok := rt.reserved[e.job.FinalOutputPath]; ok && owner == id {
		delete(rt.reserved, e.job.FinalOutputPath)
	}

	rt.sess.Counters.Inc(status)
	seconds := -1.0
	if !e.dispatchedAt.IsZero() {
		seconds = now.Sub(e.dispatchedAt).Seconds()
	}
	metrics.ObserveJobFinished(string(status), seconds)

	rt.emitLocked(model.EventJobFinished, model.JobFinishedPayload{
		JobID:        id,
		Status:       status,
		ExitCode:     exitCode,
		ErrorMessage: msg,
	})

	ev := rt.logger.Info()
	if status == model.JobFailed || status == model.JobTimeout {
		ev = rt.logger.Warn()
	}
	ev.Str(xglog.FieldEvent, "job.finished").
		Str(xglog.FieldJobID, id).
		Str(xglog.FieldStatus, string(status)).
		Str("error_message", msg).
		Msg("job finished")

	if status == model.JobFailed && rt.cfg.OnError == model.OnErrorStop && rt.sess.State == model.SessionRunning {
		rt.logger.Info().Str(xglog.FieldEvent, "session.on_error_stop").Str(xglog.FieldJobID, id).Msg("stopping session after failed job")
		_ = rt.stopLocked()
	}
	rt.signal()
}

func (rt *runtime) stopLocked() error {
	if _, err := rt.fsm.Fire(rt.ctx, evStop); err != nil {
		return ErrNotApplicable
	}
	rt.sess.StopRequested = true
	rt.emitStateLocked()
	for _, id := range rt.blockedInOrderLocked() {
		if _, ok := rt.unblockLocked(id); ok {
			rt.finishJobLocked(rt.byID[id], model.JobSkipped, nil, msgStopRequested)
		}
	}
	rt.signal()
	return nil
}

func (rt *runtime) abortLocked() error {
	if rt.sess.AbortRequested {
		return nil
	}
	if _, err := rt.fsm.Fire(rt.ctx, evAbort); err != nil {
		return ErrNotApplicable
	}
	rt.sess.AbortRequested = true
	rt.emitStateLocked()
	for _, id := range rt.blockedInOrderLocked() {
		if _, ok := rt.unblockLocked(id); ok {
			rt.finishJobLocked(rt.byID[id], model.JobCancelled, nil, msgSessionAborted)
		}
	}
	rt.cancel()
	rt.logger.Warn().Str(xglog.FieldEvent, "session.abort").Int("running_jobs", len(rt.running)).Msg("session abort requested")
	rt.signal()
	return nil
}

func (rt *runtime) blockedInOrderLocked() []string {
	ids := make([]string, 0, len(rt.blocked))
	for _, e := range rt.order {
		if _, ok := rt.blocked[e.job.ID]; ok {
			ids = append(ids, e.job.ID)
		}
	}
	return ids
}

func (rt *runtime) removePendingLocked(id string) bool {
	for i, p := range rt.pending {
		if p == id {
			rt.pending = append(rt.pending[:i], rt.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (rt *runtime) requestStop() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sess.State != model.SessionRunning {
		return ErrNotApplicable
	}
	return rt.stopLocked()
}

func (rt *runtime) resume() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sess.AbortRequested || rt.sess.State != model.SessionStopping {
		return ErrNotApplicable
	}
	if _, err := rt.fsm.Fire(rt.ctx, evResume); err != nil {
		return ErrNotApplicable
	}
	rt.sess.StopRequested = false
	rt.emitStateLocked()
	rt.signal()
	return nil
}

func (rt *runtime) requestAbort() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.abortLocked()
}

func (rt *runtime) resolveOverwrite(jobID string, d model.OverwriteDecision) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.byID[jobID]; !ok {
		return ErrUnknownJob
	}
	if _, ok := rt.blocked[jobID]; !ok {
		return ErrNotApplicable
	}
	rt.applyOverwriteLocked(jobID, d, "user")
	return nil
}

func (rt *runtime) skipJob(jobID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.byID[jobID]
	if !ok {
		return ErrUnknownJob
	}
	switch {
	case rt.removePendingLocked(jobID):
	case rt.blocked[jobID] != nil:
		rt.unblockLocked(jobID)
	default:
		return ErrNotApplicable
	}
	rt.finishJobLocked(e, model.JobSkipped, nil, "skipped by user")
	return nil
}

func (rt *runtime) cancelJob(jobID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.byID[jobID]
	if !ok {
		return ErrUnknownJob
	}
	if r, ok := rt.running[jobID]; ok {
		r.userCancel = true
		r.cancel()
		return nil
	}
	switch {
	case rt.removePendingLocked(jobID):
	case rt.blocked[jobID] != nil:
		rt.unblockLocked(jobID)
	default:
		return ErrNotApplicable
	}
	rt.finishJobLocked(e, model.JobCancelled, nil, "cancelled by user")
	return nil
}

func (rt *runtime) snapshot() model.Snapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	jobs := make([]model.Job, len(rt.order))
	for i, e := range rt.order {
		jobs[i] = e.job.Clone()
	}
	sess := rt.sess
	if sess.FinishedAt != nil {
		v := *sess.FinishedAt
		sess.FinishedAt = &v
	}
	return model.Snapshot{Session: sess, Jobs: jobs}
}

func (rt *runtime) pendingOverwrites() []model.OverwriteRequest {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]model.OverwriteRequest, 0, len(rt.blocked))
	for _, id := range rt.blockedInOrderLocked() {
		out = append(out, model.OverwriteRequest{
			SessionID:       rt.id,
			JobID:           id,
			FinalOutputPath: rt.blocked[id].final,
		})
	}
	return out
}

func recordSpanError(span trace.Span, msg string) {
	if msg != "" {
		span.SetStatus(codes.Error, msg)
	}
}
