// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ManuGH/xgenc/internal/encoder"
	"github.com/ManuGH/xgenc/internal/fsutil"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/metrics"
	"github.com/ManuGH/xgenc/internal/output"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/progress"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/ManuGH/xgenc/internal/telemetry"
	"github.com/ManuGH/xgenc/internal/watchdog"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

type jobTask struct {
	id       string
	worker   int
	input    string
	temp     string
	final    string
	runState *runningJob
}

type jobResult struct {
	status   model.JobStatus
	exitCode *int
	msg      string

	argv        []string
	retried     bool
	retryDetail string
}

func failed(code int, format string, args ...any) jobResult {
	return jobResult{status: model.JobFailed, exitCode: &code, msg: fmt.Sprintf(format, args...)}
}

// runJob owns one dispatched job until it reports a terminal status.
func (rt *runtime) runJob(ctx context.Context, t jobTask) {
	defer rt.wg.Done()

	ctx, span := rt.m.deps.Tracer.Start(ctx, "encode.job",
		trace.WithAttributes(telemetry.JobAttributes(t.id, t.input, t.worker)...))
	logger := xglog.WithContext(ctx, rt.logger).With().
		Str(xglog.FieldJobID, t.id).
		Int(xglog.FieldWorkerID, t.worker).
		Logger()

	res := rt.execute(ctx, t, logger)

	if res.status == model.JobCompleted {
		if err := output.Commit(t.temp, t.final); err != nil {
			argv, retried, detail := res.argv, res.retried, res.retryDetail
			res = failed(0, "move output into place: %v", err)
			res.argv, res.retried, res.retryDetail = argv, retried, detail
		} else {
			logger.Info().Str(xglog.FieldEvent, "job.committed").Str(xglog.FieldFinalPath, t.final).Msg("output committed")
			if rt.profile.RestoreFileTime {
				if err := output.RestoreFileTimes(t.input, t.final); err != nil {
					logger.Warn().Err(err).Str(xglog.FieldFinalPath, t.final).Msg("failed to restore file times")
				}
			}
		}
	}
	if res.status != model.JobCompleted && !rt.cfg.KeepFailedTemp {
		if err := output.RemoveTemp(t.temp); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldTempPath, t.temp).Msg("failed to remove temp output")
		}
	}
	if rt.m.deps.Temps != nil {
		if err := rt.m.deps.Temps.Untrack(t.temp); err != nil {
			logger.Warn().Err(err).Msg("failed to update temp index")
		}
	}

	span.SetAttributes(telemetry.JobResultAttributes(string(res.status), res.exitCode)...)
	if res.status != model.JobCompleted {
		recordSpanError(span, res.msg)
	}
	span.End()

	rt.mu.Lock()
	e := rt.byID[t.id]
	rt.finishJobLocked(e, res.status, res.exitCode, res.msg)
	job := e.job.Clone()
	rt.mu.Unlock()

	rt.writeRecord(job, res, logger)
}

func (rt *runtime) writeRecord(job model.Job, res jobResult, logger zerolog.Logger) {
	sink := rt.m.deps.JobLogs
	if sink == nil {
		return
	}
	rec := model.JobRecord{
		SessionID:         rt.id,
		JobID:             job.ID,
		ProfileID:         rt.profile.ID,
		ProfileName:       rt.profile.Name,
		ProfileVersion:    rt.profile.Version,
		EncoderType:       rt.profile.EncoderType,
		InputPath:         job.InputPath,
		TempOutputPath:    job.TempOutputPath,
		FinalOutputPath:   job.FinalOutputPath,
		Argv:              res.argv,
		MaxConcurrentJobs: rt.cfg.MaxConcurrentJobs,
		StartedAt:         job.StartedAt,
		FinishedAt:        job.FinishedAt,
		Status:            job.Status,
		ExitCode:          job.ExitCode,
		ErrorMessage:      job.ErrorMessage,
		RetryApplied:      res.retried,
		RetryDetail:       res.retryDetail,
	}
	if job.WorkerID != nil {
		rec.WorkerID = *job.WorkerID
	}
	if err := sink.WriteRecord(rec); err != nil {
		logger.Warn().Err(err).Msg("failed to write job record")
	}
}

func (rt *runtime) execute(ctx context.Context, t jobTask, logger zerolog.Logger) jobResult {
	if _, err := fsutil.IsRegularFile(t.input); err != nil {
		return failed(-1, "input not readable: %v", err)
	}
	argv, err := rt.m.deps.Builder.BuildArgs(rt.profile, rt.cfg, t.input, t.temp)
	if err != nil {
		return failed(-1, "build command: %v", err)
	}
	if rt.m.deps.Temps != nil {
		if err := rt.m.deps.Temps.Track(rt.id, t.temp); err != nil {
			logger.Warn().Err(err).Msg("failed to update temp index")
		}
	}

	res, exited := rt.attempt(ctx, t, argv, false, logger)
	res.argv = argv
	if res.status != model.JobFailed || !exited || !rt.cfg.DecoderFallback {
		return res
	}
	fb, ok := rt.m.deps.Builder.(FallbackBuilder)
	if !ok {
		return res
	}
	retry, ok, err := fb.FallbackArgs(rt.profile, rt.cfg, t.input, t.temp)
	if err != nil || !ok {
		return res
	}

	if err := output.RemoveTemp(t.temp); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldTempPath, t.temp).Msg("failed to remove temp output before retry")
	}
	logger.Warn().Str(xglog.FieldEvent, "job.decoder_fallback").Str("previous_error", res.msg).Msg("retrying with software decoding")
	rt.mu.Lock()
	rt.emitLocked(model.EventJobLog, model.JobLogPayload{JobID: t.id, Line: "decoder fallback: retrying with software decoding"})
	rt.mu.Unlock()

	previous := res.msg
	res, _ = rt.attempt(ctx, t, retry, true, logger)
	res.argv = retry
	res.retried = true
	res.retryDetail = "software decoding after: " + previous
	outcome := "recovered"
	if res.status != model.JobCompleted {
		outcome = "failed"
	}
	metrics.DecoderFallbackTotal.WithLabelValues(outcome).Inc()
	return res
}

// attempt runs argv once. Process exit, watchdog expiry and cancellation are
// all observed here so exactly one of them decides the result. exited is
// true when the process ran and exited on its own.
func (rt *runtime) attempt(ctx context.Context, t jobTask, argv []string, retry bool, logger zerolog.Logger) (jobResult, bool) {
	if ctx.Err() != nil {
		return rt.cancelledResult(t), false
	}
	h, err := rt.m.deps.Launcher.Start(ctx, argv)
	if err != nil {
		if ctx.Err() != nil {
			return rt.cancelledResult(t), false
		}
		logger.Error().Err(err).Str(xglog.FieldEvent, "job.spawn_failed").Strs(xglog.FieldArgv, argv).Msg("failed to start encoder")
		return failed(-1, "spawn encoder: %v", err), false
	}
	out := rt.openOutput(t.id, retry, logger)
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close encoder log")
		}
	}()
	logger.Info().Str(xglog.FieldEvent, "job.process_started").Int(xglog.FieldPID, h.PID()).Str("command", profile.DisplayCommand(argv)).Msg("encoder started")

	var wdOpts []watchdog.Option
	if rt.m.deps.WatchdogInterval > 0 {
		wdOpts = append(wdOpts, watchdog.WithInterval(rt.m.deps.WatchdogInterval))
	}
	wd := watchdog.New(rt.cfg.NoOutputTimeout(), rt.cfg.NoProgressTimeout(), wdOpts...)
	wdCtx, wdCancel := context.WithCancel(ctx)
	wdErr := make(chan error, 1)
	go func() { wdErr <- wd.Run(wdCtx) }()
	defer func() {
		wdCancel()
		if wdErr != nil {
			<-wdErr
		}
	}()

	ps := &progressState{throttle: rate.Sometimes{Interval: rt.m.deps.ProgressInterval}, out: out}
	lines := h.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			rt.handleLine(t.id, line, wd, ps)

		case <-h.Done():
			for line := range drain(lines) {
				rt.handleLine(t.id, line, wd, ps)
			}
			rt.flushProgress(t.id, ps)
			code := h.ExitCode()
			if code == 0 {
				return jobResult{status: model.JobCompleted, exitCode: &code}, true
			}
			logger.Warn().
				Str(xglog.FieldEvent, "job.process_failed").
				Int(xglog.FieldExitCode, code).
				Strs("output_tail", h.Diagnostics()).
				Msg("encoder exited with error")
			if werr := h.Err(); werr != nil {
				return failed(code, "wait encoder: %v", werr), true
			}
			return failed(code, "exit code %d: %s", code, h.LastLine()), true

		case err := <-wdErr:
			wdErr = nil
			if err == nil {
				// Only happens once ctx is done; the next iteration handles it.
				continue
			}
			logger.Warn().Err(err).Str(xglog.FieldEvent, "job.timeout").Msg("encoder stalled, killing process group")
			rt.stop(h, lines, false)
			msg := "no progress within timeout"
			if errors.Is(err, watchdog.ErrNoOutput) {
				msg = "no output within timeout"
			}
			return jobResult{status: model.JobTimeout, msg: msg}, false

		case <-ctx.Done():
			res := rt.cancelledResult(t)
			graceful := res.msg != msgSessionAborted
			logger.Info().Str(xglog.FieldEvent, "job.cancel").Bool("graceful", graceful).Msg("terminating encoder")
			rt.stop(h, lines, graceful)
			return res, false
		}
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput returns the encoder log of this attempt, or a discarding writer
// when logs are not kept or the file cannot be opened.
func (rt *runtime) openOutput(jobID string, retry bool, logger zerolog.Logger) io.WriteCloser {
	if rt.m.deps.JobLogs == nil {
		return nopCloser{io.Discard}
	}
	w, err := rt.m.deps.JobLogs.OpenOutput(jobID, retry)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open encoder log")
		return nopCloser{io.Discard}
	}
	return w
}

// stop kills the process while draining its output so the pipe never blocks
// the exit.
func (rt *runtime) stop(h *encoder.Handle, lines <-chan string, graceful bool) {
	killed := make(chan struct{})
	go func() {
		defer close(killed)
		if graceful {
			_ = h.Terminate(rt.m.deps.CancelGrace)
			return
		}
		h.Kill()
	}()
	for range drain(lines) {
	}
	<-h.Done()
	<-killed
}

// drain returns lines, or a closed channel when lines is nil.
func drain(lines <-chan string) <-chan string {
	if lines != nil {
		return lines
	}
	c := make(chan string)
	close(c)
	return c
}

func (rt *runtime) cancelledResult(t jobTask) jobResult {
	rt.mu.Lock()
	user := t.runState.userCancel
	rt.mu.Unlock()
	if user {
		return jobResult{status: model.JobCancelled, msg: "cancelled by user"}
	}
	return jobResult{status: model.JobCancelled, msg: msgSessionAborted}
}

// progressState throttles job_progress for one attempt and remembers a
// sample the throttle held back. out receives every output line.
type progressState struct {
	throttle rate.Sometimes
	pending  bool
	out      io.Writer
}

// handleLine feeds one output line to the watchdog and the progress snapshot
// and emits it as job_log. job_progress is throttled per job.
func (rt *runtime) handleLine(jobID, line string, wd *watchdog.Watchdog, ps *progressState) {
	wd.ObserveOutput()
	_, _ = io.WriteString(ps.out, line+"\n")
	sample, ok := progress.Parse(line)
	if ok {
		wd.ObserveProgress()
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.emitLocked(model.EventJobLog, model.JobLogPayload{JobID: jobID, Line: line})
	if !ok {
		return
	}
	rt.byID[jobID].job.Progress.Apply(sample)
	ps.pending = true
	ps.throttle.Do(func() {
		rt.emitProgressLocked(jobID)
		ps.pending = false
	})
}

// flushProgress emits the latest snapshot if the throttle held it back, so
// the final sample (often 100%) is always delivered.
func (rt *runtime) flushProgress(jobID string, ps *progressState) {
	if !ps.pending {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.emitProgressLocked(jobID)
	ps.pending = false
}

func (rt *runtime) emitProgressLocked(jobID string) {
	p := rt.byID[jobID].job.Progress.Clone()
	rt.emitLocked(model.EventJobProgress, model.JobProgressPayload{
		JobID:       jobID,
		Percent:     p.Percent,
		FPS:         p.FPS,
		BitrateKbps: p.BitrateKbps,
		ETASec:      p.ETASec,
	})
}
