// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/xgenc/internal/bus"
	"github.com/ManuGH/xgenc/internal/joblog"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	okScript    = `echo "50.0% 10.0 fps 1000 kbps remain 00:00:01"; printf encoded > "$2"`
	waitTimeout = 15 * time.Second
)

// shBuilder runs a shell script per input base name. $1 is the input and $2
// the temp output.
type shBuilder struct {
	scripts   map[string]string
	fallbacks map[string]string
}

func (b shBuilder) script(m map[string]string, input string) string {
	if s, ok := m[filepath.Base(input)]; ok {
		return s
	}
	return okScript
}

func (b shBuilder) BuildArgs(_ model.Profile, _ model.ConfigSnapshot, input, out string) ([]string, error) {
	s := b.script(b.scripts, input)
	if s == "@missing" {
		return []string{"/nonexistent/encoder-binary"}, nil
	}
	return []string{"/bin/sh", "-c", s, "sh", input, out}, nil
}

type fallbackBuilder struct{ shBuilder }

func (b fallbackBuilder) FallbackArgs(_ model.Profile, _ model.ConfigSnapshot, input, out string) ([]string, bool, error) {
	s, ok := b.fallbacks[filepath.Base(input)]
	if !ok {
		return nil, false, nil
	}
	return []string{"/bin/sh", "-c", s, "sh", input, out}, true, nil
}

type fakeTemps struct {
	mu      sync.Mutex
	tracked map[string]bool
	total   int
}

func (f *fakeTemps) Track(_, temp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tracked == nil {
		f.tracked = map[string]bool{}
	}
	f.tracked[temp] = true
	f.total++
	return nil
}

func (f *fakeTemps) Untrack(temp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracked, temp)
	return nil
}

type collector struct {
	mu     sync.Mutex
	events []model.Event
}

func collect(t *testing.T, b *bus.MemoryBus[model.Event]) *collector {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)

	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C() {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func (c *collector) all() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

func (c *collector) count(typ model.EventType) int {
	n := 0
	for _, ev := range c.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (c *collector) waitFor(t *testing.T, typ model.EventType, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.count(typ) >= n }, waitTimeout, 10*time.Millisecond,
		"waiting for %d %s events", n, typ)
}

type harness struct {
	m      *Manager
	events *collector
	temps  *fakeTemps
	dir    string
}

func newHarness(t *testing.T, builder CommandBuilder) *harness {
	t.Helper()
	b := bus.NewMemoryBus[model.Event]("test_events", 4096)
	temps := &fakeTemps{}
	m := New(Deps{
		Bus:              b,
		Builder:          builder,
		Temps:            temps,
		Logger:           zerolog.Nop(),
		WatchdogInterval: 50 * time.Millisecond,
		ProgressInterval: time.Millisecond,
		CancelGrace:      time.Second,
	})
	h := &harness{m: m, events: collect(t, b), temps: temps, dir: t.TempDir()}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return h
}

func (h *harness) inputs(t *testing.T, names ...string) []JobSpec {
	t.Helper()
	specs := make([]JobSpec, len(names))
	for i, n := range names {
		p := filepath.Join(h.dir, n)
		require.NoError(t, os.WriteFile(p, []byte("source"), 0o600))
		specs[i] = JobSpec{ID: n, InputPath: p}
	}
	return specs
}

func testConfig(maxJobs int) model.ConfigSnapshot {
	cfg := model.DefaultConfigSnapshot()
	cfg.MaxConcurrentJobs = maxJobs
	cfg.NoOutputTimeoutSec = 0
	cfg.NoProgressTimeoutSec = 0
	cfg.OverwriteTimeoutSec = 0
	return cfg
}

func (h *harness) run(t *testing.T, cfg model.ConfigSnapshot, names ...string) model.Snapshot {
	t.Helper()
	snap, err := h.m.StartSession(context.Background(), StartRequest{Jobs: h.inputs(t, names...), Config: cfg})
	require.NoError(t, err)
	return snap
}

func (h *harness) wait(t *testing.T, sessionID string) model.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := h.m.Wait(ctx, sessionID)
	require.NoError(t, err)
	h.events.waitFor(t, model.EventSessionFinished, 1)
	return snap
}

func jobByID(t *testing.T, snap model.Snapshot, id string) model.Job {
	t.Helper()
	for _, j := range snap.Jobs {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("job %s not in snapshot", id)
	return model.Job{}
}

func assertSumInvariant(t *testing.T, snap model.Snapshot) {
	t.Helper()
	assert.Equal(t, snap.Session.TotalJobs, snap.Session.Counters.Sum())
	for _, j := range snap.Jobs {
		assert.True(t, j.Status.IsTerminal(), "job %s is %s", j.ID, j.Status)
	}
}

func TestSessionRunsAllJobsWithinConcurrencyLimit(t *testing.T) {
	script := `sleep 0.2; ` + okScript
	h := newHarness(t, shBuilder{scripts: map[string]string{
		"a.mp4": script, "b.mp4": script, "c.mp4": script, "d.mp4": script, "e.mp4": script,
	}})

	snap := h.run(t, testConfig(2), "a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4")
	assert.Equal(t, model.SessionRunning, snap.Session.State)
	assert.Equal(t, 5, snap.Session.TotalJobs)

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.SessionCompleted, final.Session.State)
	assert.Equal(t, 5, final.Session.CompletedJobs)
	assertSumInvariant(t, final)

	for _, j := range final.Jobs {
		data, err := os.ReadFile(j.FinalOutputPath)
		require.NoError(t, err)
		assert.Equal(t, "encoded", string(data))
		assert.NoFileExists(t, j.TempOutputPath)
		require.NotNil(t, j.Progress.Percent)
		assert.InDelta(t, 50.0, *j.Progress.Percent, 0.001)
	}

	events := h.events.all()
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventSessionStarted, events[0].Type)
	assert.Equal(t, model.EventSessionFinished, events[len(events)-1].Type)

	running, peak := map[string]bool{}, 0
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq, "events must be gap-free and ordered")
		switch p := ev.Payload.(type) {
		case model.JobStartedPayload:
			assert.Contains(t, []int{0, 1}, p.WorkerID)
			running[p.JobID] = true
			if len(running) > peak {
				peak = len(running)
			}
		case model.JobFinishedPayload:
			delete(running, p.JobID)
		}
	}
	assert.Equal(t, 2, peak)
	assert.GreaterOrEqual(t, h.events.count(model.EventJobProgress), 5)
	assert.Empty(t, h.temps.tracked)
	assert.Equal(t, 5, h.temps.total)

	summary := events[len(events)-1].Payload.(model.SessionFinishedPayload)
	want := model.SessionFinishedPayload{
		SessionID: snap.Session.ID,
		State:     model.SessionCompleted,
		TotalJobs: 5,
		Counters:  model.Counters{CompletedJobs: 5},
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("session_finished mismatch (-want +got):\n%s", diff)
	}
}

func TestStalledSubscriberDoesNotStarveOthers(t *testing.T) {
	b := bus.NewMemoryBus[model.Event]("test_stalled", 4, bus.WithStallTimeout(200*time.Millisecond))
	stalled, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stalled.Close() })
	events := collect(t, b)

	m := New(Deps{
		Bus:              b,
		Builder:          shBuilder{scripts: map[string]string{"noisy.mp4": `i=0; while [ $i -lt 30 ]; do echo "line $i"; i=$((i+1)); done; printf encoded > "$2"`}},
		Logger:           zerolog.Nop(),
		WatchdogInterval: 50 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	dir := t.TempDir()
	input := filepath.Join(dir, "noisy.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o600))
	snap, err := m.StartSession(context.Background(), StartRequest{
		Jobs:   []JobSpec{{ID: "noisy", InputPath: input}},
		Config: testConfig(1),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	final, err := m.Wait(ctx, snap.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, final.Session.State)

	events.waitFor(t, model.EventSessionFinished, 1)
	assert.Equal(t, 30, events.count(model.EventJobLog))
	assert.Equal(t, 1, events.count(model.EventJobFinished))
	assert.Equal(t, 1, events.count(model.EventSessionFinished))

	// The stalled subscriber keeps what it buffered, then sees its channel closed.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-stalled.C():
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, waitTimeout, 10*time.Millisecond)
}

func TestFinalProgressSampleIsDelivered(t *testing.T) {
	b := bus.NewMemoryBus[model.Event]("test_final_progress", 256)
	events := collect(t, b)
	m := New(Deps{
		Bus: b,
		Builder: shBuilder{scripts: map[string]string{
			"p.mp4": `echo "10.0% 5 fps"; echo "60.0% 5 fps"; echo "100.0% 5 fps"; printf encoded > "$2"`,
		}},
		Logger:           zerolog.Nop(),
		ProgressInterval: time.Hour,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	input := filepath.Join(t.TempDir(), "p.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o600))
	snap, err := m.StartSession(context.Background(), StartRequest{Jobs: []JobSpec{{ID: "p", InputPath: input}}, Config: testConfig(1)})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err = m.Wait(ctx, snap.Session.ID)
	require.NoError(t, err)
	events.waitFor(t, model.EventSessionFinished, 1)

	var percents []float64
	for _, ev := range events.all() {
		if p, ok := ev.Payload.(model.JobProgressPayload); ok {
			require.NotNil(t, p.Percent)
			percents = append(percents, *p.Percent)
		}
	}
	assert.Equal(t, []float64{10, 100}, percents, "first sample passes the throttle, the last is flushed on exit")
}

func TestOnErrorStopSkipsRemainingJobs(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{
		"2.mp4": `echo boom; exit 3`,
	}})
	cfg := testConfig(1)
	cfg.OnError = model.OnErrorStop

	snap := h.run(t, cfg, "1.mp4", "2.mp4", "3.mp4", "4.mp4")
	final := h.wait(t, snap.Session.ID)

	assert.Equal(t, model.SessionCompleted, final.Session.State)
	assert.True(t, final.Session.StopRequested)
	assert.Equal(t, model.Counters{CompletedJobs: 1, FailedJobs: 1, SkippedJobs: 2}, final.Session.Counters)
	assertSumInvariant(t, final)

	failedJob := jobByID(t, final, "2.mp4")
	assert.Equal(t, model.JobFailed, failedJob.Status)
	require.NotNil(t, failedJob.ExitCode)
	assert.Equal(t, 3, *failedJob.ExitCode)
	assert.Equal(t, "exit code 3: boom", failedJob.ErrorMessage)
	assert.NoFileExists(t, failedJob.TempOutputPath)

	for _, id := range []string{"3.mp4", "4.mp4"} {
		j := jobByID(t, final, id)
		assert.Equal(t, model.JobSkipped, j.Status)
		assert.Equal(t, msgStopRequested, j.ErrorMessage)
		assert.Nil(t, j.WorkerID)
	}
}

func TestOnErrorSkipContinues(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"1.mp4": `exit 1`}})
	snap := h.run(t, testConfig(1), "1.mp4", "2.mp4")
	final := h.wait(t, snap.Session.ID)

	assert.Equal(t, model.Counters{CompletedJobs: 1, FailedJobs: 1}, final.Session.Counters)
	assert.False(t, final.Session.StopRequested)
}

func TestGracefulStopDrainsRunningJob(t *testing.T) {
	slow := `sleep 0.5; ` + okScript
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": slow, "b.mp4": slow, "c.mp4": slow}})

	snap := h.run(t, testConfig(1), "a.mp4", "b.mp4", "c.mp4")
	h.events.waitFor(t, model.EventJobStarted, 1)
	require.NoError(t, h.m.RequestGracefulStop(snap.Session.ID))
	assert.ErrorIs(t, h.m.RequestGracefulStop(snap.Session.ID), ErrNotApplicable)

	cur, err := h.m.Current()
	require.NoError(t, err)
	assert.Equal(t, model.SessionStopping, cur.Session.State)

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.SessionCompleted, final.Session.State)
	assert.Equal(t, model.JobCompleted, jobByID(t, final, "a.mp4").Status)
	assert.Equal(t, model.JobSkipped, jobByID(t, final, "b.mp4").Status)
	assert.Equal(t, model.JobSkipped, jobByID(t, final, "c.mp4").Status)
	assert.Equal(t, 1, h.events.count(model.EventJobStarted))
	assertSumInvariant(t, final)
}

func TestResumeAfterStop(t *testing.T) {
	slow := `sleep 0.5; ` + okScript
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": slow, "b.mp4": slow}})

	snap := h.run(t, testConfig(1), "a.mp4", "b.mp4")
	assert.ErrorIs(t, h.m.Resume(snap.Session.ID), ErrNotApplicable)

	h.events.waitFor(t, model.EventJobStarted, 1)
	require.NoError(t, h.m.RequestGracefulStop(snap.Session.ID))
	require.NoError(t, h.m.Resume(snap.Session.ID))

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.Counters{CompletedJobs: 2}, final.Session.Counters)
	assert.False(t, final.Session.StopRequested)
	assert.Equal(t, 2, h.events.count(model.EventSessionState))
}

func TestAbortCancelsEverything(t *testing.T) {
	hang := `echo started; sleep 30`
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": hang, "b.mp4": hang, "c.mp4": hang}})

	snap := h.run(t, testConfig(2), "a.mp4", "b.mp4", "c.mp4")
	h.events.waitFor(t, model.EventJobStarted, 2)

	start := time.Now()
	require.NoError(t, h.m.RequestAbort(snap.Session.ID))
	require.NoError(t, h.m.RequestAbort(snap.Session.ID), "abort is idempotent")

	final := h.wait(t, snap.Session.ID)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, model.SessionAborted, final.Session.State)
	assert.True(t, final.Session.AbortRequested)
	assert.Equal(t, model.Counters{CancelledJobs: 3}, final.Session.Counters)
	for _, j := range final.Jobs {
		assert.Equal(t, msgSessionAborted, j.ErrorMessage)
		if j.TempOutputPath != "" {
			assert.NoFileExists(t, j.TempOutputPath)
		}
	}
	assert.ErrorIs(t, h.m.RequestGracefulStop(snap.Session.ID), ErrNotApplicable)
}

func TestCancelSingleJob(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `echo started; sleep 30`}})

	snap := h.run(t, testConfig(2), "a.mp4", "b.mp4")
	h.events.waitFor(t, model.EventJobStarted, 1)
	require.NoError(t, h.m.CancelJob(snap.Session.ID, "a.mp4"))

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.SessionCompleted, final.Session.State)
	assert.Equal(t, model.JobCancelled, jobByID(t, final, "a.mp4").Status)
	assert.Equal(t, "cancelled by user", jobByID(t, final, "a.mp4").ErrorMessage)
	assert.Equal(t, model.JobCompleted, jobByID(t, final, "b.mp4").Status)
	assert.ErrorIs(t, h.m.CancelJob(snap.Session.ID, "a.mp4"), ErrNotApplicable)
}

func TestSkipPendingJob(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `sleep 0.5; ` + okScript}})

	snap := h.run(t, testConfig(1), "a.mp4", "b.mp4")
	h.events.waitFor(t, model.EventJobStarted, 1)
	require.NoError(t, h.m.SkipJob(snap.Session.ID, "b.mp4"))
	assert.ErrorIs(t, h.m.SkipJob(snap.Session.ID, "a.mp4"), ErrNotApplicable)

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.Counters{CompletedJobs: 1, SkippedJobs: 1}, final.Session.Counters)
}

func existingOutput(t *testing.T, h *harness, input string) string {
	t.Helper()
	base := input[:len(input)-len(filepath.Ext(input))]
	p := filepath.Join(h.dir, base+"_encoded.mkv")
	require.NoError(t, os.WriteFile(p, []byte("original"), 0o600))
	return p
}

func TestOverwriteSkipNeverSpawns(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{
		"movie.mp4": `touch "$1.spawned"; ` + okScript,
	}})
	out := existingOutput(t, h, "movie.mp4")

	snap := h.run(t, testConfig(1), "movie.mp4")
	h.events.waitFor(t, model.EventJobNeedsOverwrite, 1)

	pending := h.m.PendingOverwrites()
	require.Len(t, pending, 1)
	assert.Equal(t, "movie.mp4", pending[0].JobID)
	assert.Equal(t, filepath.Base(out), filepath.Base(pending[0].FinalOutputPath))

	cur, err := h.m.Current()
	require.NoError(t, err)
	assert.True(t, cur.Jobs[0].AwaitingOverwrite)
	assert.Equal(t, 0, cur.Session.RunningJobs)

	require.NoError(t, h.m.ResolveOverwrite(snap.Session.ID, "movie.mp4", model.DecisionSkip))
	assert.ErrorIs(t, h.m.ResolveOverwrite(snap.Session.ID, "movie.mp4", model.DecisionSkip), ErrNotApplicable)

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.Counters{SkippedJobs: 1}, final.Session.Counters)
	assert.NoFileExists(t, filepath.Join(h.dir, "movie.mp4.spawned"))
	assert.Equal(t, 0, h.events.count(model.EventJobStarted))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestOverwriteReplacesExistingOutput(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"movie.mp4": `printf new > "$2"`}})
	out := existingOutput(t, h, "movie.mp4")

	snap := h.run(t, testConfig(1), "movie.mp4")
	h.events.waitFor(t, model.EventJobNeedsOverwrite, 1)
	require.NoError(t, h.m.ResolveOverwrite(snap.Session.ID, "movie.mp4", model.DecisionOverwrite))

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.Counters{CompletedJobs: 1}, final.Session.Counters)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestOverwriteAbortDecisionAbortsSession(t *testing.T) {
	h := newHarness(t, shBuilder{})
	existingOutput(t, h, "movie.mp4")

	snap := h.run(t, testConfig(1), "movie.mp4", "other.mp4")
	h.events.waitFor(t, model.EventJobNeedsOverwrite, 1)
	require.NoError(t, h.m.ResolveOverwrite(snap.Session.ID, "movie.mp4", model.DecisionAbort))

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.SessionAborted, final.Session.State)
	assert.Equal(t, model.JobCancelled, jobByID(t, final, "movie.mp4").Status)
	assertSumInvariant(t, final)
}

func TestOverwriteTimeoutSkips(t *testing.T) {
	h := newHarness(t, shBuilder{})
	existingOutput(t, h, "movie.mp4")
	cfg := testConfig(1)
	cfg.OverwriteTimeoutSec = 1

	snap := h.run(t, cfg, "movie.mp4")
	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.JobSkipped, final.Jobs[0].Status)
}

func TestGracefulStopSkipsBlockedJob(t *testing.T) {
	h := newHarness(t, shBuilder{})
	existingOutput(t, h, "movie.mp4")

	snap := h.run(t, testConfig(1), "movie.mp4")
	h.events.waitFor(t, model.EventJobNeedsOverwrite, 1)
	require.NoError(t, h.m.RequestGracefulStop(snap.Session.ID))

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.SessionCompleted, final.Session.State)
	assert.Equal(t, model.JobSkipped, final.Jobs[0].Status)
	assert.Empty(t, h.m.PendingOverwrites())
}

func TestAutoRenameAvoidsCollision(t *testing.T) {
	h := newHarness(t, shBuilder{})
	out := existingOutput(t, h, "movie.mp4")
	cfg := testConfig(1)
	cfg.OverwriteMode = model.OverwriteAutoRename

	snap := h.run(t, cfg, "movie.mp4")
	final := h.wait(t, snap.Session.ID)

	j := final.Jobs[0]
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, "movie_encoded_001.mkv", filepath.Base(j.FinalOutputPath))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestSameTargetWithinSessionIsRenamed(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{
		"clip.mp4": `sleep 0.3; ` + okScript,
		"clip.ts":  `sleep 0.3; ` + okScript,
	}})

	snap := h.run(t, testConfig(2), "clip.mp4", "clip.ts")
	final := h.wait(t, snap.Session.ID)

	assert.Equal(t, model.Counters{CompletedJobs: 2}, final.Session.Counters)
	names := []string{
		filepath.Base(jobByID(t, final, "clip.mp4").FinalOutputPath),
		filepath.Base(jobByID(t, final, "clip.ts").FinalOutputPath),
	}
	assert.ElementsMatch(t, []string{"clip_encoded.mkv", "clip_encoded_001.mkv"}, names)
}

func TestNoOutputTimeout(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `sleep 30`}})
	cfg := testConfig(1)
	cfg.NoOutputTimeoutSec = 1

	snap := h.run(t, cfg, "a.mp4")
	final := h.wait(t, snap.Session.ID)

	j := final.Jobs[0]
	assert.Equal(t, model.JobTimeout, j.Status)
	assert.Equal(t, "no output within timeout", j.ErrorMessage)
	assert.Equal(t, 1, final.Session.TimeoutJobs)
}

func TestNoProgressTimeout(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `echo "opening input"; sleep 30`}})
	cfg := testConfig(1)
	cfg.NoProgressTimeoutSec = 1

	snap := h.run(t, cfg, "a.mp4")
	final := h.wait(t, snap.Session.ID)

	assert.Equal(t, model.JobTimeout, final.Jobs[0].Status)
	assert.Equal(t, "no progress within timeout", final.Jobs[0].ErrorMessage)
	assert.GreaterOrEqual(t, h.events.count(model.EventJobLog), 1)
}

func TestSpawnFailureFailsJob(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": "@missing"}})

	snap := h.run(t, testConfig(1), "a.mp4")
	final := h.wait(t, snap.Session.ID)

	j := final.Jobs[0]
	assert.Equal(t, model.JobFailed, j.Status)
	require.NotNil(t, j.ExitCode)
	assert.Equal(t, -1, *j.ExitCode)
	assert.Contains(t, j.ErrorMessage, "spawn encoder")
}

func TestMissingInputFailsJob(t *testing.T) {
	h := newHarness(t, shBuilder{})
	snap, err := h.m.StartSession(context.Background(), StartRequest{
		Jobs:   []JobSpec{{ID: "ghost", InputPath: filepath.Join(h.dir, "ghost.mp4")}},
		Config: testConfig(1),
	})
	require.NoError(t, err)

	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.JobFailed, final.Jobs[0].Status)
	assert.Contains(t, final.Jobs[0].ErrorMessage, "input not readable")
}

func TestDecoderFallbackRetries(t *testing.T) {
	h := newHarness(t, fallbackBuilder{shBuilder{
		scripts:   map[string]string{"a.mp4": `echo "hw decode failed"; exit 1`},
		fallbacks: map[string]string{"a.mp4": okScript},
	}})
	cfg := testConfig(1)
	cfg.DecoderFallback = true

	snap := h.run(t, cfg, "a.mp4")
	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.JobCompleted, final.Jobs[0].Status)

	var sawNotice bool
	for _, ev := range h.events.all() {
		if p, ok := ev.Payload.(model.JobLogPayload); ok && p.Line == "decoder fallback: retrying with software decoding" {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice)
}

func TestRestoreFileTimeCopiesInputMtime(t *testing.T) {
	h := newHarness(t, shBuilder{})
	jobs := h.inputs(t, "old.mp4")
	recorded := time.Date(2018, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(jobs[0].InputPath, recorded, recorded))

	snap, err := h.m.StartSession(context.Background(), StartRequest{
		Jobs:    jobs,
		Profile: model.Profile{ID: "custom", RestoreFileTime: true},
		Config:  testConfig(1),
	})
	require.NoError(t, err)
	final := h.wait(t, snap.Session.ID)
	require.Equal(t, model.JobCompleted, final.Jobs[0].Status)

	info, err := os.Stat(final.Jobs[0].FinalOutputPath)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(recorded), "got %s", info.ModTime())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDecoderFallbackLogsTempCleanupFailure(t *testing.T) {
	var logs lockedBuffer
	b := bus.NewMemoryBus[model.Event]("test_fallback_cleanup", 256)
	m := New(Deps{
		Bus: b,
		Builder: fallbackBuilder{shBuilder{
			scripts:   map[string]string{"a.mp4": `mkdir "$2"; touch "$2/partial"; exit 1`},
			fallbacks: map[string]string{"a.mp4": `rm -rf "$2"; ` + okScript},
		}},
		Logger: zerolog.New(&logs),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	input := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o600))
	cfg := testConfig(1)
	cfg.DecoderFallback = true
	snap, err := m.StartSession(context.Background(), StartRequest{Jobs: []JobSpec{{ID: "a", InputPath: input}}, Config: cfg})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	final, err := m.Wait(ctx, snap.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobCompleted, final.Jobs[0].Status)
	assert.Contains(t, logs.String(), "failed to remove temp output before retry")
}

func TestJobLogsKeepEachAttemptAndRecord(t *testing.T) {
	logs := joblog.New(filepath.Join(t.TempDir(), "logs"), "test")
	b := bus.NewMemoryBus[model.Event]("test_job_logs", 256)
	m := New(Deps{
		Bus: b,
		Builder: fallbackBuilder{shBuilder{
			scripts:   map[string]string{"a.mp4": `echo "hw decode failed"; exit 1`},
			fallbacks: map[string]string{"a.mp4": `echo "sw decode"; ` + okScript},
		}},
		JobLogs: logs,
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	input := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o600))
	cfg := testConfig(1)
	cfg.DecoderFallback = true
	snap, err := m.StartSession(context.Background(), StartRequest{Jobs: []JobSpec{{ID: "a", InputPath: input}}, Config: cfg})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	final, err := m.Wait(ctx, snap.Session.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, final.Jobs[0].Status)

	first, err := os.ReadFile(logs.OutputPath("a", false))
	require.NoError(t, err)
	assert.Contains(t, string(first), "hw decode failed")
	retry, err := os.ReadFile(logs.OutputPath("a", true))
	require.NoError(t, err)
	assert.Contains(t, string(retry), "sw decode")

	raw, err := os.ReadFile(logs.RecordPath("a"))
	require.NoError(t, err)
	var rec model.JobRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, snap.Session.ID, rec.SessionID)
	assert.Equal(t, model.JobCompleted, rec.Status)
	assert.True(t, rec.RetryApplied)
	assert.Contains(t, rec.RetryDetail, "hw decode failed")
	assert.Equal(t, "/bin/sh", rec.Argv[0])
	assert.Contains(t, rec.Argv[2], "sw decode")
	assert.Equal(t, "test", rec.AppVersion)
	assert.Equal(t, 1, rec.MaxConcurrentJobs)
	assert.NotNil(t, rec.FinishedAt)
}

func TestKeepFailedTemp(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `printf partial > "$2"; exit 2`}})
	cfg := testConfig(1)
	cfg.KeepFailedTemp = true

	snap := h.run(t, cfg, "a.mp4")
	final := h.wait(t, snap.Session.ID)
	assert.Equal(t, model.JobFailed, final.Jobs[0].Status)
	assert.FileExists(t, final.Jobs[0].TempOutputPath)
}

func TestCommandsRequireSessionID(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `echo started; sleep 30`, "b.mp4": okScript}})
	snap := h.run(t, testConfig(1), "a.mp4", "b.mp4")

	assert.ErrorIs(t, h.m.RequestGracefulStop(""), ErrNoActiveSession)
	assert.ErrorIs(t, h.m.Resume(""), ErrNoActiveSession)
	assert.ErrorIs(t, h.m.RequestAbort(""), ErrNoActiveSession)
	assert.ErrorIs(t, h.m.SkipJob("", "b.mp4"), ErrNoActiveSession)
	assert.ErrorIs(t, h.m.CancelJob("", "a.mp4"), ErrNoActiveSession)
	assert.ErrorIs(t, h.m.ResolveOverwrite("", "b.mp4", model.DecisionSkip), ErrNoActiveSession)
	_, err := h.m.Wait(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	cur, err := h.m.Current()
	require.NoError(t, err)
	assert.Equal(t, snap.Session.ID, cur.Session.ID)
	assert.Equal(t, model.SessionRunning, cur.Session.State)
	assert.Empty(t, h.m.PendingOverwrites())

	require.NoError(t, h.m.RequestAbort(snap.Session.ID))
	h.wait(t, snap.Session.ID)
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `echo started; sleep 30`}})

	_, err := h.m.Current()
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.ErrorIs(t, h.m.RequestAbort("nope"), ErrNoActiveSession)

	_, err = h.m.StartSession(context.Background(), StartRequest{Config: testConfig(1)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := testConfig(1)
	bad.MaxConcurrentJobs = 9
	_, err = h.m.StartSession(context.Background(), StartRequest{Jobs: h.inputs(t, "x.mp4"), Config: bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.m.StartSession(context.Background(), StartRequest{
		Jobs:   []JobSpec{{ID: "dup", InputPath: "/a"}, {ID: "dup", InputPath: "/b"}},
		Config: testConfig(1),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	snap := h.run(t, testConfig(1), "a.mp4")
	_, err = h.m.StartSession(context.Background(), StartRequest{Jobs: h.inputs(t, "b.mp4"), Config: testConfig(1)})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	err = h.m.ResolveOverwrite(snap.Session.ID, "missing", model.DecisionSkip)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, h.m.ResolveOverwrite(snap.Session.ID, "a.mp4", "maybe"), ErrInvalidInput)
	assert.ErrorIs(t, h.m.ResolveOverwrite(snap.Session.ID, "a.mp4", model.DecisionSkip), ErrNotApplicable)
	assert.ErrorIs(t, h.m.RequestGracefulStop("other"), ErrNoActiveSession)

	require.NoError(t, h.m.RequestAbort(snap.Session.ID))
	h.wait(t, snap.Session.ID)

	next, err := h.m.StartSession(context.Background(), StartRequest{Jobs: h.inputs(t, "c.mp4"), Config: testConfig(1)})
	require.NoError(t, err, "a finished session does not block the next one")
	h.wait(t, next.Session.ID)
}

func TestWaitHonoursContext(t *testing.T) {
	h := newHarness(t, shBuilder{scripts: map[string]string{"a.mp4": `echo started; sleep 30`}})
	snap := h.run(t, testConfig(1), "a.mp4")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.m.Wait(ctx, snap.Session.ID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), waitTimeout)
	defer cancelShutdown()
	require.NoError(t, h.m.Shutdown(shutdownCtx))
	cur, err := h.m.Current()
	require.NoError(t, err)
	assert.Equal(t, model.SessionAborted, cur.Session.State)
}
