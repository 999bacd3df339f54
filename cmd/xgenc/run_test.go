package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctlCall struct {
	op       string
	job      string
	decision model.OverwriteDecision
}

type fakeControl struct {
	mu      sync.Mutex
	calls   []ctlCall
	stopErr error
}

func (f *fakeControl) add(c ctlCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeControl) recorded() []ctlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ctlCall(nil), f.calls...)
}

func (f *fakeControl) RequestGracefulStop(string) error {
	f.add(ctlCall{op: "stop"})
	return f.stopErr
}

func (f *fakeControl) RequestAbort(string) error {
	f.add(ctlCall{op: "abort"})
	return nil
}

func (f *fakeControl) ResolveOverwrite(_, jobID string, d model.OverwriteDecision) error {
	f.add(ctlCall{op: "overwrite", job: jobID, decision: d})
	return nil
}

func testSnapshot() model.Snapshot {
	return model.Snapshot{
		Session: model.Session{ID: "s-1", TotalJobs: 1},
		Jobs:    []model.Job{{ID: "j-1", InputPath: "/videos/movie.ts"}},
	}
}

func TestRunUISkipsOverwriteWhenNotInteractive(t *testing.T) {
	ctl := &fakeControl{}
	var out bytes.Buffer
	ui := newRunUI(ctl, testSnapshot(), &out, strings.NewReader(""), false, false)

	ch := make(chan model.Event, 4)
	ch <- model.Event{SessionID: "s-1", Payload: model.JobNeedsOverwritePayload{SessionID: "s-1", JobID: "j-1", FinalOutputPath: "/videos/movie_encoded.mkv"}}
	ch <- model.Event{SessionID: "s-1", Payload: model.JobFinishedPayload{JobID: "j-1", Status: model.JobSkipped, ErrorMessage: "output exists"}}
	ch <- model.Event{SessionID: "other", Payload: model.JobFinishedPayload{JobID: "x", Status: model.JobFailed}}
	close(ch)
	ui.consume(ch)

	assert.Equal(t, []ctlCall{{op: "overwrite", job: "j-1", decision: model.DecisionSkip}}, ctl.recorded())
	assert.Contains(t, out.String(), "output exists, skipping: /videos/movie_encoded.mkv")
	assert.Contains(t, out.String(), "skipped   movie.ts: output exists")
	assert.NotContains(t, out.String(), "failed")
}

func TestRunUIPromptsOnTerminal(t *testing.T) {
	ctl := &fakeControl{}
	var out syncBuffer
	ui := newRunUI(ctl, testSnapshot(), &out, strings.NewReader("maybe\no\n"), true, false)

	ch := make(chan model.Event, 1)
	ch <- model.Event{SessionID: "s-1", Payload: model.JobNeedsOverwritePayload{SessionID: "s-1", JobID: "j-1", FinalOutputPath: "/out.mkv"}}
	close(ch)
	ui.consume(ch)

	require.Eventually(t, func() bool { return len(ctl.recorded()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, ctlCall{op: "overwrite", job: "j-1", decision: model.DecisionOverwrite}, ctl.recorded()[0])
	assert.Equal(t, 2, strings.Count(out.String(), "/out.mkv exists."))
}

func TestRunUIQueuesPromptsWithoutBlockingEvents(t *testing.T) {
	ctl := &fakeControl{}
	var out syncBuffer
	answers, answer := io.Pipe()
	ui := newRunUI(ctl, testSnapshot(), &out, answers, true, false)

	const n = 20
	ch := make(chan model.Event, n+1)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("j-%d", i)
		ch <- model.Event{SessionID: "s-1", Payload: model.JobNeedsOverwritePayload{SessionID: "s-1", JobID: id, FinalOutputPath: "/out/" + id + ".mkv"}}
	}
	ch <- model.Event{SessionID: "s-1", Payload: model.SessionFinishedPayload{SessionID: "s-1", State: model.SessionCompleted}}
	close(ch)

	consumed := make(chan struct{})
	go func() {
		ui.consume(ch)
		close(consumed)
	}()
	select {
	case <-consumed:
	case <-time.After(5 * time.Second):
		t.Fatal("event rendering blocked on unanswered prompts")
	}
	assert.Contains(t, out.String(), "session completed")

	go func() {
		_, _ = io.WriteString(answer, strings.Repeat("s\n", n))
		_ = answer.Close()
	}()
	require.Eventually(t, func() bool { return len(ctl.recorded()) == n }, 5*time.Second, 10*time.Millisecond)
	for i, c := range ctl.recorded() {
		assert.Equal(t, ctlCall{op: "overwrite", job: fmt.Sprintf("j-%d", i), decision: model.DecisionSkip}, c)
	}
}

func TestRunUIInterruptEscalates(t *testing.T) {
	ctl := &fakeControl{}
	var out bytes.Buffer
	ui := newRunUI(ctl, testSnapshot(), &out, strings.NewReader(""), false, false)

	ui.interrupted(1)
	ui.interrupted(2)
	assert.Equal(t, []ctlCall{{op: "stop"}, {op: "abort"}}, ctl.recorded())
	assert.Contains(t, out.String(), "interrupt again to abort")
	assert.Contains(t, out.String(), "aborting")
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]model.OverwriteDecision{
		"o\n":       model.DecisionOverwrite,
		" YES ":     model.DecisionOverwrite,
		"s":         model.DecisionSkip,
		"n\n":       model.DecisionSkip,
		"abort\r\n": model.DecisionAbort,
	} {
		got, ok := parseDecision(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseDecision("later")
	assert.False(t, ok)
}

func TestPrintSummaryAndResult(t *testing.T) {
	exit := 3
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	snap := model.Snapshot{
		Session: model.Session{
			ID: "s-1", State: model.SessionCompleted, TotalJobs: 2,
			Counters: model.Counters{CompletedJobs: 1, FailedJobs: 1},
		},
		Jobs: []model.Job{
			{ID: "a", InputPath: "/v/a.ts", InputSizeBytes: 2_000_000, Status: model.JobCompleted, FinalOutputPath: "/v/a_encoded.mkv", StartedAt: &start, FinishedAt: &end},
			{ID: "b", InputPath: "/v/b.ts", Status: model.JobFailed, ExitCode: &exit, ErrorMessage: "encoder exited with code 3"},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printSummary(&out, snap, false))
	s := out.String()
	assert.Contains(t, s, "a.ts")
	assert.Contains(t, s, "2.0 MB")
	assert.Contains(t, s, "1m30s")
	assert.Contains(t, s, "/v/a_encoded.mkv")
	assert.Contains(t, s, "encoder exited with code 3")
	assert.Contains(t, s, "1 completed, 1 failed")

	err := sessionResult(snap)
	require.ErrorIs(t, err, errSessionFailed)
	assert.Equal(t, 2, exitCode(err))

	snap.Session.FailedJobs = 0
	assert.NoError(t, sessionResult(snap))
	snap.Session.State = model.SessionAborted
	assert.ErrorIs(t, sessionResult(snap), errSessionFailed)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
