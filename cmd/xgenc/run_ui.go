// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/dustin/go-humanize"
)

// sessionControl is what the terminal UI drives on the manager.
type sessionControl interface {
	RequestGracefulStop(sessionID string) error
	RequestAbort(sessionID string) error
	ResolveOverwrite(sessionID, jobID string, decision model.OverwriteDecision) error
}

// runUI renders session events on a terminal and answers overwrite prompts.
type runUI struct {
	ctl         sessionControl
	sessionID   string
	interactive bool
	liveStatus  bool

	mu  sync.Mutex
	out io.Writer

	prompts *promptQueue
	in      *bufio.Reader
	inputs  map[string]string
}

func newRunUI(ctl sessionControl, snap model.Snapshot, out io.Writer, in io.Reader, interactive, liveStatus bool) *runUI {
	ui := &runUI{
		ctl:         ctl,
		sessionID:   snap.Session.ID,
		interactive: interactive,
		liveStatus:  liveStatus,
		out:         out,
		inputs:      make(map[string]string, len(snap.Jobs)),
	}
	for _, j := range snap.Jobs {
		ui.inputs[j.ID] = j.InputPath
	}
	if interactive {
		ui.in = bufio.NewReader(in)
		ui.prompts = newPromptQueue()
		go ui.promptLoop()
	}
	return ui
}

func (ui *runUI) printf(format string, args ...any) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if ui.liveStatus {
		fmt.Fprint(ui.out, "\r\033[K")
	}
	fmt.Fprintf(ui.out, format, args...)
}

// consume renders events until ch is closed.
func (ui *runUI) consume(ch <-chan model.Event) {
	for ev := range ch {
		if ev.SessionID != ui.sessionID {
			continue
		}
		ui.render(ev)
	}
	if ui.prompts != nil {
		ui.prompts.close()
	}
}

func (ui *runUI) render(ev model.Event) {
	switch p := ev.Payload.(type) {
	case model.SessionStartedPayload:
		ui.printf("session %s: %d job(s)\n", p.SessionID, p.TotalJobs)
	case model.JobStartedPayload:
		ui.printf("[w%d] start  %s\n", p.WorkerID, filepath.Base(p.InputPath))
	case model.JobProgressPayload:
		if !ui.liveStatus {
			return
		}
		ui.mu.Lock()
		fmt.Fprintf(ui.out, "\r\033[K%s %s", filepath.Base(ui.inputs[p.JobID]), formatProgress(p))
		ui.mu.Unlock()
	case model.JobNeedsOverwritePayload:
		if ui.interactive {
			ui.prompts.push(p)
			return
		}
		ui.printf("output exists, skipping: %s\n", p.FinalOutputPath)
		_ = ui.ctl.ResolveOverwrite(ui.sessionID, p.JobID, model.DecisionSkip)
	case model.JobFinishedPayload:
		line := fmt.Sprintf("%-9s %s", p.Status, filepath.Base(ui.inputs[p.JobID]))
		if p.ErrorMessage != "" {
			line += ": " + p.ErrorMessage
		}
		ui.printf("%s\n", line)
	case model.SessionStatePayload:
		if p.State == model.SessionStopping || p.State == model.SessionAborting {
			ui.printf("session %s\n", p.State)
		}
	case model.SessionFinishedPayload:
		ui.printf("session %s\n", p.State)
	}
}

func formatProgress(p model.JobProgressPayload) string {
	var parts []string
	if p.Percent != nil {
		parts = append(parts, strconv.FormatFloat(*p.Percent, 'f', 1, 64)+"%")
	}
	if p.FPS != nil {
		parts = append(parts, strconv.FormatFloat(*p.FPS, 'f', 1, 64)+" fps")
	}
	if p.BitrateKbps != nil {
		parts = append(parts, strconv.FormatFloat(*p.BitrateKbps, 'f', 0, 64)+" kbps")
	}
	if p.ETASec != nil {
		parts = append(parts, "eta "+(time.Duration(*p.ETASec)*time.Second).String())
	}
	return strings.Join(parts, "  ")
}

func (ui *runUI) promptLoop() {
	for {
		p, ok := ui.prompts.next()
		if !ok {
			return
		}
		decision := ui.ask(p.FinalOutputPath)
		if err := ui.ctl.ResolveOverwrite(ui.sessionID, p.JobID, decision); err != nil {
			ui.printf("overwrite decision ignored: %v\n", err)
		}
	}
}

func (ui *runUI) ask(path string) model.OverwriteDecision {
	for {
		ui.printf("%s exists. [o]verwrite, [s]kip, [a]bort? ", path)
		line, err := ui.in.ReadString('\n')
		if d, ok := parseDecision(line); ok {
			return d
		}
		if err != nil {
			return model.DecisionSkip
		}
	}
}

func parseDecision(answer string) (model.OverwriteDecision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "o", "overwrite", "y", "yes":
		return model.DecisionOverwrite, true
	case "s", "skip", "n", "no":
		return model.DecisionSkip, true
	case "a", "abort":
		return model.DecisionAbort, true
	}
	return "", false
}

// interrupted escalates from a graceful stop to an abort.
func (ui *runUI) interrupted(n int) {
	if n == 1 {
		if err := ui.ctl.RequestGracefulStop(ui.sessionID); err == nil {
			ui.printf("stopping after running jobs finish; interrupt again to abort\n")
			return
		}
	}
	if err := ui.ctl.RequestAbort(ui.sessionID); err == nil {
		ui.printf("aborting\n")
	}
}

func printSummary(w io.Writer, snap model.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	rows := make([][]string, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		exit := "-"
		if j.ExitCode != nil {
			exit = strconv.Itoa(*j.ExitCode)
		}
		elapsed := "-"
		if j.StartedAt != nil && j.FinishedAt != nil {
			elapsed = j.FinishedAt.Sub(*j.StartedAt).Round(time.Second).String()
		}
		detail := j.FinalOutputPath
		if j.ErrorMessage != "" {
			detail = j.ErrorMessage
		}
		rows = append(rows, []string{
			filepath.Base(j.InputPath),
			humanize.Bytes(uint64(max(j.InputSizeBytes, 0))),
			string(j.Status),
			exit,
			elapsed,
			detail,
		})
	}
	s := snap.Session
	_, err := fmt.Fprintf(w, "%s\nsession %s %s: %d completed, %d failed, %d timed out, %d cancelled, %d skipped of %d\n",
		renderTable(
			[]string{"Input", "Size", "Status", "Exit", "Time", "Output / Error"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
		),
		s.ID, s.State, s.CompletedJobs, s.FailedJobs, s.TimeoutJobs, s.CancelledJobs, s.SkippedJobs, s.TotalJobs)
	return err
}

// sessionResult is nil only when the session completed without failures.
func sessionResult(snap model.Snapshot) error {
	s := snap.Session
	if s.State == model.SessionAborted {
		return fmt.Errorf("%w: aborted", errSessionFailed)
	}
	if n := s.FailedJobs + s.TimeoutJobs; n > 0 {
		return fmt.Errorf("%w: %d job(s) failed", errSessionFailed, n)
	}
	return nil
}

// promptQueue holds overwrite prompts while the user answers earlier ones.
// push never blocks so event rendering keeps draining the subscription.
type promptQueue struct {
	mu     sync.Mutex
	items  []model.JobNeedsOverwritePayload
	closed bool
	wake   chan struct{}
}

func newPromptQueue() *promptQueue {
	return &promptQueue{wake: make(chan struct{}, 1)}
}

func (q *promptQueue) push(p model.JobNeedsOverwritePayload) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.signal()
}

func (q *promptQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *promptQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until a prompt is queued. It reports false once the queue is
// closed and empty.
func (q *promptQueue) next() (model.JobNeedsOverwritePayload, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return p, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return model.JobNeedsOverwritePayload{}, false
		}
		<-q.wake
	}
}
