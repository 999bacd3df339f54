// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package encoder spawns encoder executables and streams their output.
package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/metrics"
	"github.com/ManuGH/xgenc/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	// DiagnosticLines is how many trailing output lines a Handle retains.
	DiagnosticLines = 100

	defaultWaitDelay = 5 * time.Second
	maxLineBytes     = 1 << 20
)

// ErrEmptyCommand is returned when Start receives no argv.
var ErrEmptyCommand = errors.New("empty encoder command")

// Executor starts encoder processes in their own process group.
type Executor struct {
	Logger zerolog.Logger
	// Env, when set, replaces the process environment.
	Env []string
	// WaitDelay bounds how long Wait blocks on output pipes held by
	// orphaned children after the encoder itself exited.
	WaitDelay time.Duration
}

func NewExecutor(logger zerolog.Logger) *Executor {
	return &Executor{
		Logger:    logger,
		WaitDelay: defaultWaitDelay,
	}
}

// Start spawns argv[0] with argv[1:]. Stdout and stderr are merged and split
// on CR or LF so carriage-return status lines arrive one by one.
// The caller must drain Lines until it is closed.
func (e *Executor) Start(ctx context.Context, argv []string) (*Handle, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// #nosec G204 -- argv comes from the configured encoder profile
	cmd := exec.Command(argv[0], argv[1:]...)
	if e.Env != nil {
		cmd.Env = e.Env
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = e.WaitDelay
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		metrics.IncProcSpawn("error")
		return nil, fmt.Errorf("exec start failed: %w", err)
	}
	metrics.IncProcSpawn("ok")

	h := &Handle{
		cmd:      cmd,
		lines:    make(chan string, 256),
		done:     make(chan struct{}),
		waited:   make(chan struct{}),
		ring:     NewRingBuffer(DiagnosticLines),
		exitCode: -1,
		logger:   xglog.WithContext(ctx, e.Logger).With().Int(xglog.FieldPID, cmd.Process.Pid).Logger(),
	}

	go h.wait(pw)
	go h.monitor(pr)

	h.logger.Debug().Str(xglog.FieldEvent, "process.started").Strs(xglog.FieldArgv, argv).Msg("encoder process started")
	return h, nil
}

// Handle is one running encoder process.
type Handle struct {
	cmd    *exec.Cmd
	lines  chan string
	done   chan struct{}
	waited chan struct{}
	ring   *RingBuffer
	logger zerolog.Logger

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// Lines yields each non-empty output line. It is closed at EOF.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Done is closed once the process exited and all output was delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode is the process exit status, or -1 if it was killed by a signal
// or could not be waited for. Valid after Done.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Err returns a wait failure other than a non-zero exit.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Kill sends SIGKILL to the process group. It does not wait.
func (h *Handle) Kill() {
	procgroup.ForceKill(h.cmd)
}

// Terminate sends SIGTERM, escalating to SIGKILL after grace.
func (h *Handle) Terminate(grace time.Duration) error {
	return procgroup.Terminate(h.cmd, h.waited, grace)
}

// Diagnostics returns the retained trailing output lines.
func (h *Handle) Diagnostics() []string {
	return h.ring.GetAll()
}

// LastLine returns the most recent output line, or "".
func (h *Handle) LastLine() string {
	return h.ring.Last()
}

func (h *Handle) wait(pw *io.PipeWriter) {
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		h.waitErr = err
	}
	code := h.exitCode
	h.mu.Unlock()

	_ = pw.Close()
	close(h.waited)
	h.logger.Debug().Str(xglog.FieldEvent, "process.exited").Int(xglog.FieldExitCode, code).Msg("encoder process exited")
}

func (h *Handle) monitor(r *io.PipeReader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(ScanLinesCRLF)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		h.ring.Add(line)
		h.lines <- line
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn().Err(err).Str(xglog.FieldEvent, "process.output_overflow").Msg("discarding remaining encoder output")
		_, _ = io.Copy(io.Discard, r)
	}
	close(h.lines)
	<-h.waited
	close(h.done)
}
