// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package postaction runs the configured action after a session completes.
package postaction

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/rs/zerolog"
)

var ErrUnsupported = errors.New("post action not supported on this platform")

const defaultTimeout = 2 * time.Minute

// CommandFunc runs one external command to completion.
type CommandFunc func(ctx context.Context, name string, args ...string) error

// Runner executes post-complete actions.
type Runner struct {
	Logger  zerolog.Logger
	Timeout time.Duration
	Command CommandFunc
}

func New(logger zerolog.Logger) *Runner {
	return &Runner{
		Logger:  logger.With().Str("component", "postaction").Logger(),
		Timeout: defaultTimeout,
		Command: runCommand,
	}
}

// Run performs action. PostActionNone is a no-op.
func (r *Runner) Run(ctx context.Context, action model.PostAction, custom string) error {
	if action == "" || action == model.PostActionNone {
		return nil
	}
	argv, err := argvFor(action, custom)
	if err != nil {
		return err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.Command
	if cmd == nil {
		cmd = runCommand
	}
	r.Logger.Info().Str("event", "postaction.start").Str("action", string(action)).Strs("argv", argv).Msg("running post-complete action")
	if err := cmd(ctx, argv[0], argv[1:]...); err != nil {
		r.Logger.Error().Err(err).Str("event", "postaction.failed").Str("action", string(action)).Msg("post-complete action failed")
		return fmt.Errorf("post action %s: %w", action, err)
	}
	r.Logger.Info().Str("event", "postaction.done").Str("action", string(action)).Msg("post-complete action finished")
	return nil
}

func argvFor(action model.PostAction, custom string) ([]string, error) {
	switch action {
	case model.PostActionShutdown:
		return shutdownArgv()
	case model.PostActionSleep:
		return sleepArgv()
	case model.PostActionCustom:
		if strings.TrimSpace(custom) == "" {
			return nil, errors.New("post_complete_command is empty")
		}
		return shellArgv(custom), nil
	default:
		return nil, fmt.Errorf("unknown post action: %s", action)
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return err
}
