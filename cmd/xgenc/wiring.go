// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/ManuGH/xgenc/internal/bus"
	"github.com/ManuGH/xgenc/internal/config"
	"github.com/ManuGH/xgenc/internal/instance"
	"github.com/ManuGH/xgenc/internal/joblog"
	"github.com/ManuGH/xgenc/internal/output"
	"github.com/ManuGH/xgenc/internal/postaction"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/rs/zerolog"
)

const eventBufferSize = 256

// encoderBinaries returns the encoder executables for the next session.
type encoderBinaries func() profile.Binaries

// liveBuilder builds command lines with the encoder paths current at session
// start, so a reload that changes them applies to the next job spawned.
type liveBuilder struct {
	bins encoderBinaries
}

func (b liveBuilder) BuildArgs(p model.Profile, cfg model.ConfigSnapshot, input, out string) ([]string, error) {
	return profile.NewBuilder(b.bins()).BuildArgs(p, cfg, input, out)
}

func (b liveBuilder) FallbackArgs(p model.Profile, cfg model.ConfigSnapshot, input, out string) ([]string, bool, error) {
	return profile.NewBuilder(b.bins()).FallbackArgs(p, cfg, input, out)
}

// orchestrator bundles what both serve and run need to own the runtime
// directory and execute sessions.
type orchestrator struct {
	lock    *instance.Lock
	temps   *output.TempIndex
	manager *session.Manager
}

func openOrchestrator(cfg config.AppConfig, bins encoderBinaries, logger zerolog.Logger) (*orchestrator, error) {
	lock, err := instance.Acquire(cfg.RuntimeDir())
	if err != nil {
		return nil, err
	}

	temps, err := output.OpenTempIndex(cfg.TempIndexPath(), logger)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open temp index: %w", err)
	}
	if n, err := temps.Sweep(); err != nil {
		logger.Warn().Err(err).Str("event", "startup.temp_sweep_failed").Msg("could not clean stale temp outputs")
	} else if n > 0 {
		logger.Info().Int("removed", n).Str("event", "startup.temp_sweep").Msg("removed temp outputs left by a previous run")
	}

	mgr := session.New(session.Deps{
		Bus:     bus.NewMemoryBus[model.Event]("session_events", eventBufferSize),
		Builder: liveBuilder{bins: bins},
		Temps:   temps,
		JobLogs: joblog.New(cfg.LogsDir(), version),
		Post:    postaction.New(logger),
		Logger:  logger,
	})
	return &orchestrator{lock: lock, temps: temps, manager: mgr}, nil
}

func (o *orchestrator) Close() error {
	return o.lock.Release()
}
