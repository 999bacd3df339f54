// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package config

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	xglog "github.com/ManuGH/xgenc/internal/log"
)

// WatchSignals reloads the configuration on SIGHUP until ctx is done.
func (h *Holder) WatchSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				h.logger.Info().Str(xglog.FieldEvent, "config.sighup").Msg("SIGHUP received")
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Str(xglog.FieldEvent, "config.sighup_reload_failed").Msg("config reload on SIGHUP failed")
				}
			}
		}
	}()
}
