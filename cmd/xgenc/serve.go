// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/xgenc/internal/api"
	"github.com/ManuGH/xgenc/internal/config"
	"github.com/ManuGH/xgenc/internal/detector"
	"github.com/ManuGH/xgenc/internal/health"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the encode daemon with its HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			return runServe(cmd.Context(), cfg, cc.loader)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen_addr")
	return cmd
}

func runServe(parent context.Context, cfg config.AppConfig, loader *config.Loader) error {
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg, loader)

	tel := cfg.Telemetry
	tel.ServiceVersion = version
	provider, err := telemetry.NewProvider(ctx, tel)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "telemetry.shutdown_failed").Msg("tracer shutdown failed")
		}
	}()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return err
	}

	encoders := func() profile.Binaries { return holder.Get().Encoders }
	orch, err := openOrchestrator(cfg, encoders, xglog.Base())
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	checks := health.NewManager(version)
	checks.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	checks.RegisterChecker(health.NewEncoderChecker(encoders))
	checks.RegisterChecker(health.NewSessionChecker(orch.manager.Current))

	tracingService := ""
	if tel.Enabled {
		tracingService = tel.ServiceName
	}
	apiServer := api.New(api.Deps{
		Sessions:       orch.manager,
		Events:         orch.manager.Bus(),
		Defaults:       holder,
		Health:         checks,
		Tools:          detector.New(encoders, xglog.Base()),
		Logger:         xglog.Base(),
		Version:        version,
		RateLimitRPM:   cfg.Server.RateLimitRPM,
		TracingService: tracingService,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.ListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := holder.StartWatcher(gctx); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watch_failed").Msg("config file watching disabled")
	}
	holder.WatchSignals(gctx)

	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-reloads:
				// Session settings apply to the next session on their own.
				configureLogging(next.Log.Level, next.Log.Format)
				logger.Info().
					Str(xglog.FieldEvent, "config.applied").
					Str("log_level", next.Log.Level).
					Msg("configuration reloaded")
			}
		}
	})

	g.Go(func() error {
		logger.Info().
			Str(xglog.FieldEvent, "daemon.listening").
			Str("addr", ln.Addr().String()).
			Str("version", version).
			Msg("control API listening")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str(xglog.FieldEvent, "daemon.shutdown").Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := orch.manager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		}
		apiServer.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
