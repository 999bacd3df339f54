// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP control surface of the encode daemon.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/ManuGH/xgenc/internal/api/middleware"
	"github.com/ManuGH/xgenc/internal/bus"
	"github.com/ManuGH/xgenc/internal/detector"
	"github.com/ManuGH/xgenc/internal/health"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/session"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SessionService is the part of session.Manager the API drives.
type SessionService interface {
	StartSession(ctx context.Context, req session.StartRequest) (model.Snapshot, error)
	Current() (model.Snapshot, error)
	PendingOverwrites() []model.OverwriteRequest
	RequestGracefulStop(sessionID string) error
	Resume(sessionID string) error
	RequestAbort(sessionID string) error
	ResolveOverwrite(sessionID, jobID string, decision model.OverwriteDecision) error
	SkipJob(sessionID, jobID string) error
	CancelJob(sessionID, jobID string) error
}

// Defaults supplies the policy and profile for requests that omit them.
type Defaults interface {
	Snapshot() model.ConfigSnapshot
	DefaultProfileID() string
}

// ToolDetector reports the installed encoders.
type ToolDetector interface {
	DetectAll(ctx context.Context) []detector.ToolInfo
	GPUInfo(ctx context.Context) (detector.GPUInfo, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Sessions SessionService
	Events   *bus.MemoryBus[model.Event]
	Defaults Defaults
	// Health serves /healthz and /readyz. A nil Health gets a manager
	// without component checks.
	Health *health.Manager
	// Tools serves /api/v1/encoders. The route is absent when nil.
	Tools  ToolDetector
	Logger zerolog.Logger

	Version        string
	RateLimitRPM   int
	TracingService string
	// AllowedOrigins are browser origins allowed to open the event stream
	// besides same-host pages.
	AllowedOrigins []string
}

// Server serves the control API.
type Server struct {
	deps     Deps
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
	streams  sync.WaitGroup
}

// New returns a Server. Deps.Sessions, Deps.Events and Deps.Defaults are required.
func New(deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = health.NewManager(deps.Version)
	}
	s := &Server{
		deps:   deps,
		logger: deps.Logger.With().Str(xglog.FieldComponent, "api").Logger(),
		quit:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.deps.TracingService,
		Logger:                &s.logger,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/presets", s.handlePresets)
		r.Get("/events", s.handleEvents)
		if s.deps.Tools != nil {
			r.Get("/encoders", s.handleEncoders)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.ControlRateLimit(s.deps.RateLimitRPM))

			r.Post("/sessions", s.handleStartSession)
			r.Get("/sessions/current", s.handleCurrentSession)
			r.Get("/sessions/current/overwrites", s.handlePendingOverwrites)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Post("/stop", s.handleStop)
				r.Post("/resume", s.handleResume)
				r.Post("/abort", s.handleAbort)
				r.Post("/jobs/{jobID}/overwrite", s.handleOverwrite)
				r.Post("/jobs/{jobID}/skip", s.handleSkipJob)
				r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, Problem{Status: http.StatusNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, Problem{Status: http.StatusMethodNotAllowed})
	})
	return r
}

// Close ends all open event streams and waits for them to finish. The
// http.Server does not track hijacked connections, so the daemon calls this
// on shutdown.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.streams.Wait()
}
