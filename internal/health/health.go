// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for the daemon.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session/model"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	checks := make(map[string]CheckResult, len(m.checkers))
	overall := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return checks, overall
}

// Health performs a liveness check. Component checks only run when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.run(ctx)
	}
	return resp
}

// Ready reports whether the daemon can accept a new session. Any unhealthy
// component makes it not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.run(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// EncoderChecker resolves the configured encoder executables. Some missing
// is degraded, all missing is unhealthy.
type EncoderChecker struct {
	binaries func() profile.Binaries
	lookPath func(string) (string, error)
}

// NewEncoderChecker creates a checker over the binaries current at check time.
func NewEncoderChecker(binaries func() profile.Binaries) *EncoderChecker {
	return &EncoderChecker{binaries: binaries, lookPath: exec.LookPath}
}

func (c *EncoderChecker) Name() string {
	return "encoders"
}

func (c *EncoderChecker) Check(context.Context) CheckResult {
	missing := MissingEncoders(c.binaries(), c.lookPath)
	switch len(missing) {
	case 0:
		return CheckResult{Status: StatusHealthy, Message: "all encoders found"}
	case len(encoderTypes):
		return CheckResult{Status: StatusUnhealthy, Error: "no encoder executable found", Message: strings.Join(missing, ", ")}
	default:
		return CheckResult{Status: StatusDegraded, Message: "not found: " + strings.Join(missing, ", ")}
	}
}

var encoderTypes = []model.EncoderType{model.EncoderNVEncC, model.EncoderQSVEncC, model.EncoderFFmpeg}

// MissingEncoders lists "type (path)" for every encoder lookPath cannot resolve.
func MissingEncoders(bins profile.Binaries, lookPath func(string) (string, error)) []string {
	var missing []string
	for _, t := range encoderTypes {
		bin, err := bins.For(t)
		if err == nil {
			_, err = lookPath(bin)
		}
		if err != nil {
			missing = append(missing, string(t)+" ("+bin+")")
		}
	}
	return missing
}

// DirChecker checks that a directory exists and is writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string {
	return c.name
}

func (c *DirChecker) Check(context.Context) CheckResult {
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

// SessionChecker reports the state of the current session. An aborting
// session is degraded; nothing here is ever unhealthy.
type SessionChecker struct {
	current func() (model.Snapshot, error)
}

// NewSessionChecker creates a checker over the session manager's Current.
func NewSessionChecker(current func() (model.Snapshot, error)) *SessionChecker {
	return &SessionChecker{current: current}
}

func (c *SessionChecker) Name() string {
	return "session"
}

func (c *SessionChecker) Check(context.Context) CheckResult {
	snap, err := c.current()
	if err != nil {
		return CheckResult{Status: StatusHealthy, Message: "idle"}
	}
	s := snap.Session
	if s.State == model.SessionAborting {
		return CheckResult{Status: StatusDegraded, Message: "session " + s.ID + " is aborting"}
	}
	return CheckResult{Status: StatusHealthy, Message: "session " + s.ID + " " + string(s.State)}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "check", Path: path, Err: errNotDir}
	}
	f, err := os.CreateTemp(path, ".write_test")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
