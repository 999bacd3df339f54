// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/xgenc/internal/api/middleware"
	"github.com/ManuGH/xgenc/internal/detector"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
)

const maxBodyBytes = 1 << 20

// startSessionRequest starts a session. Inputs is shorthand for jobs with
// generated ids. Config holds overrides on top of the configured policy.
type startSessionRequest struct {
	Jobs      []session.JobSpec `json:"jobs"`
	Inputs    []string          `json:"inputs"`
	ProfileID string            `json:"profile_id"`
	Profile   *model.Profile    `json:"profile"`
	Config    json.RawMessage   `json:"config"`
}

type overwriteRequest struct {
	Decision model.OverwriteDecision `json:"decision"`
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", session.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", session.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) resolveProfile(req startSessionRequest) (model.Profile, error) {
	if req.Profile != nil {
		if err := profile.Validate(*req.Profile); err != nil {
			return model.Profile{}, err
		}
		return *req.Profile, nil
	}
	id := req.ProfileID
	if id == "" {
		id = s.deps.Defaults.DefaultProfileID()
	}
	p, ok := profile.Lookup(id)
	if !ok {
		return model.Profile{}, fmt.Errorf("%w: unknown profile %q", session.ErrInvalidInput, id)
	}
	return p, nil
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	jobs := req.Jobs
	for _, in := range req.Inputs {
		jobs = append(jobs, session.JobSpec{InputPath: in})
	}

	cfg := s.deps.Defaults.Snapshot()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: config: %v", session.ErrInvalidInput, err))
			return
		}
	}
	if err := cfg.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.resolveProfile(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.deps.Sessions.StartSession(r.Context(), session.StartRequest{Jobs: jobs, Profile: p, Config: cfg})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	middleware.AddSpanAttributes(r, attribute.String("xgenc.session.id", snap.Session.ID))
	l := xglog.WithContext(r.Context(), s.logger)
	l.Info().
		Str(xglog.FieldEvent, "api.session_started").
		Str(xglog.FieldSessionID, snap.Session.ID).
		Str(xglog.FieldProfile, p.ID).
		Int("total_jobs", snap.Session.TotalJobs).
		Msg("session started via API")
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Sessions.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePendingOverwrites(w http.ResponseWriter, _ *http.Request) {
	pending := s.deps.Sessions.PendingOverwrites()
	if pending == nil {
		pending = []model.OverwriteRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// command runs a session-level control operation and answers 202.
func (s *Server) command(op func(sessionID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(chi.URLParam(r, "sessionID")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.command(s.deps.Sessions.RequestGracefulStop)(w, r)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.command(s.deps.Sessions.Resume)(w, r)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.command(s.deps.Sessions.RequestAbort)(w, r)
}

func (s *Server) jobCommand(op func(sessionID, jobID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(chi.URLParam(r, "sessionID"), chi.URLParam(r, "jobID")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleSkipJob(w http.ResponseWriter, r *http.Request) {
	s.jobCommand(s.deps.Sessions.SkipJob)(w, r)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobCommand(s.deps.Sessions.CancelJob)(w, r)
}

func (s *Server) handleOverwrite(w http.ResponseWriter, r *http.Request) {
	var req overwriteRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jobCommand(func(sid, jid string) error {
		return s.deps.Sessions.ResolveOverwrite(sid, jid, req.Decision)
	})(w, r)
}

type encodersResponse struct {
	Encoders []detector.ToolInfo `json:"encoders"`
	GPU      *detector.GPUInfo   `json:"gpu,omitempty"`
	GPUError string              `json:"gpu_error,omitempty"`
}

// handleEncoders reports encoder detection. ?gpu=true adds NVEncC's device
// and feature checks, whose failure is reported in the body.
func (s *Server) handleEncoders(w http.ResponseWriter, r *http.Request) {
	resp := encodersResponse{Encoders: s.deps.Tools.DetectAll(r.Context())}
	if r.URL.Query().Get("gpu") == "true" {
		gpu, err := s.deps.Tools.GPUInfo(r.Context())
		if err != nil {
			resp.GPUError = err.Error()
		} else {
			resp.GPU = &gpu
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, profile.Presets())
}
