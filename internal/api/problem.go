// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session"
	"github.com/ManuGH/xgenc/internal/session/model"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// problemFor maps orchestrator errors onto HTTP problems.
func problemFor(err error) Problem {
	var fields model.FieldErrors
	switch {
	case errors.As(err, &fields):
		return Problem{Type: "/problems/invalid-config", Title: "Invalid configuration", Status: http.StatusBadRequest, Detail: err.Error(), Errors: fields}
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, profile.ErrInvalidProfile):
		return Problem{Type: "/problems/invalid-input", Title: "Invalid input", Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.Is(err, session.ErrAlreadyRunning):
		return Problem{Type: "/problems/session-running", Title: "Session already running", Status: http.StatusConflict, Detail: err.Error()}
	case errors.Is(err, session.ErrNotApplicable):
		return Problem{Type: "/problems/not-applicable", Title: "Not applicable", Status: http.StatusConflict, Detail: err.Error()}
	case errors.Is(err, session.ErrNoActiveSession):
		return Problem{Type: "/problems/no-session", Title: "No such session", Status: http.StatusNotFound, Detail: err.Error()}
	}
	return Problem{Status: http.StatusInternalServerError, Detail: "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	if p.Status >= http.StatusInternalServerError {
		l := xglog.WithContext(r.Context(), s.logger)
		l.Error().Err(err).
			Str(xglog.FieldEvent, "api.internal_error").
			Str(xglog.FieldPath, r.URL.Path).
			Msg("request failed")
	}
	writeProblem(w, r, p)
}
