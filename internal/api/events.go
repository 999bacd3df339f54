// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/session"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/gorilla/websocket"
)

// EventSnapshot is the first message of every stream when a session exists.
// Its payload is a model.Snapshot; later events carry higher sequence numbers.
const EventSnapshot model.EventType = "snapshot"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return slices.Contains(s.deps.AllowedOrigins, origin)
}

// handleEvents streams session events over a websocket until the client
// goes away or the server closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.quit:
		writeProblem(w, r, Problem{Status: http.StatusServiceUnavailable, Detail: "server is shutting down"})
		return
	default:
	}
	s.streams.Add(1)
	defer s.streams.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before taking the snapshot so no event falls in between.
	sub, err := s.deps.Events.Subscribe(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = sub.Close() }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		return
	}
	defer func() { _ = conn.Close() }()

	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Debug().Str(xglog.FieldEvent, "api.stream_opened").Str("remote", r.RemoteAddr).Msg("event stream opened")

	if snap, err := s.deps.Sessions.Current(); err == nil {
		msg := model.Event{
			Type:      EventSnapshot,
			SessionID: snap.Session.ID,
			At:        time.Now().UTC(),
			Payload:   snap,
		}
		if err := writeEvent(conn, msg); err != nil {
			return
		}
	} else if !errors.Is(err, session.ErrNoActiveSession) {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "api.stream_snapshot_failed").Msg("could not load snapshot")
	}

	// The reader only drains control frames and notices the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				// Evicted by the bus: the client missed events and must resync.
				logger.Warn().Str(xglog.FieldEvent, "api.stream_lagged").Msg("event stream fell behind, closing")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream lagged"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			logger.Debug().Str(xglog.FieldEvent, "api.stream_closed").Msg("event stream closed by client")
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev model.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
