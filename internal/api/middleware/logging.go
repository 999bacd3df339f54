// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	xglog "github.com/ManuGH/xgenc/internal/log"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logging logs one line per request with status and latency. The request
// id from chi's RequestID middleware is put on the context for handlers.
func Logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if id := chimw.GetReqID(ctx); id != "" {
				ctx = xglog.ContextWithRequestID(ctx, id)
				r = r.WithContext(ctx)
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			l := xglog.WithContext(ctx, logger)
			ev := l.Debug()
			switch {
			case status >= 500:
				ev = l.Error()
			case status >= 400:
				ev = l.Info()
			}
			ev.Str(xglog.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(xglog.FieldPath, r.URL.Path).
				Int(xglog.FieldStatus, status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request served")
		})
	}
}
