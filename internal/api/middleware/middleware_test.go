// SPDX-License-Identifier: MIT

package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func TestRateLimitEnforcesLimit(t *testing.T) {
	limited := RateLimit(RateLimitConfig{RequestLimit: 3, WindowSize: time.Minute})(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	limited.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(429), body["status"])
	assert.Equal(t, "/api/v1/sessions", body["instance"])

	other := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	other.RemoteAddr = "192.168.1.2:12345"
	w = httptest.NewRecorder()
	limited.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per client")
}

func TestControlRateLimitDisabled(t *testing.T) {
	h := ControlRateLimit(0)(okHandler())
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestStackAppliesHeadersAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := NewRouter(StackConfig{EnableSecurityHeaders: true, EnableMetrics: true, Logger: &logger})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("pong")) })
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DefaultCSP, w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, buf.String(), `"event":"http.request"`)
	assert.Contains(t, buf.String(), `"request_id"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestShouldTraceSkipsNoise(t *testing.T) {
	for path, want := range map[string]bool{
		"/healthz":                 false,
		"/metrics":                 false,
		"/api/v1/events":           false,
		"/api/v1/sessions/current": true,
		"/api/v1/sessions/x/abort": true,
	} {
		assert.Equal(t, want, shouldTrace(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}
	assert.Equal(t, "GET /a", spanNameFormatter("ignored", httptest.NewRequest(http.MethodGet, "/a?token=x", nil)))
}
