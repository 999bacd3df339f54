package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "xgenc-test", Version: "1.2.3", Format: "json"})
	t.Cleanup(func() { Configure(Config{Format: "json"}) })

	l := WithComponent("session")
	l.Debug().Str(FieldEvent, "session.started").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "xgenc-test", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "session", entry[FieldComponent])
	assert.Equal(t, "session.started", entry[FieldEvent])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestConfigureConsole(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Format: "console"})
	t.Cleanup(func() { Configure(Config{Format: "json"}) })

	L().Info().Msg("human readable")
	out := buf.String()
	assert.Contains(t, out, "human readable")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "console output must not be JSON")
}

func TestUseConsoleAutoWithBuffer(t *testing.T) {
	assert.False(t, useConsole("auto", &bytes.Buffer{}))
	assert.True(t, useConsole("console", &bytes.Buffer{}))
	assert.False(t, useConsole("json", &bytes.Buffer{}))
}
