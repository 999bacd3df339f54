// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/xgenc/internal/log"
	"github.com/rs/zerolog"
)

// Environment keys. All of them override the file value when set and non-empty.
const (
	EnvDataDir           = "XGENC_DATA_DIR"
	EnvDefaultProfile    = "XGENC_DEFAULT_PROFILE"
	EnvListenAddr        = "XGENC_LISTEN_ADDR"
	EnvRateLimitRPM      = "XGENC_RATE_LIMIT_RPM"
	EnvShutdownTimeout   = "XGENC_SHUTDOWN_TIMEOUT"
	EnvLogLevel          = "XGENC_LOG_LEVEL"
	EnvLogFormat         = "XGENC_LOG_FORMAT"
	EnvNVEncCBin         = "XGENC_NVENCC_BIN"
	EnvQSVEncCBin        = "XGENC_QSVENCC_BIN"
	EnvFFmpegBin         = "XGENC_FFMPEG_BIN"
	EnvTracingEnabled    = "XGENC_TRACING_ENABLED"
	EnvTracingExporter   = "XGENC_TRACING_EXPORTER"
	EnvTracingEndpoint   = "XGENC_TRACING_ENDPOINT"
	EnvTracingSampleRate = "XGENC_TRACING_SAMPLE_RATE"
	EnvMaxConcurrentJobs = "XGENC_MAX_CONCURRENT_JOBS"
	EnvOnError           = "XGENC_ON_ERROR"
	EnvDecoderFallback   = "XGENC_DECODER_FALLBACK"
	EnvKeepFailedTemp    = "XGENC_KEEP_FAILED_TEMP"
	EnvNoOutputTimeout   = "XGENC_NO_OUTPUT_TIMEOUT_SEC"
	EnvNoProgressTimeout = "XGENC_NO_PROGRESS_TIMEOUT_SEC"
	EnvPostAction        = "XGENC_POST_COMPLETE_ACTION"
	EnvPostCommand       = "XGENC_POST_COMPLETE_COMMAND"
	EnvOutputFolder      = "XGENC_OUTPUT_FOLDER"
	EnvOutputTemplate    = "XGENC_OUTPUT_TEMPLATE"
	EnvOutputContainer   = "XGENC_OUTPUT_CONTAINER"
	EnvOverwriteMode     = "XGENC_OVERWRITE_MODE"
	EnvOverwriteTimeout  = "XGENC_OVERWRITE_TIMEOUT_SEC"
)

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	if strings.Contains(strings.ToLower(key), "command") {
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from environment variable or returns default value.
// It falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	return f
}
