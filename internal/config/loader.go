// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/xgenc/internal/session/model"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty configPath means
// defaults plus environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file the loader reads, if any.
func (l *Loader) Path() string {
	return l.configPath
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Parse file (strict), apply env, validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields are a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies XGENC_* overrides.
func mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)
	cfg.DefaultProfile = ParseString(EnvDefaultProfile, cfg.DefaultProfile)

	cfg.Server.ListenAddr = ParseString(EnvListenAddr, cfg.Server.ListenAddr)
	cfg.Server.RateLimitRPM = ParseInt(EnvRateLimitRPM, cfg.Server.RateLimitRPM)
	cfg.Server.ShutdownTimeout = ParseDuration(EnvShutdownTimeout, cfg.Server.ShutdownTimeout)

	cfg.Log.Level = ParseString(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Format = ParseString(EnvLogFormat, cfg.Log.Format)

	cfg.Encoders.NVEncC = ParseString(EnvNVEncCBin, cfg.Encoders.NVEncC)
	cfg.Encoders.QSVEncC = ParseString(EnvQSVEncCBin, cfg.Encoders.QSVEncC)
	cfg.Encoders.FFmpeg = ParseString(EnvFFmpegBin, cfg.Encoders.FFmpeg)

	cfg.Telemetry.Enabled = ParseBool(EnvTracingEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(EnvTracingExporter, cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(EnvTracingEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(EnvTracingSampleRate, cfg.Telemetry.SamplingRate)

	s := &cfg.Session
	s.MaxConcurrentJobs = ParseInt(EnvMaxConcurrentJobs, s.MaxConcurrentJobs)
	s.OnError = model.OnError(ParseString(EnvOnError, string(s.OnError)))
	s.DecoderFallback = ParseBool(EnvDecoderFallback, s.DecoderFallback)
	s.KeepFailedTemp = ParseBool(EnvKeepFailedTemp, s.KeepFailedTemp)
	s.NoOutputTimeoutSec = ParseInt(EnvNoOutputTimeout, s.NoOutputTimeoutSec)
	s.NoProgressTimeoutSec = ParseInt(EnvNoProgressTimeout, s.NoProgressTimeoutSec)
	s.PostCompleteAction = model.PostAction(ParseString(EnvPostAction, string(s.PostCompleteAction)))
	s.PostCompleteCommand = ParseString(EnvPostCommand, s.PostCompleteCommand)
	if folder := ParseString(EnvOutputFolder, ""); folder != "" {
		s.Output.FolderMode = model.FolderSpecified
		s.Output.FolderPath = folder
	}
	s.Output.NameTemplate = ParseString(EnvOutputTemplate, s.Output.NameTemplate)
	s.Output.Container = ParseString(EnvOutputContainer, s.Output.Container)
	s.Overwrite.Mode = model.OverwriteMode(ParseString(EnvOverwriteMode, string(s.Overwrite.Mode)))
	s.Overwrite.TimeoutSec = ParseInt(EnvOverwriteTimeout, s.Overwrite.TimeoutSec)
}
