// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/ManuGH/xgenc/internal/telemetry"
)

// AppConfig is the complete daemon and CLI configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir        string           `yaml:"data_dir"`
	DefaultProfile string           `yaml:"default_profile"`
	Server         ServerConfig     `yaml:"server"`
	Log            LogConfig        `yaml:"log"`
	Encoders       profile.Binaries `yaml:"encoders"`
	Telemetry      telemetry.Config `yaml:"telemetry"`
	Session        SessionConfig    `yaml:"session"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// RateLimitRPM caps control requests per client IP and minute. 0 disables it.
	RateLimitRPM    int           `yaml:"rate_limit_rpm"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json or console
}

// SessionConfig is the execution policy handed to every new session.
type SessionConfig struct {
	MaxConcurrentJobs    int              `yaml:"max_concurrent_jobs"`
	OnError              model.OnError    `yaml:"on_error"`
	DecoderFallback      bool             `yaml:"decoder_fallback"`
	KeepFailedTemp       bool             `yaml:"keep_failed_temp"`
	NoOutputTimeoutSec   int              `yaml:"no_output_timeout_sec"`
	NoProgressTimeoutSec int              `yaml:"no_progress_timeout_sec"`
	PostCompleteAction   model.PostAction `yaml:"post_complete_action"`
	PostCompleteCommand  string           `yaml:"post_complete_command"`
	Output               OutputConfig     `yaml:"output"`
	Overwrite            OverwriteConfig  `yaml:"overwrite"`
}

type OutputConfig struct {
	FolderMode   model.FolderMode `yaml:"folder_mode"`
	FolderPath   string           `yaml:"folder_path"`
	NameTemplate string           `yaml:"name_template"`
	Container    string           `yaml:"container"`
}

type OverwriteConfig struct {
	Mode       model.OverwriteMode `yaml:"mode"`
	TimeoutSec int                 `yaml:"timeout_sec"`
}

// Snapshot converts the session policy into the immutable form a session
// is started with.
func (c SessionConfig) Snapshot() model.ConfigSnapshot {
	return model.ConfigSnapshot{
		MaxConcurrentJobs:    c.MaxConcurrentJobs,
		OnError:              c.OnError,
		DecoderFallback:      c.DecoderFallback,
		KeepFailedTemp:       c.KeepFailedTemp,
		NoOutputTimeoutSec:   c.NoOutputTimeoutSec,
		NoProgressTimeoutSec: c.NoProgressTimeoutSec,
		PostCompleteAction:   c.PostCompleteAction,
		PostCompleteCommand:  c.PostCompleteCommand,
		OutputFolderMode:     c.Output.FolderMode,
		OutputFolderPath:     c.Output.FolderPath,
		OutputNameTemplate:   c.Output.NameTemplate,
		OutputContainer:      c.Output.Container,
		OverwriteMode:        c.Overwrite.Mode,
		OverwriteTimeoutSec:  c.Overwrite.TimeoutSec,
	}
}

// RuntimeDir holds the instance lock and the temp-artifact index.
func (c AppConfig) RuntimeDir() string {
	return filepath.Join(c.DataDir, "runtime")
}

// TempIndexPath is the location of the temp-artifact index.
func (c AppConfig) TempIndexPath() string {
	return filepath.Join(c.RuntimeDir(), "temp_index.json")
}

// LogsDir holds per-job encoder logs and job records.
func (c AppConfig) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// Defaults returns the configuration used when neither file nor environment
// set a value.
func Defaults() AppConfig {
	s := model.DefaultConfigSnapshot()
	return AppConfig{
		DataDir:        defaultDataDir(),
		DefaultProfile: "preset-nvencc-hevc-quality",
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8765",
			RateLimitRPM:    600,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Encoders: profile.DefaultBinaries(),
		Telemetry: telemetry.Config{
			ServiceName:  "xgenc",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Session: SessionConfig{
			MaxConcurrentJobs:    s.MaxConcurrentJobs,
			OnError:              s.OnError,
			DecoderFallback:      s.DecoderFallback,
			KeepFailedTemp:       s.KeepFailedTemp,
			NoOutputTimeoutSec:   s.NoOutputTimeoutSec,
			NoProgressTimeoutSec: s.NoProgressTimeoutSec,
			PostCompleteAction:   s.PostCompleteAction,
			Output: OutputConfig{
				FolderMode:   s.OutputFolderMode,
				NameTemplate: s.OutputNameTemplate,
				Container:    s.OutputContainer,
			},
			Overwrite: OverwriteConfig{
				Mode:       s.OverwriteMode,
				TimeoutSec: s.OverwriteTimeoutSec,
			},
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "xgenc")
	}
	return ".xgenc"
}
