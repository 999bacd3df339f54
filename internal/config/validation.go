// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/ManuGH/xgenc/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
// Failures are reported as a validate.ValidationError.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("data_dir", cfg.DataDir, false)
	if cfg.DefaultProfile != "" {
		if _, ok := profile.Lookup(cfg.DefaultProfile); !ok {
			v.AddError("default_profile", "unknown preset", cfg.DefaultProfile)
		}
	}

	v.ListenAddr("server.listen_addr", cfg.Server.ListenAddr)
	v.Range("server.rate_limit_rpm", cfg.Server.RateLimitRPM, 0, 100000)
	if cfg.Server.ShutdownTimeout <= 0 {
		v.AddError("server.shutdown_timeout", "must be positive", cfg.Server.ShutdownTimeout.String())
	}

	v.OneOf("log.level", cfg.Log.Level, validate.LogLevels)
	v.OneOf("log.format", cfg.Log.Format, []string{"auto", "json", "console"})

	v.NotEmpty("encoders.nvencc", cfg.Encoders.NVEncC)
	v.NotEmpty("encoders.qsvencc", cfg.Encoders.QSVEncC)
	v.NotEmpty("encoders.ffmpeg", cfg.Encoders.FFmpeg)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if r := cfg.Telemetry.SamplingRate; r < 0 || r > 1 {
			v.AddError("telemetry.sampling_rate", fmt.Sprintf("must be between 0 and 1, got %g", r), r)
		}
	}

	if err := cfg.Session.Snapshot().Validate(); err != nil {
		var fe model.FieldErrors
		if errors.As(err, &fe) {
			keys := make([]string, 0, len(fe))
			for k := range fe {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v.AddError("session."+sessionYAMLKey(k), fe[k], nil)
			}
		} else {
			v.AddError("session", err.Error(), nil)
		}
	}

	return v.Err()
}

// sessionYAMLKey maps a snapshot field to its nested YAML location.
func sessionYAMLKey(field string) string {
	switch field {
	case "output_folder_mode":
		return "output.folder_mode"
	case "output_folder_path":
		return "output.folder_path"
	case "output_name_template":
		return "output.name_template"
	case "output_container":
		return "output.container"
	case "overwrite_mode":
		return "overwrite.mode"
	case "overwrite_timeout_sec":
		return "overwrite.timeout_sec"
	}
	return field
}
