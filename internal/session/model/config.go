package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type OnError string

const (
	OnErrorSkip OnError = "skip"
	OnErrorStop OnError = "stop"
)

type PostAction string

const (
	PostActionNone     PostAction = "none"
	PostActionShutdown PostAction = "shutdown"
	PostActionSleep    PostAction = "sleep"
	PostActionCustom   PostAction = "custom"
)

type FolderMode string

const (
	FolderSameAsInput FolderMode = "same_as_input"
	FolderSpecified   FolderMode = "specified"
)

type OverwriteMode string

const (
	OverwriteAsk        OverwriteMode = "ask"
	OverwriteAutoRename OverwriteMode = "auto_rename"
)

const (
	MaxConcurrentJobsLimit = 8
	MaxTimeoutSec          = 86400
	MaxTemplateLen         = 255
)

// ConfigSnapshot is the execution policy copied into a session at start.
// A zero timeout disables the corresponding check.
type ConfigSnapshot struct {
	MaxConcurrentJobs    int           `json:"max_concurrent_jobs"`
	OnError              OnError       `json:"on_error"`
	DecoderFallback      bool          `json:"decoder_fallback"`
	KeepFailedTemp       bool          `json:"keep_failed_temp"`
	NoOutputTimeoutSec   int           `json:"no_output_timeout_sec"`
	NoProgressTimeoutSec int           `json:"no_progress_timeout_sec"`
	PostCompleteAction   PostAction    `json:"post_complete_action"`
	PostCompleteCommand  string        `json:"post_complete_command,omitempty"`
	OutputFolderMode     FolderMode    `json:"output_folder_mode"`
	OutputFolderPath     string        `json:"output_folder_path,omitempty"`
	OutputNameTemplate   string        `json:"output_name_template"`
	OutputContainer      string        `json:"output_container,omitempty"`
	OverwriteMode        OverwriteMode `json:"overwrite_mode"`
	OverwriteTimeoutSec  int           `json:"overwrite_timeout_sec"`
}

// DefaultConfigSnapshot returns the stock execution policy.
func DefaultConfigSnapshot() ConfigSnapshot {
	return ConfigSnapshot{
		MaxConcurrentJobs:    1,
		OnError:              OnErrorSkip,
		NoOutputTimeoutSec:   600,
		NoProgressTimeoutSec: 300,
		PostCompleteAction:   PostActionNone,
		OutputFolderMode:     FolderSameAsInput,
		OutputNameTemplate:   "{name}_encoded.{ext}",
		OutputContainer:      "mkv",
		OverwriteMode:        OverwriteAsk,
		OverwriteTimeoutSec:  600,
	}
}

func (c ConfigSnapshot) NoOutputTimeout() time.Duration {
	return time.Duration(c.NoOutputTimeoutSec) * time.Second
}

func (c ConfigSnapshot) NoProgressTimeout() time.Duration {
	return time.Duration(c.NoProgressTimeoutSec) * time.Second
}

func (c ConfigSnapshot) OverwriteTimeout() time.Duration {
	return time.Duration(c.OverwriteTimeoutSec) * time.Second
}

// FieldErrors maps a config field to what is wrong with it.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e[k]))
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks the structural rules every session relies on.
func (c ConfigSnapshot) Validate() error {
	errs := FieldErrors{}
	if c.MaxConcurrentJobs < 1 || c.MaxConcurrentJobs > MaxConcurrentJobsLimit {
		errs["max_concurrent_jobs"] = fmt.Sprintf("must be 1..%d", MaxConcurrentJobsLimit)
	}
	if c.NoOutputTimeoutSec < 0 || c.NoOutputTimeoutSec > MaxTimeoutSec {
		errs["no_output_timeout_sec"] = fmt.Sprintf("must be 0..%d", MaxTimeoutSec)
	}
	if c.NoProgressTimeoutSec < 0 || c.NoProgressTimeoutSec > MaxTimeoutSec {
		errs["no_progress_timeout_sec"] = fmt.Sprintf("must be 0..%d", MaxTimeoutSec)
	}
	if c.OverwriteTimeoutSec < 0 || c.OverwriteTimeoutSec > MaxTimeoutSec {
		errs["overwrite_timeout_sec"] = fmt.Sprintf("must be 0..%d", MaxTimeoutSec)
	}
	if n := len(strings.TrimSpace(c.OutputNameTemplate)); n < 1 || n > MaxTemplateLen {
		errs["output_name_template"] = fmt.Sprintf("must be 1..%d characters", MaxTemplateLen)
	} else if !strings.Contains(c.OutputNameTemplate, "{name}") {
		errs["output_name_template"] = "must contain {name}"
	}
	switch c.OnError {
	case OnErrorSkip, OnErrorStop:
	default:
		errs["on_error"] = "must be skip or stop"
	}
	switch c.OverwriteMode {
	case OverwriteAsk, OverwriteAutoRename:
	default:
		errs["overwrite_mode"] = "must be ask or auto_rename"
	}
	switch c.OutputFolderMode {
	case FolderSameAsInput:
	case FolderSpecified:
		if strings.TrimSpace(c.OutputFolderPath) == "" {
			errs["output_folder_path"] = "required when output_folder_mode=specified"
		}
	default:
		errs["output_folder_mode"] = "must be same_as_input or specified"
	}
	switch c.PostCompleteAction {
	case PostActionNone, PostActionShutdown, PostActionSleep:
	case PostActionCustom:
		if strings.TrimSpace(c.PostCompleteCommand) == "" {
			errs["post_complete_command"] = "required when post_complete_action=custom"
		}
	default:
		errs["post_complete_action"] = "must be none, shutdown, sleep or custom"
	}
	if strings.ContainsAny(c.OutputContainer, `/\.`) {
		errs["output_container"] = "must be a bare extension"
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
