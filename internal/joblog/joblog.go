// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package joblog keeps the per-job operational files under the logs
// directory: the raw encoder output of every attempt and a JSON record of
// how the job ended.
package joblog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/google/renameio/v2"
)

// Store writes job files into one directory.
type Store struct {
	dir        string
	appVersion string
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir, appVersion string) *Store {
	return &Store{dir: dir, appVersion: appVersion}
}

// Dir returns the logs directory.
func (s *Store) Dir() string { return s.dir }

// OutputPath is the encoder log of a job. The decoder fallback attempt gets
// its own file.
func (s *Store) OutputPath(jobID string, retry bool) string {
	name := safeName(jobID)
	if retry {
		name += "_retry"
	}
	return filepath.Join(s.dir, name+".log")
}

// RecordPath is the JSON record of a job.
func (s *Store) RecordPath(jobID string) string {
	return filepath.Join(s.dir, safeName(jobID)+".json")
}

// OpenOutput truncates and opens the encoder log for one attempt.
func (s *Store) OpenOutput(jobID string, retry bool) (io.WriteCloser, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(s.OutputPath(jobID, retry), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open encoder log: %w", err)
	}
	return f, nil
}

// WriteRecord atomically replaces the job's JSON record.
func (s *Store) WriteRecord(rec model.JobRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	rec.SchemaVersion = model.JobRecordSchemaVersion
	if rec.AppVersion == "" {
		rec.AppVersion = s.appVersion
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	if err := renameio.WriteFile(s.RecordPath(rec.JobID), append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// safeName keeps caller-chosen job ids from leaving the logs directory.
func safeName(jobID string) string {
	r := strings.NewReplacer("/", "_", `\`, "_", "..", "_")
	name := r.Replace(jobID)
	if name == "" || name == "." {
		return "_"
	}
	return name
}
