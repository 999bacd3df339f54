// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// TempIndex persists the temp outputs of running jobs so a crashed process
// can clean them up on the next start.
type TempIndex struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]string // temp path -> session id
}

type tempIndexFile struct {
	Temps []tempIndexEntry `json:"temps"`
}

type tempIndexEntry struct {
	Path      string `json:"path"`
	SessionID string `json:"session_id"`
}

// OpenTempIndex loads the index at path. A missing file is an empty index.
func OpenTempIndex(path string, logger zerolog.Logger) (*TempIndex, error) {
	idx := &TempIndex{
		path:    path,
		logger:  logger.With().Str("component", "temp_index").Logger(),
		entries: make(map[string]string),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read temp index: %w", err)
	}
	var f tempIndexFile
	if err := json.Unmarshal(data, &f); err != nil {
		idx.logger.Warn().Err(err).Str("path", path).Msg("temp index unreadable, starting empty")
		return idx, nil
	}
	for _, e := range f.Temps {
		if e.Path != "" {
			idx.entries[e.Path] = e.SessionID
		}
	}
	return idx, nil
}

// Track records a temp output that is about to be written.
func (t *TempIndex) Track(sessionID, temp string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[temp] = sessionID
	return t.saveLocked()
}

// Untrack forgets a temp output after it was committed or removed.
func (t *TempIndex) Untrack(temp string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[temp]; !ok {
		return nil
	}
	delete(t.entries, temp)
	return t.saveLocked()
}

// Paths returns the tracked temp outputs in sorted order.
func (t *TempIndex) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries))
	for p := range t.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Sweep deletes every tracked temp output left behind by a previous run and
// empties the index. It returns how many files were removed.
func (t *TempIndex) Sweep() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for p := range t.entries {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
			t.logger.Info().Str("temp_output_path", p).Msg("removed stale temp output")
		case errors.Is(err, os.ErrNotExist):
		default:
			t.logger.Warn().Err(err).Str("temp_output_path", p).Msg("failed to remove stale temp output")
			continue
		}
		delete(t.entries, p)
	}
	return removed, t.saveLocked()
}

func (t *TempIndex) saveLocked() error {
	f := tempIndexFile{Temps: make([]tempIndexEntry, 0, len(t.entries))}
	for p, sid := range t.entries {
		f.Temps = append(f.Temps, tempIndexEntry{Path: p, SessionID: sid})
	}
	sort.Slice(f.Temps, func(i, j int) bool { return f.Temps[i].Path < f.Temps[j].Path })
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o750); err != nil {
		return fmt.Errorf("create temp index dir: %w", err)
	}
	if err := renameio.WriteFile(t.path, data, 0o600); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	return nil
}
