// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package instance guarantees that only one daemon owns a runtime directory.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockName = "xgenc.lock"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another xgenc instance owns the runtime directory")

// Lock is an acquired instance lock.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire takes the lock in dir without blocking.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	path := filepath.Join(dir, lockName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path is the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
