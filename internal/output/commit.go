// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/google/renameio/v2"
)

// Commit moves the finished temp file to final, replacing an existing file.
// Same-filesystem moves are a single rename; cross-device moves copy into a
// pending file that is fsynced and atomically renamed over final.
func Commit(temp, final string) error {
	err := os.Rename(temp, final)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		return copyReplace(temp, final)
	}
	// Windows refuses to rename over an existing file.
	if _, statErr := os.Stat(final); statErr == nil {
		if rmErr := os.Remove(final); rmErr != nil {
			return fmt.Errorf("replace %s: %w", final, rmErr)
		}
		if err := os.Rename(temp, final); err != nil {
			return fmt.Errorf("rename %s: %w", temp, err)
		}
		return nil
	}
	return fmt.Errorf("rename %s: %w", temp, err)
}

func copyReplace(temp, final string) (err error) {
	src, err := os.Open(temp)
	if err != nil {
		return fmt.Errorf("open temp output: %w", err)
	}
	defer func() { _ = src.Close() }()

	pending, err := renameio.NewPendingFile(final, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending output: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, src); err != nil {
		return fmt.Errorf("copy output: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace output: %w", err)
	}
	_ = src.Close()
	if err := os.Remove(temp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp output: %w", err)
	}
	return nil
}

// RemoveTemp deletes a temp output, ignoring a missing file.
func RemoveTemp(temp string) error {
	if temp == "" {
		return nil
	}
	if err := os.Remove(temp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
