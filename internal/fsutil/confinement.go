// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil keeps generated output paths inside their output directory.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a rendered name would land outside its
// output directory.
var ErrOutsideRoot = errors.New("path escapes output directory")

// ConfineRelPath joins root and a rendered file name and returns the
// symlink-resolved result. Absolute names, backslashes and any path that
// resolves outside root are rejected. Missing trailing components are allowed.
func ConfineRelPath(root, relTarget string) (string, error) {
	if strings.Contains(relTarget, `\`) {
		return "", fmt.Errorf("%w: backslash in %q", ErrOutsideRoot, relTarget)
	}
	rel := filepath.Clean(relTarget)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q is absolute", ErrOutsideRoot, relTarget)
	}
	if escapes(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, relTarget)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	switch {
	case os.IsNotExist(err):
		return "", err
	case err != nil:
		realRoot = absRoot
	}

	resolved, err := resolveExisting(filepath.Join(realRoot, rel))
	if err != nil {
		return "", err
	}
	within, err := filepath.Rel(realRoot, resolved)
	if err != nil || escapes(within) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, resolved)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// appends the missing remainder unchanged.
func resolveExisting(p string) (string, error) {
	var missing []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			out, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", fmt.Errorf("resolve %s: %w", cur, err)
			}
			for i := len(missing) - 1; i >= 0; i-- {
				out = filepath.Join(out, missing[i])
			}
			return out, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsRegularFile returns the size of path if it exists and is a regular file.
func IsRegularFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", path)
	}
	return info.Size(), nil
}

// Exists reports whether anything exists at path without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
