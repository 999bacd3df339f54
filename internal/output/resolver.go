// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package output decides where encoded files go and moves them into place.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/xgenc/internal/fsutil"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const defaultTemplate = "{name}_encoded.{ext}"

// TemplateResolver renders the output name template into the configured folder.
type TemplateResolver struct{}

// Resolve returns the candidate final output path for input. It creates the
// output directory if needed. It does not check for collisions.
func (TemplateResolver) Resolve(cfg model.ConfigSnapshot, input string) (string, error) {
	dir, err := outputDir(cfg, input)
	if err != nil {
		return "", err
	}
	name := RenderName(cfg.OutputNameTemplate, input, cfg.OutputContainer)
	final, err := fsutil.ConfineRelPath(dir, name)
	if err != nil {
		return "", fmt.Errorf("output name %q: %w", name, err)
	}
	if final == filepath.Clean(input) {
		return "", fmt.Errorf("output path equals input path: %s", final)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return final, nil
}

func outputDir(cfg model.ConfigSnapshot, input string) (string, error) {
	var dir string
	switch cfg.OutputFolderMode {
	case model.FolderSpecified:
		if strings.TrimSpace(cfg.OutputFolderPath) == "" {
			return "", fmt.Errorf("output folder path is empty")
		}
		dir = cfg.OutputFolderPath
	default:
		dir = filepath.Dir(input)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// RenderName expands {name} (input base name without extension) and {ext}
// (container, or the input extension when container is empty). The result
// is NFC-normalised.
func RenderName(template, input, container string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}
	if container == "" {
		container = strings.TrimPrefix(ext, ".")
	}

	out := strings.ReplaceAll(template, "{name}", name)
	out = strings.ReplaceAll(out, "{ext}", container)
	return norm.NFC.String(out)
}

// AutoRename appends _001, _002, ... before the extension until taken
// reports a free name.
func AutoRename(path string, taken func(string) bool) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; i < 10000; i++ {
		candidate := fmt.Sprintf("%s_%03d%s", base, i, ext)
		if !taken(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s_%s%s", base, ShortID(), ext)
}

// TempPath returns "<base>.<8 hex>.tmp<ext>" next to final.
func TempPath(final string) string {
	ext := filepath.Ext(final)
	base := strings.TrimSuffix(final, ext)
	return fmt.Sprintf("%s.%s.tmp%s", base, ShortID(), ext)
}

// ShortID returns 8 random hex characters.
func ShortID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
