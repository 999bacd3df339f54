// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package detector finds the configured encoder executables and reports
// their versions and the GPU capabilities NVEncC sees.
package detector

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MinNVEncCMajor is the oldest NVEncC release whose options the command
// builder emits.
const MinNVEncCMajor = 8

const (
	defaultVersionTimeout = 10 * time.Second
	defaultCheckTimeout   = 30 * time.Second
)

var ErrNVEncCNotConfigured = errors.New("nvencc path not set")

// ToolInfo is the detection result for one encoder.
type ToolInfo struct {
	Encoder   model.EncoderType `json:"encoder"`
	Binary    string            `json:"binary"`
	Path      string            `json:"path,omitempty"`
	Found     bool              `json:"found"`
	Version   string            `json:"version,omitempty"`
	Supported bool              `json:"supported"`
	Warning   string            `json:"warning,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// GPUInfo is the raw output of NVEncC's device and feature checks.
type GPUInfo struct {
	Device   string `json:"check_device"`
	Features string `json:"check_features"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(d *Detector) { d.lookPath = fn }
}

// WithTimeouts overrides the version check and GPU check timeouts.
func WithTimeouts(version, check time.Duration) Option {
	return func(d *Detector) {
		d.versionTimeout = version
		d.checkTimeout = check
	}
}

// Detector inspects the encoders current at call time.
type Detector struct {
	binaries       func() profile.Binaries
	lookPath       func(string) (string, error)
	versionTimeout time.Duration
	checkTimeout   time.Duration
	logger         zerolog.Logger
}

func New(binaries func() profile.Binaries, logger zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		binaries:       binaries,
		lookPath:       exec.LookPath,
		versionTimeout: defaultVersionTimeout,
		checkTimeout:   defaultCheckTimeout,
		logger:         logger.With().Str(xglog.FieldComponent, "detector").Logger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

var encoders = []model.EncoderType{model.EncoderNVEncC, model.EncoderQSVEncC, model.EncoderFFmpeg}

// DetectAll checks every encoder concurrently. The result order is fixed.
func (d *Detector) DetectAll(ctx context.Context) []ToolInfo {
	bins := d.binaries()
	out := make([]ToolInfo, len(encoders))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range encoders {
		g.Go(func() error {
			out[i] = d.detect(gctx, t, bins)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Detector) detect(ctx context.Context, t model.EncoderType, bins profile.Binaries) ToolInfo {
	info := ToolInfo{Encoder: t}
	bin, err := bins.For(t)
	info.Binary = bin
	if err != nil {
		info.Error = err.Error()
		return info
	}
	path, err := d.lookPath(bin)
	if err != nil {
		info.Error = "not found"
		return info
	}
	info.Path = path
	info.Found = true

	raw, err := d.run(ctx, d.versionTimeout, path, versionArg(t))
	// Some builds print the banner and still exit non-zero.
	if err != nil && len(raw) == 0 {
		info.Error = fmt.Sprintf("version detection failed: %v", err)
		d.logger.Warn().Err(err).Str(xglog.FieldEvent, "detector.version_failed").Str("encoder", string(t)).Msg("could not run encoder")
		return info
	}
	version, ok := ParseVersion(string(raw))
	if !ok {
		info.Supported = t != model.EncoderNVEncC
		info.Warning = "version not recognised"
		return info
	}
	info.Version = version
	info.Supported = true
	if t == model.EncoderNVEncC {
		if major, err := majorVersion(version); err != nil || major < MinNVEncCMajor {
			info.Supported = false
			info.Warning = fmt.Sprintf("NVEncC %d.x or newer is required", MinNVEncCMajor)
		}
	}
	d.logger.Debug().Str("encoder", string(t)).Str("path", path).Str("version", version).Bool("supported", info.Supported).Msg("encoder detected")
	return info
}

// GPUInfo runs NVEncC's --check-device and --check-features.
func (d *Detector) GPUInfo(ctx context.Context) (GPUInfo, error) {
	bin := d.binaries().NVEncC
	if bin == "" {
		return GPUInfo{}, ErrNVEncCNotConfigured
	}
	path, err := d.lookPath(bin)
	if err != nil {
		return GPUInfo{}, fmt.Errorf("find nvencc: %w", err)
	}
	device, err := d.run(ctx, d.checkTimeout, path, "--check-device")
	if err != nil {
		return GPUInfo{}, fmt.Errorf("check-device: %w", err)
	}
	features, err := d.run(ctx, d.checkTimeout, path, "--check-features")
	if err != nil {
		return GPUInfo{}, fmt.Errorf("check-features: %w", err)
	}
	return GPUInfo{Device: string(device), Features: string(features)}, nil
}

func (d *Detector) run(ctx context.Context, timeout time.Duration, path string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return exec.CommandContext(ctx, path, args...).CombinedOutput()
}

func versionArg(t model.EncoderType) string {
	if t == model.EncoderFFmpeg {
		return "-version"
	}
	return "--version"
}

var versionRe = regexp.MustCompile(`(\d+\.\d+[.\d]*)`)

// ParseVersion extracts the dotted version from an encoder banner. Lines
// naming the tool or the word "version" win over the first number anywhere.
func ParseVersion(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "encc") || strings.Contains(lower, "version") {
			if m := versionRe.FindString(line); m != "" {
				return strings.TrimRight(m, "."), true
			}
		}
	}
	if m := versionRe.FindString(output); m != "" {
		return strings.TrimRight(m, "."), true
	}
	return "", false
}

func majorVersion(v string) (int, error) {
	major, _, _ := strings.Cut(v, ".")
	return strconv.Atoi(major)
}
