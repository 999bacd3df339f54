// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package profile turns encoding profiles into encoder command lines and
// ships the built-in presets.
package profile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/xgenc/internal/session/model"
)

var ErrInvalidProfile = errors.New("invalid profile")

// Binaries holds the executable used for each encoder type.
type Binaries struct {
	NVEncC  string `yaml:"nvencc"`
	QSVEncC string `yaml:"qsvencc"`
	FFmpeg  string `yaml:"ffmpeg"`
}

func DefaultBinaries() Binaries {
	return Binaries{NVEncC: "NVEncC", QSVEncC: "QSVEncC", FFmpeg: "ffmpeg"}
}

func (b Binaries) For(t model.EncoderType) (string, error) {
	var bin string
	switch t {
	case model.EncoderNVEncC:
		bin = b.NVEncC
	case model.EncoderQSVEncC:
		bin = b.QSVEncC
	case model.EncoderFFmpeg:
		bin = b.FFmpeg
	default:
		return "", fmt.Errorf("%w: unknown encoder type %q", ErrInvalidProfile, t)
	}
	if strings.TrimSpace(bin) == "" {
		return "", fmt.Errorf("%w: no binary configured for %s", ErrInvalidProfile, t)
	}
	return bin, nil
}

// Builder synthesises encoder argv from a profile.
type Builder struct {
	Bin Binaries
}

func NewBuilder(bin Binaries) *Builder {
	return &Builder{Bin: bin}
}

// BuildArgs returns the full argv (binary first) encoding input into output.
func (b *Builder) BuildArgs(p model.Profile, _ model.ConfigSnapshot, input, output string) ([]string, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	bin, err := b.Bin.For(p.EncoderType)
	if err != nil {
		return nil, err
	}
	if len(p.Args) > 0 {
		return append([]string{bin}, expand(p.Args, input, output)...), nil
	}
	return b.generate(bin, p, input, output)
}

// FallbackArgs returns argv for a single retry with software decoding. The
// bool is false when the profile has no fallback.
func (b *Builder) FallbackArgs(p model.Profile, cfg model.ConfigSnapshot, input, output string) ([]string, bool, error) {
	if len(p.FallbackArgs) > 0 {
		bin, err := b.Bin.For(p.EncoderType)
		if err != nil {
			return nil, false, err
		}
		return append([]string{bin}, expand(p.FallbackArgs, input, output)...), true, nil
	}
	if len(p.Args) > 0 || effectiveDecoder(p) != model.DecoderHW {
		return nil, false, nil
	}
	p.Decoder = model.DecoderSW
	argv, err := b.BuildArgs(p, cfg, input, output)
	if err != nil {
		return nil, false, err
	}
	return argv, true, nil
}

// Validate checks the fields the builder relies on.
func Validate(p model.Profile) error {
	if len(p.Args) > 0 {
		if !containsPlaceholder(p.Args, "{input}") || !containsPlaceholder(p.Args, "{output}") {
			return fmt.Errorf("%w: args must reference {input} and {output}", ErrInvalidProfile)
		}
		return nil
	}
	if strings.TrimSpace(p.Codec) == "" {
		return fmt.Errorf("%w: codec is required", ErrInvalidProfile)
	}
	switch p.Decoder {
	case "", model.DecoderHW, model.DecoderSW:
	default:
		return fmt.Errorf("%w: decoder must be avhw or avsw", ErrInvalidProfile)
	}
	switch p.AudioMode {
	case "", "copy", "none":
	case "aac", "opus":
		if p.AudioBitrate <= 0 {
			return fmt.Errorf("%w: audio_bitrate must be positive for %s", ErrInvalidProfile, p.AudioMode)
		}
	default:
		return fmt.Errorf("%w: unknown audio_mode %q", ErrInvalidProfile, p.AudioMode)
	}
	if p.OutputDepth != 0 && p.OutputDepth != 8 && p.OutputDepth != 10 {
		return fmt.Errorf("%w: output_depth must be 8 or 10", ErrInvalidProfile)
	}
	if _, err := Tokenize(p.CustomOptions); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

func (b *Builder) generate(bin string, p model.Profile, input, output string) ([]string, error) {
	var args []string
	switch p.EncoderType {
	case model.EncoderNVEncC, model.EncoderQSVEncC:
		args = rigayaArgs(p, input)
	case model.EncoderFFmpeg:
		args = ffmpegArgs(p, input)
	default:
		return nil, fmt.Errorf("%w: unknown encoder type %q", ErrInvalidProfile, p.EncoderType)
	}

	custom, err := Tokenize(p.CustomOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	args = append(args, custom...)

	if p.EncoderType == model.EncoderFFmpeg {
		args = append(args, output)
	} else {
		args = append(args, "-o", output)
	}
	return append([]string{bin}, args...), nil
}

// rigayaArgs covers NVEncC and QSVEncC, which share most of their CLI.
func rigayaArgs(p model.Profile, input string) []string {
	args := []string{"--" + string(effectiveDecoder(p)), "-i", input, "-c", p.Codec}

	if flag := rateFlag(p.EncoderType, p.RateControl); flag != "" {
		args = append(args, flag, trimFloat(p.RateValue))
	}
	if p.Preset != "" {
		if p.EncoderType == model.EncoderQSVEncC {
			args = append(args, "--quality", p.Preset)
		} else {
			args = append(args, "--preset", p.Preset)
		}
	}
	if p.OutputDepth != 0 {
		args = append(args, "--output-depth", strconv.Itoa(p.OutputDepth))
	}
	if p.OutputRes != "" {
		args = append(args, "--output-res", p.OutputRes)
	}
	switch p.AudioMode {
	case "copy":
		args = append(args, "--audio-copy")
	case "aac", "opus":
		args = append(args, "--audio-codec", p.AudioMode, "--audio-bitrate", strconv.Itoa(p.AudioBitrate))
	}
	return args
}

func rateFlag(t model.EncoderType, rc string) string {
	switch strings.ToLower(rc) {
	case "qvbr":
		if t == model.EncoderQSVEncC {
			return "--qvbr-quality"
		}
		return "--qvbr"
	case "icq":
		if t == model.EncoderQSVEncC {
			return "--icq"
		}
		return "--qvbr"
	case "la-icq":
		return "--la-icq"
	case "cqp":
		return "--cqp"
	case "cbr":
		return "--cbr"
	case "vbr":
		return "--vbr"
	}
	return ""
}

var ffmpegCodecs = map[string]string{
	"h264": "libx264",
	"hevc": "libx265",
	"av1":  "libsvtav1",
}

func ffmpegArgs(p model.Profile, input string) []string {
	args := []string{"-y", "-nostdin", "-hide_banner", "-stats"}
	if effectiveDecoder(p) == model.DecoderHW {
		args = append(args, "-hwaccel", "auto")
	}
	args = append(args, "-i", input)

	codec := p.Codec
	if lib, ok := ffmpegCodecs[strings.ToLower(codec)]; ok {
		codec = lib
	}
	args = append(args, "-c:v", codec)

	switch strings.ToLower(p.RateControl) {
	case "crf", "cqp", "qvbr", "icq":
		args = append(args, "-crf", trimFloat(p.RateValue))
	case "cbr", "vbr":
		args = append(args, "-b:v", trimFloat(p.RateValue)+"k")
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.OutputDepth == 10 {
		args = append(args, "-pix_fmt", "yuv420p10le")
	}
	if p.OutputRes != "" {
		args = append(args, "-vf", "scale="+strings.Replace(p.OutputRes, "x", ":", 1))
	}
	switch p.AudioMode {
	case "copy":
		args = append(args, "-c:a", "copy")
	case "none":
		args = append(args, "-an")
	case "aac":
		args = append(args, "-c:a", "aac", "-b:a", strconv.Itoa(p.AudioBitrate)+"k")
	case "opus":
		args = append(args, "-c:a", "libopus", "-b:a", strconv.Itoa(p.AudioBitrate)+"k")
	}
	return args
}

func effectiveDecoder(p model.Profile) model.Decoder {
	if p.Decoder == "" {
		if p.EncoderType == model.EncoderFFmpeg {
			return model.DecoderSW
		}
		return model.DecoderHW
	}
	return p.Decoder
}

func expand(tmpl []string, input, output string) []string {
	out := make([]string, len(tmpl))
	r := strings.NewReplacer("{input}", input, "{output}", output)
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

func containsPlaceholder(args []string, ph string) bool {
	for _, a := range args {
		if strings.Contains(a, ph) {
			return true
		}
	}
	return false
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DisplayCommand renders argv for logs and previews, quoting where needed.
func DisplayCommand(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		switch {
		case a == "":
			parts[i] = `""`
		case strings.ContainsAny(a, " \t\"'"):
			parts[i] = strconv.Quote(a)
		default:
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
