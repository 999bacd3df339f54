// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profile

import (
	"github.com/ManuGH/xgenc/internal/session/model"
)

const presetVersion = 1

// Presets returns the built-in profiles. IDs are stable across releases.
func Presets() []model.Profile {
	return []model.Profile{
		{
			ID: "preset-nvencc-hevc-quality", Name: "HEVC Quality (NVEncC)",
			Version: presetVersion, IsPreset: true, EncoderType: model.EncoderNVEncC,
			Codec: "hevc", RateControl: "qvbr", RateValue: 28, Preset: "P4",
			OutputDepth: 10, Decoder: model.DecoderHW, AudioMode: "copy", AudioBitrate: 256,
		},
		{
			ID: "preset-nvencc-av1-fast", Name: "AV1 Fast (NVEncC)",
			Version: presetVersion, IsPreset: true, EncoderType: model.EncoderNVEncC,
			Codec: "av1", RateControl: "qvbr", RateValue: 32, Preset: "P1",
			OutputDepth: 10, Decoder: model.DecoderHW, AudioMode: "copy", AudioBitrate: 256,
		},
		{
			ID: "preset-nvencc-camera-archive", Name: "Camera Archive (NVEncC)",
			Version: presetVersion, IsPreset: true, EncoderType: model.EncoderNVEncC,
			Codec: "hevc", RateControl: "qvbr", RateValue: 24, Preset: "P7",
			OutputDepth: 10, Decoder: model.DecoderHW, AudioMode: "aac", AudioBitrate: 192,
		},
		{
			ID: "preset-qsvenc-hevc", Name: "HEVC (QSVEncC)",
			Version: presetVersion, IsPreset: true, EncoderType: model.EncoderQSVEncC,
			Codec: "hevc", RateControl: "icq", RateValue: 23, Preset: "balanced",
			OutputDepth: 10, Decoder: model.DecoderHW, AudioMode: "copy", AudioBitrate: 256,
		},
		{
			ID: "preset-ffmpeg-h264-compatible", Name: "H.264 Compatible (ffmpeg)",
			Version: presetVersion, IsPreset: true, EncoderType: model.EncoderFFmpeg,
			Codec: "h264", RateControl: "crf", RateValue: 20, Preset: "medium",
			OutputDepth: 8, Decoder: model.DecoderSW, AudioMode: "aac", AudioBitrate: 192,
		},
	}
}

// Lookup returns the preset with the given id.
func Lookup(id string) (model.Profile, bool) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, true
		}
	}
	return model.Profile{}, false
}
