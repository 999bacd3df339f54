package model

type EncoderType string

const (
	EncoderNVEncC  EncoderType = "nvencc"
	EncoderQSVEncC EncoderType = "qsvenc"
	EncoderFFmpeg  EncoderType = "ffmpeg"
)

type Decoder string

const (
	DecoderHW Decoder = "avhw"
	DecoderSW Decoder = "avsw"
)

// Profile is an encoding recipe. The orchestrator never inspects it; only
// the command builder does.
type Profile struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Version     int         `json:"version" yaml:"version"`
	IsPreset    bool        `json:"is_preset" yaml:"is_preset"`
	EncoderType EncoderType `json:"encoder_type" yaml:"encoder_type"`

	Codec        string  `json:"codec" yaml:"codec"`
	RateControl  string  `json:"rate_control" yaml:"rate_control"`
	RateValue    float64 `json:"rate_value" yaml:"rate_value"`
	Preset       string  `json:"preset,omitempty" yaml:"preset,omitempty"`
	OutputDepth  int     `json:"output_depth,omitempty" yaml:"output_depth,omitempty"`
	OutputRes    string  `json:"output_res,omitempty" yaml:"output_res,omitempty"`
	Decoder      Decoder `json:"decoder,omitempty" yaml:"decoder,omitempty"`
	AudioMode    string  `json:"audio_mode,omitempty" yaml:"audio_mode,omitempty"`
	AudioBitrate int     `json:"audio_bitrate,omitempty" yaml:"audio_bitrate,omitempty"`

	// RestoreFileTime copies the input's file times onto the finished output.
	RestoreFileTime bool `json:"restore_file_time,omitempty" yaml:"restore_file_time,omitempty"`

	// CustomOptions is appended verbatim after tokenisation (quotes respected).
	CustomOptions string `json:"custom_options,omitempty" yaml:"custom_options,omitempty"`

	// Args, when set, replaces the generated argument list. The placeholders
	// {input} and {output} are substituted per job. FallbackArgs is used for
	// the decoder fallback retry.
	Args         []string `json:"args,omitempty" yaml:"args,omitempty"`
	FallbackArgs []string `json:"fallback_args,omitempty" yaml:"fallback_args,omitempty"`
}
