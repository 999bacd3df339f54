// Package progress extracts progress samples from encoder status lines.
// Parsing is tolerant: unknown or malformed lines yield no sample.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sample is one progress observation. Fields absent from the line are nil.
type Sample struct {
	Percent     *float64
	FPS         *float64
	BitrateKbps *float64
	ETASec      *int64

	// ffmpeg-only fields
	Frame   *int64
	Elapsed *time.Duration
	Speed   *float64
}

// Empty reports whether no field was observed.
func (s Sample) Empty() bool {
	return s.Percent == nil && s.FPS == nil && s.BitrateKbps == nil && s.ETASec == nil &&
		s.Frame == nil && s.Elapsed == nil && s.Speed == nil
}

// Parse recognises both ffmpeg stats lines ("frame= fps= bitrate=") and the
// NVEncC/QSVEncC status line ("42.3% ... 123.4 fps ... 5.6 Mbps ... remain 00:01:12").
func Parse(line string) (Sample, bool) {
	if looksLikeFFmpegStats(line) {
		return ParseFFmpegStats(line)
	}
	return ParseStatus(line)
}

var (
	rePercent = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reFPS     = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*fps`)
	reBitrate = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(k|m)?b(?:ps|/s)`)
	reETA     = regexp.MustCompile(`(?:eta|remain(?:ing)?)[^0-9]*([0-9]{1,2}):([0-9]{2}):([0-9]{2})`)
)

// ParseStatus parses the hardware encoders' status line. Matching is case-insensitive;
// "m" bitrates are scaled to kbps.
func ParseStatus(line string) (Sample, bool) {
	lower := strings.ToLower(line)
	var s Sample

	if m := rePercent.FindStringSubmatch(lower); len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.Percent = &v
		}
	}
	if m := reFPS.FindStringSubmatch(lower); len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.FPS = &v
		}
	}
	if m := reBitrate.FindStringSubmatch(lower); len(m) == 3 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] == "m" {
				v *= 1000
			}
			s.BitrateKbps = &v
		}
	}
	if m := reETA.FindStringSubmatch(lower); len(m) == 4 {
		h, _ := strconv.ParseInt(m[1], 10, 64)
		mi, _ := strconv.ParseInt(m[2], 10, 64)
		sec, _ := strconv.ParseInt(m[3], 10, 64)
		eta := h*3600 + mi*60 + sec
		s.ETASec = &eta
	}
	return s, !s.Empty()
}
