package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func looksLikeFFmpegStats(line string) bool {
	return strings.Contains(line, "frame=") || strings.Contains(line, "time=") || strings.Contains(line, "bitrate=")
}

// ParseFFmpegStats parses a standard ffmpeg stats line using field extraction
// rather than a strict regex.
// Example: "frame=  123 fps= 25 q=28.0 size=    1234kB time=00:00:12.34 bitrate= 800.0kbits/s speed=1.0x"
func ParseFFmpegStats(line string) (Sample, bool) {
	var s Sample
	if !looksLikeFFmpegStats(line) {
		return s, false
	}

	extract := func(key string) string {
		idx := strings.Index(line, key)
		if idx == -1 {
			return ""
		}
		val := strings.TrimLeft(line[idx+len(key):], " ")
		if sp := strings.IndexByte(val, ' '); sp != -1 {
			val = val[:sp]
		}
		if val == "N/A" {
			return ""
		}
		return val
	}

	if val := extract("speed="); val != "" {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(val, "x"), 64); err == nil {
			s.Speed = &v
		}
	}
	if val := extract("bitrate="); val != "" {
		val = strings.TrimSuffix(val, "kbits/s")
		val = strings.TrimSuffix(val, "kb/s")
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			s.BitrateKbps = &v
		}
	}
	if val := extract("fps="); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			s.FPS = &v
		}
	}
	if val := extract("frame="); val != "" {
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			s.Frame = &v
		}
	}
	if val := extract("time="); val != "" {
		if d, err := parseClock(val); err == nil {
			s.Elapsed = &d
		}
	}
	return s, !s.Empty()
}

// parseClock parses "HH:MM:SS.mm".
func parseClock(val string) (time.Duration, error) {
	parts := strings.Split(val, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time format %q", val)
	}
	h, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	if h < 0 || m < 0 || sec < 0 {
		return 0, fmt.Errorf("negative time %q", val)
	}
	return time.Duration((h*3600 + m*60 + sec) * float64(time.Second)), nil
}
