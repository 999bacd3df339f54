package encoder

import (
	"bytes"
	"sync"
)

// ScanLinesCRLF is a bufio.SplitFunc that terminates lines at '\r' or '\n'.
// Encoders redraw their status line with bare carriage returns. A CRLF pair
// yields one empty token, which callers skip.
func ScanLinesCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// RingBuffer keeps the last N lines.
type RingBuffer struct {
	lines []string
	pos   int
	full  bool
	mu    sync.Mutex
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{lines: make([]string, size)}
}

func (r *RingBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

// Last returns the newest line.
func (r *RingBuffer) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos == 0 && !r.full {
		return ""
	}
	return r.lines[(r.pos-1+len(r.lines))%len(r.lines)]
}

// GetAll returns the retained lines, oldest first.
func (r *RingBuffer) GetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	copy(res, r.lines[r.pos:])
	copy(res[len(r.lines)-r.pos:], r.lines[:r.pos])
	return res
}
