package hud

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Log is the recorded overlay log file:
// {"events": [InputEvent...], "snapshots": [Snapshot...]}.
type Log struct {
	Events    []InputEvent `json:"events"`
	Snapshots []Snapshot   `json:"snapshots"`
}

// ParseLog decodes an overlay log.
func ParseLog(r io.Reader) (*Log, error) {
	var l Log
	dec := json.NewDecoder(r)
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("decode overlay log: %w", err)
	}
	return &l, nil
}

// LoadLog reads an overlay log file.
func LoadLog(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open overlay log: %w", err)
	}
	defer f.Close()
	return ParseLog(f)
}

// Interpolator builds an interpolator over the log.
func (l *Log) Interpolator() *Interpolator {
	if l == nil {
		return NewInterpolator(nil, nil)
	}
	return NewInterpolator(l.Events, l.Snapshots)
}

// SpanMs returns the latest timestamp recorded in either log.
func (l *Log) SpanMs() int64 {
	var last int64
	for _, e := range l.Events {
		last = max(last, e.Timestamp)
	}
	for _, s := range l.Snapshots {
		last = max(last, s.Timestamp)
	}
	return last
}
