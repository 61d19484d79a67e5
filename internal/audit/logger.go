// Package audit writes an append-only JSONL trail of operator actions
// for after-the-fact inspection of a simulation run.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    string    `json:"action"`
	CanID     string    `json:"canId,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMs float64   `json:"latencyMs"`
}

// Options bound the size of the rotated audit log.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger appends JSONL entries to a size-rotated file.
type Logger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewLogger creates a logger writing to dir/audit.jsonl, rotated per
// opts.
func NewLogger(dir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	return &Logger{
		w: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "audit.jsonl"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		},
	}, nil
}

// NewLoggerWithWriter creates a logger over an arbitrary writer.
func NewLoggerWithWriter(w io.WriteCloser) *Logger {
	return &Logger{w: w}
}

// LogAction records one operator action with its outcome and latency.
func (l *Logger) LogAction(action, canID, outcome, detail string, latency time.Duration) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		CanID:     canID,
		Outcome:   outcome,
		Detail:    detail,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write audit entry: %v\n", err)
	}
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
