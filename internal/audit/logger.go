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

	"github.com/motor-control/mcn/internal/config"
)

// Outcomes.
const (
	OutcomeSuccess      = "SUCCESS"
	OutcomeRejected     = "REJECTED"
	OutcomeWatchdogStop = "WATCHDOG_STOP"
	OutcomeFault        = "FAULT"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source,omitempty"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Outcome   string         `json:"outcome"`
	Code      string         `json:"code"`
}

// Logger appends entries as JSON lines.
type Logger struct {
	mu       sync.Mutex
	filePath string
	w        io.WriteCloser
	rotator  *lumberjack.Logger
	now      func() time.Time
}

// NewLogger opens the audit file described by cfg, creating its directory.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	return &Logger{
		filePath: cfg.Path,
		w:        rotator,
		rotator:  rotator,
		now:      time.Now,
	}, nil
}

// NewWriterLogger writes entries to w. It is used for tests and stdout sinks.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Log writes one entry. A zero Timestamp is set to the current time.
func (l *Logger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Rotate starts a new audit file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

// Close closes the underlying file. Further entries are dropped.
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

// GetFilePath returns the audit file path, or "" for writer loggers.
func (l *Logger) GetFilePath() string {
	return l.filePath
}
