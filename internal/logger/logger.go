// Package logger provides the structured audit log every component
// writes to, plus rotating file writers for captured worker output.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is the severity of an audit record. The "service" level sits
// between info and error and marks operationally significant state
// transitions (started, stopped, paused, resumed).
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelService
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug:   "debug",
	LevelInfo:    "info",
	LevelService: "service",
	LevelError:   "error",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "unknown"
}

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("logger: unknown level %q", s)
}

// Record is one audit entry as it appears on disk, one JSON object per
// line. Once written a record is never modified.
type Record struct {
	TS   string         `json:"ts"`
	Lvl  string         `json:"lvl"`
	Comp string         `json:"comp"`
	Evt  string         `json:"evt"`
	Ctx  map[string]any `json:"ctx"`
	Msg  string         `json:"msg"`
}

// Config controls the audit log destination and rotation.
type Config struct {
	File        string // path of the active log file
	Level       Level  // minimum level written
	RotateMaxMB int    // size threshold in MiB that triggers rotation
	BackupCount int    // numbered backups retained (file.1 .. file.N)
}

// Logger is an append-only structured event sink with size-triggered
// numbered rotation. One mutex serializes the write-and-maybe-rotate
// sequence so records from concurrent callers are totally ordered and a
// rotation never interleaves with a write.
type Logger struct {
	mu       sync.Mutex
	cfg      Config
	f        *os.File
	size     int64
	maxBytes int64
	closed   bool
}

// New opens (or creates) the audit log file. Failure to open is fatal
// to the caller: without the audit trail the rest of the system is not
// diagnosable.
func New(cfg Config) (*Logger, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("logger: file path required")
	}
	if cfg.RotateMaxMB <= 0 {
		cfg.RotateMaxMB = 10
	}
	if cfg.BackupCount <= 0 {
		cfg.BackupCount = 3
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	l := &Logger{cfg: cfg, maxBytes: int64(cfg.RotateMaxMB) * 1024 * 1024}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) open() error {
	f, err := os.OpenFile(l.cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("logger: open %s: %w", l.cfg.File, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logger: stat %s: %w", l.cfg.File, err)
	}
	l.f = f
	l.size = st.Size()
	return nil
}

// Log writes one record. Calls below the configured level return before
// touching the file. Write errors are reported so callers can decide
// whether a dead audit trail is fatal; most call sites ignore them.
func (l *Logger) Log(level Level, component, event string, ctx map[string]any, msg string) error {
	if level < l.cfg.Level {
		return nil
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	rec := Record{
		TS:   time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Lvl:  level.String(),
		Comp: component,
		Evt:  event,
		Ctx:  ctx,
		Msg:  msg,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("logger: marshal record: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("logger: closed")
	}
	if l.size >= l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.f.Write(b)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("logger: write: %w", err)
	}
	return nil
}

// rotate shifts numbered backups highest-to-lowest, renames the active
// file to .1 and reopens a fresh one. Caller holds l.mu.
func (l *Logger) rotate() error {
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("logger: close for rotation: %w", err)
	}
	oldest := fmt.Sprintf("%s.%d", l.cfg.File, l.cfg.BackupCount)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("logger: drop oldest backup: %w", err)
		}
	}
	for i := l.cfg.BackupCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.cfg.File, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := fmt.Sprintf("%s.%d", l.cfg.File, i+1)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("logger: shift backup %d: %w", i, err)
		}
	}
	if err := os.Rename(l.cfg.File, l.cfg.File+".1"); err != nil {
		return fmt.Errorf("logger: rotate active file: %w", err)
	}
	return l.open()
}

// Close releases the log file. Logging after Close returns an error.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// Debug, Info, Service and Error are shorthands used throughout the
// supervision code.

func (l *Logger) Debug(component, event string, ctx map[string]any, msg string) {
	_ = l.Log(LevelDebug, component, event, ctx, msg)
}

func (l *Logger) Info(component, event string, ctx map[string]any, msg string) {
	_ = l.Log(LevelInfo, component, event, ctx, msg)
}

func (l *Logger) Service(component, event string, ctx map[string]any, msg string) {
	_ = l.Log(LevelService, component, event, ctx, msg)
}

func (l *Logger) Error(component, event string, ctx map[string]any, msg string) {
	_ = l.Log(LevelError, component, event, ctx, msg)
}
