package logger

import (
	"fmt"
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default worker output retention.
const (
	DefaultOutputMaxSizeMB  = 10
	DefaultOutputMaxBackups = 3
	DefaultOutputMaxAgeDays = 7
)

// OutputConfig describes optional on-disk retention of a worker's full
// combined output. The supervision core always keeps a bounded in-memory
// tail for crash diagnostics; these files are for after-the-fact forensics
// on long sessions. Rotation parameters follow lumberjack semantics.
type OutputConfig struct {
	Dir        string // base directory; file becomes Dir/<name>.output.log
	Path       string // explicit path, overrides Dir
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Enabled reports whether any destination is configured.
func (c OutputConfig) Enabled() bool { return c.Dir != "" || c.Path != "" }

// Writer returns a rotating io.WriteCloser for the named worker, or nil
// when no destination is configured.
func (c OutputConfig) Writer(name string) io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.output.log", name))
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultOutputMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultOutputMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultOutputMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
