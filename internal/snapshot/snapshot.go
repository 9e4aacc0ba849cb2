// Package snapshot grabs single frames from the RTMP stream as JPEGs.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loykin/streamcap/internal/logger"
)

const (
	component      = "snapshotter"
	captureTimeout = 5 * time.Second
)

// Config describes where snapshots come from and go.
type Config struct {
	URL             string
	OutputDir       string
	IntervalSeconds int
}

// Snapshotter captures on-demand and interval-gated still frames.
type Snapshotter struct {
	cfg Config
	lg  *logger.Logger

	mu       sync.Mutex
	lastShot time.Time

	// runCapture is swapped in tests to avoid spawning ffmpeg.
	runCapture func(ctx context.Context, url, outPath string) ([]byte, error)
}

// New prepares the output directory and returns a snapshotter.
func New(cfg Config, lg *logger.Logger) (*Snapshotter, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: output dir: %w", err)
	}
	return &Snapshotter{cfg: cfg, lg: lg, runCapture: runFFmpeg}, nil
}

func runFFmpeg(ctx context.Context, url, outPath string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-rtmp_live", "live",
		"-err_detect", "ignore_err",
		"-i", url,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	) // #nosec G204 -- argv is fixed, url comes from validated config
	return cmd.CombinedOutput()
}

// filename stamps the capture moment down to milliseconds so rapid
// captures never collide.
func filename(now time.Time) string {
	return fmt.Sprintf("snap_%s_%03d.jpg", now.Format("20060102_150405"), now.Nanosecond()/1e6)
}

// Capture grabs one frame and returns the saved file's path. The
// ffmpeg invocation is bounded by a 5 second timeout.
func (s *Snapshotter) Capture() (string, error) {
	name := filename(time.Now())
	outPath := filepath.Join(s.cfg.OutputDir, name)

	s.lg.Info(component, "snapshot_capture", map[string]any{
		"filename": name,
	}, fmt.Sprintf("Capturing snapshot: %s", name))

	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.runCapture(ctx, s.cfg.URL, outPath)
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		s.lg.Error(component, "snapshot_timeout", map[string]any{
			"path": outPath,
		}, fmt.Sprintf("Snapshot capture timed out after %v", captureTimeout))
		return "", fmt.Errorf("snapshot: capture timed out after %v", captureTimeout)
	}
	if err != nil {
		tail := string(out)
		if len(tail) > 500 {
			tail = tail[len(tail)-500:]
		}
		s.lg.Error(component, "snapshot_write_failed", map[string]any{
			"path":   outPath,
			"error":  err.Error(),
			"output": tail,
		}, fmt.Sprintf("Failed to capture snapshot: %v", err))
		return "", fmt.Errorf("snapshot: capture: %w", err)
	}

	size := int64(0)
	if fi, statErr := os.Stat(outPath); statErr == nil {
		size = fi.Size()
	}
	s.lg.Service(component, "snapshot_saved", map[string]any{
		"path":       outPath,
		"latency_ms": elapsed.Milliseconds(),
		"size_bytes": size,
	}, fmt.Sprintf("Snapshot saved in %dms: %s", elapsed.Milliseconds(), name))

	s.mu.Lock()
	s.lastShot = time.Now()
	s.mu.Unlock()

	return outPath, nil
}

// ShouldCaptureInterval reports whether the configured interval has
// elapsed since the last capture. Always false when no interval is set.
func (s *Snapshotter) ShouldCaptureInterval() bool {
	if s.cfg.IntervalSeconds <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastShot) >= time.Duration(s.cfg.IntervalSeconds)*time.Second
}

// Recent lists up to limit snapshot paths, newest first.
func (s *Snapshotter) Recent(limit int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.OutputDir, "snap_*.jpg"))
	if err != nil {
		return nil, err
	}

	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		fi, statErr := os.Stat(m)
		if statErr != nil {
			continue
		}
		entries = append(entries, entry{path: m, mod: fi.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.After(entries[j].mod) })

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out, nil
}
