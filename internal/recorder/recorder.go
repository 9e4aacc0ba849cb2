// Package recorder supervises the ffmpeg segment-muxer worker that
// writes the stream to disk, gated by the disk-space guard.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/streamcap/internal/diskguard"
	"github.com/loykin/streamcap/internal/history"
	"github.com/loykin/streamcap/internal/logger"
	"github.com/loykin/streamcap/internal/metrics"
	"github.com/loykin/streamcap/internal/process"
)

const (
	component   = "recorder"
	stopGrace   = 10 * time.Second
	emitTimeout = 3 * time.Second
)

// ErrInsufficientDiskSpace is returned by Start when the guard denies
// admission. No worker is spawned in that case.
var ErrInsufficientDiskSpace = errors.New("recorder: insufficient disk space")

// Config describes the recording job.
type Config struct {
	URL            string
	OutputDir      string
	SegmentSeconds int
	Output         logger.OutputConfig
}

// Status is the recorder's contribution to a health snapshot.
type Status struct {
	IsRunning      bool    `json:"is_running"`
	IsPaused       bool    `json:"is_paused"`
	OutputDir      string  `json:"output_dir"`
	SegmentSeconds int     `json:"segment_seconds"`
	DiskFreeMiB    float64 `json:"disk_free_mib"`
	DiskFloorMiB   float64 `json:"disk_floor_mib"`
}

// Recorder wraps one managed ffmpeg process configured for segmented
// recording plus the admission guard for its volume.
type Recorder struct {
	cfg   Config
	proc  *process.ManagedProcess
	guard *diskguard.Guard
	lg    *logger.Logger
	sink  history.Sink // optional
}

// New prepares the output directory and returns a stopped recorder.
func New(cfg Config, guard *diskguard.Guard, lg *logger.Logger, sink history.Sink) (*Recorder, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("recorder: output dir: %w", err)
	}
	return &Recorder{
		cfg: cfg,
		proc: process.New(process.Spec{
			Name:        component,
			Command:     buildCommand(cfg),
			WorkDir:     filepath.Dir(cfg.OutputDir),
			QuitCommand: "q",
			Output:      cfg.Output,
		}, lg),
		guard: guard,
		lg:    lg,
		sink:  sink,
	}, nil
}

// buildCommand assembles the segment-muxer argv. The stream is copied
// without re-encoding; faststart keeps each finished segment playable
// immediately.
func buildCommand(cfg Config) []string {
	pattern := filepath.Join(cfg.OutputDir, "rec_%Y%m%d_%H%M%S.mp4")
	return []string{
		"ffmpeg",
		"-rtmp_live", "live",
		"-err_detect", "ignore_err",
		"-fflags", "+genpts+discardcorrupt",
		"-i", cfg.URL,
		"-c:v", "copy",
		"-movflags", "+faststart",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", cfg.SegmentSeconds),
		"-reset_timestamps", "1",
		"-strftime", "1",
		pattern,
	}
}

// Start begins segmented recording. The guard is consulted before any
// worker is spawned; a denial returns ErrInsufficientDiskSpace.
// Starting an already-running recorder is logged and ignored.
func (r *Recorder) Start() error {
	if r.IsRunning() {
		r.lg.Info(component, "already_running", nil, "Recorder already running")
		return nil
	}

	wasPaused := r.guard.Paused()
	if !r.guard.CheckAdmission() {
		return fmt.Errorf("%w (< %.0f MiB free)", ErrInsufficientDiskSpace, r.guard.FloorMiB())
	}
	if wasPaused {
		r.emit(history.EventDiskResume, history.Record{
			Component: component,
			Detail:    fmt.Sprintf("free recovered to %.0f MiB", r.guard.LastFreeMiB()),
		})
	}

	r.lg.Info(component, "segment_open", map[string]any{
		"output_dir":      r.cfg.OutputDir,
		"segment_seconds": r.cfg.SegmentSeconds,
		"url":             r.cfg.URL,
	}, "Starting segmented recording")

	if err := r.proc.Start(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	metrics.IncStart(component)
	r.emit(history.EventStart, history.Record{Component: component, PID: r.proc.PID()})
	return nil
}

// Stop shuts the recording worker down gracefully. ffmpeg finalizes the
// open segment on the quit command before any signal is sent.
func (r *Recorder) Stop() error {
	if !r.IsRunning() {
		return nil
	}
	pid := r.proc.PID()
	if err := r.proc.Stop(stopGrace); err != nil {
		return err
	}
	metrics.IncStop(component)
	r.emit(history.EventStop, history.Record{Component: component, PID: pid})
	return nil
}

// IsRunning is derived from the process handle, never cached.
func (r *Recorder) IsRunning() bool {
	return r.proc.IsAlive()
}

// IsPaused reports whether the guard is holding recording back.
func (r *Recorder) IsPaused() bool {
	return r.guard.Paused()
}

// Monitor is the periodic supervision step. It reports a worker that
// died since the last call, then re-checks disk admission and pauses
// recording on denial. It never restarts the worker; the supervision
// loop re-invokes Start once the guard admits again.
func (r *Recorder) Monitor() {
	if info, ok := r.proc.ObserveExit(); ok {
		r.lg.Error(component, "process_died", map[string]any{
			"exit_code":   info.Code,
			"output_tail": info.OutputTail,
		}, fmt.Sprintf("Recording process died unexpectedly (code %d)", info.Code))
		metrics.IncCrash(component)
		r.emit(history.EventCrash, history.Record{
			Component: component,
			ExitCode:  info.Code,
			Detail:    info.OutputTail,
		})
		return
	}

	if !r.IsRunning() {
		return
	}

	if !r.guard.CheckAdmission() {
		r.lg.Service(component, "pausing", map[string]any{
			"free_mib": r.guard.LastFreeMiB(),
		}, "Pausing recording due to low disk space")
		_ = r.Stop()
		r.emit(history.EventDiskPause, history.Record{
			Component: component,
			Detail:    fmt.Sprintf("free below %.0f MiB", r.guard.FloorMiB()),
		})
	}
}

// Status returns the current recorder view. Disk free space is the
// guard's last measurement so pollers do not hit the volume twice.
func (r *Recorder) Status() Status {
	return Status{
		IsRunning:      r.IsRunning(),
		IsPaused:       r.guard.Paused(),
		OutputDir:      r.cfg.OutputDir,
		SegmentSeconds: r.cfg.SegmentSeconds,
		DiskFreeMiB:    r.guard.LastFreeMiB(),
		DiskFloorMiB:   r.guard.FloorMiB(),
	}
}

func (r *Recorder) emit(t history.EventType, rec history.Record) {
	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := r.sink.Send(ctx, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		r.lg.Debug(component, "history_send_failed", map[string]any{
			"event": string(t), "error": err.Error(),
		}, "History sink rejected event")
	}
}
