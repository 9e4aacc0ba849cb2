// Package receiver supervises the ffmpeg worker that pulls the RTMP
// stream. It does not record anything; it keeps the ingest alive and
// reports its health.
package receiver

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/streamcap/internal/history"
	"github.com/loykin/streamcap/internal/logger"
	"github.com/loykin/streamcap/internal/metrics"
	"github.com/loykin/streamcap/internal/process"
)

const (
	component   = "stream_receiver"
	stopGrace   = 5 * time.Second
	emitTimeout = 3 * time.Second
)

// Config describes the ingest endpoint.
type Config struct {
	URL         string
	ReadTimeout time.Duration
	Output      logger.OutputConfig
}

// Health is the receiver's contribution to a health snapshot. Uptime is
// computed at call time, never cached.
type Health struct {
	Status  string  `json:"status"`
	UptimeS float64 `json:"uptime_s"`
	PID     int     `json:"pid,omitempty"`
}

// Receiver wraps one managed ffmpeg process configured for ingest.
type Receiver struct {
	cfg  Config
	proc *process.ManagedProcess
	lg   *logger.Logger
	sink history.Sink // optional
}

// New builds a stopped receiver. sink may be nil when no history export
// is configured.
func New(cfg Config, lg *logger.Logger, sink history.Sink) *Receiver {
	return &Receiver{
		cfg: cfg,
		proc: process.New(process.Spec{
			Name:    component,
			Command: buildCommand(cfg.URL),
			Output:  cfg.Output,
		}, lg),
		lg:   lg,
		sink: sink,
	}
}

// buildCommand assembles the ingest argv. The stream is pulled at its
// native rate and discarded; recording is the recorder's job.
func buildCommand(url string) []string {
	return []string{
		"ffmpeg",
		"-re",
		"-rtmp_live", "live",
		"-i", url,
		"-c:v", "copy",
		"-f", "null",
		"-",
	}
}

// Start opens the RTMP input. Starting an already-running receiver is
// logged and ignored.
func (r *Receiver) Start() error {
	if r.IsRunning() {
		r.lg.Info(component, "already_running", nil, "Stream receiver already running")
		return nil
	}

	r.lg.Info(component, "input_open", map[string]any{
		"url":       r.cfg.URL,
		"timeout_s": r.cfg.ReadTimeout.Seconds(),
	}, "Opening RTMP input stream")

	if err := r.proc.Start(); err != nil {
		return fmt.Errorf("stream receiver: %w", err)
	}

	metrics.IncStart(component)
	r.emit(history.EventStart, history.Record{Component: component, PID: r.proc.PID()})
	return nil
}

// Stop shuts the ingest worker down gracefully.
func (r *Receiver) Stop() error {
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
func (r *Receiver) IsRunning() bool {
	return r.proc.IsAlive()
}

// CheckHealth reports the receiver's current status. A worker that died
// since the last check is logged once as process_died with its exit
// context, then the receiver reads as stopped.
func (r *Receiver) CheckHealth() Health {
	if info, ok := r.proc.ObserveExit(); ok {
		uptime := 0.0
		if started := r.proc.StartedAt(); !started.IsZero() {
			uptime = info.At.Sub(started).Seconds()
		}
		r.lg.Error(component, "process_died", map[string]any{
			"exit_code":   info.Code,
			"output_tail": info.OutputTail,
			"uptime_s":    uptime,
		}, fmt.Sprintf("Stream receiver process died (code %d)", info.Code))
		metrics.IncCrash(component)
		r.emit(history.EventCrash, history.Record{
			Component: component,
			ExitCode:  info.Code,
			Detail:    info.OutputTail,
		})
	}

	if !r.IsRunning() {
		metrics.SetUptime(component, 0)
		return Health{Status: "stopped"}
	}

	uptime := time.Since(r.proc.StartedAt()).Seconds()
	metrics.SetUptime(component, uptime)
	return Health{
		Status:  "running",
		UptimeS: uptime,
		PID:     r.proc.PID(),
	}
}

func (r *Receiver) emit(t history.EventType, rec history.Record) {
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
