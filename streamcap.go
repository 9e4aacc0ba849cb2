// Package streamcap wires the capture components together and runs the
// supervision loop that keeps the RTMP ingest and recording alive.
package streamcap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/streamcap/internal/backoff"
	"github.com/loykin/streamcap/internal/config"
	"github.com/loykin/streamcap/internal/diskguard"
	"github.com/loykin/streamcap/internal/health"
	"github.com/loykin/streamcap/internal/history"
	"github.com/loykin/streamcap/internal/history/factory"
	"github.com/loykin/streamcap/internal/logger"
	"github.com/loykin/streamcap/internal/metrics"
	"github.com/loykin/streamcap/internal/netdiag"
	"github.com/loykin/streamcap/internal/receiver"
	"github.com/loykin/streamcap/internal/recorder"
	"github.com/loykin/streamcap/internal/snapshot"
)

const (
	component    = "supervisor"
	loopInterval = 5 * time.Second
)

// Config and Snapshot aliases for external consumers.
type Config = config.Config

type Snapshot = health.Snapshot

// LoadConfig reads and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App owns every capture component. Build one with New, then Start it;
// the supervision loop reconnects the stream with jittered backoff
// until Stop.
type App struct {
	cfg     *Config
	lg      *logger.Logger
	sink    history.Sink // nil when no sinks configured
	guard   *diskguard.Guard
	stream  *receiver.Receiver
	rec     *recorder.Recorder // nil when recording disabled
	snaps   *snapshot.Snapshotter
	monitor *health.Monitor

	mu      sync.Mutex
	seq     *backoff.Sequence
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New wires all components from the configuration. Nothing is started.
func New(cfg *Config) (*App, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lg, err := logger.New(logger.Config{
		File:        cfg.Logging.File,
		Level:       level,
		RotateMaxMB: cfg.Logging.RotateMaxMB,
		BackupCount: cfg.Logging.RotateBackups,
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, lg: lg}

	if len(cfg.History.Sinks) > 0 {
		sinks := make(history.Multi, 0, len(cfg.History.Sinks))
		for _, dsn := range cfg.History.Sinks {
			s, serr := factory.NewSinkFromDSN(dsn)
			if serr != nil {
				_ = sinks.Close()
				_ = lg.Close()
				return nil, fmt.Errorf("history sink %q: %w", dsn, serr)
			}
			sinks = append(sinks, s)
		}
		a.sink = sinks
	}

	output := logger.OutputConfig{Dir: cfg.Logging.WorkerOutputDir}

	a.stream = receiver.New(receiver.Config{
		URL:         cfg.Stream.URL,
		ReadTimeout: time.Duration(cfg.Stream.ReadTimeoutSeconds) * time.Second,
		Output:      output,
	}, lg, a.sink)

	if cfg.Recording.Enabled {
		a.guard, err = diskguard.New(cfg.Recording.OutputDir,
			cfg.Recording.DiskFreeFloorMiB, cfg.Recording.DiskFreeResumeMiB, lg)
		if err != nil {
			a.close()
			return nil, err
		}
		a.rec, err = recorder.New(recorder.Config{
			URL:            cfg.Stream.URL,
			OutputDir:      cfg.Recording.OutputDir,
			SegmentSeconds: cfg.Recording.SegmentSeconds,
			Output:         output,
		}, a.guard, lg, a.sink)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	if cfg.Snapshots.Enabled {
		a.snaps, err = snapshot.New(snapshot.Config{
			URL:             cfg.Stream.URL,
			OutputDir:       cfg.Snapshots.OutputDir,
			IntervalSeconds: cfg.Snapshots.IntervalSeconds,
		}, lg)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	var recProbe health.RecordProbe = noRecorder{}
	var diskProbe health.DiskProbe = noDisk{}
	if a.rec != nil {
		recProbe = a.rec
		diskProbe = a.guard
	}
	a.monitor = health.New(
		time.Duration(cfg.Health.CheckIntervalSeconds)*time.Second,
		a.stream, recProbe, diskProbe, lg,
	)

	a.seq, err = backoff.New(cfg.Stream.Reconnect.BackoffSeconds)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

// noRecorder and noDisk stand in when recording is disabled so the
// health monitor always has something to poll.
type noRecorder struct{}

func (noRecorder) Status() recorder.Status { return recorder.Status{} }

type noDisk struct{}

func (noDisk) LastFreeMiB() float64 { return 0 }
func (noDisk) Paused() bool         { return false }

// Start brings the client up: health monitor, ingest, recording, and
// the supervision loop.
func (a *App) Start() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("streamcap: already running")
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	stopCh, done := a.stopCh, a.done
	a.mu.Unlock()

	a.lg.Service(component, "starting", nil, "Starting capture client")

	a.monitor.Start()

	if err := a.stream.Start(); err != nil {
		a.lg.Error(component, "start_failed", map[string]any{
			"error": err.Error(),
		}, fmt.Sprintf("Failed to start: %v", err))
		a.shutdownComponents()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		close(done)
		return err
	}

	if a.rec != nil {
		if err := a.rec.Start(); err != nil && !errors.Is(err, recorder.ErrInsufficientDiskSpace) {
			a.lg.Error(component, "start_failed", map[string]any{
				"error": err.Error(),
			}, fmt.Sprintf("Failed to start recorder: %v", err))
		}
	}

	go a.loop(stopCh, done)

	a.lg.Service(component, "started", nil, "Capture client started")
	return nil
}

// loop is the supervision tick: observe stream death, reconnect with
// backoff, keep the recorder admitted, fire interval snapshots.
func (a *App) loop(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		a.stream.CheckHealth()

		if !a.stream.IsRunning() {
			delay := a.nextDelay()
			a.lg.Info(component, "reconnecting", map[string]any{
				"delay_s": delay.Seconds(),
			}, fmt.Sprintf("Reconnecting in %.1fs", delay.Seconds()))

			select {
			case <-stopCh:
				return
			case <-time.After(delay):
			}

			metrics.IncReconnectAttempt()
			if err := a.stream.Start(); err != nil {
				a.lg.Error(component, "reconnect_failed", map[string]any{
					"error": err.Error(),
				}, fmt.Sprintf("Reconnect failed: %v", err))
			} else {
				// A successful reconnect opens a fresh backoff campaign.
				a.resetBackoff()
			}
		}

		if a.rec != nil {
			a.rec.Monitor()
			if a.stream.IsRunning() && !a.rec.IsRunning() {
				if err := a.rec.Start(); err != nil && !errors.Is(err, recorder.ErrInsufficientDiskSpace) {
					a.lg.Error(component, "recorder_restart_failed", map[string]any{
						"error": err.Error(),
					}, fmt.Sprintf("Recorder restart failed: %v", err))
				}
			}
		}

		if a.snaps != nil && a.snaps.ShouldCaptureInterval() {
			if _, err := a.snaps.Capture(); err != nil {
				a.lg.Error(component, "snapshot_failed", map[string]any{
					"error": err.Error(),
				}, fmt.Sprintf("Snapshot failed: %v", err))
			}
		}
	}
}

func (a *App) nextDelay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq.Next()
}

func (a *App) resetBackoff() {
	seq, err := backoff.New(a.cfg.Stream.Reconnect.BackoffSeconds)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.seq = seq
	a.mu.Unlock()
}

// Stop ends the supervision loop and shuts every component down. Safe
// to call more than once.
func (a *App) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	stopCh, done := a.stopCh, a.done
	a.mu.Unlock()

	a.lg.Service(component, "stopping", nil, "Stopping capture client")

	close(stopCh)
	<-done

	a.shutdownComponents()
	a.lg.Service(component, "stopped", nil, "Capture client stopped")
}

func (a *App) shutdownComponents() {
	if a.rec != nil {
		_ = a.rec.Stop()
	}
	_ = a.stream.Stop()
	a.monitor.Stop()
}

// Close releases the logger and history sinks. Call after Stop.
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a.sink != nil {
		_ = a.sink.Close()
	}
	if a.lg != nil {
		_ = a.lg.Close()
	}
}

// Health returns the monitor's current snapshot.
func (a *App) Health() Snapshot { return a.monitor.Current() }

// Summary returns the human-readable status rendering.
func (a *App) Summary() string { return a.monitor.Summary() }

// RefreshHealth polls all components once, outside the monitor's tick.
func (a *App) RefreshHealth() { a.monitor.Refresh() }

// Reconnect forces an immediate stream restart, bypassing backoff. The
// recorder is bounced with it so segments stay aligned to the new
// connection.
func (a *App) Reconnect() error {
	a.lg.Info(component, "command_reconnect", nil, "Reconnect requested")

	if err := a.stream.Stop(); err != nil {
		return err
	}
	if err := a.stream.Start(); err != nil {
		a.lg.Error(component, "reconnect_failed", map[string]any{
			"error": err.Error(),
		}, fmt.Sprintf("Reconnect failed: %v", err))
		return err
	}
	a.resetBackoff()

	if a.rec != nil {
		if err := a.rec.Stop(); err != nil {
			return err
		}
		if err := a.rec.Start(); err != nil && !errors.Is(err, recorder.ErrInsufficientDiskSpace) {
			return err
		}
	}
	return nil
}

// Snapshot captures one still frame and returns its path.
func (a *App) Snapshot() (string, error) {
	if a.snaps == nil {
		return "", errors.New("streamcap: snapshots are disabled")
	}
	return a.snaps.Capture()
}

// Diagnose runs the full network probe suite against the stream URL.
func (a *App) Diagnose(ctx context.Context) (netdiag.Report, error) {
	return netdiag.New(a.lg).RunFull(ctx, a.cfg.Stream.URL)
}
