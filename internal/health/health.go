// Package health aggregates component status into a periodically
// refreshed snapshot that the CLI and HTTP server read.
package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loykin/streamcap/internal/logger"
	"github.com/loykin/streamcap/internal/metrics"
	"github.com/loykin/streamcap/internal/receiver"
	"github.com/loykin/streamcap/internal/recorder"
)

const component = "health"

// StreamProbe is the receiver surface the monitor polls.
type StreamProbe interface {
	CheckHealth() receiver.Health
}

// RecordProbe is the recorder surface the monitor polls.
type RecordProbe interface {
	Status() recorder.Status
}

// DiskProbe exposes the guard's last measurement so the monitor does
// not hit the volume a second time per tick.
type DiskProbe interface {
	LastFreeMiB() float64
	Paused() bool
}

// Snapshot is one full replacement of the aggregated view. Readers get
// a copy; fields are never mutated in place.
type Snapshot struct {
	Stream      receiver.Health `json:"stream"`
	Recorder    recorder.Status `json:"recorder"`
	DiskFreeMiB float64         `json:"disk_free_mib"`
	LastCheck   time.Time       `json:"last_check"`
}

// Monitor polls the capture components on a fixed interval from a
// single goroutine. A failing or panicking component downgrades to its
// previous value instead of poisoning the snapshot.
type Monitor struct {
	interval time.Duration
	stream   StreamProbe
	rec      RecordProbe
	disk     DiskProbe
	lg       *logger.Logger

	mu      sync.Mutex
	snap    Snapshot
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New returns a monitor that has not started polling. The zero
// snapshot reads as stopped everywhere.
func New(interval time.Duration, stream StreamProbe, rec RecordProbe, disk DiskProbe, lg *logger.Logger) *Monitor {
	return &Monitor{
		interval: interval,
		stream:   stream,
		rec:      rec,
		disk:     disk,
		lg:       lg,
		snap:     Snapshot{Stream: receiver.Health{Status: "stopped"}},
	}
}

// Start launches the polling goroutine. Redundant starts are ignored.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	go m.loop(stopCh, done)

	m.lg.Service(component, "monitor_started", map[string]any{
		"interval_s": m.interval.Seconds(),
	}, "Health monitor started")
}

// Stop ends the polling goroutine and waits for it. Safe to call
// before Start or more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	close(stopCh)
	<-done

	m.lg.Info(component, "monitor_stopped", nil, "Health monitor stopped")
}

func (m *Monitor) loop(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Refresh polls every component once and publishes a new snapshot.
// Each poll is isolated: a failure keeps that component's previous
// value and the rest of the snapshot still updates.
func (m *Monitor) Refresh() {
	next := m.Current()

	m.poll("stream", func() { next.Stream = m.stream.CheckHealth() })
	m.poll("recorder", func() { next.Recorder = m.rec.Status() })
	m.poll("disk", func() {
		next.DiskFreeMiB = m.disk.LastFreeMiB()
		metrics.SetDiskFree(next.DiskFreeMiB)
		metrics.SetGuardPaused(m.disk.Paused())
	})
	next.LastCheck = time.Now().UTC()

	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
}

func (m *Monitor) poll(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.lg.Error(component, "monitor_error", map[string]any{
				"probe": name, "error": fmt.Sprint(r),
			}, fmt.Sprintf("Health probe %s failed: %v", name, r))
		}
	}()
	fn()
}

// Current returns a copy of the latest snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Summary renders the snapshot for humans.
func (m *Monitor) Summary() string {
	s := m.Current()

	lines := []string{
		fmt.Sprintf("Stream: %s", strings.ToUpper(s.Stream.Status)),
		fmt.Sprintf("  Uptime: %.0fs", s.Stream.UptimeS),
		"",
	}

	recState := "STOPPED"
	if s.Recorder.IsRunning {
		recState = "RUNNING"
	}
	lines = append(lines, fmt.Sprintf("Recorder: %s", recState))
	if s.Recorder.IsPaused {
		lines = append(lines, "  Status: PAUSED (low disk space)")
	}
	lines = append(lines,
		fmt.Sprintf("  Output: %s", s.Recorder.OutputDir),
		"",
		fmt.Sprintf("Disk Free: %.0f MiB", s.DiskFreeMiB),
	)

	return strings.Join(lines, "\n")
}
