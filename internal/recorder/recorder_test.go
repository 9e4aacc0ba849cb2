//go:build !windows

package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/streamcap/internal/diskguard"
	"github.com/loykin/streamcap/internal/history"
	"github.com/loykin/streamcap/internal/logger"
)

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New(logger.Config{
		File:  filepath.Join(t.TempDir(), "audit.log"),
		Level: logger.LevelDebug,
	})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { _ = lg.Close() })
	return lg
}

// admittingGuard watches a real tempdir with a floor any disk clears.
func admittingGuard(t *testing.T, dir string) *diskguard.Guard {
	t.Helper()
	g, err := diskguard.New(dir, 1, 2, testLogger(t))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	return g
}

// pausingGuard uses a floor no disk can satisfy.
func pausingGuard(t *testing.T, dir string) *diskguard.Guard {
	t.Helper()
	g, err := diskguard.New(dir, 1e12, 2e12, testLogger(t))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	return g
}

func TestBuildCommand(t *testing.T) {
	cmd := buildCommand(Config{
		URL:            "rtmp://camera.local/live/stream",
		OutputDir:      "/var/recordings",
		SegmentSeconds: 10800,
	})
	joined := strings.Join(cmd, " ")
	for _, want := range []string{
		"-f segment",
		"-segment_time 10800",
		"-strftime 1",
		"-c:v copy",
		"-movflags +faststart",
		"rec_%Y%m%d_%H%M%S.mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("command missing %q: %s", want, joined)
		}
	}
}

func TestStartDeniedOnLowDisk(t *testing.T) {
	dir := t.TempDir()
	sink := &memorySink{}
	r, err := New(Config{URL: "rtmp://test/live", OutputDir: dir, SegmentSeconds: 60},
		pausingGuard(t, dir), testLogger(t), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = r.Start()
	if !errors.Is(err, ErrInsufficientDiskSpace) {
		t.Fatalf("start: %v, want ErrInsufficientDiskSpace", err)
	}
	if r.IsRunning() {
		t.Fatal("no worker may be spawned on denial")
	}
	if !r.IsPaused() {
		t.Fatal("guard should be paused after denial")
	}
	if got := sink.types(); len(got) != 0 {
		t.Fatalf("denied start emitted events: %v", got)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	sink := &memorySink{}
	r, err := New(Config{URL: "rtmp://test/live", OutputDir: dir, SegmentSeconds: 60},
		admittingGuard(t, dir), testLogger(t), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.proc.UpdateCommand([]string{"sleep", "30"})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !r.IsRunning() {
		t.Fatal("recorder should be running")
	}

	st := r.Status()
	if !st.IsRunning || st.IsPaused {
		t.Fatalf("status = %+v", st)
	}
	if st.OutputDir != dir || st.SegmentSeconds != 60 {
		t.Fatalf("status config = %+v", st)
	}
	if st.DiskFreeMiB <= 0 {
		t.Fatalf("disk free = %v, want last measurement", st.DiskFreeMiB)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if r.IsRunning() {
		t.Fatal("recorder still running after stop")
	}

	got := sink.types()
	if len(got) != 2 || got[0] != history.EventStart || got[1] != history.EventStop {
		t.Fatalf("history events = %v", got)
	}
}

func TestMonitorReportsCrashOnce(t *testing.T) {
	dir := t.TempDir()
	sink := &memorySink{}
	r, err := New(Config{URL: "rtmp://test/live", OutputDir: dir, SegmentSeconds: 60},
		admittingGuard(t, dir), testLogger(t), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.proc.UpdateCommand([]string{"sh", "-c", "sleep 0.3; exit 1"})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("worker never exited")
		}
		time.Sleep(20 * time.Millisecond)
	}

	r.Monitor()
	r.Monitor()
	r.Monitor()

	crashes := 0
	for _, typ := range sink.types() {
		if typ == history.EventCrash {
			crashes++
		}
	}
	if crashes != 1 {
		t.Fatalf("crash events = %d, want exactly 1", crashes)
	}
}

func TestMonitorPausesOnLowDisk(t *testing.T) {
	dir := t.TempDir()
	sink := &memorySink{}
	r, err := New(Config{URL: "rtmp://test/live", OutputDir: dir, SegmentSeconds: 60},
		admittingGuard(t, dir), testLogger(t), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.proc.UpdateCommand([]string{"sleep", "30"})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The volume drops below the floor between ticks.
	r.guard = pausingGuard(t, dir)

	r.Monitor()
	if r.IsRunning() {
		t.Fatal("recorder should be stopped after disk pause")
	}
	if !r.IsPaused() {
		t.Fatal("guard should be paused")
	}

	got := sink.types()
	if len(got) != 3 || got[2] != history.EventDiskPause {
		t.Fatalf("history events = %v, want start, stop, disk_pause", got)
	}

	// Further starts are denied while paused.
	if err := r.Start(); !errors.Is(err, ErrInsufficientDiskSpace) {
		t.Fatalf("start while paused: %v", err)
	}
}
