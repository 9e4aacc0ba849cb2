//go:build !windows

package process

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/streamcap/internal/logger"
)

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

func TestStartAndStop(t *testing.T) {
	p := New(Spec{
		Name:         "worker",
		Command:      []string{"sleep", "30"},
		StartupGrace: 50 * time.Millisecond,
	}, testLogger(t))

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.State() != StateRunning {
		t.Fatalf("state = %v, want running", p.State())
	}
	if !p.IsAlive() {
		t.Fatal("expected worker alive")
	}
	if p.PID() == 0 {
		t.Fatal("expected a pid")
	}

	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.State() != StateStopped {
		t.Fatalf("state after stop = %v", p.State())
	}
	if p.IsAlive() {
		t.Fatal("worker still alive after stop")
	}
}

func TestStartWhileRunning(t *testing.T) {
	p := New(Spec{
		Name:         "worker",
		Command:      []string{"sleep", "30"},
		StartupGrace: 50 * time.Millisecond,
	}, testLogger(t))

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = p.Stop(time.Second) }()

	if err := p.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: %v, want ErrAlreadyRunning", err)
	}
}

func TestImmediateExitIsLaunchFailure(t *testing.T) {
	p := New(Spec{
		Name:         "worker",
		Command:      []string{"sh", "-c", "echo boom >&2; exit 3"},
		StartupGrace: 300 * time.Millisecond,
	}, testLogger(t))

	err := p.Start()
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("start: %v, want LaunchError", err)
	}
	if !strings.Contains(le.OutputTail, "boom") {
		t.Fatalf("output tail %q missing worker output", le.OutputTail)
	}
	if p.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", p.State())
	}
	// The launch failure already consumed the exit.
	if _, ok := p.ObserveExit(); ok {
		t.Fatal("launch failure must not surface again via ObserveExit")
	}
}

func TestMissingBinaryIsLaunchFailure(t *testing.T) {
	p := New(Spec{
		Name:    "worker",
		Command: []string{"/nonexistent/binary-xyz"},
	}, testLogger(t))

	var le *LaunchError
	if err := p.Start(); !errors.As(err, &le) {
		t.Fatalf("start: %v, want LaunchError", err)
	}
}

func TestObserveExitExactlyOnce(t *testing.T) {
	p := New(Spec{
		Name:         "worker",
		Command:      []string{"sh", "-c", "echo dying; sleep 0.4; exit 1"},
		StartupGrace: 100 * time.Millisecond,
	}, testLogger(t))

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var info ExitInfo
	for {
		var ok bool
		info, ok = p.ObserveExit()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exit never observed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if info.Code != 1 {
		t.Fatalf("exit code = %d, want 1", info.Code)
	}
	if !strings.Contains(info.OutputTail, "dying") {
		t.Fatalf("output tail %q missing worker output", info.OutputTail)
	}
	if p.State() != StateCrashed {
		t.Fatalf("state = %v, want crashed", p.State())
	}
	if _, ok := p.ObserveExit(); ok {
		t.Fatal("second observation must return nothing")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(Spec{Name: "worker", Command: []string{"sleep", "30"}}, testLogger(t))

	// Stop before any start: no-op, no crash event.
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("stop on fresh process: %v", err)
	}
	if _, ok := p.ObserveExit(); ok {
		t.Fatal("no-op stop must not produce an exit observation")
	}

	p.spec.StartupGrace = 50 * time.Millisecond
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, ok := p.ObserveExit(); ok {
		t.Fatal("intentional stop must not surface as a crash")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	// Worker ignores SIGTERM; stop must still return promptly via kill.
	p := New(Spec{
		Name:         "worker",
		Command:      []string{"sh", "-c", "trap '' TERM; sleep 30"},
		StartupGrace: 100 * time.Millisecond,
	}, testLogger(t))

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	start := time.Now()
	if err := p.Stop(300 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("stop took %v, kill escalation failed", elapsed)
	}
	if p.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", p.State())
	}
}

func TestRestartAfterCrash(t *testing.T) {
	p := New(Spec{
		Name:         "worker",
		Command:      []string{"sh", "-c", "sleep 0.3; exit 1"},
		StartupGrace: 100 * time.Millisecond,
	}, testLogger(t))

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := p.ObserveExit(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exit never observed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	p.UpdateCommand([]string{"sleep", "30"})
	if err := p.Start(); err != nil {
		t.Fatalf("restart after crash: %v", err)
	}
	defer func() { _ = p.Stop(time.Second) }()
	if p.State() != StateRunning {
		t.Fatalf("state = %v, want running", p.State())
	}
}

func TestTailBufferBounded(t *testing.T) {
	tb := newTailBuffer(10)
	if _, err := tb.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := tb.String(); got != "6789abcdef" {
		t.Fatalf("tail = %q", got)
	}
	if _, err := tb.Write([]byte("XY")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := tb.String(); got != "89abcdefXY" {
		t.Fatalf("tail after append = %q", got)
	}
	if len(tb.String()) != 10 {
		t.Fatalf("tail exceeded capacity: %d", len(tb.String()))
	}
}
