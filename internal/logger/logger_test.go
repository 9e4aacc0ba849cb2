package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, cfg Config) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "audit.log")
	l := newTestLogger(t, Config{File: file, Level: LevelDebug})

	ctx := map[string]any{"url": "rtmp://cam.local/live", "pid": 1234}
	if err := l.Log(LevelService, "receiver", "input_opened", ctx, "RTMP stream opened"); err != nil {
		t.Fatalf("log: %v", err)
	}

	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Lvl != "service" || rec.Comp != "receiver" || rec.Evt != "input_opened" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Msg != "RTMP stream opened" {
		t.Fatalf("unexpected message: %q", rec.Msg)
	}
	if rec.Ctx["url"] != "rtmp://cam.local/live" {
		t.Fatalf("context lost: %v", rec.Ctx)
	}
	if !strings.HasSuffix(rec.TS, "Z") {
		t.Fatalf("timestamp not UTC: %q", rec.TS)
	}
}

func TestLevelFilteringSkipsIO(t *testing.T) {
	file := filepath.Join(t.TempDir(), "audit.log")
	l := newTestLogger(t, Config{File: file, Level: LevelService})

	l.Debug("health", "tick", nil, "below threshold")
	l.Info("health", "tick", nil, "below threshold")

	st, err := os.Stat(file)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("filtered records reached disk, size=%d", st.Size())
	}

	l.Error("health", "monitor_error", nil, "at threshold")
	st, _ = os.Stat(file)
	if st.Size() == 0 {
		t.Fatal("error record was not written")
	}
}

func TestRotationKeepsBackupCount(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "audit.log")
	l := newTestLogger(t, Config{File: file, Level: LevelDebug, RotateMaxMB: 1, BackupCount: 2})
	// Shrink the threshold so a handful of records trigger rotations.
	l.maxBytes = 256

	payload := strings.Repeat("x", 128)
	for i := 0; i < 20; i++ {
		if err := l.Log(LevelInfo, "recorder", "segment_open", map[string]any{"n": i}, payload); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	for _, want := range []string{"audit.log", "audit.log.1", "audit.log.2"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing %s, have %v", want, names)
		}
	}
	if _, err := os.Stat(file + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backup beyond count retained: %v", err)
	}
}

func TestRotatedContentStaysParseable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "audit.log")
	l := newTestLogger(t, Config{File: file, Level: LevelDebug, BackupCount: 3})
	l.maxBytes = 512

	for i := 0; i < 30; i++ {
		_ = l.Log(LevelInfo, "guard", "measure", map[string]any{"free_mib": i * 100}, "measurement")
	}

	for _, name := range []string{file, file + ".1"} {
		f, err := os.Open(name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			var rec Record
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				t.Fatalf("%s: bad line %q: %v", name, sc.Text(), err)
			}
		}
		_ = f.Close()
	}
}

func TestCloseStopsLogging(t *testing.T) {
	file := filepath.Join(t.TempDir(), "audit.log")
	l, err := New(Config{File: file, Level: LevelDebug})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := l.Log(LevelError, "cli", "late", nil, "after close"); err == nil {
		t.Fatal("expected error when logging after close")
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"debug": LevelDebug, "info": LevelInfo, "service": LevelService, "error": LevelError,
	} {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseLevel("fatal"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOutputConfigWriter(t *testing.T) {
	dir := t.TempDir()
	c := OutputConfig{Dir: dir}
	w := c.Writer("receiver")
	if w == nil {
		t.Fatal("expected writer when dir configured")
	}
	if _, err := fmt.Fprintln(w, "frame= 100"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(filepath.Join(dir, "receiver.output.log")); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if (OutputConfig{}).Writer("x") != nil {
		t.Fatal("expected nil writer when unconfigured")
	}
}
