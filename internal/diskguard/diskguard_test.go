package diskguard

import (
	"errors"
	"path/filepath"
	"testing"

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

func newGuard(t *testing.T, floor, resume float64) *Guard {
	t.Helper()
	g, err := New("/recordings", floor, resume, testLogger(t))
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return g
}

func (g *Guard) setFree(mib float64) {
	g.measure = func(string) (float64, error) { return mib, nil }
}

func TestPausesBelowFloor(t *testing.T) {
	g := newGuard(t, 500, 1024)

	g.setFree(400)
	if g.CheckAdmission() {
		t.Fatal("expected denial below floor")
	}
	if !g.Paused() {
		t.Fatal("expected paused state")
	}
}

func TestExactBoundaries(t *testing.T) {
	g := newGuard(t, 500, 1024)

	// Exactly at the floor: comparison is strict, still admitting.
	g.setFree(500)
	if !g.CheckAdmission() {
		t.Fatal("measurement equal to floor must admit")
	}

	g.setFree(499)
	if g.CheckAdmission() {
		t.Fatal("measurement below floor must pause")
	}

	// Exactly at the resume threshold: strict comparison, stays paused.
	g.setFree(1024)
	if g.CheckAdmission() {
		t.Fatal("measurement equal to resume threshold must stay paused")
	}
	if !g.Paused() {
		t.Fatal("guard should remain paused")
	}
}

func TestHysteresisBand(t *testing.T) {
	g := newGuard(t, 500, 1024)

	g.setFree(400)
	g.CheckAdmission()

	// Recovered above floor but inside the band: still paused.
	g.setFree(800)
	if g.CheckAdmission() {
		t.Fatal("expected denial inside hysteresis band")
	}
	if !g.Paused() {
		t.Fatal("expected paused state inside band")
	}

	g.setFree(1500)
	if !g.CheckAdmission() {
		t.Fatal("expected admission above resume threshold")
	}
	if g.Paused() {
		t.Fatal("guard should have resumed")
	}
}

func TestSafeRangeStaysAdmitting(t *testing.T) {
	g := newGuard(t, 500, 1024)
	g.setFree(5000)
	for i := 0; i < 3; i++ {
		if !g.CheckAdmission() {
			t.Fatal("expected admission with ample space")
		}
	}
	if g.LastFreeMiB() != 5000 {
		t.Fatalf("last measurement = %v, want 5000", g.LastFreeMiB())
	}
}

func TestMeasurementFailureKeepsState(t *testing.T) {
	g := newGuard(t, 500, 1024)
	g.measure = func(string) (float64, error) { return 0, errors.New("volume offline") }
	if !g.CheckAdmission() {
		t.Fatal("measurement failure while admitting should not pause")
	}
}

func TestConstructionValidatesBand(t *testing.T) {
	lg := testLogger(t)
	if _, err := New("/recordings", 1024, 1024, lg); err == nil {
		t.Fatal("expected error for degenerate band")
	}
	if _, err := New("/recordings", 1024, 500, lg); err == nil {
		t.Fatal("expected error for inverted thresholds")
	}
	if _, err := New("", 500, 1024, lg); err == nil {
		t.Fatal("expected error for empty path")
	}
}
