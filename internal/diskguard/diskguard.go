// Package diskguard gates recording on free disk space with hysteresis.
package diskguard

import (
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/loykin/streamcap/internal/logger"
)

const component = "diskguard"

// Guard is a two-state admission gate for the recording volume.
//
// Admitting: recording may proceed; drops below the floor threshold pause.
// Paused: recording is denied until free space climbs above the resume
// threshold. The resume bar sits strictly above the floor so the guard
// does not flap around a single boundary.
//
// Comparisons are intentionally asymmetric: exactly at the floor still
// admits, exactly at the resume threshold stays paused. Ties break toward
// not recording.
type Guard struct {
	mu        sync.Mutex
	path      string
	floorMiB  float64
	resumeMiB float64
	paused    bool
	lastFree  float64
	lg        *logger.Logger

	// measure is swapped in tests to avoid touching the real volume.
	measure func(path string) (float64, error)
}

// New validates the hysteresis band and returns a Guard in the Admitting
// state. resumeMiB must be strictly greater than floorMiB; a degenerate
// band would silently disable hysteresis, so construction fails instead.
func New(path string, floorMiB, resumeMiB float64, lg *logger.Logger) (*Guard, error) {
	if path == "" {
		return nil, fmt.Errorf("diskguard: volume path required")
	}
	if floorMiB <= 0 {
		return nil, fmt.Errorf("diskguard: floor threshold must be positive, got %.0f", floorMiB)
	}
	if resumeMiB <= floorMiB {
		return nil, fmt.Errorf("diskguard: resume threshold (%.0f MiB) must exceed floor (%.0f MiB)", resumeMiB, floorMiB)
	}
	return &Guard{
		path:      path,
		floorMiB:  floorMiB,
		resumeMiB: resumeMiB,
		lg:        lg,
		measure:   freeMiB,
	}, nil
}

func freeMiB(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("diskguard: usage %s: %w", path, err)
	}
	return float64(usage.Free) / (1024 * 1024), nil
}

// CheckAdmission measures free space and reports whether recording may
// proceed, transitioning state as needed. The transition and the
// measurement that caused it are logged as one atomic pair. Repeated
// denials while paused are silent.
func (g *Guard) CheckAdmission() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	free, err := g.measure(g.path)
	if err != nil {
		// Measurement failure keeps the current state; an unreadable
		// volume while admitting is logged but does not pause.
		g.lg.Error(component, "measure_failed", map[string]any{
			"path": g.path, "error": err.Error(),
		}, fmt.Sprintf("Disk measurement failed: %v", err))
		return !g.paused
	}
	g.lastFree = free

	if g.paused {
		if free > g.resumeMiB {
			g.paused = false
			g.lg.Service(component, "disk_space_resumed", map[string]any{
				"free_mib":             free,
				"resume_threshold_mib": g.resumeMiB,
			}, fmt.Sprintf("Disk space recovered to %.0f MiB, resuming recording", free))
			return true
		}
		return false
	}

	if free < g.floorMiB {
		g.paused = true
		g.lg.Error(component, "disk_space_low", map[string]any{
			"free_mib":  free,
			"floor_mib": g.floorMiB,
		}, fmt.Sprintf("Disk space below %.0f MiB, pausing recording", g.floorMiB))
		return false
	}
	return true
}

// FreeMiB measures free space on the recording volume without touching
// guard state. Safe to call repeatedly.
func (g *Guard) FreeMiB() (float64, error) {
	g.mu.Lock()
	measure, path := g.measure, g.path
	g.mu.Unlock()
	free, err := measure(path)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	g.lastFree = free
	g.mu.Unlock()
	return free, nil
}

// LastFreeMiB returns the most recent measurement, letting pollers reuse
// the admission check's side-effect value instead of hitting the disk
// twice per tick.
func (g *Guard) LastFreeMiB() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFree
}

// Paused reports whether the guard is currently denying admission.
func (g *Guard) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// FloorMiB returns the configured pause threshold.
func (g *Guard) FloorMiB() float64 { return g.floorMiB }
