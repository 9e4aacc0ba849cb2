// Package backoff produces jittered retry delays from a fixed schedule.
package backoff

import (
	"errors"
	"math/rand"
	"time"
)

// MinDelay is the floor applied to every produced delay so that a
// near-zero base entry still makes forward progress.
const MinDelay = 100 * time.Millisecond

// Sequence walks an ordered schedule of base delays (seconds), applying
// ±10% jitter to each value. Once past the end of the schedule it holds
// the last entry indefinitely. A Sequence never resets; construct a new
// one for each reconnection campaign.
//
// Sequence does not sleep and does not read the wall clock; the caller
// waits for the returned duration.
type Sequence struct {
	schedule []float64
	calls    int
	rng      *rand.Rand
}

// New validates the schedule and returns a fresh Sequence. The schedule
// must be non-empty and every base delay must be > 0.
func New(schedule []float64) (*Sequence, error) {
	return NewWithRand(schedule, nil)
}

// NewWithRand is New with an explicit jitter source. A nil rng uses the
// shared global source.
func NewWithRand(schedule []float64, rng *rand.Rand) (*Sequence, error) {
	if len(schedule) == 0 {
		return nil, errors.New("backoff: empty schedule")
	}
	for _, s := range schedule {
		if s <= 0 {
			return nil, errors.New("backoff: schedule entries must be positive")
		}
	}
	cp := make([]float64, len(schedule))
	copy(cp, schedule)
	return &Sequence{schedule: cp, rng: rng}, nil
}

// Next returns the delay for the current position and advances the
// cursor. The index clamps at the last schedule entry.
func (s *Sequence) Next() time.Duration {
	idx := s.calls
	if idx >= len(s.schedule) {
		idx = len(s.schedule) - 1
	}
	s.calls++

	base := s.schedule[idx]
	jitter := s.uniform()*0.2 - 0.1 // uniform in [-0.1, +0.1)
	delay := time.Duration(base * (1.0 + jitter) * float64(time.Second))
	if delay < MinDelay {
		delay = MinDelay
	}
	return delay
}

// Calls reports how many times Next has been invoked.
func (s *Sequence) Calls() int { return s.calls }

func (s *Sequence) uniform() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}
