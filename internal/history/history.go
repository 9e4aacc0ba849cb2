// Package history defines lifecycle events emitted by the capture
// workers and the sink interface that exports them to external systems.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart      EventType = "start"
	EventStop       EventType = "stop"
	EventCrash      EventType = "crash"
	EventDiskPause  EventType = "disk_pause"
	EventDiskResume EventType = "disk_resume"
)

// Record carries the worker context of an event. ExitCode is only
// meaningful for crash events; Detail holds free-form context such as
// an output tail or a threshold description.
type Record struct {
	Component string `json:"component"`
	PID       int    `json:"pid"`
	ExitCode  int    `json:"exit_code"`
	Detail    string `json:"detail,omitempty"`
}

// Event is one exported lifecycle event.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics
// systems). Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Multi fans an event out to several sinks. Send returns the first
// error but still delivers to the remaining sinks.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
