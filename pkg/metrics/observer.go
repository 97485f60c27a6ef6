package metrics

import "time"

// Event is one recorded measurement or occurrence.
type Event struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer receives events from the session components. Implementations
// must be safe for concurrent use; producers never wait on them.
type Observer interface {
	RecordEvent(ev Event)
}

// NoopObserver discards every event.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}
