package metrics

import "sync"

// MemoryObserver keeps events in memory. Test use only.
type MemoryObserver struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Named returns the recorded events with the given name.
func (m *MemoryObserver) Named(name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events with the given name were recorded.
func (m *MemoryObserver) Count(name string) int {
	return len(m.Named(name))
}
