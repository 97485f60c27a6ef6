package phase

import (
	"sync"
	"time"
)

// Change represents one phase transition event.
type Change struct {
	From      Phase
	To        Phase
	Timestamp time.Time
	Reason    string
}

// Listener observes phase transitions.
type Listener interface {
	OnPhaseChange(event Change)
}

// Machine is the session phase state machine. Transitions are validated
// against the lifecycle: greeting -> active, active <-> connecting
// (voice upgrade, recoverable), active <-> ending (evaluation fetch,
// retryable), ending -> completed (terminal).
type Machine struct {
	mu        sync.RWMutex
	current   Phase
	listeners []Listener
}

var validTransitions = map[Phase][]Phase{
	Greeting:   {Active},
	Active:     {Connecting, Ending},
	Connecting: {Active},
	Ending:     {Completed, Active},
	Completed:  {},
}

// NewMachine creates a machine in the Greeting phase.
func NewMachine() *Machine {
	return &Machine{current: Greeting}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is currently in p.
func (m *Machine) Is(p Phase) bool {
	return m.Current() == p
}

func transitionValid(from, to Phase) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new phase with validation. Listeners are
// notified outside the lock so they may query the machine.
func (m *Machine) Transition(to Phase, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.current, to) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	event := Change{
		From:      m.current,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnPhaseChange(event)
	}
	return nil
}

// AddListener registers a listener for phase change events.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// InvalidTransitionError represents an invalid phase transition attempt.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return "invalid phase transition from " + e.From.String() + " to " + e.To.String()
}
