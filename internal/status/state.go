package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatterm/internal/bus"
)

// State is the client's lifecycle and connection state.
type State string

const (
	Booting        State = "BOOTING"
	AuthRequired   State = "AUTH_REQUIRED"
	Authenticating State = "AUTHENTICATING"
	Connecting     State = "CONNECTING"
	Connected      State = "CONNECTED"
	Disconnected   State = "DISCONNECTED"
	Error          State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:        {AuthRequired, Authenticating, Error},
	AuthRequired:   {Authenticating, Error},
	Authenticating: {Connecting, AuthRequired, Error},
	Connecting:     {Connected, Disconnected, AuthRequired, Error},
	Connected:      {Disconnected, AuthRequired, Error},
	Disconnected:   {Connecting, Connected, AuthRequired, Error},
	Error:          {Booting, AuthRequired, Connecting},
}

// Machine tracks and enforces client state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state is a
// no-op and publishes nothing. Returns error if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, Change{From: from, To: to}))
	}
	return nil
}

// CanTransition reports whether to is reachable from the current state in one step.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == to || slices.Contains(validTransitions[m.current], to)
}

// Change is the payload for status.changed events.
type Change struct {
	From State
	To   State
}
