package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/socialchat/internal/bus"
)

// State represents the lifecycle state of one open conversation.
type State string

const (
	Loading State = "LOADING"
	Ready   State = "READY"
	Sending State = "SENDING"
	Closed  State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Loading: {Ready, Closed},
	Ready:   {Sending, Loading, Closed},
	Sending: {Ready, Loading, Closed},
	Closed:  {},
}

// Machine tracks and enforces a conversation's state transitions.
type Machine struct {
	mu             sync.RWMutex
	conversationID string
	current        State
	bus            *bus.Bus
}

// NewMachine creates a new state machine starting in Loading state.
func NewMachine(conversationID string, b *bus.Bus) *Machine {
	return &Machine{
		conversationID: conversationID,
		current:        Loading,
		bus:            b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to && to != Closed {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.Event{
		Kind:      bus.KindThreadState,
		Timestamp: time.Now(),
		Payload: StatusChange{
			ConversationID: m.conversationID,
			From:           from,
			To:             to,
		},
	})
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	ConversationID string
	From           State
	To             State
}
