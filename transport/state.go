package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Connection States
// --------------------------------------------------------------------------

// State is the lifecycle state of a single connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StateWatcher observes connection state transitions. Watchers are called
// synchronously and must not block.
type StateWatcher func(endpoint string, old, new State)

// legalTransitions lists the allowed state changes of a connection.
var legalTransitions = map[State][]State{
	StateDisconnected:   {StateConnecting, StateClosing},
	StateConnecting:     {StateAuthenticating, StateReady, StateDisconnected, StateClosing},
	StateAuthenticating: {StateReady, StateDisconnected, StateClosing},
	StateReady:          {StateDisconnected, StateClosing},
	StateClosing:        {StateDisconnected},
}

// --------------------------------------------------------------------------
// State Machine
// --------------------------------------------------------------------------

// StateMachine tracks the lifecycle of one connection and notifies the
// registered watchers about every transition. It is safe for concurrent
// use; illegal transitions are rejected so state handling bugs surface as
// errors instead of silent corruption.
type StateMachine struct {
	endpoint string
	state    atomic.Int32

	mu       sync.Mutex // serializes transitions and watcher notification
	watchers []StateWatcher
}

// NewStateMachine creates a state machine in the Disconnected state.
func NewStateMachine(endpoint string) *StateMachine {
	return &StateMachine{endpoint: endpoint}
}

// Get returns the current state.
func (m *StateMachine) Get() State {
	return State(m.state.Load())
}

// Is reports whether the machine currently is in the given state.
func (m *StateMachine) Is(s State) bool {
	return m.Get() == s
}

// Subscribe registers a watcher for all future transitions.
func (m *StateMachine) Subscribe(w StateWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, w)
}

// Transition moves the machine to the given state, notifying all watchers.
// It fails if the transition is not legal for the current state.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := State(m.state.Load())
	if from == to {
		return nil
	}

	if !transitionLegal(from, to) {
		return fmt.Errorf("transport: illegal state transition %s -> %s", from, to)
	}

	m.state.Store(int32(to))
	for _, w := range m.watchers {
		w(m.endpoint, from, to)
	}
	return nil
}

// transitionLegal checks from -> to against the transition table.
func transitionLegal(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
