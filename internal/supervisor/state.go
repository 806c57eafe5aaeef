package supervisor

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of the supervised server
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	StateStopped     State = "stopped"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateCrashed     State = "crashed"
)

// Valid reports whether s is a known lifecycle state
func (s State) Valid() bool {
	switch s {
	case StateUninstalled, StateInstalling, StateStopped, StateStarting,
		StateRunning, StateStopping, StateCrashed:
		return true
	}
	return false
}

// InvalidTransitionError is returned when a requested state change is not
// allowed by the transition table
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// allowedTransitions is the complete set of legal state changes. A
// transition absent from this table is rejected.
var allowedTransitions = map[State][]State{
	StateUninstalled: {StateInstalling},
	StateInstalling:  {StateStopped, StateUninstalled},
	StateStopped:     {StateStarting, StateInstalling},
	StateStarting:    {StateRunning, StateStopping, StateCrashed},
	StateRunning:     {StateStopping, StateCrashed},
	StateStopping:    {StateStopped, StateCrashed},
	StateCrashed:     {StateStopped, StateStarting, StateInstalling},
}

// Transition records one observed state change
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// TransitionFunc is invoked after a state change commits, while the machine
// lock is still held. Callbacks must not call back into the machine.
type TransitionFunc func(t Transition)

// Machine serializes all lifecycle state changes. Every component that
// wants to move the server between states goes through Transition, so
// concurrent requests observe a consistent current state.
type Machine struct {
	mu       sync.Mutex
	current  State
	onChange []TransitionFunc
}

// NewMachine creates a state machine starting in the given state
func NewMachine(initial State) *Machine {
	if !initial.Valid() {
		initial = StateUninstalled
	}
	return &Machine{current: initial}
}

// OnTransition registers a callback fired on every committed state change
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Current returns the current state
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Is reports whether the machine is currently in any of the given states
func (m *Machine) Is(states ...State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range states {
		if m.current == s {
			return true
		}
	}
	return false
}

// Transition moves the machine to the target state. A transition to the
// current state is a no-op and returns changed=false with no error. An
// illegal transition returns an InvalidTransitionError and leaves the
// state untouched.
func (m *Machine) Transition(to State, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return false, nil
	}

	if !m.canTransition(m.current, to) {
		return false, &InvalidTransitionError{From: m.current, To: to}
	}

	t := Transition{From: m.current, To: to, Reason: reason, At: time.Now()}
	m.current = to

	for _, fn := range m.onChange {
		fn(t)
	}

	return true, nil
}

// TransitionIf moves the machine to the target state only if it is
// currently in one of the expected states. Returns changed=false with no
// error when the machine is elsewhere. Used by the crash paths so that
// whichever detector fires second becomes a no-op.
func (m *Machine) TransitionIf(to State, reason string, from ...State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := false
	for _, s := range from {
		if m.current == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	if m.current == to {
		return false, nil
	}

	if !m.canTransition(m.current, to) {
		return false, &InvalidTransitionError{From: m.current, To: to}
	}

	t := Transition{From: m.current, To: to, Reason: reason, At: time.Now()}
	m.current = to

	for _, fn := range m.onChange {
		fn(t)
	}

	return true, nil
}

func (m *Machine) canTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
