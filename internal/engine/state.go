package engine

import "fmt"

// State is the engine lifecycle state.
type State string

const (
	StateCreated  State = "CREATED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
)

// InvalidStateError reports a lifecycle operation attempted from a state
// that does not allow it.
type InvalidStateError struct {
	From State
	Op   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("engine: cannot %s from state %s", e.Op, e.From)
}

// transitions lists the legal state changes.
var transitions = map[State][]State{
	StateCreated:  {StateStarting},
	StateStarting: {StateRunning, StateError},
	StateRunning:  {StatePaused, StateStopping, StateError},
	StatePaused:   {StateRunning, StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
	StateStopped:  {StateStarting},
	StateError:    {},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
