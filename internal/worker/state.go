package worker

import "fmt"

// State is the lifecycle position of a worker machine.
type State string

const (
	StateUnknown    State = "unknown"
	StateResetting  State = "resetting"
	StateReady      State = "ready"
	StateStaging    State = "staging"
	StateExecuting  State = "executing"
	StateCollecting State = "collecting"
)

var allowedTransitions = map[State]map[State]bool{
	StateUnknown: {
		StateResetting: true,
	},
	StateResetting: {
		StateReady:   true,
		StateUnknown: true,
	},
	StateReady: {
		StateResetting: true,
		StateStaging:   true,
	},
	StateStaging: {
		StateExecuting: true,
		StateReady:     true,
	},
	StateExecuting: {
		StateCollecting: true,
		StateReady:      true,
	},
	StateCollecting: {
		StateReady: true,
	},
}

// CanTransition reports whether a machine may move from one state to another.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid worker transition %s -> %s", e.From, e.To)
}
