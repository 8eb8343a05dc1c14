package orchestrator

// State is one state of the convergence loop.
type State string

const (
	StateCompiling    State = "compiling"
	StatePreflighting State = "preflighting"
	StateValidating   State = "validating"
	StateClassifying  State = "classifying"
	StateClean        State = "clean"
	StateRepairing    State = "repairing"
	StateRevalidating State = "re-validating"
	StateConverged    State = "converged"
	StateRetrying     State = "retrying"
	StateExhausted    State = "exhausted"
	StateCancelled    State = "cancelled"
	StateErrored      State = "errored"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	switch s {
	case StateConverged, StateExhausted, StateCancelled, StateErrored:
		return true
	default:
		return false
	}
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// State returns the terminal state that corresponds to o.
func (o Outcome) State() State {
	switch o {
	case OutcomeConverged:
		return StateConverged
	case OutcomeExhausted:
		return StateExhausted
	case OutcomeCancelled:
		return StateCancelled
	default:
		return StateErrored
	}
}
