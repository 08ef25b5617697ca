package workflows

import "fmt"

// TransitionError reports a status change the machine does not allow
type TransitionError[S comparable] struct {
	From S
	To   S
}

func (e *TransitionError[S]) Error() string {
	return fmt.Sprintf("invalid status transition from %v to %v", e.From, e.To)
}

// StateMachine enforces status transitions
type StateMachine[S comparable] struct {
	allowedTransitions map[S][]S
}

// NewStateMachine creates a state machine; statuses missing from the map are terminal
func NewStateMachine[S comparable](allowed map[S][]S) *StateMachine[S] {
	return &StateMachine[S]{allowedTransitions: allowed}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
	for _, allowedTo := range sm.allowedTransitions[from] {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// Check returns a *TransitionError when the transition is not allowed
func (sm *StateMachine[S]) Check(from, to S) error {
	if !sm.CanTransition(from, to) {
		return &TransitionError[S]{From: from, To: to}
	}
	return nil
}

// AllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine[S]) AllowedTransitions(from S) []S {
	return append([]S(nil), sm.allowedTransitions[from]...)
}

// Terminal reports whether no transition leaves status
func (sm *StateMachine[S]) Terminal(status S) bool {
	return len(sm.allowedTransitions[status]) == 0
}
