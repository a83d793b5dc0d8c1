// Package pipeline runs one discovery query end to end.
//
// Valid state graph:
//
//	PLANNING ──► DISCOVERING_STRUCTURED ──► MERGING ──► DONE
//	    │                 │                    ▲
//	    └─────────────────┴──► DISCOVERING_TEXT ──► VALIDATING
//	                                 │
//	                                 └──► ERROR
//
// DONE and ERROR are terminal states.
package pipeline

import "fmt"

// State is one step of a pipeline run.
type State string

const (
	StatePlanning              State = "PLANNING"
	StateDiscoveringStructured State = "DISCOVERING_STRUCTURED"
	StateDiscoveringText       State = "DISCOVERING_TEXT"
	StateValidating            State = "VALIDATING"
	StateMerging               State = "MERGING"
	StateDone                  State = "DONE"
	StateError                 State = "ERROR"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StatePlanning:              {StateDiscoveringStructured, StateDiscoveringText},
	StateDiscoveringStructured: {StateMerging, StateDiscoveringText},
	StateDiscoveringText:       {StateValidating, StateError},
	StateValidating:            {StateMerging},
	StateMerging:               {StateDone},
	// DONE and ERROR are terminal: no outgoing transitions
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StatePlanning, StateDiscoveringStructured, StateDiscoveringText,
		StateValidating, StateMerging, StateDone, StateError:
		return st, nil
	}
	return "", fmt.Errorf("unknown pipeline state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for DONE and ERROR.
func IsTerminal(s State) bool { return s == StateDone || s == StateError }

// machine tracks one run's progress through the graph.
type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StatePlanning, history: []State{StatePlanning}}
}

// advance moves to next, rejecting edges the graph does not have.
func (m *machine) advance(next State) error {
	if !IsTransitionAllowed(m.state, next) {
		return fmt.Errorf("pipeline transition %s → %s is not allowed", m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}
