package attempt

import (
	"github.com/victornm/elms/internal/errors"
)

// State of an attempt held by a Controller.
//
//	NotStarted -> Starting -> Active <-> Submitting -> Finished
//	Starting -> NotStarted                 (start rejected)
//	any non-terminal state -> Abandoned    (view unmounted)
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateActive
	StateSubmitting
	StateFinished
	StateAbandoned
)

var stateNames = map[State]string{
	StateNotStarted: "not_started",
	StateStarting:   "starting",
	StateActive:     "active",
	StateSubmitting: "submitting",
	StateFinished:   "finished",
	StateAbandoned:  "abandoned",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether the attempt is running: answers are held locally and the countdown,
// if any, is ticking.
func (s State) Active() bool {
	return s == StateActive || s == StateSubmitting
}

// Terminal states never change again.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAbandoned
}

var transitions = map[State][]State{
	StateNotStarted: {StateStarting, StateAbandoned},
	StateStarting:   {StateActive, StateNotStarted, StateAbandoned},
	StateActive:     {StateSubmitting, StateAbandoned},
	StateSubmitting: {StateActive, StateFinished, StateAbandoned},
}

func (s State) canMoveTo(next State) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

func errIllegal(op string, s State) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("cannot %s: attempt is %s", op, s))
}
