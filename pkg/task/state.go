package task

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// State represents the lifecycle state of a task.
type State int32

const (
	// StateReady indicates the task is runnable and waiting to be dispatched.
	StateReady State = iota
	// StateRunning indicates the task is currently executing.
	StateRunning
	// StateBlocked indicates the task waits for an event flag or a wake-up time.
	StateBlocked
	// StateSuspended indicates the task is parked until resumed.
	StateSuspended
	// StateTerminated indicates the task has finished. No transition leaves it.
	StateTerminated
)

var stateNames = [...]string{
	StateReady:      "ready",
	StateRunning:    "running",
	StateBlocked:    "blocked",
	StateSuspended:  "suspended",
	StateTerminated: "terminated",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ParseState parses a state name as returned by String.
func ParseState(name string) (State, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, errors.Errorf("unknown task state %q", name)
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From State
	To   State
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// Start / dispatch: Ready -> Running
	{From: StateReady, To: StateRunning},
	// Preempt: Running -> Ready
	{From: StateRunning, To: StateReady},
	// Block on a flag or timer: Running -> Blocked
	{From: StateRunning, To: StateBlocked},
	// Wake condition satisfied: Blocked -> Ready
	{From: StateBlocked, To: StateReady},
	// Suspend
	{From: StateReady, To: StateSuspended},
	{From: StateRunning, To: StateSuspended},
	// Resume: Suspended -> Ready
	{From: StateSuspended, To: StateReady},
	// Terminate from any non-terminal state
	{From: StateReady, To: StateTerminated},
	{From: StateRunning, To: StateTerminated},
	{From: StateBlocked, To: StateTerminated},
	{From: StateSuspended, To: StateTerminated},
}

// schedulerTransitions are the ones SetState may perform. They fire no hooks.
var schedulerTransitions = []StateTransition{
	{From: StateReady, To: StateRunning},
	{From: StateRunning, To: StateReady},
	{From: StateRunning, To: StateBlocked},
	{From: StateBlocked, To: StateReady},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to State) bool {
	return containsTransition(ValidTransitions, from, to)
}

func containsTransition(table []StateTransition, from, to State) bool {
	for _, t := range table {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// transition decides whether a task in state from may move to state to
// using the given table. Asking for the current state reports no change
// and no error.
func transition(table []StateTransition, from, to State) (bool, error) {
	if from == to {
		return false, nil
	}
	if !containsTransition(table, from, to) {
		return false, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return true, nil
}
