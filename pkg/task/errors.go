package task

import "github.com/pkg/errors"

// Task errors.
var (
	ErrOutOfMemory       = errors.New("out of memory")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicatePID      = errors.New("duplicate PID")
	ErrInvalidStackSize  = errors.New("invalid stack size")
	ErrStackReleased     = errors.New("stack already released")
	ErrStackPointerRange = errors.New("stack pointer out of range")
	ErrInvalidFlag       = errors.New("invalid event flag")
	ErrTaskAlive         = errors.New("task has not terminated")
	ErrNilEntry          = errors.New("nil entry function")
)

// Exit codes assigned when a task does not return on its own.
const (
	// ExitPanic is used when the entry function panics.
	ExitPanic = 128 + 6
	// ExitKilled is used when a task is killed from outside.
	ExitKilled = 128 + 9
	// ExitStackOverflow is used when a task is terminated for overflowing its stack.
	ExitStackOverflow = 128 + 11
)
