package task

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// MaxFlags is the number of event flags per task.
const MaxFlags = 32

// Flag identifies one event flag by bit position.
type Flag uint8

// Mask returns the bit for f.
func (f Flag) Mask() uint32 {
	return 1 << f
}

// Valid reports whether f addresses one of the MaxFlags bits.
func (f Flag) Valid() bool {
	return f < MaxFlags
}

// EventFlags is a word of independent signals. All methods are safe for
// concurrent use and never block.
type EventFlags struct {
	word atomic.Uint32
}

// Set raises flag f.
func (e *EventFlags) Set(f Flag) error {
	if !f.Valid() {
		return errors.Wrapf(ErrInvalidFlag, "flag %d", f)
	}
	e.word.Or(f.Mask())
	return nil
}

// Clear lowers flag f. Clearing a clear flag is a no-op.
func (e *EventFlags) Clear(f Flag) error {
	if !f.Valid() {
		return errors.Wrapf(ErrInvalidFlag, "flag %d", f)
	}
	e.word.And(^f.Mask())
	return nil
}

// IsSet reports whether flag f is raised. Invalid flags are never set.
func (e *EventFlags) IsSet(f Flag) bool {
	if !f.Valid() {
		return false
	}
	return e.word.Load()&f.Mask() != 0
}

// Mask returns a snapshot of all flags.
func (e *EventFlags) Mask() uint32 {
	return e.word.Load()
}

// SetMask raises every flag in m.
func (e *EventFlags) SetMask(m uint32) {
	e.word.Or(m)
}

// ClearMask lowers every flag in m.
func (e *EventFlags) ClearMask(m uint32) {
	e.word.And(^m)
}
