package task

import "sync/atomic"

// PID is a task identifier.
type PID uint32

// DefaultPIDStart is the first PID handed out by a fresh allocator.
const DefaultPIDStart PID = 1

// PIDAllocator hands out PIDs in increasing order and never reuses them.
// Wraparound after 2^32 allocations is not handled.
type PIDAllocator struct {
	next atomic.Uint32
}

// NewPIDAllocator creates an allocator whose first PID is start.
func NewPIDAllocator(start PID) *PIDAllocator {
	a := &PIDAllocator{}
	a.next.Store(uint32(start))
	return a
}

// Allocate returns the next PID. Safe for concurrent use.
func (a *PIDAllocator) Allocate() PID {
	return PID(a.next.Add(1) - 1)
}

// Peek returns the PID the next Allocate call will return.
func (a *PIDAllocator) Peek() PID {
	return PID(a.next.Load())
}

// Reset rewinds the allocator. Only tests should need this; resetting while
// tasks from the old sequence are alive breaks PID uniqueness.
func (a *PIDAllocator) Reset(start PID) {
	a.next.Store(uint32(start))
}

// defaultPIDs backs tasks constructed without WithPIDAllocator.
var defaultPIDs = NewPIDAllocator(DefaultPIDStart)
