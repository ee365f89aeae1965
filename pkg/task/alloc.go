package task

import (
	"sync"

	"github.com/pkg/errors"
)

// Word is one addressable unit of a task stack.
type Word = uint32

// MaxStackWords caps a single stack allocation.
const MaxStackWords = 1 << 24

// StackAllocator supplies the backing store for task stacks.
type StackAllocator interface {
	// Alloc returns a contiguous, zero-filled block of words.
	Alloc(words int) ([]Word, error)
	// Free returns a block obtained from Alloc.
	Free(mem []Word)
}

// HeapAllocator allocates stacks from the Go heap, optionally bounded by a
// total word budget shared by every stack it hands out.
type HeapAllocator struct {
	// budget is the maximum number of words outstanding; 0 means unlimited.
	budget int
	// used is the number of words currently allocated.
	used int
	// mu protects used.
	mu sync.Mutex
}

// NewHeapAllocator creates an allocator with the given word budget.
func NewHeapAllocator(budget int) *HeapAllocator {
	if budget < 0 {
		budget = 0
	}
	return &HeapAllocator{budget: budget}
}

// Alloc reserves words from the budget.
func (a *HeapAllocator) Alloc(words int) ([]Word, error) {
	if words <= 0 {
		return nil, errors.Wrapf(ErrInvalidStackSize, "alloc %d words", words)
	}
	if words > MaxStackWords {
		return nil, errors.Wrapf(ErrOutOfMemory, "alloc %d words exceeds max %d", words, MaxStackWords)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.budget > 0 && a.used+words > a.budget {
		return nil, errors.Wrapf(ErrOutOfMemory, "alloc %d words: %d of %d in use", words, a.used, a.budget)
	}
	a.used += words
	return make([]Word, words), nil
}

// Free gives the block's words back to the budget.
func (a *HeapAllocator) Free(mem []Word) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= len(mem)
	if a.used < 0 {
		a.used = 0
	}
}

// Used returns the number of words currently allocated.
func (a *HeapAllocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Budget returns the configured word budget (0 is unlimited).
func (a *HeapAllocator) Budget() int {
	return a.budget
}

var defaultStackAllocator = NewHeapAllocator(0)
