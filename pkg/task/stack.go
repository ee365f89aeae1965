package task

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// StackCanary fills the guard band of every stack.
const StackCanary Word = 0x670c1333

// DefaultGuardWords is the guard band size used when none is configured.
const DefaultGuardWords = 4

// Growth is the direction in which a stack grows.
type Growth int

const (
	// GrowDown stacks start at the highest address and push towards zero.
	GrowDown Growth = iota
	// GrowUp stacks start at zero and push towards the highest address.
	GrowUp
)

// String returns the config spelling of the growth direction.
func (g Growth) String() string {
	switch g {
	case GrowDown:
		return "down"
	case GrowUp:
		return "up"
	default:
		return fmt.Sprintf("growth(%d)", int(g))
	}
}

// ParseGrowth parses "down" or "up".
func ParseGrowth(s string) (Growth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "down":
		return GrowDown, nil
	case "up":
		return GrowUp, nil
	default:
		return GrowDown, errors.Errorf("unknown stack growth %q", s)
	}
}

// Stack is the single owner of one task's stack memory and stack pointer.
//
// The stack pointer is an index into the memory. For GrowDown stacks an
// empty stack has sp == Size() and pushing decrements it; for GrowUp stacks
// an empty stack has sp == 0 and pushing increments it.
type Stack struct {
	alloc    StackAllocator
	mem      []Word
	size     int
	guard    int
	growth   Growth
	sp       int
	released bool
	mu       sync.Mutex
}

// NewStack allocates a stack of size words with a guard band of guard words.
func NewStack(alloc StackAllocator, size, guard int, growth Growth) (*Stack, error) {
	if guard < 0 {
		guard = 0
	}
	if size <= 0 || size <= guard {
		return nil, errors.Wrapf(ErrInvalidStackSize, "size %d, guard %d", size, guard)
	}
	if alloc == nil {
		alloc = defaultStackAllocator
	}

	mem, err := alloc.Alloc(size)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate stack of %d words", size)
	}

	s := &Stack{
		alloc:  alloc,
		mem:    mem,
		size:   size,
		guard:  guard,
		growth: growth,
	}
	for _, i := range s.guardRange() {
		s.mem[i] = StackCanary
	}
	if growth == GrowDown {
		s.sp = size
	}
	return s, nil
}

// guardRange lists the indices of the guard band.
func (s *Stack) guardRange() []int {
	idx := make([]int, 0, s.guard)
	for i := 0; i < s.guard; i++ {
		if s.growth == GrowDown {
			idx = append(idx, i)
		} else {
			idx = append(idx, s.size-1-i)
		}
	}
	return idx
}

// Size returns the number of words in the stack.
func (s *Stack) Size() int {
	return s.size
}

// Growth returns the growth direction.
func (s *Stack) Growth() Growth {
	return s.growth
}

// Boundary returns the stack pointer value at which the stack is considered
// overflowed.
func (s *Stack) Boundary() int {
	if s.growth == GrowDown {
		return s.guard
	}
	return s.size - s.guard
}

// Pointer returns the current stack pointer.
func (s *Stack) Pointer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sp
}

// SetPointer moves the stack pointer. Only the execution engine should call it.
func (s *Stack) SetPointer(sp int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrStackReleased
	}
	if sp < 0 || sp > s.size {
		return errors.Wrapf(ErrStackPointerRange, "sp %d not in [0, %d]", sp, s.size)
	}
	s.sp = sp
	return nil
}

// Used returns the number of words currently pushed.
func (s *Stack) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.growth == GrowDown {
		return s.size - s.sp
	}
	return s.sp
}

// Headroom returns the number of words that can be pushed before the
// boundary is reached.
func (s *Stack) Headroom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.growth == GrowDown {
		return s.sp - s.Boundary()
	}
	return s.Boundary() - s.sp
}

// Push stores w at the top of the stack. Pushing into the guard band is
// allowed and is what CheckOverflow detects; pushing past the end of the
// memory returns ErrStackOverflow.
func (s *Stack) Push(w Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrStackReleased
	}
	if s.growth == GrowDown {
		if s.sp == 0 {
			return errors.Wrap(ErrStackOverflow, "push")
		}
		s.sp--
		s.mem[s.sp] = w
		return nil
	}
	if s.sp == s.size {
		return errors.Wrap(ErrStackOverflow, "push")
	}
	s.mem[s.sp] = w
	s.sp++
	return nil
}

// Pop removes and returns the word at the top of the stack.
func (s *Stack) Pop() (Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0, ErrStackReleased
	}
	if s.growth == GrowDown {
		if s.sp == s.size {
			return 0, errors.Wrap(ErrStackPointerRange, "pop from empty stack")
		}
		w := s.mem[s.sp]
		s.sp++
		return w, nil
	}
	if s.sp == 0 {
		return 0, errors.Wrap(ErrStackPointerRange, "pop from empty stack")
	}
	s.sp--
	return s.mem[s.sp], nil
}

// CheckOverflow reports whether the stack pointer has reached the boundary
// or a guard canary has been overwritten. It is a point-in-time check.
func (s *Stack) CheckOverflow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return false
	}
	if s.growth == GrowDown && s.sp <= s.Boundary() {
		return true
	}
	if s.growth == GrowUp && s.sp >= s.Boundary() {
		return true
	}
	for _, i := range s.guardRange() {
		if s.mem[i] != StackCanary {
			return true
		}
	}
	return false
}

// Release returns the memory to the allocator. The memory is freed exactly
// once; later calls return ErrStackReleased.
func (s *Stack) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrStackReleased
	}
	s.alloc.Free(s.mem)
	s.mem = nil
	s.released = true
	return nil
}

// Released reports whether Release has been called.
func (s *Stack) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
