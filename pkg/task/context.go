package task

import (
	"sync"

	"github.com/pkg/errors"
)

// Engine is the seam to the execution engine. Save captures the live
// register state onto a task's stack and Load restores it. After Load,
// execution resumes exactly where the matching Save left off.
type Engine interface {
	// Init lays down the first frame so the first Load has something to restore.
	Init(s *Stack, pc Word) error
	// Save pushes the live registers onto s.
	Save(s *Stack) error
	// Load pops a frame from s into the live registers.
	Load(s *Stack) error
	// FrameWords is the number of stack words one saved frame takes.
	FrameWords() int
}

// NumRegisters is the size of the simulated register file.
const NumRegisters = 16

// Register indices with a fixed role.
const (
	RegSP = 13
	RegLR = 14
	RegPC = 15
)

// MinStackSize is the smallest stack, in words, that holds the guard band,
// the CPU's initial frame and one free word.
func MinStackSize(guard int) int {
	if guard < 0 {
		guard = 0
	}
	return guard + NumRegisters + 1
}

// Registers is a snapshot of the simulated register file.
type Registers [NumRegisters]Word

// CPU is a simulated single-core register file implementing Engine.
type CPU struct {
	regs Registers
	mu   sync.Mutex
}

// NewCPU returns a CPU with all registers cleared.
func NewCPU() *CPU {
	return &CPU{}
}

// Registers returns a copy of the live registers.
func (c *CPU) Registers() Registers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs
}

// SetRegister writes one live register. Out-of-range indices are ignored.
func (c *CPU) SetRegister(i int, v Word) {
	if i < 0 || i >= NumRegisters {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[i] = v
}

// FrameWords returns NumRegisters.
func (c *CPU) FrameWords() int {
	return NumRegisters
}

// Init pushes a zeroed frame whose PC is pc.
func (c *CPU) Init(s *Stack, pc Word) error {
	var frame Registers
	frame[RegPC] = pc
	return pushFrame(s, frame)
}

// Save pushes the live registers onto s.
func (c *CPU) Save(s *Stack) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := c.regs
	frame[RegSP] = Word(s.Pointer())
	return pushFrame(s, frame)
}

// Load pops one frame from s into the live registers.
func (c *CPU) Load(s *Stack) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sp := s.Pointer()
	var frame Registers
	for i := NumRegisters - 1; i >= 0; i-- {
		w, err := s.Pop()
		if err != nil {
			_ = s.SetPointer(sp)
			return errors.Wrap(err, "load context")
		}
		frame[i] = w
	}
	c.regs = frame
	return nil
}

// pushFrame pushes a whole frame or nothing.
func pushFrame(s *Stack, frame Registers) error {
	sp := s.Pointer()
	for _, w := range frame {
		if err := s.Push(w); err != nil {
			_ = s.SetPointer(sp)
			return errors.Wrap(err, "save context")
		}
	}
	return nil
}
