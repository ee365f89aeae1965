package task

import "go.uber.org/zap"

type taskConfig struct {
	pids   *PIDAllocator
	alloc  StackAllocator
	engine Engine
	guard  int
	growth Growth
	log    *zap.Logger
}

func defaultConfig() taskConfig {
	return taskConfig{
		pids:   defaultPIDs,
		alloc:  defaultStackAllocator,
		engine: NewCPU(),
		guard:  DefaultGuardWords,
		growth: GrowDown,
		log:    zap.NewNop(),
	}
}

// Option configures New.
type Option func(*taskConfig)

// WithPIDAllocator sets the allocator the PID is drawn from.
// Tasks that must have distinct PIDs must share an allocator.
func WithPIDAllocator(a *PIDAllocator) Option {
	return func(c *taskConfig) {
		if a != nil {
			c.pids = a
		}
	}
}

// WithStackAllocator sets the backing store for the stack.
func WithStackAllocator(a StackAllocator) Option {
	return func(c *taskConfig) {
		if a != nil {
			c.alloc = a
		}
	}
}

// WithEngine sets the execution engine used by SaveContext and LoadContext.
func WithEngine(e Engine) Option {
	return func(c *taskConfig) {
		if e != nil {
			c.engine = e
		}
	}
}

// WithGuardWords sets the size of the stack guard band. Zero disables the
// canary and makes the stack's far end the overflow boundary.
func WithGuardWords(n int) Option {
	return func(c *taskConfig) {
		if n >= 0 {
			c.guard = n
		}
	}
}

// WithGrowth sets the stack growth direction.
func WithGrowth(g Growth) Option {
	return func(c *taskConfig) { c.growth = g }
}

// WithLogger sets the logger for transitions and hook failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *taskConfig) {
		if l != nil {
			c.log = l
		}
	}
}
