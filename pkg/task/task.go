package task

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Priority is a scheduling priority: 0 is the highest, 255 the lowest.
// Task itself never looks at it.
type Priority uint8

const (
	PriorityHighest Priority = 0
	PriorityLowest  Priority = 255
)

// EntryFunc is the function a task executes. Its result is the task's
// default exit code.
type EntryFunc func(args []string) int

var (
	startTransitions   = []StateTransition{{From: StateReady, To: StateRunning}}
	suspendTransitions = []StateTransition{
		{From: StateReady, To: StateSuspended},
		{From: StateRunning, To: StateSuspended},
	}
	resumeTransitions    = []StateTransition{{From: StateSuspended, To: StateReady}}
	terminateTransitions = []StateTransition{
		{From: StateReady, To: StateTerminated},
		{From: StateRunning, To: StateTerminated},
		{From: StateBlocked, To: StateTerminated},
		{From: StateSuspended, To: StateTerminated},
	}
)

// Task is a schedulable unit of execution.
type Task struct {
	// pid is fixed for the task's lifetime.
	pid PID
	// entry runs when the execution engine first dispatches the task.
	entry EntryFunc
	// params is passed to entry; entry may modify its elements.
	params []string
	// stack is owned exclusively by this task.
	stack  *Stack
	engine Engine
	log    *zap.Logger

	// mu protects the fields below.
	mu         sync.Mutex
	name       string
	priority   Priority
	state      State
	exitCode   int
	wakeUpTime uint64

	executionTime atomic.Uint64
	// entered is set once the entry function has been called.
	entered       atomic.Bool
	flags         EventFlags
	hooks         Hooks
}

// New creates a READY task with a fresh PID and a stack of stackSize words.
func New(name string, entry EntryFunc, params []string, stackSize int, priority Priority, opts ...Option) (*Task, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}

	c := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}

	guard := c.guard
	if guard < 0 {
		guard = 0
	}
	if need := guard + c.engine.FrameWords() + 1; stackSize < need {
		return nil, errors.Wrapf(ErrInvalidStackSize, "create task %q: %d words, need at least %d", name, stackSize, need)
	}

	stack, err := NewStack(c.alloc, stackSize, guard, c.growth)
	if err != nil {
		return nil, errors.Wrapf(err, "create task %q", name)
	}

	pid := c.pids.Allocate()
	if err := c.engine.Init(stack, Word(pid)); err != nil {
		_ = stack.Release()
		return nil, errors.Wrapf(err, "create task %q", name)
	}

	t := &Task{
		pid:      pid,
		entry:    entry,
		params:   append([]string(nil), params...),
		stack:    stack,
		engine:   c.engine,
		name:     name,
		priority: priority,
		state:    StateReady,
	}
	t.log = c.log.With(zap.Uint32("pid", uint32(pid)), zap.String("task", name))
	t.log.Debug("task created", zap.Int("stack_words", stackSize), zap.Uint8("priority", uint8(priority)))
	return t, nil
}

// PID returns the task's identifier.
func (t *Task) PID() PID {
	return t.pid
}

// Name returns the display name.
func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// SetName changes the display name.
func (t *Task) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
}

// Priority returns the scheduling priority.
func (t *Task) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetPriority sets the scheduling priority.
func (t *Task) SetPriority(p Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = p
}

// Params returns a copy of the parameters bound at construction.
func (t *Task) Params() []string {
	return append([]string(nil), t.params...)
}

// GetState returns the current lifecycle state.
func (t *Task) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState performs a scheduler transition between Ready, Running and
// Blocked. It fires no hooks. Suspend, Resume and Terminate must be used
// for the other states.
func (t *Task) SetState(to State) error {
	t.mu.Lock()
	from := t.state
	changed, err := transition(schedulerTransitions, from, to)
	if changed {
		t.state = to
	}
	t.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "set state of pid %d", t.pid)
	}
	if changed {
		t.log.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return nil
}

// Start moves a READY task to RUNNING and fires the start hook.
func (t *Task) Start() error {
	return t.move("start", startTransitions, StateRunning, HookStart, nil)
}

// Suspend moves a READY or RUNNING task to SUSPENDED and fires the suspend hook.
func (t *Task) Suspend() error {
	return t.move("suspend", suspendTransitions, StateSuspended, HookSuspend, nil)
}

// Resume moves a SUSPENDED task to READY and fires the resume hook.
func (t *Task) Resume() error {
	return t.move("resume", resumeTransitions, StateReady, HookResume, nil)
}

// Terminate moves the task to TERMINATED from any state and fires the
// terminate hook once. The exit code is left as it is. The stack is not
// released; see Release.
func (t *Task) Terminate() error {
	return t.move("terminate", terminateTransitions, StateTerminated, HookTerminate, nil)
}

// TerminateWith terminates the task and records code as its exit code in
// the same step. If the task already terminated, nothing changes.
func (t *Task) TerminateWith(code int) error {
	return t.move("terminate", terminateTransitions, StateTerminated, HookTerminate, &code)
}

func (t *Task) move(op string, table []StateTransition, to State, hook HookKind, exitCode *int) error {
	t.mu.Lock()
	from := t.state
	changed, err := transition(table, from, to)
	if changed {
		t.state = to
		if exitCode != nil {
			t.exitCode = *exitCode
		}
	}
	t.mu.Unlock()

	if err != nil {
		t.log.Debug("transition rejected", zap.String("op", op), zap.Stringer("state", from))
		return errors.Wrapf(err, "%s pid %d", op, t.pid)
	}
	if !changed {
		return nil
	}

	t.log.Debug("state changed", zap.String("op", op), zap.Stringer("from", from), zap.Stringer("to", to))
	t.hooks.fire(hook, t.log)
	return nil
}

// Exec runs the entry function with the task's parameters and terminates
// the task with its result. The task must be RUNNING and the entry runs at
// most once; otherwise Exec returns the current exit code and a wrapped
// ErrInvalidTransition without calling it. If the task was terminated
// while the entry ran, the earlier exit code is kept. A panicking entry
// terminates the task with ExitPanic.
func (t *Task) Exec() (code int, err error) {
	if st := t.GetState(); st != StateRunning || !t.entered.CompareAndSwap(false, true) {
		code, _ = t.ExitCode()
		return code, errors.Wrapf(ErrInvalidTransition, "exec pid %d in state %s", t.pid, st)
	}

	defer func() {
		if r := recover(); r != nil {
			t.log.Error("entry panicked", zap.Any("panic", r))
			_ = t.TerminateWith(ExitPanic)
			code, _ = t.ExitCode()
		}
	}()

	result := t.entry(t.params)
	_ = t.TerminateWith(result)
	code, _ = t.ExitCode()
	return code, nil
}

// ExecutionTime returns the accumulated execution time in ticks.
func (t *Task) ExecutionTime() uint64 {
	return t.executionTime.Load()
}

// IncrementExecutionTime adds ticks to the accumulated execution time.
func (t *Task) IncrementExecutionTime(ticks uint64) {
	t.executionTime.Add(ticks)
}

// WakeUpTime returns the tick at which a BLOCKED task becomes eligible again.
func (t *Task) WakeUpTime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wakeUpTime
}

// SetWakeUpTime stores the wake-up tick. Only the timer collaborator sets it.
func (t *Task) SetWakeUpTime(tick uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wakeUpTime = tick
}

// SetExitCode records the exit code.
func (t *Task) SetExitCode(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitCode = code
}

// ExitCode returns the exit code. ok is false until the task terminated.
func (t *Task) ExitCode() (code int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, t.state == StateTerminated
}

// SetEventFlag raises flag f.
func (t *Task) SetEventFlag(f Flag) error {
	return t.flags.Set(f)
}

// ClearEventFlag lowers flag f.
func (t *Task) ClearEventFlag(f Flag) error {
	return t.flags.Clear(f)
}

// IsEventFlagSet reports whether flag f is raised.
func (t *Task) IsEventFlagSet(f Flag) bool {
	return t.flags.IsSet(f)
}

// Flags returns the task's event flag word.
func (t *Task) Flags() *EventFlags {
	return &t.flags
}

// SetOnStartHook sets the hook fired by Start.
func (t *Task) SetOnStartHook(h Hook) { t.hooks.Set(HookStart, h) }

// SetOnSuspendHook sets the hook fired by Suspend.
func (t *Task) SetOnSuspendHook(h Hook) { t.hooks.Set(HookSuspend, h) }

// SetOnResumeHook sets the hook fired by Resume.
func (t *Task) SetOnResumeHook(h Hook) { t.hooks.Set(HookResume, h) }

// SetOnTerminateHook sets the hook fired by Terminate.
func (t *Task) SetOnTerminateHook(h Hook) { t.hooks.Set(HookTerminate, h) }

// Stack returns the task's stack handle.
func (t *Task) Stack() *Stack {
	return t.stack
}

// CheckStackOverflow reports whether the stack has crossed its boundary.
func (t *Task) CheckStackOverflow() bool {
	return t.stack.CheckOverflow()
}

// SaveContext captures the live execution state onto the task's stack.
func (t *Task) SaveContext() error {
	if err := t.engine.Save(t.stack); err != nil {
		return errors.Wrapf(err, "pid %d", t.pid)
	}
	return nil
}

// LoadContext restores the execution state saved by the last SaveContext.
func (t *Task) LoadContext() error {
	if err := t.engine.Load(t.stack); err != nil {
		return errors.Wrapf(err, "pid %d", t.pid)
	}
	return nil
}

// Release frees the task's stack. It is only valid once the task has
// terminated and will never run again.
func (t *Task) Release() error {
	if st := t.GetState(); st != StateTerminated {
		return errors.Wrapf(ErrTaskAlive, "release pid %d in state %s", t.pid, st)
	}
	if err := t.stack.Release(); err != nil {
		return errors.Wrapf(err, "release pid %d", t.pid)
	}
	t.log.Debug("stack released")
	return nil
}
