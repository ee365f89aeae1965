package kernel

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"taskcore/pkg/config"
	"taskcore/pkg/task"
)

// Manager errors.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTooManyTasks = errors.New("task table full")
	ErrNilProgram   = errors.New("nil program")
)

const reapQueueSize = 128

// Spec describes a task to spawn.
type Spec struct {
	Name     string
	Program  Program
	Args     []string
	Priority task.Priority
	// StackSize is in words; zero uses the configured default.
	StackSize int
}

// Manager owns the task table, the PID allocator, the stack allocator and
// the simulated CPU shared by all tasks.
type Manager struct {
	// procs holds all tasks by PID.
	procs sync.Map
	// count is the number of table entries, reaped tasks excluded.
	count    atomic.Int32
	maxTasks int

	pids   *task.PIDAllocator
	stacks *task.HeapAllocator
	cpu    *task.CPU
	guard  int
	growth task.Growth
	stack  int

	sched Scheduler
	clock atomic.Uint64
	reapQ chan *Proc
	log   *zap.Logger
}

// NewManager creates a manager from the kernel configuration.
func NewManager(cfg config.Kernel, sched Scheduler, log *zap.Logger) (*Manager, error) {
	growth, err := task.ParseGrowth(cfg.Stack.Growth)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		if sched, err = NewScheduler(cfg.Policy); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	start := task.PID(cfg.PIDStart)
	if start == 0 {
		start = task.DefaultPIDStart
	}
	stack := cfg.Stack.DefaultSize
	if stack == 0 {
		stack = config.DefaultStackWords
	}

	return &Manager{
		maxTasks: cfg.MaxTasks,
		pids:     task.NewPIDAllocator(start),
		stacks:   task.NewHeapAllocator(cfg.Stack.BudgetWords),
		cpu:      task.NewCPU(),
		guard:    cfg.Stack.Guard(),
		growth:   growth,
		stack:    stack,
		sched:    sched,
		reapQ:    make(chan *Proc, reapQueueSize),
		log:      log,
	}, nil
}

// reserve claims a slot in the task table.
func (m *Manager) reserve() bool {
	if m.maxTasks <= 0 {
		m.count.Add(1)
		return true
	}
	for {
		cur := m.count.Load()
		if int(cur) >= m.maxTasks {
			return false
		}
		if m.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Spawn creates a READY task and queues it for dispatch.
func (m *Manager) Spawn(spec Spec) (*Proc, error) {
	if spec.Program == nil {
		return nil, ErrNilProgram
	}
	if !m.reserve() {
		return nil, errors.Wrapf(ErrTooManyTasks, "spawn %q: limit %d", spec.Name, m.maxTasks)
	}

	size := spec.StackSize
	if size == 0 {
		size = m.stack
	}

	p := newProc(m)
	prog := spec.Program
	t, err := task.New(spec.Name, func(args []string) int { return prog(p, args) }, spec.Args, size, spec.Priority,
		task.WithPIDAllocator(m.pids),
		task.WithStackAllocator(m.stacks),
		task.WithEngine(m.cpu),
		task.WithGuardWords(m.guard),
		task.WithGrowth(m.growth),
		task.WithLogger(m.log),
	)
	if err != nil {
		m.count.Add(-1)
		return nil, errors.Wrapf(err, "spawn %q", spec.Name)
	}
	p.task = t

	if _, loaded := m.procs.LoadOrStore(t.PID(), p); loaded {
		m.log.Error("duplicate PID", zap.Uint32("pid", uint32(t.PID())))
		panic(errors.Wrapf(task.ErrDuplicatePID, "pid %d", t.PID()))
	}

	go p.main()
	m.sched.Enqueue(p)

	m.log.Info("task spawned",
		zap.Uint32("pid", uint32(t.PID())),
		zap.String("task", spec.Name),
		zap.Uint8("priority", uint8(spec.Priority)),
		zap.Int("stack_words", size))
	return p, nil
}

// Get retrieves a task by PID.
func (m *Manager) Get(pid task.PID) (*Proc, error) {
	v, ok := m.procs.Load(pid)
	if !ok {
		return nil, errors.Wrapf(ErrTaskNotFound, "pid %d", pid)
	}
	return v.(*Proc), nil
}

// Lookup returns the tasks with the given name.
func (m *Manager) Lookup(name string) []*Proc {
	var out []*Proc
	for _, p := range m.Procs() {
		if p.task.Name() == name {
			out = append(out, p)
		}
	}
	return out
}

// Procs returns all tasks in the table ordered by PID.
func (m *Manager) Procs() []*Proc {
	procs := make([]*Proc, 0)
	m.procs.Range(func(_, value interface{}) bool {
		procs = append(procs, value.(*Proc))
		return true
	})
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID() < procs[j].PID() })
	return procs
}

// Count returns the number of tasks in the table.
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// Live returns the number of tasks that have not terminated.
func (m *Manager) Live() int {
	n := 0
	m.procs.Range(func(_, value interface{}) bool {
		if !value.(*Proc).task.GetState().Terminal() {
			n++
		}
		return true
	})
	return n
}

// Now returns the kernel clock in ticks.
func (m *Manager) Now() uint64 {
	return m.clock.Load()
}

func (m *Manager) tick() uint64 {
	return m.clock.Add(1)
}

// Scheduler returns the run queue.
func (m *Manager) Scheduler() Scheduler {
	return m.sched
}

// StackWordsInUse returns the words held by live stacks.
func (m *Manager) StackWordsInUse() int {
	return m.stacks.Used()
}

// StackBudget returns the total stack words available; 0 is unlimited.
func (m *Manager) StackBudget() int {
	return m.stacks.Budget()
}

// Kill terminates a task with task.ExitKilled.
func (m *Manager) Kill(pid task.PID) error {
	p, err := m.Get(pid)
	if err != nil {
		return err
	}
	return m.terminate(p, task.ExitKilled)
}

func (m *Manager) terminate(p *Proc, code int) error {
	if err := p.task.TerminateWith(code); err != nil {
		return err
	}
	p.kill()
	m.sched.Remove(p.PID())
	m.queueReap(p)
	return nil
}

// Suspend suspends a task. A suspended task is skipped by the dispatcher.
func (m *Manager) Suspend(pid task.PID) error {
	p, err := m.Get(pid)
	if err != nil {
		return err
	}
	return p.task.Suspend()
}

// Resume resumes a suspended task and queues it for dispatch.
func (m *Manager) Resume(pid task.PID) error {
	p, err := m.Get(pid)
	if err != nil {
		return err
	}
	if err := p.task.Resume(); err != nil {
		return err
	}
	if p.task.GetState() == task.StateReady {
		m.sched.Enqueue(p)
	}
	return nil
}

// Signal raises flag f on a task.
func (m *Manager) Signal(pid task.PID, f task.Flag) error {
	p, err := m.Get(pid)
	if err != nil {
		return err
	}
	return p.task.SetEventFlag(f)
}

// queueReap hands a terminated task to the reaper once.
func (m *Manager) queueReap(p *Proc) {
	if p.reapQueued.Load() {
		return
	}
	select {
	case m.reapQ <- p:
		p.reapQueued.Store(true)
	default:
		// Queue full, the next sweep retries.
	}
}

// Reap waits for a terminated task's goroutine to exit, releases its stack
// and removes it from the table.
func (m *Manager) Reap(pid task.PID) error {
	p, err := m.Get(pid)
	if err != nil {
		return err
	}
	if st := p.task.GetState(); st != task.StateTerminated {
		return errors.Wrapf(task.ErrTaskAlive, "reap pid %d in state %s", pid, st)
	}
	if !p.reaped.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrTaskNotFound, "pid %d already reaped", pid)
	}

	p.kill()
	<-p.Done()

	if err := p.task.Release(); err != nil {
		return err
	}
	m.sched.Remove(pid)
	m.procs.Delete(pid)
	m.count.Add(-1)

	code, _ := p.task.ExitCode()
	m.log.Info("task reaped",
		zap.Uint32("pid", uint32(pid)),
		zap.String("task", p.task.Name()),
		zap.Int("exit_code", code),
		zap.Uint64("ticks", p.task.ExecutionTime()))
	return nil
}

// reapLoop reaps queued tasks until ctx is done, then drains the queue.
func (m *Manager) reapLoop(ctx context.Context) {
	for {
		select {
		case p := <-m.reapQ:
			m.reapOne(p)
		case <-ctx.Done():
			for {
				select {
				case p := <-m.reapQ:
					m.reapOne(p)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) reapOne(p *Proc) {
	if err := m.Reap(p.PID()); err != nil {
		m.log.Warn("reap failed", zap.Uint32("pid", uint32(p.PID())), zap.Error(err))
	}
}

// Shutdown kills every live task and reaps every task left in the table.
// It must not run concurrently with a dispatcher step.
func (m *Manager) Shutdown() {
	for _, p := range m.Procs() {
		if !p.task.GetState().Terminal() {
			_ = m.terminate(p, task.ExitKilled)
		}
		p.kill()
		if err := m.Reap(p.PID()); err != nil && !errors.Is(err, ErrTaskNotFound) {
			m.log.Warn("reap on shutdown failed", zap.Uint32("pid", uint32(p.PID())), zap.Error(err))
		}
	}
}
