package kernel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"taskcore/pkg/task"
)

// Program is the code a kernel task runs. Its result is the exit code.
type Program func(p *Proc, args []string) int

// frameWord fills simulated call frames.
const frameWord task.Word = 0xf4a3e000

type waitKind int

const (
	waitNone waitKind = iota
	waitFlag
	waitTimer
)

// Proc is a task bound to the kernel's execution engine. Programs receive
// their own Proc; the blocking methods must only be called from there.
type Proc struct {
	task *task.Task
	m    *Manager

	// resume is sent by the dispatcher to run the task for one slice.
	resume chan struct{}
	// yield is sent by the task when it hands control back.
	yield chan struct{}
	// killed is closed when the task is terminated from outside.
	killed   chan struct{}
	killOnce sync.Once
	// exited is closed when the task's goroutine is gone.
	exited chan struct{}

	// dispatched is only touched by the dispatcher.
	dispatched  bool
	reapQueued  atomic.Bool
	reaped      atomic.Bool
	waitMu      sync.Mutex
	wait        waitKind
	waitForFlag task.Flag
}

func newProc(m *Manager) *Proc {
	return &Proc{
		m:      m,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
		killed: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// PID returns the task's PID.
func (p *Proc) PID() task.PID {
	return p.task.PID()
}

// Task returns the underlying task.
func (p *Proc) Task() *task.Task {
	return p.task
}

// Now returns the kernel clock in ticks.
func (p *Proc) Now() uint64 {
	return p.m.Now()
}

// Done is closed once the task's goroutine has exited.
func (p *Proc) Done() <-chan struct{} {
	return p.exited
}

// main is the task goroutine. It waits for the first dispatch.
func (p *Proc) main() {
	defer close(p.exited)
	select {
	case <-p.resume:
	case <-p.killed:
		return
	}
	if _, err := p.task.Exec(); err != nil {
		p.m.log.Debug("entry not run", zap.Uint32("pid", uint32(p.PID())), zap.Error(err))
	}
}

func (p *Proc) kill() {
	p.killOnce.Do(func() { close(p.killed) })
}

// exitIfTerminated unwinds the task goroutine if the task was terminated
// from outside.
func (p *Proc) exitIfTerminated() {
	select {
	case <-p.killed:
		runtime.Goexit()
	default:
	}
	if p.task.GetState() == task.StateTerminated {
		runtime.Goexit()
	}
}

// park saves the context, hands control to the dispatcher and waits to be
// resumed.
func (p *Proc) park() {
	if err := p.task.SaveContext(); err != nil {
		p.m.log.Error("save context failed", zap.Uint32("pid", uint32(p.PID())), zap.Error(err))
		_ = p.task.TerminateWith(task.ExitStackOverflow)
		runtime.Goexit()
	}
	p.yield <- struct{}{}
	select {
	case <-p.resume:
	case <-p.killed:
		runtime.Goexit()
	}
}

func (p *Proc) setWait(kind waitKind, f task.Flag) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	p.wait = kind
	p.waitForFlag = f
}

// wakeable reports whether a blocked task's wake condition holds at now.
func (p *Proc) wakeable(now uint64) bool {
	p.waitMu.Lock()
	kind, f := p.wait, p.waitForFlag
	p.waitMu.Unlock()

	switch kind {
	case waitFlag:
		return p.task.IsEventFlagSet(f)
	case waitTimer:
		return now >= p.task.WakeUpTime()
	default:
		return true
	}
}

// Yield gives up the rest of the slice. The task stays runnable.
func (p *Proc) Yield() {
	p.exitIfTerminated()
	// Fails only when the task was suspended meanwhile; it then parks suspended.
	_ = p.task.SetState(task.StateReady)
	p.park()
	p.exitIfTerminated()
}

// WaitEvent blocks until flag f is raised, then clears it.
func (p *Proc) WaitEvent(f task.Flag) error {
	if !f.Valid() {
		return errors.Wrapf(task.ErrInvalidFlag, "flag %d", f)
	}
	for {
		p.exitIfTerminated()
		if p.task.IsEventFlagSet(f) {
			return p.task.ClearEventFlag(f)
		}
		p.setWait(waitFlag, f)
		_ = p.task.SetState(task.StateBlocked)
		p.park()
	}
}

// Sleep blocks for the given number of ticks. Zero ticks yields.
func (p *Proc) Sleep(ticks uint64) {
	if ticks == 0 {
		p.Yield()
		return
	}
	deadline := p.m.Now() + ticks
	for p.m.Now() < deadline {
		p.exitIfTerminated()
		p.task.SetWakeUpTime(deadline)
		p.setWait(waitTimer, 0)
		_ = p.task.SetState(task.StateBlocked)
		p.park()
	}
	p.exitIfTerminated()
}

// Call pushes a simulated call frame of the given size onto the task's
// stack, runs fn and pops the frame. A frame that does not fit terminates
// the task with task.ExitStackOverflow.
func (p *Proc) Call(words int, fn func()) {
	s := p.task.Stack()
	sp := s.Pointer()
	for i := 0; i < words; i++ {
		if err := s.Push(frameWord); err != nil {
			p.m.log.Error("call frame does not fit", zap.Uint32("pid", uint32(p.PID())), zap.Error(err))
			_ = p.task.TerminateWith(task.ExitStackOverflow)
			runtime.Goexit()
		}
	}
	fn()
	_ = s.SetPointer(sp)
}

// Exit terminates the task with code and does not return.
func (p *Proc) Exit(code int) {
	_ = p.task.TerminateWith(code)
	runtime.Goexit()
}

// Signal raises flag f on another task.
func (p *Proc) Signal(pid task.PID, f task.Flag) error {
	return p.m.Signal(pid, f)
}
