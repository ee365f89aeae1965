package kernel

import (
	"go.uber.org/zap"

	"taskcore/pkg/task"
)

// Dispatcher runs tasks one slice at a time.
type Dispatcher struct {
	m   *Manager
	log *zap.Logger
}

// NewDispatcher creates a dispatcher for m's tasks.
func NewDispatcher(m *Manager) *Dispatcher {
	return &Dispatcher{m: m, log: m.log}
}

// Step advances the clock by one tick, wakes blocked tasks whose condition
// holds, hands terminated tasks to the reaper and runs the next READY task
// for one slice. It reports whether a task ran.
func (d *Dispatcher) Step() bool {
	now := d.m.tick()
	d.sweep(now)

	p := d.next()
	if p == nil {
		return false
	}
	d.dispatch(p)
	return true
}

// sweep wakes blocked tasks and collects terminated ones.
func (d *Dispatcher) sweep(now uint64) {
	for _, p := range d.m.Procs() {
		switch p.task.GetState() {
		case task.StateBlocked:
			if !p.wakeable(now) {
				continue
			}
			if err := p.task.SetState(task.StateReady); err != nil {
				continue
			}
			p.setWait(waitNone, 0)
			d.m.sched.Enqueue(p)
		case task.StateTerminated:
			p.kill()
			d.m.queueReap(p)
		}
	}
}

// next pops queued tasks until it finds a READY one. Tasks that were
// suspended or terminated while queued are dropped.
func (d *Dispatcher) next() *Proc {
	for {
		p := d.m.sched.Next()
		if p == nil {
			return nil
		}
		if p.task.GetState() == task.StateReady {
			return p
		}
	}
}

func (d *Dispatcher) dispatch(p *Proc) {
	t := p.task
	log := d.log.With(zap.Uint32("pid", uint32(t.PID())))

	var err error
	if p.dispatched {
		err = t.SetState(task.StateRunning)
	} else {
		err = t.Start()
	}
	if err != nil {
		log.Debug("dispatch skipped", zap.Error(err))
		return
	}
	p.dispatched = true

	if err := t.LoadContext(); err != nil {
		log.Error("load context failed", zap.Error(err))
		_ = d.m.terminate(p, task.ExitStackOverflow)
		return
	}

	select {
	case p.resume <- struct{}{}:
		select {
		case <-p.yield:
		case <-p.exited:
		}
	case <-p.exited:
	}
	t.IncrementExecutionTime(1)

	st := t.GetState()
	if st.Terminal() {
		p.kill()
		d.m.queueReap(p)
		return
	}
	if t.CheckStackOverflow() {
		log.Error("stack overflow", zap.Int("sp", t.Stack().Pointer()), zap.Int("boundary", t.Stack().Boundary()))
		_ = d.m.terminate(p, task.ExitStackOverflow)
		return
	}
	if st == task.StateReady {
		d.m.sched.Enqueue(p)
	}
}
