/*
Package task provides the task-control core of the kernel.

A Task is a passive state container: it owns a private execution stack,
a lifecycle state, a word of event flags and four lifecycle hooks. It never
schedules itself. A scheduler or dispatcher creates tasks, drives their
transitions and checks their stacks at every context switch.

# Task States

Tasks can be in one of the following states:

  - Ready: runnable, waiting to be dispatched
  - Running: currently executing
  - Blocked: waiting for an event flag or a wake-up time
  - Suspended: parked until explicitly resumed
  - Terminated: finished; absorbing, no transition leaves it

Start, Suspend, Resume and Terminate fire their hooks. SetState is the
scheduler's direct setter for the Ready, Running and Blocked transitions
and fires no hooks. Asking for the state a task is already in is a no-op.

# Usage

Creating and running a task:

	pids := task.NewPIDAllocator(task.DefaultPIDStart)

	t, err := task.New("worker", func(args []string) int {
		return 0
	}, []string{"--once"}, 256, 10, task.WithPIDAllocator(pids))
	if err != nil {
		// Handle error
	}

	t.SetOnTerminateHook(func() { fmt.Println("done") })

	if err := t.Start(); err != nil {
		// Handle error
	}
	code, err := t.Exec()

# Stacks

Each task owns a Stack of addressable words. A guard band filled with
StackCanary sits at the growth limit; CheckStackOverflow reports true once
the stack pointer reaches the band or a canary word is overwritten.
Release frees the memory exactly once and only after the task terminated.

# Event Flags

Each task carries 32 independent event flags. They can be set from any
goroutine without blocking and are never touched by state transitions.
*/
package task
