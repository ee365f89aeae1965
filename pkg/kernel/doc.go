/*
Package kernel is a reference execution engine and scheduler built on
package task.

The Manager keeps the task table, hands out PIDs and stacks, and reaps
terminated tasks. The Dispatcher runs one task at a time: each task's entry
runs on its own goroutine, parked until the dispatcher resumes it, and
hands control back whenever it yields, blocks or returns. Stacks are
checked for overflow at every switch.

# Programs

A Program receives a *Proc, the handle through which it can yield, wait
for event flags, sleep and signal other tasks:

	k, err := kernel.New(cfg.Kernel, log)
	if err != nil {
		// Handle error
	}

	waiter, _ := k.Spawn(kernel.Spec{
		Name: "waiter",
		Program: func(p *kernel.Proc, args []string) int {
			if err := p.WaitEvent(3); err != nil {
				return 1
			}
			return 0
		},
	})
	k.Spawn(kernel.Spec{
		Name: "notifier",
		Program: func(p *kernel.Proc, args []string) int {
			_ = p.Signal(waiter.PID(), 3)
			return 0
		},
	})

	err = k.Run(ctx)

# Scheduling

Selection policy is pluggable through the Scheduler interface. RoundRobin
and PriorityQueue are provided. PriorityQueue reads a task's priority when
it is enqueued, so SetPriority on a queued task takes effect at its next
enqueue.
*/
package kernel
