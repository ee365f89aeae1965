package kernel

import (
	"container/heap"
	"sync"

	"github.com/pkg/errors"

	"taskcore/pkg/config"
	"taskcore/pkg/task"
)

// Scheduler interface defines the contract for picking the next task.
// Implementations must be safe for concurrent use.
type Scheduler interface {
	// Enqueue adds a task to the run queue. Enqueueing a queued task is a no-op.
	Enqueue(p *Proc)
	// Next removes and returns the next task to run, or nil.
	Next() *Proc
	// Remove removes a task from the run queue.
	Remove(pid task.PID) bool
	// Contains reports whether a task is queued.
	Contains(pid task.PID) bool
	// Len returns the number of queued tasks.
	Len() int
}

// NewScheduler returns the scheduler for a configured policy.
func NewScheduler(policy string) (Scheduler, error) {
	switch policy {
	case "", config.PolicyRoundRobin:
		return NewRoundRobin(), nil
	case config.PolicyPriority:
		return NewPriorityQueue(), nil
	default:
		return nil, errors.Errorf("unknown scheduling policy %q", policy)
	}
}

// RoundRobin is a FIFO run queue.
type RoundRobin struct {
	items []*Proc
	index map[task.PID]bool
	mu    sync.Mutex
}

// NewRoundRobin creates an empty round-robin queue.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		items: make([]*Proc, 0),
		index: make(map[task.PID]bool),
	}
}

// Enqueue appends p to the tail.
func (q *RoundRobin) Enqueue(p *Proc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index[p.PID()] {
		return
	}
	q.index[p.PID()] = true
	q.items = append(q.items, p)
}

// Next pops the head.
func (q *RoundRobin) Next() *Proc {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	delete(q.index, p.PID())
	return p
}

// Remove drops the task with the given PID.
func (q *RoundRobin) Remove(pid task.PID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.index[pid] {
		return false
	}
	for i, p := range q.items {
		if p.PID() == pid {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.index, pid)
	return true
}

// Contains checks if a task is in the queue.
func (q *RoundRobin) Contains(pid task.PID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index[pid]
}

// Len returns the number of items in the queue.
func (q *RoundRobin) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PriorityQueue serves the lowest priority value first and is FIFO among
// equal priorities. The priority is read when the task is enqueued.
type PriorityQueue struct {
	h   procHeap
	seq uint64
	mu  sync.Mutex
}

type queued struct {
	p        *Proc
	priority task.Priority
	seq      uint64
}

type procHeap []queued

func (h procHeap) Len() int { return len(h) }

func (h procHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h procHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *procHeap) Push(x interface{}) { *h = append(*h, x.(queued)) }

func (h *procHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queued{}
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*procHeap)(nil)

// NewPriorityQueue creates an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

func (q *PriorityQueue) find(pid task.PID) int {
	for i, it := range q.h {
		if it.p.PID() == pid {
			return i
		}
	}
	return -1
}

// Enqueue inserts p by its current priority.
func (q *PriorityQueue) Enqueue(p *Proc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.find(p.PID()) >= 0 {
		return
	}
	q.seq++
	heap.Push(&q.h, queued{p: p, priority: p.Task().Priority(), seq: q.seq})
}

// Next pops the most urgent task.
func (q *PriorityQueue) Next() *Proc {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(queued).p
}

// Remove drops the task with the given PID.
func (q *PriorityQueue) Remove(pid task.PID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(pid)
	if i < 0 {
		return false
	}
	heap.Remove(&q.h, i)
	return true
}

// Contains checks if a task is in the queue.
func (q *PriorityQueue) Contains(pid task.PID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.find(pid) >= 0
}

// Len returns the number of queued tasks.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
