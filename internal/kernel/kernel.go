// Package kernel implements a cooperative discrete-event simulation kernel.
//
// Tasks are goroutines, but exactly one runs at a time: a task executes until
// it calls Wait or WaitEvent, at which point control returns to the kernel,
// which advances simulated time and resumes the next runnable task. This
// gives SystemC-style semantics without locks inside the models.
package kernel

import (
	"container/heap"
	"fmt"
	"log/slog"
	"time"
)

// Kernel owns simulated time, the run queue and the global quantum.
type Kernel struct {
	now           time.Duration
	globalQuantum time.Duration
	tasks         []*Task
	queue         taskHeap
	running       bool
	stopped       bool
}

// New creates a kernel with the given global quantum. A zero quantum
// disables temporal decoupling (every task syncs immediately).
func New(globalQuantum time.Duration) *Kernel {
	return &Kernel{globalQuantum: globalQuantum}
}

// Now returns the current simulated time.
func (k *Kernel) Now() time.Duration { return k.now }

// GlobalQuantum returns the configured global quantum.
func (k *Kernel) GlobalQuantum() time.Duration { return k.globalQuantum }

// Stop requests an orderly shutdown: Run returns once the current task
// yields.
func (k *Kernel) Stop() { k.stopped = true }

// Task is a cooperatively scheduled activity.
type Task struct {
	k       *Kernel
	name    string
	resume  chan struct{}
	yielded chan struct{}
	wake    time.Duration
	waiting *Event
	done    bool
	started bool
	fn      func(*Task)
}

// Spawn registers a new task. The function body runs when Run is called.
func (k *Kernel) Spawn(name string, fn func(*Task)) *Task {
	t := &Task{
		k:       k,
		name:    name,
		resume:  make(chan struct{}),
		yielded: make(chan struct{}),
		fn:      fn,
	}
	k.tasks = append(k.tasks, t)
	heap.Push(&k.queue, &queued{task: t, at: 0})
	return t
}

// Name returns the task name given at Spawn.
func (t *Task) Name() string { return t.name }

// Kernel returns the owning kernel.
func (t *Task) Kernel() *Kernel { return t.k }

// Wait suspends the task for d of simulated time.
func (t *Task) Wait(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("kernel: negative wait %v in task %s", d, t.name))
	}
	t.wake = t.k.now + d
	t.waiting = nil
	t.yield()
}

// WaitEvent suspends the task until ev is notified.
func (t *Task) WaitEvent(ev *Event) {
	t.waiting = ev
	ev.waiters = append(ev.waiters, t)
	t.yield()
}

func (t *Task) yield() {
	t.yielded <- struct{}{}
	<-t.resume
}

// Event is a notification channel between tasks and models.
type Event struct {
	k       *Kernel
	name    string
	waiters []*Task
}

// NewEvent creates a named event.
func (k *Kernel) NewEvent(name string) *Event {
	return &Event{k: k, name: name}
}

// Notify wakes all tasks waiting on the event at the current time.
func (e *Event) Notify() {
	for _, t := range e.waiters {
		t.waiting = nil
		t.wake = e.k.now
		heap.Push(&e.k.queue, &queued{task: t, at: e.k.now})
	}
	e.waiters = e.waiters[:0]
}

// NotifyDelayed wakes all waiters after d of simulated time.
func (e *Event) NotifyDelayed(d time.Duration) {
	at := e.k.now + d
	for _, t := range e.waiters {
		t.waiting = nil
		t.wake = at
		heap.Push(&e.k.queue, &queued{task: t, at: at})
	}
	e.waiters = e.waiters[:0]
}

type queued struct {
	task *Task
	at   time.Duration
	seq  uint64
}

type taskHeap struct {
	items []*queued
	seq   uint64
}

func (h *taskHeap) Len() int { return len(h.items) }
func (h *taskHeap) Less(i, j int) bool {
	if h.items[i].at != h.items[j].at {
		return h.items[i].at < h.items[j].at
	}
	return h.items[i].seq < h.items[j].seq
}
func (h *taskHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *taskHeap) Push(x any) {
	q := x.(*queued)
	q.seq = h.seq
	h.seq++
	h.items = append(h.items, q)
}
func (h *taskHeap) Pop() any {
	old := h.items
	n := len(old)
	q := old[n-1]
	h.items = old[:n-1]
	return q
}

// Run executes tasks until no task is runnable, until the optional horizon
// is reached, or until Stop is called. A zero horizon means no limit.
func (k *Kernel) Run(horizon time.Duration) error {
	if k.running {
		return fmt.Errorf("kernel: Run called reentrantly")
	}
	k.running = true
	defer func() { k.running = false }()

	for k.queue.Len() > 0 && !k.stopped {
		q := heap.Pop(&k.queue).(*queued)
		t := q.task
		if t.done || t.waiting != nil {
			continue
		}
		if horizon != 0 && t.wake > horizon {
			heap.Push(&k.queue, q)
			k.now = horizon
			return nil
		}
		if t.wake > k.now {
			k.now = t.wake
		}
		k.step(t)
		if !t.done && t.waiting == nil {
			heap.Push(&k.queue, &queued{task: t, at: t.wake})
		}
	}
	return nil
}

func (k *Kernel) step(t *Task) {
	if !t.started {
		t.started = true
		go func() {
			<-t.resume
			defer func() {
				if r := recover(); r != nil {
					slog.Error("kernel: task died", "task", t.name, "panic", r)
					t.done = true
					t.yielded <- struct{}{}
				}
			}()
			t.fn(t)
			t.done = true
			t.yielded <- struct{}{}
		}()
	}
	t.resume <- struct{}{}
	<-t.yielded
}
