package kernel

import "time"

// QuantumKeeper accumulates local time for a task and synchronises with the
// kernel when the global quantum is exhausted. Models charge delays with Inc
// and call Sync at their own suspension points; until then the task runs
// ahead of simulated time (temporal decoupling).
//
// A keeper with a nil task (standalone use, e.g. unit tests driving a model
// directly) accumulates and resets time but never yields.
type QuantumKeeper struct {
	task   *Task
	global time.Duration
	local  time.Duration
}

// NewQuantumKeeper creates a keeper. With a non-nil task the global quantum
// is taken from the argument (usually the kernel's).
func NewQuantumKeeper(task *Task, global time.Duration) *QuantumKeeper {
	return &QuantumKeeper{task: task, global: global}
}

// Inc charges d of local time.
func (qk *QuantumKeeper) Inc(d time.Duration) { qk.local += d }

// Set replaces the accumulated local time, e.g. after a transaction updated
// the delay in place.
func (qk *QuantumKeeper) Set(d time.Duration) { qk.local = d }

// LocalTime returns the accumulated local time.
func (qk *QuantumKeeper) LocalTime() time.Duration { return qk.local }

// NeedSync reports whether the local time has reached the global quantum.
func (qk *QuantumKeeper) NeedSync() bool {
	if qk.global == 0 {
		return qk.local > 0
	}
	return qk.local >= qk.global
}

// Sync yields the task for the accumulated local time and resets it.
func (qk *QuantumKeeper) Sync() {
	d := qk.local
	qk.local = 0
	if qk.task != nil {
		qk.task.Wait(d)
	}
}

// CurrentTime returns kernel time plus the local offset (zero base when
// standalone).
func (qk *QuantumKeeper) CurrentTime() time.Duration {
	if qk.task == nil {
		return qk.local
	}
	return qk.task.k.now + qk.local
}
