package core

import (
	"github.com/ics-jku/riscv-vp-go/internal/kernel"
)

// BusLock is the single cross-hart coordination primitive of the core: a
// one-owner lock over the memory bus used to make LR/SC sequences and AMOs
// atomic. Harts block on the wait event while another hart holds the lock.
type BusLock struct {
	locked bool
	owner  uint64
	ev     *kernel.Event
}

// NewBusLock creates a bus lock. The event may be nil in single-hart
// standalone setups where contention cannot occur.
func NewBusLock(k *kernel.Kernel) *BusLock {
	l := &BusLock{}
	if k != nil {
		l.ev = k.NewEvent("bus-lock")
	}
	return l
}

// WaitForAccessRights blocks until the bus is free or held by hart. This is
// a suspension point.
func (l *BusLock) WaitForAccessRights(t *kernel.Task, hart uint64) {
	for l.locked && l.owner != hart {
		if t == nil || l.ev == nil {
			panic("core: bus lock contention without a scheduler")
		}
		t.WaitEvent(l.ev)
	}
}

// Lock acquires the bus for hart, blocking while another hart holds it.
func (l *BusLock) Lock(t *kernel.Task, hart uint64) {
	l.WaitForAccessRights(t, hart)
	l.locked = true
	l.owner = hart
}

// Unlock releases the bus if hart owns it and wakes waiters.
func (l *BusLock) Unlock(hart uint64) {
	if l.locked && l.owner == hart {
		l.locked = false
		if l.ev != nil {
			l.ev.Notify()
		}
	}
}

// IsLocked reports whether any hart holds the bus.
func (l *BusLock) IsLocked() bool { return l.locked }

// IsLockedBy reports whether hart holds the bus.
func (l *BusLock) IsLockedBy(hart uint64) bool { return l.locked && l.owner == hart }
