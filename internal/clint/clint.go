// Package clint models the core-local interruptor: the mtime counter, the
// per-hart mtimecmp and msip registers, and injection of timer and software
// interrupts into the harts.
//
// Two mtime sources exist: simulation time (deterministic, used under test)
// and host wall clock (the lightweight real-time variant, which keeps guest
// timers roughly aligned with the human in front of the console).
package clint

import (
	"encoding/binary"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
	"github.com/ics-jku/riscv-vp-go/internal/kernel"
)

// Register map offsets (SiFive CLINT layout).
const (
	offMsip     = 0x0000
	offMtimecmp = 0x4000
	offMtime    = 0xBFF8
	Size        = 0xC000
)

// InterruptTarget is the per-hart interrupt injection surface the CLINT
// drives. Implemented by the ISS.
type InterruptTarget interface {
	TriggerTimerInterrupt()
	ClearTimerInterrupt()
	TriggerSoftwareInterrupt()
	ClearSoftwareInterrupt()
}

// TimeSource selects where mtime comes from.
type TimeSource int

const (
	// SimulationTime derives mtime from kernel time (µs resolution).
	SimulationTime TimeSource = iota
	// WallClock derives mtime from the host monotonic clock (µs resolution).
	WallClock
)

// CLINT is the core-local interruptor for NumHarts harts.
type CLINT struct {
	k        *kernel.Kernel
	source   TimeSource
	start    time.Time
	mtime    uint64
	mtimecmp []uint64
	msip     []uint32
	harts    []InterruptTarget
}

// New creates a CLINT for numHarts harts. Targets are attached later with
// ConnectHart, once the harts exist.
func New(k *kernel.Kernel, numHarts int, source TimeSource) *CLINT {
	c := &CLINT{
		k:        k,
		source:   source,
		start:    time.Now(),
		mtimecmp: make([]uint64, numHarts),
		msip:     make([]uint32, numHarts),
		harts:    make([]InterruptTarget, numHarts),
	}
	k.Spawn("clint", c.run)
	return c
}

// ConnectHart attaches the interrupt target for the given hart.
func (c *CLINT) ConnectHart(id int, t InterruptTarget) {
	c.harts[id] = t
}

func (c *CLINT) now() uint64 {
	switch c.source {
	case WallClock:
		return uint64(time.Since(c.start).Microseconds())
	default:
		return uint64(c.k.Now().Microseconds())
	}
}

// UpdateAndGetMtime returns the current mtime, never moving backwards (local
// quantums can make callers observe time slightly ahead of the last update).
func (c *CLINT) UpdateAndGetMtime() uint64 {
	if now := c.now(); now > c.mtime {
		c.mtime = now
	}
	return c.mtime
}

// run polls mtimecmp every 10 simulated microseconds, the cadence the
// firmware-visible timer resolution requires.
func (c *CLINT) run(t *kernel.Task) {
	for {
		t.Wait(10 * time.Microsecond)
		c.UpdateAndGetMtime()
		for i, cmp := range c.mtimecmp {
			if c.harts[i] == nil {
				continue
			}
			if cmp > 0 && c.mtime >= cmp {
				c.harts[i].TriggerTimerInterrupt()
			}
		}
	}
}

// Transport implements bus.Target for the memory-mapped register file.
func (c *CLINT) Transport(tx *bus.Transaction, delay *time.Duration) {
	*delay += 20 * time.Nanosecond
	n := len(tx.Data)
	switch {
	case tx.Addr >= offMsip && tx.Addr < offMsip+uint64(4*len(c.msip)):
		hart := int((tx.Addr - offMsip) / 4)
		if tx.Cmd == bus.Read {
			putUint(tx.Data, uint64(c.msip[hart]))
			return
		}
		v := getUint(tx.Data)
		c.msip[hart] = uint32(v & 1)
		if c.harts[hart] != nil {
			if v&1 != 0 {
				c.harts[hart].TriggerSoftwareInterrupt()
			} else {
				c.harts[hart].ClearSoftwareInterrupt()
			}
		}

	case tx.Addr >= offMtimecmp && tx.Addr < offMtimecmp+uint64(8*len(c.mtimecmp)):
		hart := int((tx.Addr - offMtimecmp) / 8)
		half := (tx.Addr - offMtimecmp) % 8
		if tx.Cmd == bus.Read {
			putUint(tx.Data, c.mtimecmp[hart]>>(8*half))
			return
		}
		v := getUint(tx.Data)
		cmp := c.mtimecmp[hart]
		switch {
		case n == 8:
			cmp = v
		case half == 0:
			cmp = cmp&^uint64(0xffffffff) | v&0xffffffff
		default:
			cmp = cmp&0xffffffff | (v&0xffffffff)<<32
		}
		c.mtimecmp[hart] = cmp
		// a comparand in the future retracts a pending timer interrupt
		if c.harts[hart] != nil && (cmp == 0 || cmp > c.UpdateAndGetMtime()) {
			c.harts[hart].ClearTimerInterrupt()
		}

	case tx.Addr >= offMtime && tx.Addr < offMtime+8:
		if tx.Cmd == bus.Read {
			putUint(tx.Data, c.UpdateAndGetMtime()>>(8*(tx.Addr-offMtime)))
			return
		}
		// mtime is read-only in this model; writes are dropped

	default:
		tx.Status = bus.AddressError
	}
}

func getUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func putUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

var _ bus.Target = (*CLINT)(nil)
