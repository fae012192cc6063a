package core

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
	"github.com/ics-jku/riscv-vp-go/internal/kernel"
)

// InstrMemory is the fetch port of a hart.
type InstrMemory interface {
	LoadInstr(pc uint64) (uint32, error)
}

// DataMemory is the load/store port of a hart. Addresses are virtual; the
// implementation translates and routes. Load results are zero-extended raw
// bits; sign extension is the caller's business.
type DataMemory interface {
	Load(vaddr uint64, size int) (uint64, error)
	Store(vaddr uint64, size int, v uint64) error

	AtomicLoad(vaddr uint64, size int) (uint64, error)
	AtomicStore(vaddr uint64, size int, v uint64) error
	AtomicLoadReserved(vaddr uint64, size int) (uint64, error)
	AtomicStoreConditional(vaddr uint64, size int, v uint64) (bool, error)
	AtomicUnlock()

	BusLocked() bool
	// LastDMIPage returns the host bytes of the 4KiB page containing the
	// most recent access if it was served by DMI, nil otherwise. Only valid
	// directly after the access, before any context switch.
	LastDMIPage() []byte

	FlushTLB()
}

// mmuMemory is the raw (post-translation) port the MMU walks page tables
// through.
type mmuMemory interface {
	LoadPTE(paddr uint64, size int) (uint64, error)
	StorePTE(paddr uint64, size int, v uint64) error
}

// CombinedMemory routes hart memory accesses either through DMI windows
// into host memory or as transactions over the bus, under the cross-hart
// bus lock. It also owns the hart's LR/SC reservation address.
type CombinedMemory struct {
	hartID uint64
	task   *kernel.Task
	qk     *kernel.QuantumKeeper
	lock   *BusLock
	sock   *bus.SimpleBus
	mmu    *MMU

	dmiRanges      []bus.DMIRange
	dmiAccessDelay time.Duration

	// commit flushes the owning hart's local cycle counter into the
	// quantum keeper before a transaction can context switch.
	commit func()

	lrAddr      uint64
	lastDMIPage []byte

	buf [8]byte
}

// NewCombinedMemory wires the memory interface of one hart.
func NewCombinedMemory(hartID uint64, task *kernel.Task, qk *kernel.QuantumKeeper,
	lock *BusLock, sock *bus.SimpleBus, dmiAccessDelay time.Duration) *CombinedMemory {
	return &CombinedMemory{
		hartID:         hartID,
		task:           task,
		qk:             qk,
		lock:           lock,
		sock:           sock,
		dmiAccessDelay: dmiAccessDelay,
		commit:         func() {},
	}
}

// SetMMU attaches the MMU. Without one, addresses pass through untranslated.
func (m *CombinedMemory) SetMMU(mmu *MMU) { m.mmu = mmu }

// AddDMIRange installs a direct memory window. Ranges are scanned in
// installation order; typically set up once at platform construction.
func (m *CombinedMemory) AddDMIRange(r bus.DMIRange) {
	m.dmiRanges = append(m.dmiRanges, r)
}

// RequestDMI asks the bus for a DMI window covering addr and installs it.
func (m *CombinedMemory) RequestDMI(addr uint64) bool {
	r, ok := m.sock.DMI(addr)
	if ok {
		m.AddDMIRange(r)
	}
	return ok
}

func (m *CombinedMemory) v2p(vaddr uint64, typ AccessType) (uint64, error) {
	if m.mmu == nil {
		return vaddr, nil
	}
	return m.mmu.Translate(vaddr, typ)
}

func (m *CombinedMemory) findDMI(paddr uint64, size int) *bus.DMIRange {
	for i := range m.dmiRanges {
		r := &m.dmiRanges[i]
		if r.Contains(paddr) && paddr+uint64(size) <= r.End {
			return r
		}
	}
	return nil
}

func (m *CombinedMemory) doTransaction(cmd bus.Command, paddr uint64, data []byte) error {
	// ensure the quantum keeper is up to date: the transaction may yield
	m.commit()

	tx := bus.Transaction{Cmd: cmd, Addr: paddr, Data: data, Hart: m.hartID}
	delay := m.qk.LocalTime()
	m.sock.Transport(&tx, &delay)
	m.qk.Set(delay)

	if tx.Status != bus.OK {
		slog.Warn("core: memory transaction failed, raising trap",
			"hart", m.hartID, "addr", fmt.Sprintf("0x%x", paddr), "cmd", cmd)
		if cmd == bus.Read {
			return raiseTrap(ExcLoadPageFault, paddr)
		}
		return raiseTrap(ExcStoreAMOPageFault, paddr)
	}
	return nil
}

// rawLoad reads size bytes at a physical address, preferring DMI.
func (m *CombinedMemory) rawLoad(paddr uint64, size int) (uint64, error) {
	// a DMI load cannot context switch or modify memory, so taking the
	// lock rights before the range scan is sufficient
	m.lock.WaitForAccessRights(m.task, m.hartID)

	if r := m.findDMI(paddr, size); r != nil {
		m.qk.Inc(m.dmiAccessDelay)
		v := getLE(r.Slice(paddr, size))
		m.lastDMIPage = dmiPage(r, paddr)
		return v, nil
	}

	buf := m.buf[:size]
	if err := m.doTransaction(bus.Read, paddr, buf); err != nil {
		return 0, err
	}
	// the transaction may have yielded to a hart whose accesses went via
	// DMI; clear the marker after, not before
	m.lastDMIPage = nil
	return getLE(buf), nil
}

// rawStore writes size bytes at a physical address, preferring DMI.
func (m *CombinedMemory) rawStore(paddr uint64, size int, v uint64) error {
	m.lock.WaitForAccessRights(m.task, m.hartID)

	if r := m.findDMI(paddr, size); r != nil {
		m.qk.Inc(m.dmiAccessDelay)
		putLE(r.Slice(paddr, size), v)
		if r.Tags != nil {
			// any partial store clears the capability tag of the granule
			r.Tags.ClearRange(paddr-r.Start, uint64(size))
		}
		m.lastDMIPage = dmiPage(r, paddr)
		// any store by the lock owner ends its atomic sequence
		m.lock.Unlock(m.hartID)
		return nil
	}

	buf := m.buf[:size]
	putLE(buf, v)
	if err := m.doTransaction(bus.Write, paddr, buf); err != nil {
		return err
	}
	m.lock.Unlock(m.hartID)
	m.lastDMIPage = nil
	return nil
}

// Load implements DataMemory.
func (m *CombinedMemory) Load(vaddr uint64, size int) (uint64, error) {
	paddr, err := m.v2p(vaddr, AccessLoad)
	if err != nil {
		return 0, err
	}
	return m.rawLoad(paddr, size)
}

// Store implements DataMemory.
func (m *CombinedMemory) Store(vaddr uint64, size int, v uint64) error {
	paddr, err := m.v2p(vaddr, AccessStore)
	if err != nil {
		return err
	}
	return m.rawStore(paddr, size, v)
}

// LoadInstr implements InstrMemory. A 32-bit fetch whose low 12 bits are
// 0xFFE crosses a page boundary when compressed instructions are enabled;
// it is split into two separately translated half fetches.
func (m *CombinedMemory) LoadInstr(pc uint64) (uint32, error) {
	if pc&0xFFF == 0xFFE {
		loPA, err := m.v2p(pc, AccessFetch)
		if err != nil {
			return 0, err
		}
		lo, err := m.rawLoad(loPA, 2)
		if err != nil {
			return 0, err
		}
		hiPA, err := m.v2p(pc+2, AccessFetch)
		if err != nil {
			return 0, err
		}
		hi, err := m.rawLoad(hiPA, 2)
		if err != nil {
			return 0, err
		}
		return uint32(hi)<<16 | uint32(lo), nil
	}
	paddr, err := m.v2p(pc, AccessFetch)
	if err != nil {
		return 0, err
	}
	v, err := m.rawLoad(paddr, 4)
	return uint32(v), err
}

// AtomicLoad implements DataMemory: acquire the bus lock, then load.
func (m *CombinedMemory) AtomicLoad(vaddr uint64, size int) (uint64, error) {
	m.lock.Lock(m.task, m.hartID)
	return m.Load(vaddr, size)
}

// AtomicStore implements DataMemory. The bus should already be locked by
// this hart; long-running guests are known to violate this between quantum
// boundaries, so the store proceeds with a warning rather than failing.
func (m *CombinedMemory) AtomicStore(vaddr uint64, size int, v uint64) error {
	if !m.lock.IsLockedBy(m.hartID) {
		slog.Warn("core: atomic store without bus lock", "hart", m.hartID,
			"addr", fmt.Sprintf("0x%x", vaddr))
	}
	err := m.Store(vaddr, size, v)
	m.AtomicUnlock()
	return err
}

// AtomicLoadReserved implements DataMemory: lock, record the reservation,
// load.
func (m *CombinedMemory) AtomicLoadReserved(vaddr uint64, size int) (uint64, error) {
	m.lock.Lock(m.task, m.hartID)
	m.lrAddr = vaddr
	return m.Load(vaddr, size)
}

// AtomicStoreConditional implements DataMemory. Success requires the lock
// to be held by this hart and the address to match the reservation; failure
// releases the lock and leaves memory unchanged.
func (m *CombinedMemory) AtomicStoreConditional(vaddr uint64, size int, v uint64) (bool, error) {
	if m.lock.IsLockedBy(m.hartID) {
		if vaddr == m.lrAddr {
			if err := m.Store(vaddr, size, v); err != nil {
				m.AtomicUnlock()
				return false, err
			}
			m.AtomicUnlock()
			return true, nil
		}
		m.AtomicUnlock()
	}
	return false, nil
}

// AtomicUnlock implements DataMemory.
func (m *CombinedMemory) AtomicUnlock() {
	m.lock.Unlock(m.hartID)
}

// BusLocked implements DataMemory.
func (m *CombinedMemory) BusLocked() bool { return m.lock.IsLocked() }

// LastDMIPage implements DataMemory.
func (m *CombinedMemory) LastDMIPage() []byte { return m.lastDMIPage }

// FlushTLB implements DataMemory.
func (m *CombinedMemory) FlushTLB() {
	if m.mmu != nil {
		m.mmu.FlushTLB()
	}
}

// LoadPTE implements mmuMemory (raw path, no translation).
func (m *CombinedMemory) LoadPTE(paddr uint64, size int) (uint64, error) {
	return m.rawLoad(paddr, size)
}

// StorePTE implements mmuMemory.
func (m *CombinedMemory) StorePTE(paddr uint64, size int, v uint64) error {
	return m.rawStore(paddr, size, v)
}

// LoadCap loads a 16-byte capability granule and its tag from tagged
// memory, honouring the MMU capability-load permissions.
func (m *CombinedMemory) LoadCap(vaddr uint64) (lo, hi uint64, tag bool, err error) {
	var paddr uint64
	stripTag, trapIfCap := false, false
	if m.mmu != nil {
		paddr, stripTag, trapIfCap, err = m.mmu.TranslateCap(vaddr, AccessLoad, false)
	} else {
		paddr = vaddr
	}
	if err != nil {
		return 0, 0, false, err
	}
	if lo, err = m.rawLoad(paddr, 8); err != nil {
		return 0, 0, false, err
	}
	if hi, err = m.rawLoad(paddr+8, 8); err != nil {
		return 0, 0, false, err
	}
	if r := m.findDMI(paddr, 16); r != nil && r.Tags != nil {
		tag = r.Tags.Get(paddr - r.Start)
	}
	if tag && trapIfCap {
		return 0, 0, false, raiseTrap(ExcLoadPageFault, vaddr)
	}
	if stripTag {
		tag = false
	}
	return lo, hi, tag, nil
}

// StoreCap stores a 16-byte capability granule with its tag into tagged
// memory. The MMU enforces the capability-write permission for tagged
// stores.
func (m *CombinedMemory) StoreCap(vaddr uint64, lo, hi uint64, tag bool) error {
	var paddr uint64
	var err error
	if m.mmu != nil {
		paddr, _, _, err = m.mmu.TranslateCap(vaddr, AccessStore, tag)
	} else {
		paddr = vaddr
	}
	if err != nil {
		return err
	}
	if err := m.rawStore(paddr, 8, lo); err != nil {
		return err
	}
	if err := m.rawStore(paddr+8, 8, hi); err != nil {
		return err
	}
	if r := m.findDMI(paddr, 16); r != nil && r.Tags != nil {
		r.Tags.Set(paddr-r.Start, tag)
	}
	return nil
}

// dmiPage returns the host bytes of the 4KiB-aligned page containing paddr,
// clipped to the range.
func dmiPage(r *bus.DMIRange, paddr uint64) []byte {
	start := paddr &^ 0xFFF
	if start < r.Start {
		start = r.Start
	}
	n := int(r.End - start)
	if n > 4096 {
		n = 4096
	}
	return r.Slice(start, n)
}

func getLE(b []byte) uint64 {
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

func putLE(b []byte, v uint64) {
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

var (
	_ InstrMemory = (*CombinedMemory)(nil)
	_ DataMemory  = (*CombinedMemory)(nil)
	_ mmuMemory   = (*CombinedMemory)(nil)
)
