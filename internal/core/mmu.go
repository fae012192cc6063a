package core

import (
	"fmt"
	"time"
)

// AccessType qualifies a translation request.
type AccessType int

const (
	AccessFetch AccessType = 0
	AccessLoad  AccessType = 1
	AccessStore AccessType = 2
)

// Page table entry bits.
const (
	pteV   uint64 = 1 << 0
	pteR   uint64 = 1 << 1
	pteW   uint64 = 1 << 2
	pteX   uint64 = 1 << 3
	pteU   uint64 = 1 << 4
	pteG   uint64 = 1 << 5
	pteA   uint64 = 1 << 6
	pteD   uint64 = 1 << 7
	ptePPN uint64 = 10 // PPN field shift
)

// Reserved high PTE bits carrying capability permissions (tagged memory
// variant). Ignored on untagged platforms.
const (
	pteCW  uint64 = 1 << 63
	pteCR  uint64 = 1 << 62
	pteCD  uint64 = 1 << 61
	pteCRM uint64 = 1 << 60
	pteCRG uint64 = 1 << 59

	ptePermMask uint64 = 0x07FF_FFFF_FFFF_FFFF // PTE value below the capability bits
)

// Capability load permission encodings (CR, CRM, CRG).
const (
	capLoadStripTags = 0b000
	capLoadFaults    = 0b010
	capLoadUnaltered = 0b100
)

const (
	pageShift = 12
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

// TLBEntries is the number of direct-mapped slots per (mode, access type).
const TLBEntries = 256

type tlbEntry struct {
	vpn uint64
	ppn uint64
}

type vmInfo struct {
	levels  int
	idxBits int
	pteSize int
	ptBase  uint64
}

// MMU translates virtual to physical addresses by TLB lookup or page table
// walk, setting A/D bits by write-back. It is owned by exactly one hart.
type MMU struct {
	iss *ISS
	mem mmuMemory

	accessDelay time.Duration

	// direct-mapped TLB indexed by (privilege, access type, vpn mod N).
	// Fully flushed on SFENCE.VMA, satp mode change, trap entry/return.
	tlb [2][3][TLBEntries]tlbEntry

	// pageFaultOnAD raises a page fault instead of writing A/D back.
	pageFaultOnAD bool

	// missCount is exposed for tests asserting re-walks after flushes.
	missCount uint64
}

// NewMMU creates the MMU for a hart. mem is the raw PTE port.
func NewMMU(iss *ISS, mem mmuMemory) *MMU {
	m := &MMU{iss: iss, mem: mem, accessDelay: 3 * iss.cyclePeriod}
	m.FlushTLB()
	return m
}

// FlushTLB invalidates every TLB entry.
func (m *MMU) FlushTLB() {
	for i := range m.tlb {
		for j := range m.tlb[i] {
			for k := range m.tlb[i][j] {
				m.tlb[i][j][k] = tlbEntry{vpn: ^uint64(0), ppn: ^uint64(0)}
			}
		}
	}
}

// MissCount returns the number of page table walks performed.
func (m *MMU) MissCount() uint64 { return m.missCount }

func (m *MMU) pageFault(typ AccessType, vaddr uint64) error {
	switch typ {
	case AccessFetch:
		return raiseTrap(ExcInstrPageFault, vaddr)
	case AccessStore:
		return raiseTrap(ExcStoreAMOPageFault, vaddr)
	default:
		return raiseTrap(ExcLoadPageFault, vaddr)
	}
}

// Translate maps vaddr for the given access type under the current
// privilege and mstatus bits. Bare mode and effective M-mode pass through.
func (m *MMU) Translate(vaddr uint64, typ AccessType) (uint64, error) {
	paddr, _, _, err := m.TranslateCap(vaddr, typ, false)
	return paddr, err
}

// TranslateCap is Translate plus the capability permission outcome for
// tagged accesses: stripTag asks the caller to clear the loaded tag,
// trapIfCap to fault if the loaded granule carries a tag.
func (m *MMU) TranslateCap(vaddr uint64, typ AccessType, tag bool) (paddr uint64, stripTag, trapIfCap bool, err error) {
	if m.iss.satpMode() == SatpModeBare {
		return vaddr, false, false, nil
	}

	mode := m.iss.prv
	if typ != AccessFetch && m.iss.csrs.mstatus&MstatusMPRV != 0 {
		mode = PrivilegeLevel(m.iss.csrs.mstatus >> mstatusMPPShift & 3)
	}
	if mode == MachineMode {
		return vaddr, false, false, nil
	}

	m.iss.qk.Inc(m.accessDelay)

	vpn := vaddr >> pageShift
	e := &m.tlb[mode][typ][vpn%TLBEntries]
	if e.vpn == vpn {
		return e.ppn | vaddr&pageMask, false, false, nil
	}

	m.missCount++
	paddr, stripTag, trapIfCap, err = m.walk(vaddr, typ, mode, tag)
	if err != nil {
		return 0, false, false, err
	}

	e.ppn = paddr &^ uint64(pageMask)
	e.vpn = vpn
	return paddr, stripTag, trapIfCap, nil
}

func (m *MMU) vmInfo() (vmInfo, error) {
	ptBase := m.iss.satpPPN() << pageShift
	switch m.iss.satpMode() {
	case SatpModeSv32:
		return vmInfo{2, 10, 4, ptBase}, nil
	case SatpModeSv39:
		return vmInfo{3, 9, 8, ptBase}, nil
	case SatpModeSv48:
		return vmInfo{4, 9, 8, ptBase}, nil
	case SatpModeSv57:
		return vmInfo{5, 9, 8, ptBase}, nil
	default:
		return vmInfo{}, fmt.Errorf("core: unknown satp mode %d", m.iss.satpMode())
	}
}

// checkVaddrExtension verifies the unused upper address bits sign-extend
// the top used bit.
func (m *MMU) checkVaddrExtension(vaddr uint64, vm vmInfo) bool {
	highBit := vm.idxBits*vm.levels + pageShift - 1
	if highBit >= m.iss.isa.XLen-1 {
		return true
	}
	extMask := uint64(1)<<(uint(m.iss.isa.XLen)-uint(highBit)) - 1
	bits := vaddr >> uint(highBit) & extMask
	return bits == 0 || bits == extMask
}

func (m *MMU) walk(vaddr uint64, typ AccessType, mode PrivilegeLevel, tag bool) (uint64, bool, bool, error) {
	sMode := mode == SupervisorMode
	sum := m.iss.csrs.mstatus&MstatusSUM != 0
	mxr := m.iss.csrs.mstatus&MstatusMXR != 0

	vm, err := m.vmInfo()
	if err != nil {
		return 0, false, false, err
	}
	if !m.checkVaddrExtension(vaddr, vm) {
		return 0, false, false, m.pageFault(typ, vaddr)
	}

	base := vm.ptBase
	for i := vm.levels - 1; i >= 0; i-- {
		ptShift := uint(i * vm.idxBits)
		vpnField := vaddr >> (pageShift + ptShift) & (1<<uint(vm.idxBits) - 1)
		pteAddr := base + vpnField*uint64(vm.pteSize)

		pte, err := m.mem.LoadPTE(pteAddr, vm.pteSize)
		if err != nil {
			return 0, false, false, err
		}
		ppn := pte & ptePermMask >> ptePPN

		if pte&pteV == 0 || (pte&pteR == 0 && pte&pteW != 0) {
			return 0, false, false, m.pageFault(typ, vaddr)
		}
		if pte&pteR == 0 && pte&pteX == 0 {
			// non-leaf, descend
			base = ppn << pageShift
			continue
		}

		// leaf: permission checks
		switch typ {
		case AccessFetch:
			if pte&pteX == 0 {
				return 0, false, false, m.pageFault(typ, vaddr)
			}
		case AccessLoad:
			if pte&pteR == 0 && !(mxr && pte&pteX != 0) {
				return 0, false, false, m.pageFault(typ, vaddr)
			}
		case AccessStore:
			if pte&pteR == 0 || pte&pteW == 0 {
				return 0, false, false, m.pageFault(typ, vaddr)
			}
		}

		if pte&pteU != 0 {
			if sMode && (typ == AccessFetch || !sum) {
				return 0, false, false, m.pageFault(typ, vaddr)
			}
		} else if !sMode {
			return 0, false, false, m.pageFault(typ, vaddr)
		}

		stripTag, trapIfCap := false, false
		if tag && typ == AccessStore {
			if pte&pteCW == 0 {
				return 0, false, false, m.pageFault(typ, vaddr)
			}
			if pte&pteCD == 0 {
				if m.pageFaultOnAD {
					return 0, false, false, m.pageFault(typ, vaddr)
				}
				pte |= pteCD | pteD
				if err := m.mem.StorePTE(pteAddr, vm.pteSize, pte); err != nil {
					return 0, false, false, err
				}
			}
		}
		if typ == AccessLoad {
			perms := pte>>62&1<<2 | pte>>60&1<<1 | pte>>59&1
			switch perms {
			case capLoadStripTags:
				stripTag = true
			case capLoadUnaltered:
			case capLoadFaults:
				trapIfCap = true
			}
		}

		// misaligned superpage: the PPN fields below this level must be zero
		if ppn&(1<<ptShift-1) != 0 {
			return 0, false, false, m.pageFault(typ, vaddr)
		}

		ad := pteA
		if typ == AccessStore {
			ad |= pteD
		}
		if pte&ad != ad {
			if m.pageFaultOnAD {
				return 0, false, false, m.pageFault(typ, vaddr)
			}
			pte |= ad
			if err := m.mem.StorePTE(pteAddr, vm.pteSize, pte); err != nil {
				return 0, false, false, err
			}
		}

		// compose: upper PPN fields from the PTE, the VPN fields at and
		// below this level as offset, plus the page offset
		vpnLow := vaddr >> pageShift & (1<<ptShift - 1)
		paddr := (ppn&^(1<<ptShift-1)|vpnLow)<<pageShift | vaddr&pageMask
		return paddr, stripTag, trapIfCap, nil
	}

	return 0, false, false, m.pageFault(typ, vaddr)
}
