package core

import (
	"testing"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
	"github.com/ics-jku/riscv-vp-go/internal/mem"
)

const (
	testRAMBase uint64 = 0x8000_0000
	testRAMSize uint64 = 4 * 1024 * 1024
)

type testHart struct {
	iss *ISS
	ram *mem.RAM
	bus *bus.SimpleBus
	cm  *CombinedMemory
	mmu *MMU
}

func newTestHart(t *testing.T, isa ISAConfig) *testHart {
	t.Helper()

	b := bus.NewSimpleBus()
	ram := mem.NewRAM(testRAMSize)
	b.Bind("ram", testRAMBase, testRAMBase+testRAMSize-1, ram)

	iss := NewISS(Params{ISA: isa, UseDBBCache: true})
	lock := NewBusLock(nil)
	cm := NewCombinedMemory(0, nil, iss.QuantumKeeper(), lock, b, 0)
	if !cm.RequestDMI(testRAMBase) {
		t.Fatal("DMI request refused")
	}
	mmu := NewMMU(iss, cm)
	cm.SetMMU(mmu)
	iss.Init(cm, cm, nil, testRAMBase, testRAMBase+testRAMSize)

	return &testHart{iss: iss, ram: ram, bus: b, cm: cm, mmu: mmu}
}

// load places instruction words at addr and points pc there.
func (h *testHart) load(addr uint64, code []uint32) {
	for n, w := range code {
		h.ram.PutUint32(addr-testRAMBase+uint64(4*n), w)
	}
	h.iss.SetProgramCounter(addr)
}

// steps retires n instructions in debug mode.
func (h *testHart) steps(t *testing.T, n int) {
	t.Helper()
	h.iss.EnableDebug()
	for i := 0; i < n; i++ {
		if err := h.iss.RunStep(); err != nil {
			t.Fatalf("step at pc=0x%x: %v", h.iss.GetProgramCounter(), err)
		}
		if h.iss.GetStatus() != Runnable {
			return
		}
	}
}

func (h *testHart) reg(idx uint32) uint64 { return h.iss.ReadRegister(idx) }
