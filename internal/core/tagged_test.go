package core

import (
	"testing"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
	"github.com/ics-jku/riscv-vp-go/internal/mem"
)

func newTaggedHart(t *testing.T) *testHart {
	t.Helper()

	b := bus.NewSimpleBus()
	ram := mem.NewRAM(1<<20, mem.WithTags())
	b.Bind("ram", testRAMBase, testRAMBase+(1<<20)-1, ram)

	iss := NewISS(Params{ISA: RV64GC(), UseDBBCache: true})
	lock := NewBusLock(nil)
	cm := NewCombinedMemory(0, nil, iss.QuantumKeeper(), lock, b, 0)
	if !cm.RequestDMI(testRAMBase) {
		t.Fatal("DMI request refused")
	}
	iss.Init(cm, cm, nil, testRAMBase, testRAMBase+(1<<20))

	return &testHart{iss: iss, ram: ram, bus: b, cm: cm}
}

func TestCapStoreLoadRoundTrip(t *testing.T) {
	h := newTaggedHart(t)
	addr := testRAMBase + 0x100

	if err := h.cm.StoreCap(addr, 0x1111, 0x2222, true); err != nil {
		t.Fatal(err)
	}
	lo, hi, tag, err := h.cm.LoadCap(addr)
	if err != nil {
		t.Fatal(err)
	}
	if lo != 0x1111 || hi != 0x2222 {
		t.Errorf("cap data = 0x%x/0x%x", lo, hi)
	}
	if !tag {
		t.Error("tag lost on round trip")
	}
}

func TestPartialStoreClearsCapTag(t *testing.T) {
	h := newTaggedHart(t)
	addr := testRAMBase + 0x100

	if err := h.cm.StoreCap(addr, 1, 2, true); err != nil {
		t.Fatal(err)
	}
	// overwrite one byte inside the granule
	if err := h.cm.Store(addr+3, 1, 0xff); err != nil {
		t.Fatal(err)
	}
	_, _, tag, err := h.cm.LoadCap(addr)
	if err != nil {
		t.Fatal(err)
	}
	if tag {
		t.Error("partial store left the capability tag set")
	}
}

func TestUntaggedStoreKeepsDataIntact(t *testing.T) {
	h := newTaggedHart(t)
	addr := testRAMBase + 0x200

	if err := h.cm.StoreCap(addr, 7, 8, false); err != nil {
		t.Fatal(err)
	}
	lo, hi, tag, err := h.cm.LoadCap(addr)
	if err != nil {
		t.Fatal(err)
	}
	if lo != 7 || hi != 8 || tag {
		t.Errorf("cap = 0x%x/0x%x tag=%v, want untagged 7/8", lo, hi, tag)
	}
}
