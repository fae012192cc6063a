package core

import (
	"errors"
	"testing"
)

func TestLRSCSameHart(t *testing.T) {
	h := newTestHart(t, RV64GC())

	addr := testRAMBase + 0x100
	h.iss.WriteRegister(10, addr)
	h.iss.WriteRegister(11, 0x55)

	// lr.w x1, (a0); sc.w x2, a1, (a0)
	h.load(0x8000_0000, []uint32{
		0x100520af,
		0x18b5212f,
	})

	h.steps(t, 2)

	if got := h.reg(2); got != 0 {
		t.Errorf("sc result = %d, want success", got)
	}
	v, _ := h.cm.Load(addr, 4)
	if v != 0x55 {
		t.Errorf("mem = 0x%x, want 0x55", v)
	}
	if h.cm.BusLocked() {
		t.Error("bus still locked after sc")
	}
}

func TestSCWithoutReservationFails(t *testing.T) {
	h := newTestHart(t, RV64GC())

	addr := testRAMBase + 0x100
	if err := h.cm.Store(addr, 4, 0x77); err != nil {
		t.Fatal(err)
	}
	h.iss.WriteRegister(10, addr)
	h.iss.WriteRegister(11, 0x55)

	h.ram.PutUint32(0, 0x18b5212f) // sc.w x2, a1, (a0)
	h.iss.SetProgramCounter(0x8000_0000)
	h.steps(t, 1)

	if got := h.reg(2); got != 1 {
		t.Errorf("sc result = %d, want failure", got)
	}
	v, _ := h.cm.Load(addr, 4)
	if v != 0x77 {
		t.Errorf("mem = 0x%x, failed sc must not store", v)
	}
}

func TestSCAddressMismatchFails(t *testing.T) {
	h := newTestHart(t, RV64GC())

	if _, err := h.cm.AtomicLoadReserved(testRAMBase+0x100, 4); err != nil {
		t.Fatal(err)
	}
	ok, err := h.cm.AtomicStoreConditional(testRAMBase+0x200, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("sc to a different address succeeded")
	}
	if h.cm.BusLocked() {
		t.Error("mismatching sc must release the bus lock")
	}
}

func TestLRSCForwardProgressBudget(t *testing.T) {
	h := newTestHart(t, RV64GC())

	addr := testRAMBase + 0x100
	h.iss.WriteRegister(10, addr)
	h.iss.WriteRegister(11, 0x55)

	// lr.w x1, (a0); 20 filler adds; sc.w x2, a1, (a0)
	code := []uint32{0x100520af}
	for i := 0; i < 20; i++ {
		code = append(code, 0x00100193) // addi x3, x0, 1
	}
	code = append(code, 0x18b5212f)
	h.load(0x8000_0000, code)

	h.steps(t, len(code))

	// the reservation expired before the sc
	if got := h.reg(2); got != 1 {
		t.Errorf("sc result = %d, want failure after budget expiry", got)
	}
}

func TestMisalignedAMOTraps(t *testing.T) {
	h := newTestHart(t, RV64GC())

	before, _ := h.cm.Load(testRAMBase+0x100, 8)

	h.iss.WriteRegister(10, testRAMBase+0x102) // misaligned for .w
	h.iss.WriteRegister(11, 1)
	err := h.iss.execAtomic(OpAMOADDW, instrWord(0x00b5222f)) // amoadd.w x4, a1, (a0)
	var tr *Trap
	if !errors.As(err, &tr) || tr.Reason != ExcStoreAMOAddrMisaligned {
		t.Fatalf("misaligned amo: got %v", err)
	}
	after, _ := h.cm.Load(testRAMBase+0x100, 8)
	if before != after {
		t.Error("misaligned amo modified memory")
	}
}

func TestAMOOperations(t *testing.T) {
	h := newTestHart(t, RV64GC())
	addr := testRAMBase + 0x200

	cases := []struct {
		op   Operation
		init uint64
		rs2  uint64
		want uint64
	}{
		{OpAMOADDW, 5, 7, 12},
		{OpAMOSWAPW, 5, 7, 7},
		{OpAMOANDW, 0xf0f0, 0xff00, 0xf000},
		{OpAMOORW, 0xf0f0, 0xff00, 0xfff0},
		{OpAMOXORW, 0xf0f0, 0xff00, 0x0ff0},
		{OpAMOMINW, 5, 0xffffffff, 0xffffffff}, // -1 < 5 signed
		{OpAMOMINUW, 5, 0xffffffff, 5},
		{OpAMOMAXW, 5, 0xffffffff, 5},
		{OpAMOMAXUW, 5, 0xffffffff, 0xffffffff},
	}
	for _, c := range cases {
		if err := h.cm.Store(addr, 4, c.init); err != nil {
			t.Fatal(err)
		}
		h.iss.WriteRegister(10, addr)
		h.iss.WriteRegister(11, c.rs2)
		// amoXX.w x4, a1, (a0): funct5 varies, fields fixed
		if err := h.iss.execAtomic(c.op, instrWord(0x00b5222f)); err != nil {
			t.Fatalf("op %d: %v", c.op, err)
		}
		if got := h.reg(4); got != uint64(int64(int32(c.init))) {
			t.Errorf("op %d: rd = 0x%x, want old value 0x%x", c.op, got, c.init)
		}
		v, _ := h.cm.Load(addr, 4)
		if v != c.want {
			t.Errorf("op %d: mem = 0x%x, want 0x%x", c.op, v, c.want)
		}
	}
}

// AMO with rd == x0 must leave x0 zero.
func TestAMOZeroRd(t *testing.T) {
	h := newTestHart(t, RV64GC())
	addr := testRAMBase + 0x300
	if err := h.cm.Store(addr, 4, 3); err != nil {
		t.Fatal(err)
	}
	h.iss.WriteRegister(10, addr)
	h.iss.WriteRegister(11, 4)
	if err := h.iss.execAtomic(OpAMOADDW, instrWord(0x00b5202f)); err != nil {
		t.Fatal(err)
	}
	if h.reg(0) != 0 {
		t.Error("x0 clobbered by amo")
	}
	v, _ := h.cm.Load(addr, 4)
	if v != 7 {
		t.Errorf("mem = %d, want 7", v)
	}
}
