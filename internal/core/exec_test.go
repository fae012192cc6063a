package core

import "testing"

func TestArithmeticScenario(t *testing.T) {
	h := newTestHart(t, RV64GC())

	// addi x1, x0, 5; addi x2, x0, 7; add x3, x1, x2; ebreak
	h.load(0x8000_0000, []uint32{
		0x00500093,
		0x00700113,
		0x002081b3,
		0x00100073,
	})

	h.steps(t, 3)

	if got := h.reg(1); got != 5 {
		t.Errorf("x1 = %d, want 5", got)
	}
	if got := h.reg(2); got != 7 {
		t.Errorf("x2 = %d, want 7", got)
	}
	if got := h.reg(3); got != 12 {
		t.Errorf("x3 = %d, want 12", got)
	}
	if pc := h.iss.GetProgramCounter(); pc != 0x8000_000C {
		t.Errorf("pc = 0x%x, want 0x8000000C", pc)
	}

	if err := h.iss.RunStep(); err != nil {
		t.Fatalf("ebreak step: %v", err)
	}
	if st := h.iss.GetStatus(); st != HitBreakpoint {
		t.Errorf("status = %v, want hit-breakpoint", st)
	}
	if h.reg(0) != 0 {
		t.Error("x0 clobbered")
	}
}

func TestALUAndLogic(t *testing.T) {
	h := newTestHart(t, RV64GC())

	// a0=10, a1=3, then add/sub/and/or/xor/sltu
	h.load(0x8000_0000, []uint32{
		0x00a00513, // addi a0, x0, 10
		0x00300593, // addi a1, x0, 3
		0x00b50633, // add a2, a0, a1
		0x40b506b3, // sub a3, a0, a1
		0x00b57733, // and a4, a0, a1
		0x00b567b3, // or a5, a0, a1
		0x00b54833, // xor a6, a0, a1
		0x00b538b3, // sltu a7, a0, a1
	})
	h.steps(t, 8)

	want := map[uint32]uint64{12: 13, 13: 7, 14: 2, 15: 11, 16: 9, 17: 0}
	for idx, v := range want {
		if got := h.reg(idx); got != v {
			t.Errorf("x%d = %d, want %d", idx, got, v)
		}
	}
}

func TestBranchTaken(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.load(0x8000_0000, []uint32{
		0x00500513, // addi a0, x0, 5
		0x00500593, // addi a1, x0, 5
		0x00000613, // addi a2, x0, 0
		0x00b50463, // beq a0, a1, +8
		0x00100613, // addi a2, x0, 1 (skipped)
		0x00a60613, // addi a2, a2, 10
	})
	h.steps(t, 5)

	if got := h.reg(12); got != 10 {
		t.Errorf("a2 = %d, want 10", got)
	}
}

func TestJalLink(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.load(0x8000_0000, []uint32{
		0x008000ef, // jal ra, +8
		0x00000013, // nop (skipped)
		0x00008067, // jalr x0, 0(ra) -> back to 0x80000004
	})
	h.steps(t, 2)

	if got := h.reg(1); got != 0x8000_0004 {
		t.Errorf("ra = 0x%x, want 0x80000004", got)
	}
	if pc := h.iss.GetProgramCounter(); pc != 0x8000_0004 {
		t.Errorf("pc = 0x%x, want 0x80000004", pc)
	}
}

func TestMulDivEdgeCases(t *testing.T) {
	h := newTestHart(t, RV64GC())

	// x1 = INT64_MIN, x2 = -1, x3 = div, x4 = rem, x5 = div-by-zero,
	// x6 = rem-by-zero
	h.load(0x8000_0000, []uint32{
		0x00100093, // addi x1, x0, 1
		0x03f09093, // slli x1, x1, 63
		0xfff00113, // addi x2, x0, -1
		0x0220c1b3, // div x3, x1, x2
		0x0220e233, // rem x4, x1, x2
		0x0200c2b3, // div x5, x1, x0
		0x0200e333, // rem x6, x1, x0
	})
	h.steps(t, 7)

	if got := h.reg(3); got != 1<<63 {
		t.Errorf("div overflow = 0x%x, want 0x%x", got, uint64(1)<<63)
	}
	if got := h.reg(4); got != 0 {
		t.Errorf("rem overflow = %d, want 0", got)
	}
	if got := h.reg(5); got != ^uint64(0) {
		t.Errorf("div by zero = 0x%x, want all-ones", got)
	}
	if got := h.reg(6); got != 1<<63 {
		t.Errorf("rem by zero = 0x%x, want dividend", got)
	}
}

func TestMulh(t *testing.T) {
	h := newTestHart(t, RV64GC())

	// x1 = -1, x2 = -1: mulh = 0 ((-1)*(-1) = 1), mulhu = 0xfff...e
	h.load(0x8000_0000, []uint32{
		0xfff00093, // addi x1, x0, -1
		0xfff00113, // addi x2, x0, -1
		0x022091b3, // mulh x3, x1, x2
		0x0220b233, // mulhu x4, x1, x2
		0x0220a2b3, // mulhsu x5, x1, x2
	})
	h.steps(t, 5)

	if got := h.reg(3); got != 0 {
		t.Errorf("mulh = 0x%x, want 0", got)
	}
	if got := h.reg(4); got != ^uint64(1) {
		t.Errorf("mulhu = 0x%x, want 0x%x", got, ^uint64(1))
	}
	if got := h.reg(5); got != ^uint64(0) {
		t.Errorf("mulhsu = 0x%x, want all-ones", got)
	}
}

func TestRV32WrapAround(t *testing.T) {
	h := newTestHart(t, RV32GC())

	// x1 = 0x7fffffff; x2 = x1 + 1 -> 0x80000000 (negative); sltu x3
	h.load(0x8000_0000, []uint32{
		0x00100093, // addi x1, x0, 1
		0x01f09093, // slli x1, x1, 31
		0xfff08093, // addi x1, x1, -1  -> 0x7fffffff
		0x00108113, // addi x2, x1, 1   -> 0x80000000
		0x0020b1b3, // sltu x3, x1, x2
		0x0020a233, // slt  x4, x1, x2
	})
	h.steps(t, 6)

	if got := h.reg(1); got != 0x7fffffff {
		t.Errorf("x1 = 0x%x, want 0x7fffffff", got)
	}
	if got := h.reg(2); got != 0xffffffff80000000 {
		t.Errorf("x2 = 0x%x, want sign-extended 0x80000000", got)
	}
	if got := h.reg(3); got != 1 {
		t.Errorf("sltu = %d, want 1", got)
	}
	// signed: 0x7fffffff > -2^31
	if got := h.reg(4); got != 0 {
		t.Errorf("slt = %d, want 0", got)
	}
}

func TestCompressedExecution(t *testing.T) {
	h := newTestHart(t, RV64GC())

	// c.li a0, 5; c.addi a0, 3; c.mv a1, a0; then a full-width add
	prog := []byte{
		0x15, 0x45, // c.li a0, 5
		0x0d, 0x05, // c.addi a0, 3
		0xaa, 0x85, // c.mv a1, a0
		0x33, 0x06, 0xb5, 0x00, // add a2, a0, a1
	}
	if _, err := h.ram.WriteAt(prog, 0); err != nil {
		t.Fatal(err)
	}
	h.iss.SetProgramCounter(0x8000_0000)

	h.steps(t, 4)

	if got := h.reg(10); got != 8 {
		t.Errorf("a0 = %d, want 8", got)
	}
	if got := h.reg(11); got != 8 {
		t.Errorf("a1 = %d, want 8", got)
	}
	if got := h.reg(12); got != 16 {
		t.Errorf("a2 = %d, want 16", got)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	h := newTestHart(t, RV64GC())

	if err := h.cm.Store(testRAMBase+0x1000, 4, 0x12345678); err != nil {
		t.Fatal(err)
	}
	v, err := h.cm.Load(testRAMBase+0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x12345678 {
		t.Errorf("load = 0x%x, want 0x12345678", v)
	}
	if h.cm.LastDMIPage() == nil {
		t.Error("expected DMI-served access")
	}
}
