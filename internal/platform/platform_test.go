package platform

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
	"github.com/ics-jku/riscv-vp-go/internal/config"
	"github.com/ics-jku/riscv-vp-go/internal/core"
)

type exitSyscall struct{}

func (exitSyscall) ExecuteSyscall(h *core.ISS) { h.SysExit() }

func newSystem(t *testing.T, harts int) *System {
	t.Helper()
	cfg := config.Default()
	cfg.NumHarts = harts
	sys, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range sys.Harts {
		h.AttachSyscallHandler(exitSyscall{})
	}
	return sys
}

func (s *System) loadAt(t *testing.T, addr uint64, code []uint32) {
	t.Helper()
	buf := make([]byte, 4*len(code))
	for n, w := range code {
		binary.LittleEndian.PutUint32(buf[4*n:], w)
	}
	if err := s.LoadImage(addr, buf); err != nil {
		t.Fatal(err)
	}
}

func (s *System) word(addr uint64) uint32 {
	return s.RAM.Uint32(addr - s.Config.MemBase)
}

// Two harts, disjoint code. Hart 0 completes an undisturbed LR/SC pair.
func TestLRSCHappyPath(t *testing.T) {
	sys := newSystem(t, 2)
	const m = 0x8010_0000

	sys.loadAt(t, 0x8000_0000, []uint32{
		0x00100517, // auipc a0, 0x100 -> 0x8010_0000
		0x00500593, // addi a1, x0, 5
		0x100520af, // lr.w x1, (a0)
		0x18b5212f, // sc.w x2, a1, (a0)
		0x00000073, // ecall -> exit
	})
	sys.loadAt(t, 0x8000_1000, []uint32{
		0x00000013, 0x00000013, 0x00000013, 0x00000013,
		0x00000073,
	})
	sys.Harts[0].SetProgramCounter(0x8000_0000)
	sys.Harts[1].SetProgramCounter(0x8000_1000)

	if err := sys.Run(time.Second); err != nil {
		t.Fatal(err)
	}

	if got := sys.Harts[0].ReadRegister(2); got != 0 {
		t.Errorf("sc result = %d, want success", got)
	}
	if got := sys.word(m); got != 5 {
		t.Errorf("mem = %d, want 5", got)
	}
}

// Hart 0 overruns the LR forward-progress budget; its reservation lapses,
// the bus unlocks and hart 1's plain store lands. The SC must fail and the
// final memory value is hart 1's.
func TestLRSCBrokenByOtherHart(t *testing.T) {
	sys := newSystem(t, 2)
	const m = 0x8010_0000

	code := []uint32{
		0x00100517, // auipc a0, 0x100 -> 0x8010_0000
		0x00500593, // addi a1, x0, 5
		0x100520af, // lr.w x1, (a0)
	}
	for i := 0; i < 20; i++ {
		code = append(code, 0x00100193) // addi x3, x0, 1
	}
	code = append(code,
		0x18b5212f, // sc.w x2, a1, (a0)
		0x00000073, // ecall
	)
	sys.loadAt(t, 0x8000_0000, code)

	sys.loadAt(t, 0x8000_1000, []uint32{
		0x000ff517, // auipc a0, 0xff -> 0x8010_0000
		0x00900693, // addi a3, x0, 9
		0x00d52023, // sw a3, 0(a0)
		0x00000073, // ecall
	})
	sys.Harts[0].SetProgramCounter(0x8000_0000)
	sys.Harts[1].SetProgramCounter(0x8000_1000)

	if err := sys.Run(time.Second); err != nil {
		t.Fatal(err)
	}

	if got := sys.Harts[0].ReadRegister(2); got != 1 {
		t.Errorf("sc result = %d, want failure", got)
	}
	if got := sys.word(m); got != 9 {
		t.Errorf("mem = %d, want hart 1's store", got)
	}
}

// Timer interrupt scenario: the hart parks in WFI and resumes at mtvec when
// mtime reaches mtimecmp.
func TestWFITimerInterrupt(t *testing.T) {
	sys := newSystem(t, 1)
	h := sys.Harts[0]

	sys.loadAt(t, 0x8000_0000, []uint32{
		0x10500073, // wfi
		0x00000073, // ecall (not reached before the interrupt)
	})
	sys.loadAt(t, 0x8000_0100, []uint32{
		0x02a00293, // addi t0, x0, 42
		0x00000073, // ecall
	})
	h.SetProgramCounter(0x8000_0000)
	h.SetCSR(core.CsrMtvec, 0x8000_0100)
	h.SetCSR(core.CsrMie, core.MipMTIP)
	h.SetCSR(core.CsrMstatus, core.MstatusMIE)

	// mtimecmp = 20us via the CLINT register file
	var delay time.Duration
	cmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(cmp, 20)
	tx := bus.Transaction{Cmd: bus.Write, Addr: 0x4000, Data: cmp}
	sys.CLINT.Transport(&tx, &delay)

	if err := sys.Run(time.Second); err != nil {
		t.Fatal(err)
	}

	if got := h.ReadRegister(5); got != 42 {
		t.Errorf("handler marker = %d, want 42", got)
	}
	mcause := h.CSR(core.CsrMcause)
	if mcause>>63 != 1 || mcause&^(1<<63) != uint64(core.IrqMTimer) {
		t.Errorf("mcause = 0x%x, want machine timer interrupt", mcause)
	}
	if epc := h.CSR(core.CsrMepc); epc != 0x8000_0004 {
		t.Errorf("mepc = 0x%x, want the instruction after wfi", epc)
	}
	if sys.Kernel.Now() < 20*time.Microsecond {
		t.Errorf("woke at %v, before mtimecmp", sys.Kernel.Now())
	}
}

// WFI with blocking disabled falls straight through.
func TestWFIIgnored(t *testing.T) {
	sys := newSystem(t, 1)
	h := sys.Harts[0]
	h.BlockOnWFI(false)

	sys.loadAt(t, 0x8000_0000, []uint32{
		0x10500073, // wfi
		0x02a00293, // addi t0, x0, 42
		0x00000073, // ecall
	})
	h.SetProgramCounter(0x8000_0000)

	if err := sys.Run(time.Second); err != nil {
		t.Fatal(err)
	}
	if got := h.ReadRegister(5); got != 42 {
		t.Errorf("t0 = %d, want 42 without blocking", got)
	}
}

func TestMultiHartIDs(t *testing.T) {
	sys := newSystem(t, 4)
	for i, h := range sys.Harts {
		if h.GetHartID() != uint64(i) {
			t.Errorf("hart %d reports id %d", i, h.GetHartID())
		}
	}
}
