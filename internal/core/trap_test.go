package core

import "testing"

// Trap delegation scenario: with the ECALL-from-U bit delegated, an ECALL
// in U-mode lands in S-mode at stvec.
func TestECallDelegationToS(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.iss.SetCSR(CsrMedeleg, 1<<ExcECallUMode)
	h.iss.SetCSR(CsrStvec, 0x8000_1000) // direct mode
	h.iss.SetPrivilege(UserMode)

	h.load(0x8000_0000, []uint32{0x00000073}) // ecall
	h.steps(t, 1)

	if prv := h.iss.Privilege(); prv != SupervisorMode {
		t.Errorf("prv = %v, want S", prv)
	}
	if pc := h.iss.GetProgramCounter(); pc != 0x8000_1000 {
		t.Errorf("pc = 0x%x, want 0x80001000", pc)
	}
	scause := h.iss.CSR(CsrScause)
	if causeCode(64, scause) != uint64(ExcECallUMode) {
		t.Errorf("scause code = %d, want 8", causeCode(64, scause))
	}
	if causeIsInterrupt(64, scause) {
		t.Error("scause marks an interrupt")
	}
	if sepc := h.iss.CSR(CsrSepc); sepc != 0x8000_0000 {
		t.Errorf("sepc = 0x%x, want the ecall address", sepc)
	}
}

// MRET after an ECALL from U-mode returns to the following instruction with
// U privilege and the interrupt enable stack popped.
func TestECallMretRoundTrip(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.iss.SetCSR(CsrMtvec, 0x8000_2000)
	h.iss.SetCSR(CsrMstatus, MstatusMIE)
	h.iss.SetPrivilege(UserMode)

	h.load(0x8000_0000, []uint32{
		0x00000073, // ecall
		0x00100093, // addi x1, x0, 1 (the return target)
	})
	// the handler advances mepc past the ecall, then returns
	h.load(0x8000_2000, []uint32{
		0x34102573, // csrrs a0, mepc, x0
		0x00450513, // addi a0, a0, 4
		0x34151073, // csrrw x0, mepc, a0
		0x30200073, // mret
	})
	h.iss.SetProgramCounter(0x8000_0000)

	h.steps(t, 1) // ecall -> M-mode handler
	if prv := h.iss.Privilege(); prv != MachineMode {
		t.Fatalf("prv after ecall = %v, want M", prv)
	}
	if h.iss.CSR(CsrMstatus)&MstatusMIE != 0 {
		t.Error("MIE not cleared on trap entry")
	}
	if mpp := h.iss.CSR(CsrMstatus) >> mstatusMPPShift & 3; mpp != uint64(UserMode) {
		t.Errorf("MPP = %d, want U", mpp)
	}

	h.steps(t, 4) // handler + mret
	if prv := h.iss.Privilege(); prv != UserMode {
		t.Errorf("prv after mret = %v, want U", prv)
	}
	if pc := h.iss.GetProgramCounter(); pc != 0x8000_0004 {
		t.Errorf("pc after mret = 0x%x, want 0x80000004", pc)
	}
	if h.iss.CSR(CsrMstatus)&MstatusMIE == 0 {
		t.Error("MIE not restored by mret")
	}
}

func TestSretTSRGate(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.iss.SetCSR(CsrMstatus, MstatusTSR)
	h.iss.SetCSR(CsrStvec, 0x8000_3000)
	h.iss.SetPrivilege(SupervisorMode)

	h.load(0x8000_0000, []uint32{0x10200073}) // sret
	h.steps(t, 1)

	// TSR turns SRET into an illegal instruction trap (to M-mode)
	if prv := h.iss.Privilege(); prv != MachineMode {
		t.Errorf("prv = %v, want M after illegal-instruction trap", prv)
	}
	if code := causeCode(64, h.iss.CSR(CsrMcause)); code != uint64(ExcIllegalInstr) {
		t.Errorf("mcause = %d, want illegal instruction", code)
	}
}

func TestVectoredInterruptEntry(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.iss.SetCSR(CsrMtvec, 0x8000_4000|TvecVectored)
	h.iss.SetCSR(CsrMie, MipMTIP)
	h.iss.SetCSR(CsrMstatus, MstatusMIE)
	h.load(0x8000_0000, []uint32{0x00000013}) // nop
	// a nop in the timer handler slot so the retired instruction is real
	h.ram.PutUint32(0x4000+4*uint64(IrqMTimer), 0x00000013)
	h.iss.SetProgramCounter(0x8000_0000)

	h.iss.TriggerTimerInterrupt()
	h.steps(t, 1)

	// vectored: base + 4 * cause; the retired instruction is the handler's
	if epc := h.iss.CSR(CsrMepc); epc != 0x8000_0000 {
		t.Errorf("mepc = 0x%x, want 0x80000000", epc)
	}
	mcause := h.iss.CSR(CsrMcause)
	if !causeIsInterrupt(64, mcause) || causeCode(64, mcause) != uint64(IrqMTimer) {
		t.Errorf("mcause = 0x%x, want timer interrupt", mcause)
	}
	if pc := h.iss.GetProgramCounter(); pc != 0x8000_4000+4*uint64(IrqMTimer)+4 {
		t.Errorf("pc = 0x%x, want handler slot + one retired nop", pc)
	}
}

func TestInterruptPriorityOrder(t *testing.T) {
	h := newTestHart(t, RV64GC())

	h.iss.SetCSR(CsrMtvec, 0x8000_4000)
	h.iss.SetCSR(CsrMie, MipMEIP|MipMSIP|MipMTIP)
	h.iss.SetCSR(CsrMstatus, MstatusMIE)

	h.iss.TriggerTimerInterrupt()
	h.iss.TriggerSoftwareInterrupt()
	h.iss.TriggerExternalInterrupt(MachineMode)

	h.load(0x8000_0000, []uint32{0x00000013})
	h.ram.PutUint32(0x4000, 0x00000013) // nop at the handler
	h.iss.SetProgramCounter(0x8000_0000)
	h.steps(t, 1)

	// external beats software beats timer
	if code := causeCode(64, h.iss.CSR(CsrMcause)); code != uint64(IrqMExternal) {
		t.Errorf("mcause = %d, want machine external", code)
	}
}

type exitSyscall struct{}

func (exitSyscall) ExecuteSyscall(h *ISS) { h.SysExit() }

func TestEBreakTrapsWithoutDebugger(t *testing.T) {
	h := newTestHart(t, RV64GC())

	// the trap handler makes an environment call, which the attached
	// syscall emulator turns into an orderly exit
	h.iss.AttachSyscallHandler(exitSyscall{})
	h.iss.SetCSR(CsrMtvec, 0x8000_5000)
	h.ram.PutUint32(0x5000, 0x00000073) // ecall in the handler
	h.load(0x8000_0000, []uint32{0x00100073}) // ebreak
	h.iss.SetProgramCounter(0x8000_0000)

	if err := h.iss.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := h.iss.GetStatus(); st != Terminated {
		t.Fatalf("status = %v, want terminated", st)
	}

	if code := causeCode(64, h.iss.CSR(CsrMcause)); code != uint64(ExcBreakpoint) {
		t.Errorf("mcause = %d, want breakpoint", code)
	}
	if mtval := h.iss.CSR(CsrMtval); mtval != 0x8000_0000 {
		t.Errorf("mtval = 0x%x, want the ebreak address", mtval)
	}
}
