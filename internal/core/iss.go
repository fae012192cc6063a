package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/kernel"
	"github.com/ics-jku/riscv-vp-go/internal/softfloat"
)

// ClintIf is the slice of the CLINT the core consumes directly: the mtime
// counter backing the time CSR.
type ClintIf interface {
	UpdateAndGetMtime() uint64
}

// SyscallHandler emulates ECALL on platforms that short-circuit syscalls
// instead of trapping into a guest kernel.
type SyscallHandler interface {
	ExecuteSyscall(h *ISS)
}

// Stats counts micro-architectural events of one hart.
type Stats struct {
	FastAborts  uint64
	QKNeedSync  uint64
	QKSync      uint64
	LRSCCycles  uint64
	Instret     uint64 // mirrors minstret at last commit
	TrapsTaken  uint64
	IrqsHandled uint64
}

// Params fixes per-hart construction parameters.
type Params struct {
	ISA         ISAConfig
	HartID      uint64
	CyclePeriod time.Duration
	// ErrorOnZeroTraphandler turns an M-mode trap entry at address zero
	// into a fatal error instead of a once-warned continue.
	ErrorOnZeroTraphandler bool
	// Trace prints one line per retired instruction on the slow path.
	Trace bool
	// UseDBBCache disables the decoded-block cache when false.
	UseDBBCache bool
}

// ISS is one RISC-V hart: the complete architectural state plus the
// execution engine that advances it.
type ISS struct {
	isa   ISAConfig
	csrs  *CSRBank
	regs  RegFile
	fregs FPURegs
	vregs VRegFile
	prv   PrivilegeLevel
	pc    uint64

	breakpoints map[uint64]struct{}
	// lrSCCounter bounds instructions after an LR to enforce forward
	// progress; while non-zero this hart owns the bus lock.
	lrSCCounter            int
	shallExit              bool
	debugMode              bool
	slowPath               bool
	status                 CoreExecStatus
	ignoreWFI              bool
	errorOnZeroTraphandler bool
	trace                  bool
	zeroHandlerWarned      bool

	task     *kernel.Task
	qk       *kernel.QuantumKeeper
	wfiEvent *kernel.Event

	instrMem InstrMemory
	mem      DataMemory
	clint    ClintIf
	sys      SyscallHandler

	dbb *DBBCache
	fp  softfloat.Context

	cyclePeriod time.Duration
	fastGran    uint64
	ninstr      uint64 // fast-path local counter, committed at yields
	fatal       error

	stats Stats
}

// NewISS creates a hart in M-mode with empty state. Call AttachScheduler
// (optional) and Init before running.
func NewISS(p Params) *ISS {
	if p.CyclePeriod == 0 {
		p.CyclePeriod = 10 * time.Nanosecond
	}
	iss := &ISS{
		isa:                    p.ISA,
		csrs:                   newCSRBank(p.ISA, p.HartID),
		regs:                   newRegFile(p.ISA.XLen),
		prv:                    MachineMode,
		breakpoints:            make(map[uint64]struct{}),
		errorOnZeroTraphandler: p.ErrorOnZeroTraphandler,
		trace:                  p.Trace,
		cyclePeriod:            p.CyclePeriod,
		fastGran:               1000,
		dbb:                    NewDBBCache(p.UseDBBCache),
	}
	iss.qk = kernel.NewQuantumKeeper(nil, 0)
	return iss
}

// AttachScheduler binds the hart to a kernel task for cooperative
// execution. Without it the hart runs standalone: suspension points become
// no-ops and cross-hart features are unavailable.
func (iss *ISS) AttachScheduler(t *kernel.Task) {
	iss.task = t
	iss.qk = kernel.NewQuantumKeeper(t, t.Kernel().GlobalQuantum())
	iss.wfiEvent = t.Kernel().NewEvent(fmt.Sprintf("wfi-hart%d", iss.csrs.mhartid))
	if gq := t.Kernel().GlobalQuantum(); gq > 0 {
		// check the quantum in the fast path roughly every tenth of it
		iss.fastGran = uint64(gq / iss.cyclePeriod / 10)
		if iss.fastGran == 0 {
			iss.fastGran = 1
		}
	}
}

// Task returns the scheduler task, nil when standalone.
func (iss *ISS) Task() *kernel.Task { return iss.task }

// QuantumKeeper returns the hart's quantum keeper.
func (iss *ISS) QuantumKeeper() *kernel.QuantumKeeper { return iss.qk }

// Init attaches the memory ports and collaborators and seeds pc and sp.
func (iss *ISS) Init(instrMem InstrMemory, dataMem DataMemory, clint ClintIf, entry, sp uint64) {
	iss.instrMem = instrMem
	iss.mem = dataMem
	iss.clint = clint
	iss.regs.Write(regSP, sp)
	iss.pc = iss.truncAddr(entry)
	if cm, ok := dataMem.(*CombinedMemory); ok {
		cm.commit = iss.commitCounters
	}
}

// AttachSyscallHandler installs the ECALL short-circuit.
func (iss *ISS) AttachSyscallHandler(s SyscallHandler) { iss.sys = s }

// --- small helpers over XLEN ---

func (iss *ISS) truncAddr(v uint64) uint64 {
	if iss.isa.XLen == 32 {
		return uint64(uint32(v))
	}
	return v
}

func (iss *ISS) shamtMask() uint32 {
	if iss.isa.XLen == 32 {
		return 31
	}
	return 63
}

func (iss *ISS) forceSlowPath() { iss.slowPath = true }

func (iss *ISS) sMode() bool { return iss.prv == SupervisorMode }
func (iss *ISS) uMode() bool { return iss.prv == UserMode }

// commitCounters flushes the fast-path instruction count into the CSRs and
// the quantum keeper. Must run before anything that can context switch.
func (iss *ISS) commitCounters() {
	if iss.ninstr == 0 {
		return
	}
	iss.csrs.instret += iss.ninstr
	iss.csrs.cycle += iss.ninstr
	iss.stats.Instret = iss.csrs.instret
	iss.qk.Inc(time.Duration(iss.ninstr) * iss.cyclePeriod)
	iss.ninstr = 0
}

func (iss *ISS) commitInstructions() { iss.commitCounters() }
func (iss *ISS) commitCycles()       { iss.commitCounters() }

// --- pending interrupt machinery (spec: trap & interrupt logic) ---

type pendingInterrupts struct {
	targetMode PrivilegeLevel
	pending    uint64
}

func (iss *ISS) computePendingInterrupts() pendingInterrupts {
	c := iss.csrs
	pending := c.mie & c.mip
	if pending == 0 {
		return pendingInterrupts{NoneMode, 0}
	}

	mPending := pending &^ c.mideleg
	if mPending != 0 && (iss.prv < MachineMode || c.mstatus&MstatusMIE != 0) {
		return pendingInterrupts{MachineMode, mPending}
	}

	pending &= c.mideleg
	sPending := pending &^ c.sideleg
	if sPending != 0 && (iss.prv < SupervisorMode ||
		(iss.prv == SupervisorMode && c.mstatus&MstatusSIE != 0)) {
		return pendingInterrupts{SupervisorMode, sPending}
	}

	uPending := pending & c.sideleg
	if uPending != 0 && iss.prv == UserMode && c.mstatus&MstatusUIE != 0 {
		return pendingInterrupts{UserMode, uPending}
	}

	return pendingInterrupts{NoneMode, 0}
}

func (iss *ISS) hasLocalPendingEnabledInterrupts() bool {
	return iss.csrs.mie&iss.csrs.mip != 0
}

// interrupt priority order within a target mode
var irqPriority = []struct {
	bit  uint64
	code ExceptionCode
}{
	{MipMEIP, IrqMExternal},
	{MipMSIP, IrqMSoftware},
	{MipMTIP, IrqMTimer},
	{MipSEIP, IrqSExternal},
	{MipSSIP, IrqSSoftware},
	{MipSTIP, IrqSTimer},
	{MipUEIP, IrqUExternal},
	{MipUSIP, IrqUSoftware},
	{MipUTIP, IrqUTimer},
}

func (iss *ISS) prepareInterrupt(e pendingInterrupts) {
	var code ExceptionCode
	found := false
	for _, p := range irqPriority {
		if e.pending&p.bit != 0 {
			code, found = p.code, true
			break
		}
	}
	if !found {
		panic("core: prepareInterrupt with nothing pending")
	}

	cause := causeValue(iss.isa.XLen, true, code)
	switch e.targetMode {
	case MachineMode:
		iss.csrs.mcause = cause
	case SupervisorMode:
		iss.csrs.scause = cause
	case UserMode:
		iss.csrs.ucause = cause
	default:
		panic(fmt.Sprintf("core: unknown privilege level %d", e.targetMode))
	}
}

// prepareTrap restores pc to the faulting instruction and routes the
// exception through the delegation registers.
func (iss *ISS) prepareTrap(t *Trap, lastPC uint64) PrivilegeLevel {
	iss.pc = lastPC
	excBit := uint64(1) << t.Reason

	// M-mode execution takes any trap; non-delegated traps go to M
	if iss.prv == MachineMode || excBit&iss.csrs.medeleg == 0 {
		iss.csrs.mcause = causeValue(iss.isa.XLen, false, t.Reason)
		iss.csrs.mtval = t.Tval
		return MachineMode
	}
	if iss.prv == SupervisorMode || excBit&iss.csrs.sedeleg == 0 {
		iss.csrs.scause = causeValue(iss.isa.XLen, false, t.Reason)
		iss.csrs.stval = t.Tval
		return SupervisorMode
	}
	iss.csrs.ucause = causeValue(iss.isa.XLen, false, t.Reason)
	iss.csrs.utval = t.Tval
	return UserMode
}

func (iss *ISS) switchToTrapHandler(targetMode PrivilegeLevel) error {
	// free any LR/SC bus lock before processing a trap
	iss.releaseLRSCReservation()

	pp := iss.prv
	iss.prv = targetMode
	c := iss.csrs

	switch targetMode {
	case MachineMode:
		c.mepc = iss.pc
		if c.mstatus&MstatusMIE != 0 {
			c.mstatus |= MstatusMPIE
		} else {
			c.mstatus &^= MstatusMPIE
		}
		c.mstatus &^= MstatusMIE
		c.mstatus = c.mstatus&^MstatusMPP | uint64(pp)<<mstatusMPPShift

		iss.pc = tvecBase(c.mtvec)
		if iss.pc == 0 {
			if iss.errorOnZeroTraphandler {
				return fmt.Errorf("core: took null trap handler in machine mode")
			}
			if !iss.zeroHandlerWarned {
				slog.Warn("core: taking M-mode trap handler at 0x0, this is probably an error",
					"hart", c.mhartid)
				iss.zeroHandlerWarned = true
			}
		}
		if causeIsInterrupt(iss.isa.XLen, c.mcause) && tvecMode(c.mtvec) == TvecVectored {
			iss.pc += 4 * causeCode(iss.isa.XLen, c.mcause)
		}

	case SupervisorMode:
		c.sepc = iss.pc
		if c.mstatus&MstatusSIE != 0 {
			c.mstatus |= MstatusSPIE
		} else {
			c.mstatus &^= MstatusSPIE
		}
		c.mstatus &^= MstatusSIE
		if pp == SupervisorMode {
			c.mstatus |= MstatusSPP
		} else {
			c.mstatus &^= MstatusSPP
		}

		iss.pc = tvecBase(c.stvec)
		if causeIsInterrupt(iss.isa.XLen, c.scause) && tvecMode(c.stvec) == TvecVectored {
			iss.pc += 4 * causeCode(iss.isa.XLen, c.scause)
		}

	case UserMode:
		c.uepc = iss.pc
		if c.mstatus&MstatusUIE != 0 {
			c.mstatus |= MstatusUPIE
		} else {
			c.mstatus &^= MstatusUPIE
		}
		c.mstatus &^= MstatusUIE

		iss.pc = tvecBase(c.utvec)
		if causeIsInterrupt(iss.isa.XLen, c.ucause) && tvecMode(c.utvec) == TvecVectored {
			iss.pc += 4 * causeCode(iss.isa.XLen, c.ucause)
		}

	default:
		panic(fmt.Sprintf("core: unknown privilege level %d", targetMode))
	}

	// the next fetch re-enters the slow path with cold caches
	iss.dbb.flush()
	if iss.mem != nil {
		iss.mem.FlushTLB()
	}
	iss.forceSlowPath()
	return nil
}

func (iss *ISS) handleInterrupt() error {
	x := iss.computePendingInterrupts()
	if x.targetMode == NoneMode {
		return nil
	}
	iss.stats.IrqsHandled++
	iss.prepareInterrupt(x)
	return iss.switchToTrapHandler(x.targetMode)
}

func (iss *ISS) handleTrap(t *Trap, lastPC uint64) error {
	iss.stats.TrapsTaken++
	if iss.trace {
		slog.Info("core: take trap", "hart", iss.csrs.mhartid, "cause", t.Reason,
			"tval", fmt.Sprintf("0x%x", t.Tval), "pc", fmt.Sprintf("0x%x", lastPC))
	}
	target := iss.prepareTrap(t, lastPC)
	return iss.switchToTrapHandler(target)
}

// returnFromTrapHandler implements URET/SRET/MRET.
func (iss *ISS) returnFromTrapHandler(returnMode PrivilegeLevel) {
	c := iss.csrs
	switch returnMode {
	case MachineMode:
		iss.prv = PrivilegeLevel(c.mstatus >> mstatusMPPShift & 3)
		if c.mstatus&MstatusMPIE != 0 {
			c.mstatus |= MstatusMIE
		} else {
			c.mstatus &^= MstatusMIE
		}
		c.mstatus |= MstatusMPIE
		iss.pc = c.mepc
		if iss.isa.Has(MisaU) {
			c.mstatus &^= MstatusMPP
		} else {
			c.mstatus = c.mstatus&^MstatusMPP | uint64(MachineMode)<<mstatusMPPShift
		}

	case SupervisorMode:
		if c.mstatus&MstatusSPP != 0 {
			iss.prv = SupervisorMode
		} else {
			iss.prv = UserMode
		}
		if c.mstatus&MstatusSPIE != 0 {
			c.mstatus |= MstatusSIE
		} else {
			c.mstatus &^= MstatusSIE
		}
		c.mstatus |= MstatusSPIE
		iss.pc = c.sepc
		if iss.isa.Has(MisaU) {
			c.mstatus &^= MstatusSPP
		} else {
			c.mstatus |= MstatusSPP
		}

	case UserMode:
		iss.prv = UserMode
		if c.mstatus&MstatusUPIE != 0 {
			c.mstatus |= MstatusUIE
		} else {
			c.mstatus &^= MstatusUIE
		}
		c.mstatus |= MstatusUPIE
		iss.pc = c.uepc

	default:
		panic(fmt.Sprintf("core: unknown privilege level %d", returnMode))
	}

	if iss.trace {
		slog.Info("core: return from trap handler", "hart", c.mhartid,
			"pc", fmt.Sprintf("0x%x", iss.pc), "prv", iss.prv)
	}

	iss.dbb.flush()
	if iss.mem != nil {
		iss.mem.FlushTLB()
	}
	iss.forceSlowPath()
}

// releaseLRSCReservation drops the LR/SC reservation and the bus lock.
func (iss *ISS) releaseLRSCReservation() {
	iss.lrSCCounter = 0
	if iss.mem != nil {
		iss.mem.AtomicUnlock()
	}
}

// maybeInterruptPending forces the slow path so newly enabled or injected
// interrupts are observed, and wakes a hart parked in WFI.
func (iss *ISS) maybeInterruptPending() {
	iss.forceSlowPath()
	if iss.wfiEvent != nil && iss.hasLocalPendingEnabledInterrupts() {
		iss.wfiEvent.Notify()
	}
}

// --- exposed interrupt sink (driven by CLINT and PLIC) ---

// TriggerExternalInterrupt raises the external interrupt pending bit for
// the given privilege level.
func (iss *ISS) TriggerExternalInterrupt(level PrivilegeLevel) {
	switch level {
	case UserMode:
		iss.csrs.mip |= MipUEIP
	case SupervisorMode:
		iss.csrs.mip |= MipSEIP
	case MachineMode:
		iss.csrs.mip |= MipMEIP
	}
	iss.maybeInterruptPending()
}

// ClearExternalInterrupt clears the external interrupt pending bit.
func (iss *ISS) ClearExternalInterrupt(level PrivilegeLevel) {
	switch level {
	case UserMode:
		iss.csrs.mip &^= MipUEIP
	case SupervisorMode:
		iss.csrs.mip &^= MipSEIP
	case MachineMode:
		iss.csrs.mip &^= MipMEIP
	}
}

// TriggerTimerInterrupt raises the machine timer interrupt.
func (iss *ISS) TriggerTimerInterrupt() {
	iss.csrs.mip |= MipMTIP
	iss.maybeInterruptPending()
}

// ClearTimerInterrupt clears the machine timer interrupt.
func (iss *ISS) ClearTimerInterrupt() { iss.csrs.mip &^= MipMTIP }

// TriggerSoftwareInterrupt raises the machine software interrupt.
func (iss *ISS) TriggerSoftwareInterrupt() {
	iss.csrs.mip |= MipMSIP
	iss.maybeInterruptPending()
}

// ClearSoftwareInterrupt clears the machine software interrupt.
func (iss *ISS) ClearSoftwareInterrupt() { iss.csrs.mip &^= MipMSIP }

// --- exposed debug target ---

// Run executes until the hart terminates or hits a breakpoint.
func (iss *ISS) Run() error { return iss.execSteps(false) }

// RunStep executes a single instruction; only valid in debug mode.
func (iss *ISS) RunStep() error {
	if !iss.debugMode {
		return fmt.Errorf("core: RunStep requires debug mode")
	}
	return iss.execSteps(true)
}

// EnableDebug puts the hart on the permanent slow path with breakpoint and
// single-step support.
func (iss *ISS) EnableDebug() {
	iss.debugMode = true
	iss.forceSlowPath()
}

// InsertBreakpoint adds a breakpoint address.
func (iss *ISS) InsertBreakpoint(addr uint64) { iss.breakpoints[addr] = struct{}{} }

// RemoveBreakpoint removes a breakpoint address.
func (iss *ISS) RemoveBreakpoint(addr uint64) { delete(iss.breakpoints, addr) }

// ReadRegister returns x[idx].
func (iss *ISS) ReadRegister(idx uint32) uint64 { return iss.regs.Read(idx) }

// WriteRegister sets x[idx].
func (iss *ISS) WriteRegister(idx uint32, v uint64) { iss.regs.Write(idx, v) }

// GetProgramCounter returns the current pc.
func (iss *ISS) GetProgramCounter() uint64 { return iss.pc }

// SetProgramCounter sets pc (debugger use).
func (iss *ISS) SetProgramCounter(pc uint64) {
	iss.pc = iss.truncAddr(pc)
	iss.forceSlowPath()
}

// GetStatus returns the execution status.
func (iss *ISS) GetStatus() CoreExecStatus { return iss.status }

// SetStatus sets the execution status.
func (iss *ISS) SetStatus(s CoreExecStatus) {
	iss.status = s
	iss.forceSlowPath()
}

func (iss *ISS) setStatus(s CoreExecStatus) { iss.SetStatus(s) }

// GetHartID returns the hart id.
func (iss *ISS) GetHartID() uint64 { return iss.csrs.mhartid }

// Halt stops a debug-mode hart as if it hit a breakpoint.
func (iss *ISS) Halt() {
	if iss.debugMode {
		iss.status = HitBreakpoint
	}
}

// BlockOnWFI controls whether WFI really blocks. Firmware that parks a
// hart in a tight WFI hang loop needs block=false as an escape hatch.
func (iss *ISS) BlockOnWFI(block bool) { iss.ignoreWFI = !block }

// SysExit requests an orderly stop at the next slow-path check.
func (iss *ISS) SysExit() {
	iss.shallExit = true
	iss.forceSlowPath()
}

// SyscallRegisterIndex returns the register carrying the syscall number.
func (iss *ISS) SyscallRegisterIndex() uint32 {
	if iss.isa.Has(MisaE) {
		return regA5
	}
	return regA7
}

// Privilege returns the current privilege level.
func (iss *ISS) Privilege() PrivilegeLevel { return iss.prv }

// Stats returns a copy of the event counters.
func (iss *ISS) Stats() Stats { return iss.stats }

// CSR reads a CSR for inspection, bypassing privilege gates.
func (iss *ISS) CSR(addr uint32) uint64 {
	prv := iss.prv
	iss.prv = MachineMode
	v, err := iss.getCSR(addr)
	iss.prv = prv
	if err != nil {
		return 0
	}
	return v
}

// SetCSR writes a CSR for test setup, bypassing privilege gates.
func (iss *ISS) SetCSR(addr uint32, v uint64) {
	prv := iss.prv
	iss.prv = MachineMode
	_ = iss.setCSR(addr, v)
	iss.prv = prv
}

// SetPrivilege forces the privilege level (test and loader use).
func (iss *ISS) SetPrivilege(p PrivilegeLevel) { iss.prv = p }

// MMUOf returns the MMU when the data memory is a CombinedMemory with one
// attached, else nil.
func (iss *ISS) MMUOf() *MMU {
	if cm, ok := iss.mem.(*CombinedMemory); ok {
		return cm.mmu
	}
	return nil
}
