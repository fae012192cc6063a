package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
)

// fetchDecode is the slow FDD path: translate and fetch through the memory
// interface, expand compressed encodings, decode to an operation id and
// cache the result.
func (iss *ISS) fetchDecode(pc uint64) (*dbbEntry, error) {
	raw, err := iss.instrMem.LoadInstr(pc)
	if err != nil {
		return nil, err
	}

	e := &dbbEntry{pc: pc}
	if raw&0x3 != 0x3 {
		// compressed encoding
		if !iss.isa.Has(MisaC) {
			e.op, e.instr, e.size = OpUNSUP, raw&0xffff, 2
			iss.dbb.insert(e)
			return e, nil
		}
		expanded, ok := ExpandCompressed(uint16(raw), iss.isa)
		if !ok {
			e.op, e.instr, e.size = OpUNDEF, raw&0xffff, 2
			iss.dbb.insert(e)
			return e, nil
		}
		e.instr, e.size = expanded, 2
	} else {
		e.instr, e.size = raw, 4
	}
	e.op = Decode(e.instr, iss.isa)
	iss.dbb.insert(e)
	return e, nil
}

func (iss *ISS) printTrace(e *dbbEntry) {
	fmt.Printf("core %2d: prv %s: pc %16x (%8x): op %d\n",
		iss.csrs.mhartid, iss.prv, e.pc, e.instr, e.op)
}

// execSteps is the dispatch loop: slow/medium/fast fetch-decode-dispatch
// over the DBB cache, with quantum bookkeeping and trap handling. With
// singleStep it retires exactly one instruction (debug mode only).
func (iss *ISS) execSteps(singleStep bool) error {
	stepDone := false
	iss.status = Runnable
	iss.forceSlowPath()

	var prev *dbbEntry
	prevSeq := false

	for {
		if iss.slowPath {
			iss.slowPath = false
			prev, prevSeq = nil, false

			iss.commitCounters()

			if err := iss.handleInterrupt(); err != nil {
				iss.fatal = err
				iss.setStatus(Terminated)
			}

			if iss.shallExit {
				iss.setStatus(Terminated)
			}
			if iss.status != Runnable {
				iss.finishSteps()
				return iss.fatal
			}

			if iss.lrSCCounter != 0 {
				iss.stats.LRSCCycles++
				iss.lrSCCounter--
				if iss.lrSCCounter == 0 {
					iss.releaseLRSCReservation()
				} else {
					// stay on the slow path while the reservation lives
					iss.forceSlowPath()
				}
			} else {
				// match scheduler sync with bus unlocking in tight LR/SC loops
				iss.stats.QKNeedSync++
				if iss.qk.NeedSync() {
					iss.stats.QKSync++
					iss.qk.Sync()
				}
			}

			if iss.debugMode {
				// stay on the slow path while debugging
				iss.forceSlowPath()
				if singleStep && stepDone {
					iss.finishSteps()
					return nil
				}
				if _, hit := iss.breakpoints[iss.pc]; hit {
					iss.setStatus(HitBreakpoint)
					iss.finishSteps()
					return nil
				}
				stepDone = true
			}
		} else if iss.ninstr > iss.fastGran {
			// fast-path quantum check
			iss.commitCounters()
			iss.stats.QKNeedSync++
			if iss.qk.NeedSync() {
				iss.stats.QKSync++
				iss.qk.Sync()
			}
		}

		if iss.pc&iss.isa.pcAlignmentMask() != 0 {
			iss.ninstr++
			iss.dispatchTrap(raiseTrap(ExcInstrAddrMisaligned, iss.pc), iss.pc)
			prev, prevSeq = nil, false
			continue
		}

		// fetch/decode: fast via the pre-resolved successor, medium via a
		// cache probe, slow via the memory interface
		var e *dbbEntry
		if prevSeq && prev.next != nil && prev.next.pc == iss.pc {
			e = prev.next
		} else if cached := iss.dbb.probe(iss.pc); cached != nil {
			e = cached
		} else {
			var err error
			e, err = iss.fetchDecode(iss.pc)
			if err != nil {
				// faulting fetches still count as retired work
				iss.ninstr++
				iss.dispatchTrap(err, iss.pc)
				prev, prevSeq = nil, false
				continue
			}
		}
		if prevSeq && prev.next == nil && prev.pc+uint64(prev.size) == e.pc {
			prev.next = e
		}

		if iss.trace {
			iss.printTrace(e)
		}

		err := iss.dispatch(e)
		iss.ninstr++
		if err != nil {
			iss.stats.FastAborts++
			iss.dispatchTrap(err, e.pc)
			if iss.status != Runnable {
				iss.finishSteps()
				return iss.fatal
			}
			prev, prevSeq = nil, false
			continue
		}

		prevSeq = !e.op.isControlFlow() && iss.pc == e.pc+uint64(e.size)
		prev = e
	}
}

// finishSteps synchronises everything before leaving the engine.
func (iss *ISS) finishSteps() {
	iss.commitCounters()
	iss.stats.QKSync++
	iss.qk.Sync()
}

// dispatchTrap routes an error from a handler: guest traps enter the trap
// machinery, host errors terminate the hart.
func (iss *ISS) dispatchTrap(err error, lastPC uint64) {
	var t *Trap
	if errors.As(err, &t) {
		if herr := iss.handleTrap(t, lastPC); herr != nil {
			iss.fatal = herr
			iss.setStatus(Terminated)
		}
		return
	}
	slog.Error("core: fatal error", "hart", iss.csrs.mhartid, "pc",
		fmt.Sprintf("0x%x", lastPC), "err", err)
	iss.fatal = err
	iss.setStatus(Terminated)
}

// loadSigned loads size bytes and sign-extends.
func (iss *ISS) loadSigned(vaddr uint64, size int) (uint64, error) {
	v, err := iss.mem.Load(vaddr, size)
	if err != nil {
		return 0, err
	}
	return uint64(signExtend(v, size*8)), nil
}

func (iss *ISS) effAddr(base uint64, off int64) uint64 {
	return iss.truncAddr(base + uint64(off))
}

// dispatch executes one decoded operation. Handlers read their fields from
// the raw instruction word, update registers through the register file and
// set iss.pc; straight-line operations fall through to pc+size.
func (iss *ISS) dispatch(e *dbbEntry) error {
	i := instrWord(e.instr)
	r := &iss.regs
	npc := iss.truncAddr(e.pc + uint64(e.size))

	switch e.op {
	case OpUNDEF:
		if iss.trace {
			slog.Warn("core: unknown instruction", "instr",
				fmt.Sprintf("0x%x", e.instr), "pc", fmt.Sprintf("0x%x", e.pc))
		}
		return raiseTrap(ExcIllegalInstr, uint64(e.instr))

	case OpUNSUP:
		if iss.trace {
			slog.Warn("core: unsupported instruction (extension disabled)",
				"instr", fmt.Sprintf("0x%x", e.instr), "pc", fmt.Sprintf("0x%x", e.pc))
		}
		return raiseTrap(ExcIllegalInstr, uint64(e.instr))

	case OpNOP:
		// decoded with rd == x0 and no side effects

	case OpLUI:
		r.Write(i.rd(), uint64(i.immU()))
	case OpAUIPC:
		r.Write(i.rd(), iss.truncAddr(e.pc+uint64(i.immU())))

	case OpADDI:
		r.Write(i.rd(), r.Read(i.rs1())+uint64(i.immI()))
	case OpSLTI:
		if int64(r.Read(i.rs1())) < i.immI() {
			r.Write(i.rd(), 1)
		} else {
			r.Write(i.rd(), 0)
		}
	case OpSLTIU:
		if r.Read(i.rs1()) < uint64(i.immI()) {
			r.Write(i.rd(), 1)
		} else {
			r.Write(i.rd(), 0)
		}
	case OpXORI:
		r.Write(i.rd(), r.Read(i.rs1())^uint64(i.immI()))
	case OpORI:
		r.Write(i.rd(), r.Read(i.rs1())|uint64(i.immI()))
	case OpANDI:
		r.Write(i.rd(), r.Read(i.rs1())&uint64(i.immI()))
	case OpSLLI:
		r.Write(i.rd(), r.Read(i.rs1())<<(i.shamt64()&iss.shamtMask()))
	case OpSRLI:
		r.Write(i.rd(), iss.srl(r.Read(i.rs1()), i.shamt64()&iss.shamtMask()))
	case OpSRAI:
		r.Write(i.rd(), uint64(int64(r.Read(i.rs1()))>>(i.shamt64()&iss.shamtMask())))

	case OpADD:
		r.Write(i.rd(), r.Read(i.rs1())+r.Read(i.rs2()))
	case OpSUB:
		r.Write(i.rd(), r.Read(i.rs1())-r.Read(i.rs2()))
	case OpSLL:
		r.Write(i.rd(), r.Read(i.rs1())<<(uint32(r.Read(i.rs2()))&iss.shamtMask()))
	case OpSLT:
		if int64(r.Read(i.rs1())) < int64(r.Read(i.rs2())) {
			r.Write(i.rd(), 1)
		} else {
			r.Write(i.rd(), 0)
		}
	case OpSLTU:
		if r.Read(i.rs1()) < r.Read(i.rs2()) {
			r.Write(i.rd(), 1)
		} else {
			r.Write(i.rd(), 0)
		}
	case OpXOR:
		r.Write(i.rd(), r.Read(i.rs1())^r.Read(i.rs2()))
	case OpSRL:
		r.Write(i.rd(), iss.srl(r.Read(i.rs1()), uint32(r.Read(i.rs2()))&iss.shamtMask()))
	case OpSRA:
		r.Write(i.rd(), uint64(int64(r.Read(i.rs1()))>>(uint32(r.Read(i.rs2()))&iss.shamtMask())))
	case OpOR:
		r.Write(i.rd(), r.Read(i.rs1())|r.Read(i.rs2()))
	case OpAND:
		r.Write(i.rd(), r.Read(i.rs1())&r.Read(i.rs2()))

	case OpLB:
		v, err := iss.loadSigned(iss.effAddr(r.Read(i.rs1()), i.immI()), 1)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)
	case OpLH:
		v, err := iss.loadSigned(iss.effAddr(r.Read(i.rs1()), i.immI()), 2)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)
	case OpLW:
		v, err := iss.loadSigned(iss.effAddr(r.Read(i.rs1()), i.immI()), 4)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)
	case OpLD:
		v, err := iss.mem.Load(iss.effAddr(r.Read(i.rs1()), i.immI()), 8)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)
	case OpLBU:
		v, err := iss.mem.Load(iss.effAddr(r.Read(i.rs1()), i.immI()), 1)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)
	case OpLHU:
		v, err := iss.mem.Load(iss.effAddr(r.Read(i.rs1()), i.immI()), 2)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)
	case OpLWU:
		v, err := iss.mem.Load(iss.effAddr(r.Read(i.rs1()), i.immI()), 4)
		if err != nil {
			return err
		}
		r.Write(i.rd(), v)

	case OpSB:
		if err := iss.mem.Store(iss.effAddr(r.Read(i.rs1()), i.immS()), 1, r.Read(i.rs2())); err != nil {
			return err
		}
	case OpSH:
		if err := iss.mem.Store(iss.effAddr(r.Read(i.rs1()), i.immS()), 2, r.Read(i.rs2())); err != nil {
			return err
		}
	case OpSW:
		if err := iss.mem.Store(iss.effAddr(r.Read(i.rs1()), i.immS()), 4, r.Read(i.rs2())); err != nil {
			return err
		}
	case OpSD:
		if err := iss.mem.Store(iss.effAddr(r.Read(i.rs1()), i.immS()), 8, r.Read(i.rs2())); err != nil {
			return err
		}

	case OpBEQ:
		if r.Read(i.rs1()) == r.Read(i.rs2()) {
			npc = iss.truncAddr(e.pc + uint64(i.immB()))
		}
	case OpBNE:
		if r.Read(i.rs1()) != r.Read(i.rs2()) {
			npc = iss.truncAddr(e.pc + uint64(i.immB()))
		}
	case OpBLT:
		if int64(r.Read(i.rs1())) < int64(r.Read(i.rs2())) {
			npc = iss.truncAddr(e.pc + uint64(i.immB()))
		}
	case OpBGE:
		if int64(r.Read(i.rs1())) >= int64(r.Read(i.rs2())) {
			npc = iss.truncAddr(e.pc + uint64(i.immB()))
		}
	case OpBLTU:
		if r.Read(i.rs1()) < r.Read(i.rs2()) {
			npc = iss.truncAddr(e.pc + uint64(i.immB()))
		}
	case OpBGEU:
		if r.Read(i.rs1()) >= r.Read(i.rs2()) {
			npc = iss.truncAddr(e.pc + uint64(i.immB()))
		}

	case OpJ:
		npc = iss.truncAddr(e.pc + uint64(i.immJ()))
	case OpJAL:
		r.Write(i.rd(), npc)
		npc = iss.truncAddr(e.pc + uint64(i.immJ()))
	case OpJR:
		npc = iss.truncAddr(r.Read(i.rs1())+uint64(i.immI())) &^ 1
	case OpJALR:
		target := iss.truncAddr(r.Read(i.rs1())+uint64(i.immI())) &^ 1
		r.Write(i.rd(), npc)
		npc = target

	case OpFENCE:
		// the platform has no reorder buffer to drain

	case OpFENCEI:
		iss.dbb.flush()
		iss.forceSlowPath()

	case OpECALL:
		if iss.sys != nil {
			iss.sys.ExecuteSyscall(iss)
			iss.regs.resetZero()
			iss.forceSlowPath()
		} else {
			switch iss.prv {
			case MachineMode:
				return raiseTrap(ExcECallMMode, e.pc)
			case SupervisorMode:
				return raiseTrap(ExcECallSMode, e.pc)
			case UserMode:
				return raiseTrap(ExcECallUMode, e.pc)
			default:
				return fmt.Errorf("core: unknown privilege level %d", iss.prv)
			}
		}

	case OpEBREAK:
		if iss.debugMode {
			// a debugger-owned hart stops instead of trapping
			iss.setStatus(HitBreakpoint)
			return nil
		}
		return raiseTrap(ExcBreakpoint, e.pc)

	// RV64 word operations
	case OpADDIW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))+uint32(i.immI())))))
	case OpSLLIW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))<<i.shamt32()))))
	case OpSRLIW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))>>i.shamt32()))))
	case OpSRAIW:
		r.Write(i.rd(), uint64(int64(int32(r.Read(i.rs1()))>>i.shamt32())))
	case OpADDW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))+uint32(r.Read(i.rs2()))))))
	case OpSUBW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))-uint32(r.Read(i.rs2()))))))
	case OpSLLW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))<<(r.Read(i.rs2())&0x1f)))))
	case OpSRLW:
		r.Write(i.rd(), uint64(int64(int32(uint32(r.Read(i.rs1()))>>(r.Read(i.rs2())&0x1f)))))
	case OpSRAW:
		r.Write(i.rd(), uint64(int64(int32(r.Read(i.rs1()))>>(r.Read(i.rs2())&0x1f))))

	case OpCSRRW, OpCSRRS, OpCSRRC, OpCSRRWI, OpCSRRSI, OpCSRRCI:
		if err := iss.execCSR(e.op, i); err != nil {
			return err
		}

	case OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU:
		iss.execM(e.op, i)
	case OpMULW, OpDIVW, OpDIVUW, OpREMW, OpREMUW:
		iss.execMW(e.op, i)

	case OpLRW, OpLRD, OpSCW, OpSCD,
		OpAMOSWAPW, OpAMOADDW, OpAMOXORW, OpAMOANDW, OpAMOORW,
		OpAMOMINW, OpAMOMAXW, OpAMOMINUW, OpAMOMAXUW,
		OpAMOSWAPD, OpAMOADDD, OpAMOXORD, OpAMOANDD, OpAMOORD,
		OpAMOMIND, OpAMOMAXD, OpAMOMINUD, OpAMOMAXUD:
		if err := iss.execAtomic(e.op, i); err != nil {
			return err
		}

	case OpWFI:
		// only a hint architecturally; here it parks the hart on its event
		iss.releaseLRSCReservation()
		if iss.sMode() && iss.csrs.mstatus&MstatusTW != 0 {
			return raiseTrap(ExcIllegalInstr, uint64(e.instr))
		}
		if iss.uMode() && iss.isa.Has(MisaS) {
			return raiseTrap(ExcIllegalInstr, uint64(e.instr))
		}
		if !iss.ignoreWFI {
			iss.commitCounters()
			for !iss.hasLocalPendingEnabledInterrupts() {
				if iss.task == nil || iss.wfiEvent == nil {
					break // standalone: treat as the architectural hint
				}
				iss.task.WaitEvent(iss.wfiEvent)
			}
		}
		iss.forceSlowPath()

	case OpSFENCEVMA:
		if iss.sMode() && iss.csrs.mstatus&MstatusTVM != 0 {
			return raiseTrap(ExcIllegalInstr, uint64(e.instr))
		}
		iss.dbb.flush()
		iss.mem.FlushTLB()
		iss.forceSlowPath()

	case OpURET:
		if !iss.isa.Has(MisaN) {
			return raiseTrap(ExcIllegalInstr, uint64(e.instr))
		}
		iss.returnFromTrapHandler(UserMode)
		npc = iss.pc
	case OpSRET:
		if !iss.isa.Has(MisaS) || (iss.sMode() && iss.csrs.mstatus&MstatusTSR != 0) {
			return raiseTrap(ExcIllegalInstr, uint64(e.instr))
		}
		iss.returnFromTrapHandler(SupervisorMode)
		npc = iss.pc
	case OpMRET:
		if iss.prv != MachineMode {
			return raiseTrap(ExcIllegalInstr, uint64(e.instr))
		}
		iss.returnFromTrapHandler(MachineMode)
		npc = iss.pc

	default:
		if e.op >= OpFLW && e.op <= OpFMVDX {
			if err := iss.execFP(e.op, i); err != nil {
				return err
			}
		} else if e.op >= OpVSETVLI && e.op < numOperations {
			if err := iss.execVector(e.op, i); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("core: operation %d not wired", e.op)
		}
	}

	iss.pc = npc
	return nil
}

func (iss *ISS) srl(a uint64, sh uint32) uint64 {
	if iss.isa.XLen == 32 {
		return uint64(uint32(a) >> sh)
	}
	return a >> sh
}

// execCSR implements the Zicsr operations with the read/write suppression
// rules. Any CSR write forces the slow path: satp, interrupt enables and
// fetch-relevant state may have changed.
func (iss *ISS) execCSR(op Operation, i instrWord) error {
	addr := i.csr()
	isWrite := op == OpCSRRW || op == OpCSRRWI || i.rs1() != 0
	if err := iss.isInvalidCSRAccess(addr, isWrite); err != nil {
		return err
	}

	var src uint64
	switch op {
	case OpCSRRW, OpCSRRS, OpCSRRC:
		src = iss.regs.Read(i.rs1())
	default:
		src = uint64(i.zimm())
	}

	readOld := true
	if (op == OpCSRRW || op == OpCSRRWI) && i.rd() == 0 {
		readOld = false // reads and their side effects are suppressed
	}

	var old uint64
	if readOld {
		v, err := iss.getCSR(addr)
		if err != nil {
			return err
		}
		old = v
	}

	switch op {
	case OpCSRRW, OpCSRRWI:
		if err := iss.setCSR(addr, src); err != nil {
			return err
		}
		iss.forceSlowPath()
	case OpCSRRS, OpCSRRSI:
		if i.rs1() != 0 {
			if err := iss.setCSR(addr, old|src); err != nil {
				return err
			}
			iss.forceSlowPath()
		}
	case OpCSRRC, OpCSRRCI:
		if i.rs1() != 0 {
			if err := iss.setCSR(addr, old&^src); err != nil {
				return err
			}
			iss.forceSlowPath()
		}
	}

	if readOld {
		iss.regs.Write(i.rd(), old)
	}
	return nil
}

// execM implements the M extension XLEN-wide operations.
func (iss *ISS) execM(op Operation, i instrWord) {
	a, b := iss.regs.Read(i.rs1()), iss.regs.Read(i.rs2())
	rv32 := iss.isa.XLen == 32
	var v uint64

	switch op {
	case OpMUL:
		v = a * b
	case OpMULH:
		if rv32 {
			v = uint64(int64(int32(a)) * int64(int32(b)) >> 32)
		} else {
			hi, _ := bits.Mul64(a, b)
			// adjust the unsigned product for the signed operands
			if int64(a) < 0 {
				hi -= b
			}
			if int64(b) < 0 {
				hi -= a
			}
			v = hi
		}
	case OpMULHSU:
		if rv32 {
			v = uint64(int64(int32(a)) * int64(uint32(b)) >> 32)
		} else {
			hi, _ := bits.Mul64(a, b)
			if int64(a) < 0 {
				hi -= b
			}
			v = hi
		}
	case OpMULHU:
		if rv32 {
			v = uint64(uint32(a)) * uint64(uint32(b)) >> 32
		} else {
			v, _ = bits.Mul64(a, b)
		}
	case OpDIV:
		sa, sb := int64(a), int64(b)
		regMin := int64(-1) << (iss.isa.XLen - 1)
		switch {
		case sb == 0:
			v = ^uint64(0)
		case sa == regMin && sb == -1:
			v = uint64(sa)
		default:
			v = uint64(sa / sb)
		}
	case OpDIVU:
		if rv32 {
			if uint32(b) == 0 {
				v = ^uint64(0)
			} else {
				v = uint64(uint32(a) / uint32(b))
			}
		} else if b == 0 {
			v = ^uint64(0)
		} else {
			v = a / b
		}
	case OpREM:
		sa, sb := int64(a), int64(b)
		regMin := int64(-1) << (iss.isa.XLen - 1)
		switch {
		case sb == 0:
			v = uint64(sa)
		case sa == regMin && sb == -1:
			v = 0
		default:
			v = uint64(sa % sb)
		}
	case OpREMU:
		if rv32 {
			if uint32(b) == 0 {
				v = a
			} else {
				v = uint64(uint32(a) % uint32(b))
			}
		} else if b == 0 {
			v = a
		} else {
			v = a % b
		}
	}
	iss.regs.Write(i.rd(), v)
}

// execMW implements the RV64 M extension word operations.
func (iss *ISS) execMW(op Operation, i instrWord) {
	a, b := uint32(iss.regs.Read(i.rs1())), uint32(iss.regs.Read(i.rs2()))
	var v int32

	switch op {
	case OpMULW:
		v = int32(a) * int32(b)
	case OpDIVW:
		switch {
		case b == 0:
			v = -1
		case a == 1<<31 && b == ^uint32(0):
			v = int32(a)
		default:
			v = int32(a) / int32(b)
		}
	case OpDIVUW:
		if b == 0 {
			v = -1
		} else {
			v = int32(a / b)
		}
	case OpREMW:
		switch {
		case b == 0:
			v = int32(a)
		case a == 1<<31 && b == ^uint32(0):
			v = 0
		default:
			v = int32(a) % int32(b)
		}
	case OpREMUW:
		if b == 0 {
			v = int32(a)
		} else {
			v = int32(a % b)
		}
	}
	iss.regs.Write(i.rd(), uint64(int64(v)))
}
