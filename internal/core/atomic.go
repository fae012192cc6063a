package core

// A extension: LR/SC with the bus-lock reservation protocol and the
// read-modify-write AMOs. Writes to x0 are dropped by the register file;
// LR/SC additionally clear x0 with resetZero after their writes.

// lrForwardProgressBudget bounds the instructions after an LR (the LR plus
// 16 more) before the reservation is forcibly released, a conservative
// over-approximation of the RISC-V forward progress window.
const lrForwardProgressBudget = 17

func (iss *ISS) execAtomic(op Operation, i instrWord) error {
	size := 4
	switch op {
	case OpLRD, OpSCD, OpAMOSWAPD, OpAMOADDD, OpAMOXORD, OpAMOANDD, OpAMOORD,
		OpAMOMIND, OpAMOMAXD, OpAMOMINUD, OpAMOMAXUD:
		size = 8
	}

	addr := iss.truncAddr(iss.regs.Read(i.rs1()))
	if addr&uint64(size-1) != 0 {
		switch op {
		case OpLRW, OpLRD:
			return raiseTrap(ExcLoadAddrMisaligned, addr)
		default:
			return raiseTrap(ExcStoreAMOAddrMisaligned, addr)
		}
	}

	sext := func(v uint64) uint64 {
		if size == 4 {
			return uint64(int64(int32(v)))
		}
		return v
	}

	switch op {
	case OpLRW, OpLRD:
		v, err := iss.mem.AtomicLoadReserved(addr, size)
		if err != nil {
			return err
		}
		iss.regs.Write(i.rd(), sext(v))
		if iss.lrSCCounter == 0 {
			iss.lrSCCounter = lrForwardProgressBudget
			iss.forceSlowPath()
		}
		iss.regs.resetZero()
		return nil

	case OpSCW, OpSCD:
		val := iss.regs.Read(i.rs2())
		// failure is the result if the store traps
		iss.regs.Write(i.rd(), 1)
		ok, err := iss.mem.AtomicStoreConditional(addr, size, val)
		iss.lrSCCounter = 0
		if err != nil {
			return err
		}
		if ok {
			iss.regs.Write(i.rd(), 0)
		}
		iss.regs.resetZero()
		return nil
	}

	old, err := iss.mem.AtomicLoad(addr, size)
	if err != nil {
		return err
	}
	b := iss.regs.Read(i.rs2())

	var newv uint64
	if size == 4 {
		oa, ob := int32(old), int32(b)
		var res int32
		switch op {
		case OpAMOSWAPW:
			res = ob
		case OpAMOADDW:
			res = oa + ob
		case OpAMOXORW:
			res = oa ^ ob
		case OpAMOANDW:
			res = oa & ob
		case OpAMOORW:
			res = oa | ob
		case OpAMOMINW:
			res = min(oa, ob)
		case OpAMOMAXW:
			res = max(oa, ob)
		case OpAMOMINUW:
			res = int32(min(uint32(oa), uint32(ob)))
		case OpAMOMAXUW:
			res = int32(max(uint32(oa), uint32(ob)))
		}
		newv = uint64(uint32(res))
	} else {
		oa, ob := int64(old), int64(b)
		var res int64
		switch op {
		case OpAMOSWAPD:
			res = ob
		case OpAMOADDD:
			res = oa + ob
		case OpAMOXORD:
			res = oa ^ ob
		case OpAMOANDD:
			res = oa & ob
		case OpAMOORD:
			res = oa | ob
		case OpAMOMIND:
			res = min(oa, ob)
		case OpAMOMAXD:
			res = max(oa, ob)
		case OpAMOMINUD:
			res = int64(min(old, b))
		case OpAMOMAXUD:
			res = int64(max(old, b))
		}
		newv = uint64(res)
	}

	if err := iss.mem.AtomicStore(addr, size, newv); err != nil {
		return err
	}
	iss.regs.Write(i.rd(), sext(old))
	return nil
}
