package core

import (
	"github.com/ics-jku/riscv-vp-go/internal/softfloat"
)

// F and D extension handlers. Arithmetic goes through the softfloat
// collaborator; this layer does NaN-boxing, the fcsr plumbing and the
// mstatus.FS dirty tracking.

func (iss *ISS) fpRequireNotOff() error {
	if iss.csrs.mstatus&MstatusFS == FSOff<<mstatusFSShift {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	return nil
}

func (iss *ISS) fpSetDirty() {
	iss.csrs.mstatus = iss.csrs.mstatus&^MstatusFS | FSDirty<<mstatusFSShift
}

// fpPrepare gates the instruction on FS and loads the rounding mode, taking
// fcsr.frm when the instruction asks for the dynamic mode.
func (iss *ISS) fpPrepare(i instrWord) error {
	if err := iss.fpRequireNotOff(); err != nil {
		return err
	}
	rm := i.rm()
	if rm == softfloat.RoundDynamic {
		rm = uint32(iss.csrs.frm)
	}
	if rm > softfloat.RoundNearestMax {
		return raiseTrap(ExcIllegalInstr, uint64(i))
	}
	iss.fp.Rm = int(rm)
	iss.fp.ClearFlags()
	return nil
}

// fpFinish accrues the exception flags and marks the FP state dirty.
func (iss *ISS) fpFinish() {
	if iss.fp.Flags != 0 {
		iss.csrs.fflags |= uint64(iss.fp.Flags)
	}
	iss.fpSetDirty()
}

func (iss *ISS) execFP(op Operation, i instrWord) error {
	// loads/stores only need the FS gate, not a rounding mode
	switch op {
	case OpFLW, OpFLD, OpFSW, OpFSD:
		if err := iss.fpRequireNotOff(); err != nil {
			return err
		}
	default:
		if err := iss.fpPrepare(i); err != nil {
			return err
		}
	}

	r := &iss.regs
	f := &iss.fregs
	fp := &iss.fp

	switch op {
	case OpFLW:
		v, err := iss.mem.Load(iss.effAddr(r.Read(i.rs1()), i.immI()), 4)
		if err != nil {
			return err
		}
		f.WriteS(i.rd(), uint32(v))
		iss.fpSetDirty()
		return nil
	case OpFSW:
		return iss.mem.Store(iss.effAddr(r.Read(i.rs1()), i.immS()), 4, uint64(uint32(f.ReadD(i.rs2()))))
	case OpFLD:
		v, err := iss.mem.Load(iss.effAddr(r.Read(i.rs1()), i.immI()), 8)
		if err != nil {
			return err
		}
		f.WriteD(i.rd(), v)
		iss.fpSetDirty()
		return nil
	case OpFSD:
		return iss.mem.Store(iss.effAddr(r.Read(i.rs1()), i.immS()), 8, f.ReadD(i.rs2()))

	// single precision
	case OpFADDS:
		f.WriteS(i.rd(), fp.Add32(f.ReadS(i.rs1()), f.ReadS(i.rs2())))
	case OpFSUBS:
		f.WriteS(i.rd(), fp.Sub32(f.ReadS(i.rs1()), f.ReadS(i.rs2())))
	case OpFMULS:
		f.WriteS(i.rd(), fp.Mul32(f.ReadS(i.rs1()), f.ReadS(i.rs2())))
	case OpFDIVS:
		f.WriteS(i.rd(), fp.Div32(f.ReadS(i.rs1()), f.ReadS(i.rs2())))
	case OpFSQRTS:
		f.WriteS(i.rd(), fp.Sqrt32(f.ReadS(i.rs1())))
	case OpFMADDS:
		f.WriteS(i.rd(), fp.MulAdd32(f.ReadS(i.rs1()), f.ReadS(i.rs2()), f.ReadS(i.rs3())))
	case OpFMSUBS:
		f.WriteS(i.rd(), fp.MulAdd32(f.ReadS(i.rs1()), f.ReadS(i.rs2()), f.ReadS(i.rs3())^signBit32))
	case OpFNMSUBS:
		f.WriteS(i.rd(), fp.MulAdd32(f.ReadS(i.rs1())^signBit32, f.ReadS(i.rs2()), f.ReadS(i.rs3())))
	case OpFNMADDS:
		f.WriteS(i.rd(), fp.MulAdd32(f.ReadS(i.rs1())^signBit32, f.ReadS(i.rs2()), f.ReadS(i.rs3())^signBit32))
	case OpFSGNJS:
		a, b := f.ReadS(i.rs1()), f.ReadS(i.rs2())
		f.WriteS(i.rd(), a&^signBit32|b&signBit32)
	case OpFSGNJNS:
		a, b := f.ReadS(i.rs1()), f.ReadS(i.rs2())
		f.WriteS(i.rd(), a&^signBit32|^b&signBit32)
	case OpFSGNJXS:
		a, b := f.ReadS(i.rs1()), f.ReadS(i.rs2())
		f.WriteS(i.rd(), a^b&signBit32)
	case OpFMINS:
		f.WriteS(i.rd(), fp.Min32(f.ReadS(i.rs1()), f.ReadS(i.rs2())))
	case OpFMAXS:
		f.WriteS(i.rd(), fp.Max32(f.ReadS(i.rs1()), f.ReadS(i.rs2())))
	case OpFEQS:
		r.Write(i.rd(), b2u(fp.Eq32(f.ReadS(i.rs1()), f.ReadS(i.rs2()))))
	case OpFLTS:
		r.Write(i.rd(), b2u(fp.Lt32(f.ReadS(i.rs1()), f.ReadS(i.rs2()))))
	case OpFLES:
		r.Write(i.rd(), b2u(fp.Le32(f.ReadS(i.rs1()), f.ReadS(i.rs2()))))
	case OpFCLASSS:
		r.Write(i.rd(), softfloat.Classify32(f.ReadS(i.rs1())))
	case OpFCVTWS:
		r.Write(i.rd(), uint64(int64(fp.F32ToI32(f.ReadS(i.rs1())))))
	case OpFCVTWUS:
		r.Write(i.rd(), uint64(int64(int32(fp.F32ToU32(f.ReadS(i.rs1()))))))
	case OpFCVTLS:
		r.Write(i.rd(), uint64(fp.F32ToI64(f.ReadS(i.rs1()))))
	case OpFCVTLUS:
		r.Write(i.rd(), fp.F32ToU64(f.ReadS(i.rs1())))
	case OpFCVTSW:
		f.WriteS(i.rd(), fp.I32ToF32(int32(r.Read(i.rs1()))))
	case OpFCVTSWU:
		f.WriteS(i.rd(), fp.U32ToF32(uint32(r.Read(i.rs1()))))
	case OpFCVTSL:
		f.WriteS(i.rd(), fp.I64ToF32(int64(r.Read(i.rs1()))))
	case OpFCVTSLU:
		f.WriteS(i.rd(), fp.U64ToF32(r.Read(i.rs1())))
	case OpFMVXW:
		r.Write(i.rd(), uint64(int64(int32(uint32(f.ReadD(i.rs1()))))))
	case OpFMVWX:
		f.WriteS(i.rd(), uint32(r.Read(i.rs1())))

	// double precision
	case OpFADDD:
		f.WriteD(i.rd(), fp.Add64(f.ReadD(i.rs1()), f.ReadD(i.rs2())))
	case OpFSUBD:
		f.WriteD(i.rd(), fp.Sub64(f.ReadD(i.rs1()), f.ReadD(i.rs2())))
	case OpFMULD:
		f.WriteD(i.rd(), fp.Mul64(f.ReadD(i.rs1()), f.ReadD(i.rs2())))
	case OpFDIVD:
		f.WriteD(i.rd(), fp.Div64(f.ReadD(i.rs1()), f.ReadD(i.rs2())))
	case OpFSQRTD:
		f.WriteD(i.rd(), fp.Sqrt64(f.ReadD(i.rs1())))
	case OpFMADDD:
		f.WriteD(i.rd(), fp.MulAdd64(f.ReadD(i.rs1()), f.ReadD(i.rs2()), f.ReadD(i.rs3())))
	case OpFMSUBD:
		f.WriteD(i.rd(), fp.MulAdd64(f.ReadD(i.rs1()), f.ReadD(i.rs2()), f.ReadD(i.rs3())^signBit64))
	case OpFNMSUBD:
		f.WriteD(i.rd(), fp.MulAdd64(f.ReadD(i.rs1())^signBit64, f.ReadD(i.rs2()), f.ReadD(i.rs3())))
	case OpFNMADDD:
		f.WriteD(i.rd(), fp.MulAdd64(f.ReadD(i.rs1())^signBit64, f.ReadD(i.rs2()), f.ReadD(i.rs3())^signBit64))
	case OpFSGNJD:
		a, b := f.ReadD(i.rs1()), f.ReadD(i.rs2())
		f.WriteD(i.rd(), a&^signBit64|b&signBit64)
	case OpFSGNJND:
		a, b := f.ReadD(i.rs1()), f.ReadD(i.rs2())
		f.WriteD(i.rd(), a&^signBit64|^b&signBit64)
	case OpFSGNJXD:
		a, b := f.ReadD(i.rs1()), f.ReadD(i.rs2())
		f.WriteD(i.rd(), a^b&signBit64)
	case OpFMIND:
		f.WriteD(i.rd(), fp.Min64(f.ReadD(i.rs1()), f.ReadD(i.rs2())))
	case OpFMAXD:
		f.WriteD(i.rd(), fp.Max64(f.ReadD(i.rs1()), f.ReadD(i.rs2())))
	case OpFEQD:
		r.Write(i.rd(), b2u(fp.Eq64(f.ReadD(i.rs1()), f.ReadD(i.rs2()))))
	case OpFLTD:
		r.Write(i.rd(), b2u(fp.Lt64(f.ReadD(i.rs1()), f.ReadD(i.rs2()))))
	case OpFLED:
		r.Write(i.rd(), b2u(fp.Le64(f.ReadD(i.rs1()), f.ReadD(i.rs2()))))
	case OpFCLASSD:
		r.Write(i.rd(), softfloat.Classify64(f.ReadD(i.rs1())))
	case OpFCVTWD:
		r.Write(i.rd(), uint64(int64(fp.F64ToI32(f.ReadD(i.rs1())))))
	case OpFCVTWUD:
		r.Write(i.rd(), uint64(int64(int32(fp.F64ToU32(f.ReadD(i.rs1()))))))
	case OpFCVTLD:
		r.Write(i.rd(), uint64(fp.F64ToI64(f.ReadD(i.rs1()))))
	case OpFCVTLUD:
		r.Write(i.rd(), fp.F64ToU64(f.ReadD(i.rs1())))
	case OpFCVTDW:
		f.WriteD(i.rd(), fp.I32ToF64(int32(r.Read(i.rs1()))))
	case OpFCVTDWU:
		f.WriteD(i.rd(), fp.U32ToF64(uint32(r.Read(i.rs1()))))
	case OpFCVTDL:
		f.WriteD(i.rd(), fp.I64ToF64(int64(r.Read(i.rs1()))))
	case OpFCVTDLU:
		f.WriteD(i.rd(), fp.U64ToF64(r.Read(i.rs1())))
	case OpFCVTSD:
		f.WriteS(i.rd(), fp.F64ToF32(f.ReadD(i.rs1())))
	case OpFCVTDS:
		f.WriteD(i.rd(), fp.F32ToF64(f.ReadS(i.rs1())))
	case OpFMVXD:
		r.Write(i.rd(), f.ReadD(i.rs1()))
	case OpFMVDX:
		f.WriteD(i.rd(), r.Read(i.rs1()))
	}

	iss.fpFinish()
	return nil
}

const (
	signBit32 uint32 = 1 << 31
	signBit64 uint64 = 1 << 63
)

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
