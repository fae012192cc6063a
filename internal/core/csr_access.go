package core

// satp field accessors, layout per XLEN.

func (iss *ISS) satpMode() uint64 {
	if iss.isa.XLen == 32 {
		return iss.csrs.satp >> 31
	}
	return iss.csrs.satp >> 60
}

func (iss *ISS) satpPPN() uint64 {
	if iss.isa.XLen == 32 {
		return iss.csrs.satp & 0x3fffff
	}
	return iss.csrs.satp & 0xfffffffffff
}

func (iss *ISS) satpModeSupported(mode uint64) bool {
	if iss.isa.XLen == 32 {
		return mode == SatpModeBare || mode == SatpModeSv32
	}
	return mode == SatpModeBare || mode == SatpModeSv39 || mode == SatpModeSv48 || mode == SatpModeSv57
}

func (iss *ISS) setSatpMode(v *uint64, mode uint64) {
	if iss.isa.XLen == 32 {
		*v = *v&^(uint64(1)<<31) | mode<<31
	} else {
		*v = *v&^(uint64(0xf)<<60) | mode<<60
	}
}

// isInvalidCSRAccess applies the privilege, read-only and extension gates
// that raise illegal instruction before the CSR is touched.
func (iss *ISS) isInvalidCSRAccess(addr uint32, isWrite bool) error {
	switch addr {
	case CsrFflags, CsrFrm, CsrFcsr:
		if err := iss.fpRequireNotOff(); err != nil {
			return err
		}
	case CsrVstart, CsrVxsat, CsrVxrm, CsrVcsr, CsrVl, CsrVtype, CsrVlenb:
		if err := iss.vRequireNotOff(); err != nil {
			return err
		}
	}
	csrPrv := PrivilegeLevel((addr >> 8) & 3)
	readonly := (addr>>10)&3 == 3
	if isWrite && readonly {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	if iss.prv < csrPrv {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	if csrPrv == SupervisorMode && !iss.isa.Has(MisaS) {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	if csrPrv == UserMode && !iss.isa.Has(MisaU) {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	return nil
}

// validateCounterRead gates user/supervisor reads of the counter CSRs on
// mcounteren/scounteren.
func (iss *ISS) validateCounterRead(addr uint32) error {
	if addr < 0xC00 || addr > 0xC1F {
		return nil
	}
	cnt := addr & 0x1F
	if iss.prv == SupervisorMode && iss.csrs.mcounteren>>cnt&1 == 0 {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	if iss.prv == UserMode &&
		(iss.csrs.mcounteren>>cnt&1 == 0 || iss.csrs.scounteren>>cnt&1 == 0) {
		return raiseTrap(ExcIllegalInstr, 0)
	}
	return nil
}

// getCSR reads a CSR with masking and side effects.
func (iss *ISS) getCSR(addr uint32) (uint64, error) {
	if err := iss.validateCounterRead(addr); err != nil {
		return 0, err
	}
	c := iss.csrs
	read := func(v, mask uint64) uint64 { return v & mask }

	switch addr {
	case CsrTime:
		if iss.clint == nil {
			return 0, nil
		}
		return iss.clint.UpdateAndGetMtime(), nil

	case CsrCycle, CsrMcycle:
		iss.commitCycles()
		return c.cycle, nil

	case CsrInstret, CsrMinstret:
		iss.commitInstructions()
		return c.instret, nil

	case CsrMstatus:
		return read(iss.statusWithSD(), iss.mstatusReadMask()), nil
	case CsrSstatus:
		return read(iss.statusWithSD(), iss.sstatusReadMask()), nil
	case CsrUstatus:
		return read(c.mstatus, ustatusMask), nil

	case CsrMip:
		return read(c.mip, mipReadMask), nil
	case CsrSip:
		return read(c.mip, c.mideleg), nil
	case CsrUip:
		return read(c.mip, c.mideleg&c.sideleg), nil

	case CsrMie:
		return read(c.mie, mieMask), nil
	case CsrSie:
		return read(c.mie, c.mideleg), nil
	case CsrUie:
		return read(c.mie, c.mideleg&c.sideleg), nil

	case CsrMisa:
		return c.misa, nil
	case CsrMedeleg:
		return c.medeleg, nil
	case CsrMideleg:
		return c.mideleg, nil
	case CsrSedeleg:
		return c.sedeleg, nil
	case CsrSideleg:
		return c.sideleg, nil
	case CsrMtvec:
		return c.mtvec, nil
	case CsrStvec:
		return c.stvec, nil
	case CsrUtvec:
		return c.utvec, nil
	case CsrMcounteren:
		return c.mcounteren, nil
	case CsrScounteren:
		return c.scounteren, nil
	case CsrMscratch:
		return c.mscratch, nil
	case CsrSscratch:
		return c.sscratch, nil
	case CsrUscratch:
		return c.uscratch, nil
	case CsrMepc:
		return c.mepc, nil
	case CsrSepc:
		return c.sepc, nil
	case CsrUepc:
		return c.uepc, nil
	case CsrMcause:
		return c.mcause, nil
	case CsrScause:
		return c.scause, nil
	case CsrUcause:
		return c.ucause, nil
	case CsrMtval:
		return c.mtval, nil
	case CsrStval:
		return c.stval, nil
	case CsrUtval:
		return c.utval, nil

	case CsrSatp:
		if iss.prv == SupervisorMode && c.mstatus&MstatusTVM != 0 {
			return 0, raiseTrap(ExcIllegalInstr, 0)
		}
		return c.satp, nil

	case CsrFcsr:
		return read(c.fflags|c.frm<<5, fcsrMask), nil
	case CsrFflags:
		return c.fflags, nil
	case CsrFrm:
		return c.frm, nil

	case CsrVstart:
		return c.vstart, nil
	case CsrVxsat:
		return c.vxsat, nil
	case CsrVxrm:
		return c.vxrm, nil
	case CsrVcsr:
		// vxrm and vxsat are mirrored in vcsr
		return c.vxrm<<1 | c.vxsat, nil
	case CsrVl:
		return c.vl, nil
	case CsrVtype:
		return c.vtype, nil
	case CsrVlenb:
		return c.vlenb, nil

	case CsrMvendorid, CsrMarchid, CsrMimpid, CsrMstatush:
		return 0, nil
	case CsrMhartid:
		return c.mhartid, nil
	}

	if addr >= 0xC03 && addr <= 0xC1F || addr >= 0xB03 && addr <= 0xB1F {
		return 0, nil // hpmcounters not implemented
	}
	return 0, raiseTrap(ExcIllegalInstr, 0)
}

// setCSR writes a CSR with masking and side effects.
func (iss *ISS) setCSR(addr uint32, value uint64) error {
	c := iss.csrs
	write := func(v *uint64, mask uint64) { *v = *v&^mask | value&mask }

	switch addr {
	case CsrMisa:
		// extensions are read-only in this model; accept and drop

	case CsrSatp:
		if iss.prv == SupervisorMode && c.mstatus&MstatusTVM != 0 {
			return raiseTrap(ExcIllegalInstr, 0)
		}
		oldMode := iss.satpMode()
		c.satp = value
		if !iss.satpModeSupported(iss.satpMode()) {
			// unknown modes silently retain the previous mode
			iss.setSatpMode(&c.satp, oldMode)
		}
		if iss.satpMode() != oldMode {
			if iss.mem != nil {
				iss.mem.FlushTLB()
			}
			iss.dbb.flush()
			iss.forceSlowPath()
		}

	case CsrMtvec:
		write(&c.mtvec, ^uint64(2))
	case CsrStvec:
		write(&c.stvec, ^uint64(2))
	case CsrUtvec:
		write(&c.utvec, ^uint64(2))

	case CsrMepc:
		write(&c.mepc, ^iss.isa.pcAlignmentMask())
	case CsrSepc:
		write(&c.sepc, ^iss.isa.pcAlignmentMask())
	case CsrUepc:
		write(&c.uepc, ^iss.isa.pcAlignmentMask())

	case CsrMstatus:
		write(&c.mstatus, mstatusWriteMask)
	case CsrSstatus:
		write(&c.mstatus, sstatusWriteMask)
	case CsrUstatus:
		write(&c.mstatus, ustatusMask)

	case CsrMip:
		write(&c.mip, mipWriteMask)
	case CsrSip:
		write(&c.mip, c.mideleg&sipMask)
	case CsrUip:
		write(&c.mip, c.mideleg&c.sideleg&uipMask)

	case CsrMie:
		write(&c.mie, mieMask)
	case CsrSie:
		write(&c.mie, c.mideleg)
	case CsrUie:
		write(&c.mie, c.mideleg&c.sideleg)

	case CsrMideleg:
		write(&c.mideleg, midelegMask)
	case CsrMedeleg:
		write(&c.medeleg, medelegMask)
	case CsrSideleg:
		write(&c.sideleg, sidelegMask)
	case CsrSedeleg:
		write(&c.sedeleg, sedelegMask)

	case CsrMcounteren:
		write(&c.mcounteren, mcounterenMask)
	case CsrScounteren:
		write(&c.scounteren, mcounterenMask)

	case CsrMscratch:
		c.mscratch = value
	case CsrSscratch:
		c.sscratch = value
	case CsrUscratch:
		c.uscratch = value
	case CsrMcause:
		c.mcause = value
	case CsrScause:
		c.scause = value
	case CsrUcause:
		c.ucause = value
	case CsrMtval:
		c.mtval = value
	case CsrStval:
		c.stval = value
	case CsrUtval:
		c.utval = value

	case CsrMcycle:
		iss.commitCycles()
		c.cycle = value
	case CsrMinstret:
		iss.commitInstructions()
		c.instret = value

	case CsrFcsr:
		c.fflags = value & 0x1f
		c.frm = value >> 5 & 0x7
	case CsrFflags:
		c.fflags = value & 0x1f
	case CsrFrm:
		c.frm = value & 0x7

	case CsrVstart:
		c.vstart = value & (VLenBits - 1)
	case CsrVxsat:
		write(&c.vxsat, vxsatMask)
	case CsrVxrm:
		write(&c.vxrm, vxrmMask)
	case CsrVcsr:
		// vcsr mirrors into vxrm/vxsat
		c.vxrm = value >> 1 & 3
		c.vxsat = value & 1

	case CsrMstatush:
		// no writable bits modeled

	default:
		if addr >= 0xC03 && addr <= 0xC1F || addr >= 0xB03 && addr <= 0xB1F {
			break // hpmcounters accept and drop
		}
		return raiseTrap(ExcIllegalInstr, 0)
	}

	// interrupt enables may have changed
	switch addr {
	case CsrMstatus, CsrSstatus, CsrUstatus, CsrMip, CsrSip, CsrUip,
		CsrMie, CsrSie, CsrUie, CsrMideleg, CsrMedeleg, CsrSideleg, CsrSedeleg:
		iss.maybeInterruptPending()
	}
	return nil
}

// statusWithSD recomputes the SD summary bit from FS.
func (iss *ISS) statusWithSD() uint64 {
	v := iss.csrs.mstatus
	sd := uint64(1) << 31
	if iss.isa.XLen == 64 {
		sd = 1 << 63
	}
	if v&MstatusFS == MstatusFS {
		return v | sd
	}
	return v &^ sd
}
