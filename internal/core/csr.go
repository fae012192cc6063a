package core

// CSR addresses.
const (
	CsrUstatus  uint32 = 0x000
	CsrUie      uint32 = 0x004
	CsrUtvec    uint32 = 0x005
	CsrUscratch uint32 = 0x040
	CsrUepc     uint32 = 0x041
	CsrUcause   uint32 = 0x042
	CsrUtval    uint32 = 0x043
	CsrUip      uint32 = 0x044

	CsrFflags uint32 = 0x001
	CsrFrm    uint32 = 0x002
	CsrFcsr   uint32 = 0x003

	CsrVstart uint32 = 0x008
	CsrVxsat  uint32 = 0x009
	CsrVxrm   uint32 = 0x00A
	CsrVcsr   uint32 = 0x00F
	CsrVl     uint32 = 0xC20
	CsrVtype  uint32 = 0xC21
	CsrVlenb  uint32 = 0xC22

	CsrCycle   uint32 = 0xC00
	CsrTime    uint32 = 0xC01
	CsrInstret uint32 = 0xC02

	CsrSstatus    uint32 = 0x100
	CsrSedeleg    uint32 = 0x102
	CsrSideleg    uint32 = 0x103
	CsrSie        uint32 = 0x104
	CsrStvec      uint32 = 0x105
	CsrScounteren uint32 = 0x106
	CsrSscratch   uint32 = 0x140
	CsrSepc       uint32 = 0x141
	CsrScause     uint32 = 0x142
	CsrStval      uint32 = 0x143
	CsrSip        uint32 = 0x144
	CsrSatp       uint32 = 0x180

	CsrMstatus    uint32 = 0x300
	CsrMisa       uint32 = 0x301
	CsrMedeleg    uint32 = 0x302
	CsrMideleg    uint32 = 0x303
	CsrMie        uint32 = 0x304
	CsrMtvec      uint32 = 0x305
	CsrMcounteren uint32 = 0x306
	CsrMstatush   uint32 = 0x310
	CsrMscratch   uint32 = 0x340
	CsrMepc       uint32 = 0x341
	CsrMcause     uint32 = 0x342
	CsrMtval      uint32 = 0x343
	CsrMip        uint32 = 0x344

	CsrMcycle   uint32 = 0xB00
	CsrMinstret uint32 = 0xB02

	CsrMvendorid uint32 = 0xF11
	CsrMarchid   uint32 = 0xF12
	CsrMimpid    uint32 = 0xF13
	CsrMhartid   uint32 = 0xF14
)

// satp modes.
const (
	SatpModeBare uint64 = 0
	SatpModeSv32 uint64 = 1
	SatpModeSv39 uint64 = 8
	SatpModeSv48 uint64 = 9
	SatpModeSv57 uint64 = 10
)

// mtvec modes.
const (
	TvecDirect   uint64 = 0
	TvecVectored uint64 = 1
)

// vtype fields.
const (
	vtypeVill uint64 = 1 << 63
)

// Read/write masks. Delegation and interrupt masks include the N-extension
// user bits; harts without N simply never set them.
const (
	mipWriteMask   = MipSSIP | MipSTIP | MipSEIP | MipUSIP | MipUTIP | MipUEIP
	mipReadMask    = MipMEIP | MipMSIP | MipMTIP | MipSEIP | MipSSIP | MipSTIP | MipUEIP | MipUSIP | MipUTIP
	mieMask        = mipReadMask
	sipMask        = MipSSIP | MipUSIP | MipUTIP | MipUEIP
	uipMask        = MipUSIP | MipUTIP | MipUEIP
	midelegMask    = MipSSIP | MipSTIP | MipSEIP | MipUSIP | MipUTIP | MipUEIP
	sidelegMask    = MipUSIP | MipUTIP | MipUEIP
	medelegMask    = 0xb3ff
	sedelegMask    = (1 << 0) | (1 << 1) | (1 << 2) | (1 << 3) | (1 << 8) | (1 << 12) | (1 << 13) | (1 << 15)
	mcounterenMask = 0xffffffff

	mstatusWriteMask = MstatusUIE | MstatusSIE | MstatusMIE | MstatusUPIE | MstatusSPIE | MstatusMPIE |
		MstatusSPP | MstatusMPP | MstatusFS | MstatusMPRV | MstatusSUM | MstatusMXR |
		MstatusTVM | MstatusTW | MstatusTSR
	sstatusWriteMask = MstatusUIE | MstatusSIE | MstatusUPIE | MstatusSPIE | MstatusSPP |
		MstatusFS | MstatusSUM | MstatusMXR
	ustatusMask = MstatusUIE | MstatusUPIE

	fcsrMask  = 0xff
	vxsatMask = 0x1
	vxrmMask  = 0x3
	vcsrMask  = 0x7
)

func (iss *ISS) sstatusReadMask() uint64 {
	m := uint64(sstatusWriteMask)
	if iss.isa.XLen == 64 {
		m |= 1 << 63 // SD
	} else {
		m |= 1 << 31
	}
	return m
}

func (iss *ISS) mstatusReadMask() uint64 {
	m := uint64(mstatusWriteMask) | MstatusXS
	if iss.isa.XLen == 64 {
		m |= 1<<63 | 3<<32 // SD, UXL/SXL
	} else {
		m |= 1 << 31
	}
	return m
}

// CSRBank holds the raw CSR storage of one hart. Masking, privilege checks
// and side effects live in the ISS accessors; the bank is plain state.
type CSRBank struct {
	mstatus    uint64
	misa       uint64
	medeleg    uint64
	mideleg    uint64
	sedeleg    uint64
	sideleg    uint64
	mie        uint64
	mip        uint64
	mtvec      uint64
	stvec      uint64
	utvec      uint64
	mcounteren uint64
	scounteren uint64
	mscratch   uint64
	sscratch   uint64
	uscratch   uint64
	mepc       uint64
	sepc       uint64
	uepc       uint64
	mcause     uint64
	scause     uint64
	ucause     uint64
	mtval      uint64
	stval      uint64
	utval      uint64
	satp       uint64
	mhartid    uint64

	fflags uint64
	frm    uint64

	vstart uint64
	vxsat  uint64
	vxrm   uint64
	vl     uint64
	vtype  uint64
	vlenb  uint64

	// committed counters; the in-flight fast-path deltas live in the ISS
	cycle   uint64
	instret uint64
}

func newCSRBank(isa ISAConfig, hartID uint64) *CSRBank {
	return &CSRBank{
		misa:    isa.misa(),
		mhartid: hartID,
		vtype:   vtypeVill,
		vlenb:   VLenBytes,
	}
}

// cause value composition: interrupt flag in the top XLEN bit.
func causeValue(xlen int, interrupt bool, code ExceptionCode) uint64 {
	v := uint64(code)
	if interrupt {
		v |= 1 << (uint(xlen) - 1)
	}
	return v
}

func causeIsInterrupt(xlen int, v uint64) bool {
	return v>>(uint(xlen)-1)&1 != 0
}

func causeCode(xlen int, v uint64) uint64 {
	return v &^ (1 << (uint(xlen) - 1))
}

// tvec base address (mode bits stripped).
func tvecBase(v uint64) uint64 { return v &^ 3 }

func tvecMode(v uint64) uint64 { return v & 3 }
