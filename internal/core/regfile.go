package core

// RegFile is the general purpose integer register file. Values are kept
// canonical: on RV32 every register holds the sign extension of its low 32
// bits, so signed comparisons work on the raw uint64.
type RegFile struct {
	regs [32]uint64
	xlen int
}

// ABI register indices used by the core itself.
const (
	regZero = 0
	regRA   = 1
	regSP   = 2
	regA0   = 10
	regA5   = 15
	regA7   = 17
)

func newRegFile(xlen int) RegFile {
	return RegFile{xlen: xlen}
}

// Read returns a register value; x0 reads as zero.
func (r *RegFile) Read(idx uint32) uint64 {
	return r.regs[idx]
}

// Write sets a register; writes to x0 are dropped.
func (r *RegFile) Write(idx uint32, v uint64) {
	if idx == 0 {
		return
	}
	if r.xlen == 32 {
		v = uint64(int64(int32(v)))
	}
	r.regs[idx] = v
}

// resetZero re-establishes the x0 invariant after handlers that index
// registers without the write guard.
func (r *RegFile) resetZero() { r.regs[0] = 0 }

// Raw exposes the backing array for the debug target.
func (r *RegFile) Raw() []uint64 { return r.regs[:] }

// FPURegs is the floating point register file: 32 raw 64-bit values with
// NaN-boxing for single precision.
type FPURegs struct {
	regs [32]uint64
}

const nanBoxHigh = 0xffffffff00000000

// ReadS returns the single precision value in f[idx], or the canonical NaN
// pattern if the register is not properly NaN-boxed.
func (f *FPURegs) ReadS(idx uint32) uint32 {
	v := f.regs[idx]
	if v&nanBoxHigh != nanBoxHigh {
		return 0x7fc00000
	}
	return uint32(v)
}

// WriteS stores a single precision value NaN-boxed into f[idx].
func (f *FPURegs) WriteS(idx uint32, v uint32) {
	f.regs[idx] = nanBoxHigh | uint64(v)
}

// ReadD returns the raw double precision bits in f[idx].
func (f *FPURegs) ReadD(idx uint32) uint64 { return f.regs[idx] }

// WriteD stores raw double precision bits into f[idx].
func (f *FPURegs) WriteD(idx uint32, v uint64) { f.regs[idx] = v }

// Raw exposes the backing array for the debug target.
func (f *FPURegs) Raw() []uint64 { return f.regs[:] }
