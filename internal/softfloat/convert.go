package softfloat

import "math"

// round applies the context rounding mode to a host float.
func (c *Context) round(f float64) float64 {
	switch c.Rm {
	case RoundToZero:
		return math.Trunc(f)
	case RoundDown:
		return math.Floor(f)
	case RoundUp:
		return math.Ceil(f)
	case RoundNearestMax:
		return math.Round(f)
	default: // RoundNearestEven
		return math.RoundToEven(f)
	}
}

// toIntCommon rounds and saturates into a signed integer of the given
// width. The float bounds are exact powers of two, so the comparisons are
// safe where int64(float64(MaxInt64)) would not be.
func (c *Context) toIntCommon(f float64, bits int, nan bool) int64 {
	var minI, maxI int64
	var minF, maxF float64
	if bits == 32 {
		minI, maxI = math.MinInt32, math.MaxInt32
		minF, maxF = -0x1p31, 0x1p31
	} else {
		minI, maxI = math.MinInt64, math.MaxInt64
		minF, maxF = -0x1p63, 0x1p63
	}
	if nan {
		c.raise(FlagInvalid)
		return maxI
	}
	r := c.round(f)
	if r != f {
		c.raise(FlagInexact)
	}
	if r < minF {
		c.raise(FlagInvalid)
		return minI
	}
	if r >= maxF {
		c.raise(FlagInvalid)
		return maxI
	}
	return int64(r)
}

// F32ToI32 implements FCVT.W.S.
func (c *Context) F32ToI32(a uint32) int32 {
	f := float64(math.Float32frombits(a))
	return int32(c.toIntCommon(f, 32, isNaN32(a)))
}

// F32ToU32 implements FCVT.WU.S.
func (c *Context) F32ToU32(a uint32) uint32 {
	f := float64(math.Float32frombits(a))
	if isNaN32(a) {
		c.raise(FlagInvalid)
		return math.MaxUint32
	}
	r := c.round(f)
	if r != f {
		c.raise(FlagInexact)
	}
	if r < 0 {
		c.raise(FlagInvalid)
		return 0
	}
	if r > math.MaxUint32 {
		c.raise(FlagInvalid)
		return math.MaxUint32
	}
	return uint32(r)
}

// F32ToI64 implements FCVT.L.S.
func (c *Context) F32ToI64(a uint32) int64 {
	f := float64(math.Float32frombits(a))
	return c.toIntCommon(f, 64, isNaN32(a))
}

// F32ToU64 implements FCVT.LU.S.
func (c *Context) F32ToU64(a uint32) uint64 {
	f := float64(math.Float32frombits(a))
	if isNaN32(a) {
		c.raise(FlagInvalid)
		return math.MaxUint64
	}
	r := c.round(f)
	if r != f {
		c.raise(FlagInexact)
	}
	if r < 0 {
		c.raise(FlagInvalid)
		return 0
	}
	if r >= math.MaxUint64 {
		c.raise(FlagInvalid)
		return math.MaxUint64
	}
	return uint64(r)
}

// F64ToI32 implements FCVT.W.D.
func (c *Context) F64ToI32(a uint64) int32 {
	f := math.Float64frombits(a)
	return int32(c.toIntCommon(f, 32, isNaN64(a)))
}

// F64ToU32 implements FCVT.WU.D.
func (c *Context) F64ToU32(a uint64) uint32 {
	f := math.Float64frombits(a)
	if isNaN64(a) {
		c.raise(FlagInvalid)
		return math.MaxUint32
	}
	r := c.round(f)
	if r != f {
		c.raise(FlagInexact)
	}
	if r < 0 {
		c.raise(FlagInvalid)
		return 0
	}
	if r > math.MaxUint32 {
		c.raise(FlagInvalid)
		return math.MaxUint32
	}
	return uint32(r)
}

// F64ToI64 implements FCVT.L.D.
func (c *Context) F64ToI64(a uint64) int64 {
	f := math.Float64frombits(a)
	return c.toIntCommon(f, 64, isNaN64(a))
}

// F64ToU64 implements FCVT.LU.D.
func (c *Context) F64ToU64(a uint64) uint64 {
	f := math.Float64frombits(a)
	if isNaN64(a) {
		c.raise(FlagInvalid)
		return math.MaxUint64
	}
	r := c.round(f)
	if r != f {
		c.raise(FlagInexact)
	}
	if r < 0 {
		c.raise(FlagInvalid)
		return 0
	}
	if r >= math.MaxUint64 {
		c.raise(FlagInvalid)
		return math.MaxUint64
	}
	return uint64(r)
}

// Integer to float conversions.

func (c *Context) I32ToF32(v int32) uint32 { return c.finish32(float32(v)) }
func (c *Context) U32ToF32(v uint32) uint32 {
	return c.finish32(float32(v))
}
func (c *Context) I64ToF32(v int64) uint32  { return c.finish32(float32(v)) }
func (c *Context) U64ToF32(v uint64) uint32 { return c.finish32(float32(v)) }

func (c *Context) I32ToF64(v int32) uint64  { return math.Float64bits(float64(v)) }
func (c *Context) U32ToF64(v uint32) uint64 { return math.Float64bits(float64(v)) }
func (c *Context) I64ToF64(v int64) uint64  { return c.finish64(float64(v)) }
func (c *Context) U64ToF64(v uint64) uint64 { return c.finish64(float64(v)) }

// F32ToF64 implements FCVT.D.S.
func (c *Context) F32ToF64(a uint32) uint64 {
	c.checkInvalid32(a)
	if isNaN32(a) {
		return QNaN64
	}
	return math.Float64bits(float64(math.Float32frombits(a)))
}

// F64ToF32 implements FCVT.S.D.
func (c *Context) F64ToF32(a uint64) uint32 {
	c.checkInvalid64(a)
	if isNaN64(a) {
		return QNaN32
	}
	return c.finish32(float32(math.Float64frombits(a)))
}

// Classify32 implements FCLASS.S.
func Classify32(a uint32) uint64 {
	sign := a>>31 != 0
	exp := (a >> 23) & 0xff
	frac := a & 0x7fffff
	switch {
	case exp == 0xff && frac != 0:
		if frac&(1<<22) != 0 {
			return 1 << 9 // quiet NaN
		}
		return 1 << 8 // signaling NaN
	case exp == 0xff && sign:
		return 1 << 0
	case exp == 0xff:
		return 1 << 7
	case exp == 0 && frac == 0 && sign:
		return 1 << 3
	case exp == 0 && frac == 0:
		return 1 << 4
	case exp == 0 && sign:
		return 1 << 2
	case exp == 0:
		return 1 << 5
	case sign:
		return 1 << 1
	default:
		return 1 << 6
	}
}

// Classify64 implements FCLASS.D.
func Classify64(a uint64) uint64 {
	sign := a>>63 != 0
	exp := (a >> 52) & 0x7ff
	frac := a & 0xfffffffffffff
	switch {
	case exp == 0x7ff && frac != 0:
		if frac&(1<<51) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == 0x7ff && sign:
		return 1 << 0
	case exp == 0x7ff:
		return 1 << 7
	case exp == 0 && frac == 0 && sign:
		return 1 << 3
	case exp == 0 && frac == 0:
		return 1 << 4
	case exp == 0 && sign:
		return 1 << 2
	case exp == 0:
		return 1 << 5
	case sign:
		return 1 << 1
	default:
		return 1 << 6
	}
}
