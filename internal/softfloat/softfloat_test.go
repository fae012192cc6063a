package softfloat

import (
	"math"
	"testing"
)

func f32(f float32) uint32 { return math.Float32bits(f) }

func TestMinMax2008(t *testing.T) {
	var c Context

	qnan := QNaN32
	three := f32(3.0)

	if got := c.Min32(qnan, three); got != three {
		t.Errorf("min(nan, 3) = 0x%x", got)
	}
	if got := c.Max32(three, qnan); got != three {
		t.Errorf("max(3, nan) = 0x%x", got)
	}
	if got := c.Min32(qnan, qnan); got != QNaN32 {
		t.Errorf("min(nan, nan) = 0x%x", got)
	}

	pz, nz := f32(0), uint32(1<<31)
	if got := c.Min32(pz, nz); got != nz {
		t.Errorf("min(+0, -0) = 0x%x, want -0", got)
	}
	if got := c.Max32(nz, pz); got != pz {
		t.Errorf("max(-0, +0) = 0x%x, want +0", got)
	}
}

func TestDivZeroFlag(t *testing.T) {
	var c Context
	got := c.Div32(f32(1), f32(0))
	if got != f32(float32(math.Inf(1))) {
		t.Errorf("1/0 = 0x%x", got)
	}
	if c.Flags&FlagDivZero == 0 {
		t.Error("DZ flag missing")
	}
	// 0/0 is invalid, not div-by-zero
	c.ClearFlags()
	if got := c.Div32(f32(0), f32(0)); got != QNaN32 {
		t.Errorf("0/0 = 0x%x", got)
	}
	if c.Flags&FlagInvalid == 0 {
		t.Error("NV flag missing for 0/0")
	}
}

func TestConversionSaturation(t *testing.T) {
	var c Context

	if got := c.F32ToI32(f32(3.7)); got != 4 {
		t.Errorf("fcvt.w.s(3.7) = %d, want 4 under rne", got)
	}
	if c.Flags&FlagInexact == 0 {
		t.Error("NX flag missing")
	}

	c.ClearFlags()
	if got := c.F32ToI32(f32(1e20)); got != math.MaxInt32 {
		t.Errorf("overflowing convert = %d, want saturate", got)
	}
	if c.Flags&FlagInvalid == 0 {
		t.Error("NV flag missing on overflow")
	}

	c.ClearFlags()
	if got := c.F32ToU32(f32(-1)); got != 0 {
		t.Errorf("fcvt.wu.s(-1) = %d, want 0", got)
	}

	c.ClearFlags()
	if got := c.F32ToI32(QNaN32); got != math.MaxInt32 {
		t.Errorf("fcvt.w.s(nan) = %d, want max", got)
	}
}

func TestRoundingModes(t *testing.T) {
	c := Context{Rm: RoundDown}
	if got := c.F32ToI32(f32(1.9)); got != 1 {
		t.Errorf("rdn(1.9) = %d", got)
	}
	c.Rm = RoundUp
	if got := c.F32ToI32(f32(1.1)); got != 2 {
		t.Errorf("rup(1.1) = %d", got)
	}
	c.Rm = RoundToZero
	if got := c.F32ToI32(f32(-1.9)); got != -1 {
		t.Errorf("rtz(-1.9) = %d", got)
	}
	c.Rm = RoundNearestEven
	if got := c.F32ToI32(f32(2.5)); got != 2 {
		t.Errorf("rne(2.5) = %d", got)
	}
}

func TestClassify(t *testing.T) {
	if got := Classify32(f32(float32(math.Inf(-1)))); got != 1<<0 {
		t.Errorf("classify(-inf) = 0x%x", got)
	}
	if got := Classify32(f32(1.0)); got != 1<<6 {
		t.Errorf("classify(1.0) = 0x%x", got)
	}
	if got := Classify32(QNaN32); got != 1<<9 {
		t.Errorf("classify(qnan) = 0x%x", got)
	}
	if got := Classify64(math.Float64bits(math.Copysign(0, -1))); got != 1<<3 {
		t.Errorf("classify64(-0) = 0x%x", got)
	}
}

func TestFMASingleRounding(t *testing.T) {
	var c Context
	a, b, addend := f32(3), f32(4), f32(5)
	if got := c.MulAdd32(a, b, addend); got != f32(17) {
		t.Errorf("fma(3,4,5) = 0x%x", got)
	}
	// inf * 0 + nan raises invalid
	c.ClearFlags()
	got := c.MulAdd32(f32(float32(math.Inf(1))), f32(0), QNaN32)
	if got != QNaN32 {
		t.Errorf("fma(inf,0,nan) = 0x%x", got)
	}
	if c.Flags&FlagInvalid == 0 {
		t.Error("NV flag missing for inf*0")
	}
}
