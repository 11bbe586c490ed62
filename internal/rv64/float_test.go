package rv64

import (
	"math"
	"testing"
)

// fR encodes an OP-FP or FMA instruction word: for OP-FP, funct7 carries the
// funct5 selector in its top 5 bits and the single/double bit in its low bit;
// for FMA, its top 5 bits are rs3 and its low 2 bits the format. Same shape as
// encodeR but kept local to make the funct7 composition explicit.
func fR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return encodeR(opcode, rd, funct3, rs1, rs2, funct7)
}

// opFP builds an OP-FP word from a funct5 (the case selector in execOpFP)
// and a double-precision bit.
func opFP(funct5 uint32, double bool, rd, funct3, rs1, rs2 uint32) uint32 {
	f7 := funct5 << 2
	if double {
		f7 |= 1
	}
	return fR(OpOpFP, rd, funct3, rs1, rs2, f7)
}

func setF32(h *Hart, reg uint32, v float32) { h.F[reg] = f32ToU64(v) }
func getF32(h *Hart, reg uint32) float32    { return u64ToF32(h.F[reg]) }

func TestFloatArithmeticSingle(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	setF32(h, 1, 3.5)
	setF32(h, 2, 2.0)

	fadd := opFP(0b00000, false, 3, 0, 1, 2)
	fsub := opFP(0b00001, false, 4, 0, 1, 2)
	fmul := opFP(0b00010, false, 5, 0, 1, 2)
	fdiv := opFP(0b00011, false, 6, 0, 1, 2)

	for i, insn := range []uint32{fadd, fsub, fmul, fdiv} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	for range 4 {
		h.Step()
	}

	if got := getF32(h, 3); got != 5.5 {
		t.Errorf("fadd.s = %v, want 5.5", got)
	}
	if got := getF32(h, 4); got != 1.5 {
		t.Errorf("fsub.s = %v, want 1.5", got)
	}
	if got := getF32(h, 5); got != 7 {
		t.Errorf("fmul.s = %v, want 7", got)
	}
	if got := getF32(h, 6); got != 1.75 {
		t.Errorf("fdiv.s = %v, want 1.75", got)
	}
}

func TestFloatSqrtDouble(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.F[1] = f64ToU64(16.0)

	fsqrt := opFP(0b01011, true, 2, 0, 1, 0)
	if err := m.Bus.Write32(0, RAMBase, fsqrt); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.PC = RAMBase
	h.Step()

	if got := u64ToF64(h.F[2]); got != 4.0 {
		t.Errorf("fsqrt.d = %v, want 4.0", got)
	}
}

func TestFloatMinMax(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	setF32(h, 1, 2.0)
	setF32(h, 2, 9.0)

	fmin := opFP(0b00101, false, 3, 0b000, 1, 2)
	fmax := opFP(0b00101, false, 4, 0b001, 1, 2)
	for i, insn := range []uint32{fmin, fmax} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	h.Step()
	h.Step()

	if got := getF32(h, 3); got != 2.0 {
		t.Errorf("fmin.s = %v, want 2.0", got)
	}
	if got := getF32(h, 4); got != 9.0 {
		t.Errorf("fmax.s = %v, want 9.0", got)
	}
}

func TestFloatCompare(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	setF32(h, 1, 1.0)
	setF32(h, 2, 2.0)

	feq := opFP(0b10100, false, 3, 0b010, 1, 1) // feq.s x3, f1, f1
	flt := opFP(0b10100, false, 4, 0b001, 1, 2) // flt.s x4, f1, f2
	fle := opFP(0b10100, false, 5, 0b000, 2, 1) // fle.s x5, f2, f1

	for i, insn := range []uint32{feq, flt, fle} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	for range 3 {
		h.Step()
	}

	if h.X[3] != 1 {
		t.Errorf("feq.s(1,1) = %d, want 1", h.X[3])
	}
	if h.X[4] != 1 {
		t.Errorf("flt.s(1,2) = %d, want 1", h.X[4])
	}
	if h.X[5] != 0 {
		t.Errorf("fle.s(2,1) = %d, want 0", h.X[5])
	}
}

func TestFloatIntConversionRoundTrip(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	neg := int64(-42)
	h.X[1] = uint64(neg)

	// fcvt.s.w f2, x1
	fcvtSW := opFP(0b11010, false, 2, 0, 1, 0b00000)
	// fcvt.w.s x3, f2
	fcvtWS := opFP(0b11000, false, 3, 0, 2, 0b00000)

	for i, insn := range []uint32{fcvtSW, fcvtWS} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	h.Step()
	h.Step()

	if got := getF32(h, 2); got != -42 {
		t.Errorf("fcvt.s.w = %v, want -42", got)
	}
	if got := int64(h.X[3]); got != -42 {
		t.Errorf("fcvt.w.s round trip = %d, want -42", got)
	}
}

func TestFloatMoveBitPattern(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.X[1] = uint64(math.Float32bits(1.5))

	// fmv.w.x f2, x1
	fmvWX := opFP(0b11110, false, 2, 0, 1, 0)
	// fmv.x.w x3, f2
	fmvXW := opFP(0b11100, false, 3, 0b000, 2, 0)

	for i, insn := range []uint32{fmvWX, fmvXW} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	h.Step()
	h.Step()

	if got := getF32(h, 2); got != 1.5 {
		t.Errorf("fmv.w.x = %v, want 1.5", got)
	}
	if h.X[3] != uint64(math.Float32bits(1.5)) {
		t.Errorf("fmv.x.w = %#x, want %#x", h.X[3], math.Float32bits(1.5))
	}
}

func TestFloatClassify(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	setF32(h, 1, 0)
	setF32(h, 2, float32(math.Inf(1)))
	setF32(h, 3, float32(math.NaN()))

	fclassZero := opFP(0b11100, false, 4, 0b001, 1, 0)
	fclassInf := opFP(0b11100, false, 5, 0b001, 2, 0)
	fclassNaN := opFP(0b11100, false, 6, 0b001, 3, 0)

	for i, insn := range []uint32{fclassZero, fclassInf, fclassNaN} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	for range 3 {
		h.Step()
	}

	if h.X[4] != 1<<4 {
		t.Errorf("fclass(+0) = %#x, want %#x (positive zero)", h.X[4], uint64(1<<4))
	}
	if h.X[5] != 1<<7 {
		t.Errorf("fclass(+inf) = %#x, want %#x", h.X[5], uint64(1<<7))
	}
	if h.X[6] != 1<<8 && h.X[6] != 1<<9 {
		t.Errorf("fclass(NaN) = %#x, want a NaN class bit (8 or 9)", h.X[6])
	}
}

func TestFloatFusedMultiplyAdd(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	setF32(h, 1, 2.0)
	setF32(h, 2, 3.0)
	setF32(h, 3, 1.0)

	// fmadd.s f4, f1, f2, f3 -> 2*3+1 = 7
	fmadd := fR(OpMadd, 4, 0, 1, 2, (3<<2)|0)
	if err := m.Bus.Write32(0, RAMBase, fmadd); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.PC = RAMBase
	h.Step()

	if got := getF32(h, 4); got != 7 {
		t.Errorf("fmadd.s = %v, want 7", got)
	}
}

func TestFloatLoadStoreRoundTrip(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.X[1] = RAMBase + 64
	setF32(h, 2, 9.5)

	fsw := encodeS(OpStoreFP, 0b010, 1, 2, 0)
	flw := encodeI(OpLoadFP, 3, 0b010, 1, 0)

	for i, insn := range []uint32{fsw, flw} {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	h.PC = RAMBase
	h.Step()
	h.Step()

	if got := getF32(h, 3); got != 9.5 {
		t.Errorf("flw after fsw = %v, want 9.5", got)
	}
}
