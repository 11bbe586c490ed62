package rv64

import "testing"

func TestZbbCLZCTZCPOP(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	// clz x2, x1 : funct7=0110000 rs2=00000 funct3=001
	clz := encodeR(OpOpImm, 2, 0b001, 1, 0b00000, 0b0110000)
	ctz := encodeR(OpOpImm, 3, 0b001, 1, 0b00001, 0b0110000)
	cpop := encodeR(OpOpImm, 4, 0b001, 1, 0b00010, 0b0110000)

	program := []uint32{
		addi(1, 0, 0x10), // x1 = 0b10000
		clz,
		ctz,
		cpop,
	}
	for i, insn := range program {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range program {
		h.Step()
	}

	if h.X[2] != 59 { // 64 - 5 significant bits
		t.Errorf("clz(0x10) = %d, want 59", h.X[2])
	}
	if h.X[3] != 4 {
		t.Errorf("ctz(0x10) = %d, want 4", h.X[3])
	}
	if h.X[4] != 1 {
		t.Errorf("cpop(0x10) = %d, want 1", h.X[4])
	}
}

func TestZbaShNAdd(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	// sh1add x3, x1, x2 = (x1<<1) + x2, funct7=0010000 funct3=010
	sh1add := encodeR(OpOp, 3, 0b010, 1, 2, 0b0010000)

	program := []uint32{
		addi(1, 0, 3),
		addi(2, 0, 10),
		sh1add,
	}
	for i, insn := range program {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range program {
		h.Step()
	}

	if h.X[3] != 16 { // (3<<1)+10
		t.Errorf("sh1add = %d, want 16", h.X[3])
	}
}

func TestZbsBitOps(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	// bseti x2, x1, 4 : funct6=001010, shamt in rs2 field
	bseti := encodeR(OpOpImm, 2, 0b001, 1, 4, 0b0010100)
	// bclri x3, x2, 4 : funct6=010010
	bclri := encodeR(OpOpImm, 3, 0b001, 2, 4, 0b0100100)

	program := []uint32{
		addi(1, 0, 0),
		bseti,
		bclri,
	}
	for i, insn := range program {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range program {
		h.Step()
	}

	if h.X[2] != 1<<4 {
		t.Errorf("bseti result = %#x, want %#x", h.X[2], uint64(1<<4))
	}
	if h.X[3] != 0 {
		t.Errorf("bclri result = %#x, want 0", h.X[3])
	}
}

func TestMinMaxUnsigned(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	// minu x3, x1, x2 : funct7=0000101 funct3=101
	minu := encodeR(OpOp, 3, 0b101, 1, 2, 0b0000101)
	maxu := encodeR(OpOp, 4, 0b111, 1, 2, 0b0000101)

	program := []uint32{
		addi(1, 0, -1), // x1 = all ones (huge unsigned)
		addi(2, 0, 5),
		minu,
		maxu,
	}
	for i, insn := range program {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range program {
		h.Step()
	}

	if h.X[3] != 5 {
		t.Errorf("minu = %d, want 5", h.X[3])
	}
	if h.X[4] != ^uint64(0) {
		t.Errorf("maxu = %#x, want all-ones", h.X[4])
	}
}
