package rv64

import "testing"

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(Config{NumHarts: 1, RAMSize: 1 << 20}, nil)
	return m
}

func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1f)<<7 | opcode
}

func encodeB(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u>>11&1)<<7 | (u>>1&0xf)<<8 | OpBranch
}

func encodeU(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | rd<<7 | opcode
}

// addi rd, rs1, imm
func addi(rd, rs1 uint32, imm int32) uint32 { return encodeI(OpOpImm, rd, 0b000, rs1, imm) }

func TestStepADDI(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	if err := m.Bus.Write32(0, RAMBase, addi(5, 0, 42)); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.Step()

	if h.X[5] != 42 {
		t.Errorf("x5 = %d, want 42", h.X[5])
	}
	if h.PC != RAMBase+4 {
		t.Errorf("pc = %#x, want %#x", h.PC, RAMBase+4)
	}
	if h.Instret != 1 {
		t.Errorf("instret = %d, want 1", h.Instret)
	}
}

func TestStepLUIAndAUIPC(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	lui := encodeU(OpLui, 6, 0x12345000)
	if err := m.Bus.Write32(0, RAMBase, lui); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.Step()
	if h.X[6] != 0x12345000 {
		t.Errorf("x6 = %#x, want %#x", h.X[6], 0x12345000)
	}

	auipc := encodeU(OpAuipc, 7, 0x1000)
	if err := m.Bus.Write32(0, h.PC, auipc); err != nil {
		t.Fatalf("write32: %v", err)
	}
	wantPC := h.PC
	h.Step()
	if h.X[7] != wantPC+0x1000 {
		t.Errorf("x7 = %#x, want %#x", h.X[7], wantPC+0x1000)
	}
}

func TestStepLoadStore(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase
	// sw/lw base in RAM; the address exceeds a 12-bit immediate, so set it directly.
	h.X[2] = RAMBase + 0x100

	program := []uint32{
		addi(1, 0, 100),                         // x1 = 100
		encodeS(OpStore, 0b010, 2, 1, 64),        // sw x1, 64(x2)
		encodeI(OpLoad, 3, 0b010, 2, 64),         // lw x3, 64(x2)
	}
	for i, insn := range program {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range program {
		h.Step()
	}

	if h.X[3] != 100 {
		t.Errorf("x3 = %d, want 100", h.X[3])
	}
}

func TestStepBranchTaken(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	// beq x0, x0, +8; addi x1, x0, 1 (skipped); addi x2, x0, 2 (landed on)
	beq := encodeB(0b000, 0, 0, 8)
	if err := m.Bus.Write32(0, RAMBase, beq); err != nil {
		t.Fatalf("write32: %v", err)
	}
	if err := m.Bus.Write32(0, RAMBase+4, addi(1, 0, 1)); err != nil {
		t.Fatalf("write32: %v", err)
	}
	if err := m.Bus.Write32(0, RAMBase+8, addi(2, 0, 2)); err != nil {
		t.Fatalf("write32: %v", err)
	}

	h.Step() // beq, taken
	if h.PC != RAMBase+8 {
		t.Fatalf("pc after branch = %#x, want %#x", h.PC, RAMBase+8)
	}
	h.Step() // addi x2, x0, 2
	if h.X[1] != 0 {
		t.Errorf("x1 = %d, want 0 (instruction should have been skipped)", h.X[1])
	}
	if h.X[2] != 2 {
		t.Errorf("x2 = %d, want 2", h.X[2])
	}
}

func TestMulAndDivByZero(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	mul := encodeR(OpOp, 3, 0b000, 1, 2, 0b0000001) // mul x3, x1, x2
	divu := encodeR(OpOp, 4, 0b101, 1, 0, 0b0000001) // divu x4, x1, x0

	program := []uint32{
		addi(1, 0, 6),
		addi(2, 0, 7),
		mul,
		divu,
	}
	for i, insn := range program {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range program {
		h.Step()
	}

	if h.X[3] != 42 {
		t.Errorf("x3 (mul) = %d, want 42", h.X[3])
	}
	if h.X[4] != ^uint64(0) {
		t.Errorf("x4 (divu by zero) = %#x, want all-ones", h.X[4])
	}
}

func TestEcallFromMModeTraps(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	ecall := uint32(0x00000073)
	if err := m.Bus.Write32(0, RAMBase, ecall); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.Step()

	if h.Mcause != CauseEcallFromM {
		t.Errorf("mcause = %d, want %d", h.Mcause, CauseEcallFromM)
	}
	if h.PC != h.Mtvec {
		t.Errorf("pc = %#x, want mtvec %#x", h.PC, h.Mtvec)
	}
}
