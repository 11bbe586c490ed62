package rv64

import "testing"

func TestStepExpandsCompressedInstruction(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	// c.li x1, 7 (quadrant 1, funct3=010): expands to addi x1, x0, 7.
	const cLi = uint16(0x409D)
	if err := m.Bus.Write16(0, RAMBase, cLi); err != nil {
		t.Fatalf("write16: %v", err)
	}

	h.Step()

	if h.X[1] != 7 {
		t.Errorf("x1 = %d, want 7", h.X[1])
	}
	if h.PC != RAMBase+2 {
		t.Errorf("pc = %#x, want %#x (compressed instruction advances by 2)", h.PC, RAMBase+2)
	}
}

func TestStepMixedCompressedAndFull(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	const cLi = uint16(0x409D) // c.li x1, 7
	if err := m.Bus.Write16(0, RAMBase, cLi); err != nil {
		t.Fatalf("write16: %v", err)
	}
	if err := m.Bus.Write32(0, RAMBase+2, addi(2, 1, 3)); err != nil {
		t.Fatalf("write32: %v", err)
	}

	h.Step()
	h.Step()

	if h.X[2] != 10 {
		t.Errorf("x2 = %d, want 10", h.X[2])
	}
	if h.PC != RAMBase+6 {
		t.Errorf("pc = %#x, want %#x", h.PC, RAMBase+6)
	}
}

func TestFetchInsnMisalignedPC(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase + 1

	h.Step()

	if h.Mcause != CauseInsnAddrMisaligned {
		t.Errorf("mcause = %d, want %d", h.Mcause, CauseInsnAddrMisaligned)
	}
}

func TestDecodeCacheInvalidationOnSelfModifyingCode(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	if err := m.Bus.Write32(0, RAMBase, addi(1, 0, 1)); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.Step()
	if h.X[1] != 1 {
		t.Fatalf("x1 = %d, want 1", h.X[1])
	}

	// Overwrite the same address with a different instruction and rerun
	// through the decode cache's fence.i invalidation path.
	h.PC = RAMBase
	if err := m.Bus.Write32(0, RAMBase, addi(1, 0, 99)); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.InvalidateDecodeCache()
	h.Step()

	if h.X[1] != 99 {
		t.Errorf("x1 = %d, want 99 after decode cache invalidation", h.X[1])
	}
}
