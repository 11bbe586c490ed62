package rv64

import "testing"

func amoOp(funct3 uint32, rd, rs1, rs2 uint32, f5 uint32) uint32 {
	return encodeR(OpAMO, rd, funct3, rs1, rs2, f5<<2)
}

func TestAMOADDW(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	addr := RAMBase + 256
	if err := m.Bus.Write32(0, addr, 10); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.X[1] = addr // address exceeds a 12-bit immediate; set it directly

	insns := []uint32{
		addi(2, 0, 5),                    // x2 = 5, the amoadd operand
		amoOp(0b010, 3, 1, 2, 0b00000),   // amoadd.w x3, x2, (x1)
		encodeI(OpLoad, 4, 0b010, 1, 0),  // lw x4, 0(x1)
	}
	for i, insn := range insns {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range insns {
		h.Step()
	}

	if h.X[3] != 10 {
		t.Errorf("amoadd.w old value = %d, want 10", h.X[3])
	}
	if h.X[4] != 15 {
		t.Errorf("memory after amoadd.w = %d, want 15", h.X[4])
	}
}

func TestLRSCSuccessAndFailure(t *testing.T) {
	m := newTestMachine(t)
	h := m.Harts[0]
	h.PC = RAMBase

	addr := RAMBase + 512
	if err := m.Bus.Write64(0, addr, 77); err != nil {
		t.Fatalf("write64: %v", err)
	}
	h.X[1] = addr

	lrd := amoOp(0b011, 2, 1, 0, 0b00010) // lr.d x2, (x1)
	scd := amoOp(0b011, 3, 1, 4, 0b00011) // sc.d x3, x4, (x1)

	insns := []uint32{
		lrd,
		addi(4, 0, 99),
		scd,
	}
	for i, insn := range insns {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range insns {
		h.Step()
	}

	if h.X[2] != 77 {
		t.Errorf("lr.d loaded = %d, want 77", h.X[2])
	}
	if h.X[3] != 0 {
		t.Errorf("sc.d result = %d, want 0 (success, reservation held)", h.X[3])
	}
	v, err := m.Bus.Read64(0, addr)
	if err != nil {
		t.Fatalf("read64: %v", err)
	}
	if v != 99 {
		t.Errorf("memory after sc.d = %d, want 99", v)
	}

	// A second sc.d without an intervening lr.d must fail (reservation gone).
	if err := m.Bus.Write32(0, h.PC, scd); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h.Step()
	if h.X[3] != 1 {
		t.Errorf("sc.d with no reservation = %d, want 1 (failure)", h.X[3])
	}
}

func TestSCFailsAfterCrossHartStore(t *testing.T) {
	m := NewMachine(Config{NumHarts: 2, RAMSize: 1 << 20}, nil)
	h0, h1 := m.Harts[0], m.Harts[1]
	addr := RAMBase + 1024

	if err := m.Bus.Write32(0, addr, 0); err != nil {
		t.Fatalf("write32: %v", err)
	}

	h0.PC = RAMBase
	h0.X[1] = addr
	lrw := amoOp(0b010, 2, 1, 0, 0b00010)
	scw := amoOp(0b010, 3, 1, 4, 0b00011)
	insns := []uint32{
		lrw,
	}
	for i, insn := range insns {
		if err := m.Bus.Write32(0, RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("write32: %v", err)
		}
	}
	for range insns {
		h0.Step()
	}
	if !h0.Reservation.Valid {
		t.Fatalf("expected hart 0 to hold a reservation after lr.w")
	}

	// Hart 1 stores to the same physical word, which must invalidate
	// hart 0's reservation via the bus-wide invalidation path.
	if err := m.Bus.Write32(h1.ID, addr, 55); err != nil {
		t.Fatalf("write32 from hart1: %v", err)
	}
	if h0.Reservation.Valid {
		t.Fatalf("hart 0's reservation should have been invalidated by hart 1's store")
	}

	if err := m.Bus.Write32(0, h0.PC, scw); err != nil {
		t.Fatalf("write32: %v", err)
	}
	h0.Step()
	if h0.X[3] != 1 {
		t.Errorf("sc.w after cross-hart store = %d, want 1 (failure)", h0.X[3])
	}
}
