package rv64

import "math/bits"

// decodeOpImm/decodeOpImm32/decodeOp/decodeOp32 resolve the OP-IMM,
// OP-IMM-32, OP and OP-32 major opcodes to their semantic function, since
// each is shared between base-I, M-extension and the Zba/Zbb/Zbc/Zbs
// bit-manipulation extensions by funct3/funct7/rs2 selector bits, per the
// ratified RISC-V encodings.

func decodeOpImm(raw uint32) ExecFunc {
	f3 := funct3(raw)
	f7 := funct7(raw)
	f6 := f7 >> 1
	rs2 := rs2Field(raw)

	switch f3 {
	case 0b001: // SLLI, BCLRI/BINVI/BSETI, CLZ/CTZ/CPOP/SEXT.B/SEXT.H
		switch f6 {
		case 0b001010: // BSETI
			return execBseti
		case 0b010010: // BCLRI
			return execBclri
		case 0b011010: // BINVI
			return execBinvi
		}
		if f7 == 0b0110000 {
			switch rs2 {
			case 0b00000: // CLZ
				return execClz
			case 0b00001: // CTZ
				return execCtz
			case 0b00010: // CPOP
				return execCpop
			case 0b00100: // SEXT.B
				return execSextB
			case 0b00101: // SEXT.H
				return execSextH
			}
		}
		return execOpImmBase
	case 0b101: // SRLI/SRAI, BEXTI, RORI, ORC.B, REV8
		switch f6 {
		case 0b010010: // BEXTI
			return execBexti
		case 0b011000: // RORI
			return execRori
		}
		if f7 == 0b0010100 && rs2 == 0b00111 { // ORC.B
			return execOrcb
		}
		if f7 == 0b0110101 && rs2 == 0b11000 { // REV8 (RV64)
			return execRev8
		}
		return execOpImmBase
	default:
		return execOpImmBase
	}
}

func decodeOpImm32(raw uint32) ExecFunc {
	f3 := funct3(raw)
	f6 := funct7(raw) >> 1

	if f3 == 0b001 && f6 == 0b000010 { // SLLI.UW
		return execSlliUW
	}
	return execOpImm32Base
}

func decodeOp(raw uint32) ExecFunc {
	f3 := funct3(raw)
	f7 := funct7(raw)

	switch f7 {
	case 0b0000001: // M extension
		return execOpBaseEntry
	case 0b0100000: // SUB/SRA, ANDN/ORN/XNOR
		switch f3 {
		case 0b100: // XNOR
			return execXnor
		case 0b110: // ORN
			return execOrn
		case 0b111: // ANDN
			return execAndn
		}
		return execOpBaseEntry // SUB, SRA
	case 0b0000101: // MIN/MINU/MAX/MAXU, CLMUL/CLMULR/CLMULH
		switch f3 {
		case 0b001: // CLMUL
			return execClmul
		case 0b010: // CLMULR
			return execClmulr
		case 0b011: // CLMULH
			return execClmulh
		case 0b100: // MIN
			return execMin
		case 0b101: // MINU
			return execMinu
		case 0b110: // MAX
			return execMax
		case 0b111: // MAXU
			return execMaxu
		}
	case 0b0010000: // SH1ADD/SH2ADD/SH3ADD, BSET
		switch f3 {
		case 0b010: // SH1ADD
			return execSh1add
		case 0b100: // SH2ADD
			return execSh2add
		case 0b110: // SH3ADD
			return execSh3add
		case 0b001: // BSET
			return execBset
		}
	case 0b0100100: // BCLR, BEXT
		switch f3 {
		case 0b001: // BCLR
			return execBclr
		case 0b101: // BEXT
			return execBext
		}
	case 0b0110100: // BINV
		if f3 == 0b001 {
			return execBinv
		}
	case 0b0110000: // ROL, ROR
		switch f3 {
		case 0b001: // ROL
			return execRol
		case 0b101: // ROR
			return execRor
		}
	}
	return execOpBaseEntry
}

func decodeOp32(raw uint32) ExecFunc {
	f3 := funct3(raw)
	f7 := funct7(raw)
	rs2 := rs2Field(raw)

	switch f7 {
	case 0b0000001, 0b0100000: // M extension, SUBW/SRAW
		return execOp32BaseEntry
	case 0b0010000: // SH1ADD.UW/SH2ADD.UW/SH3ADD.UW
		switch f3 {
		case 0b010:
			return execSh1addUW
		case 0b100:
			return execSh2addUW
		case 0b110:
			return execSh3addUW
		}
	case 0b0000100: // ADD.UW, ZEXT.H
		switch {
		case f3 == 0b000:
			return execAddUW
		case f3 == 0b100 && rs2 == 0:
			return execZextH
		}
	case 0b0110000: // ROLW, RORW
		switch f3 {
		case 0b001:
			return execRolw
		case 0b101:
			return execRorw
		}
	}
	return execOp32BaseEntry
}

// execOpBaseEntry/execOp32BaseEntry re-dispatch through the base OP/OP-32
// handler, which itself recognizes the M-extension funct7.
func execOpBaseEntry(h *Hart, d *Decoded) error   { return execOpBase(h, d) }
func execOp32BaseEntry(h *Hart, d *Decoded) error { return execOp32Base(h, d) }

// -- Zbb: basic bit manipulation --

func execAndn(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)&^h.ReadReg(d.Rs2))
	return nil
}

func execOrn(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)|^h.ReadReg(d.Rs2))
	return nil
}

func execXnor(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, ^(h.ReadReg(d.Rs1) ^ h.ReadReg(d.Rs2)))
	return nil
}

func execClz(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(bits.LeadingZeros64(h.ReadReg(d.Rs1))))
	return nil
}

func execCtz(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(bits.TrailingZeros64(h.ReadReg(d.Rs1))))
	return nil
}

func execCpop(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(bits.OnesCount64(h.ReadReg(d.Rs1))))
	return nil
}

func execMax(h *Hart, d *Decoded) error {
	a, b := int64(h.ReadReg(d.Rs1)), int64(h.ReadReg(d.Rs2))
	if a > b {
		h.WriteReg(d.Rd, uint64(a))
	} else {
		h.WriteReg(d.Rd, uint64(b))
	}
	return nil
}

func execMaxu(h *Hart, d *Decoded) error {
	a, b := h.ReadReg(d.Rs1), h.ReadReg(d.Rs2)
	if a > b {
		h.WriteReg(d.Rd, a)
	} else {
		h.WriteReg(d.Rd, b)
	}
	return nil
}

func execMin(h *Hart, d *Decoded) error {
	a, b := int64(h.ReadReg(d.Rs1)), int64(h.ReadReg(d.Rs2))
	if a < b {
		h.WriteReg(d.Rd, uint64(a))
	} else {
		h.WriteReg(d.Rd, uint64(b))
	}
	return nil
}

func execMinu(h *Hart, d *Decoded) error {
	a, b := h.ReadReg(d.Rs1), h.ReadReg(d.Rs2)
	if a < b {
		h.WriteReg(d.Rd, a)
	} else {
		h.WriteReg(d.Rd, b)
	}
	return nil
}

func execSextB(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(int64(int8(h.ReadReg(d.Rs1)))))
	return nil
}

func execSextH(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(int64(int16(h.ReadReg(d.Rs1)))))
	return nil
}

func execZextH(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(uint16(h.ReadReg(d.Rs1))))
	return nil
}

func execRol(h *Hart, d *Decoded) error {
	sh := int(h.ReadReg(d.Rs2) & 63)
	h.WriteReg(d.Rd, bits.RotateLeft64(h.ReadReg(d.Rs1), sh))
	return nil
}

func execRor(h *Hart, d *Decoded) error {
	sh := int(h.ReadReg(d.Rs2) & 63)
	h.WriteReg(d.Rd, bits.RotateLeft64(h.ReadReg(d.Rs1), -sh))
	return nil
}

func execRori(h *Hart, d *Decoded) error {
	sh := int(shamt(d.Raw))
	h.WriteReg(d.Rd, bits.RotateLeft64(h.ReadReg(d.Rs1), -sh))
	return nil
}

func execRolw(h *Hart, d *Decoded) error {
	sh := int(h.ReadReg(d.Rs2) & 31)
	v := bits.RotateLeft32(uint32(h.ReadReg(d.Rs1)), sh)
	h.WriteReg(d.Rd, uint64(int32(v)))
	return nil
}

func execRorw(h *Hart, d *Decoded) error {
	sh := int(h.ReadReg(d.Rs2) & 31)
	v := bits.RotateLeft32(uint32(h.ReadReg(d.Rs1)), -sh)
	h.WriteReg(d.Rd, uint64(int32(v)))
	return nil
}

func execOrcb(h *Hart, d *Decoded) error {
	r1 := h.ReadReg(d.Rs1)
	var out uint64
	for i := 0; i < 8; i++ {
		b := uint8(r1 >> (8 * i))
		if b != 0 {
			out |= uint64(0xFF) << (8 * i)
		}
	}
	h.WriteReg(d.Rd, out)
	return nil
}

func execRev8(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, bits.ReverseBytes64(h.ReadReg(d.Rs1)))
	return nil
}

// -- Zbs: single-bit instructions --

func execBclr(h *Hart, d *Decoded) error {
	idx := h.ReadReg(d.Rs2) & 63
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)&^(uint64(1)<<idx))
	return nil
}

func execBclri(h *Hart, d *Decoded) error {
	idx := shamt(d.Raw)
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)&^(uint64(1)<<idx))
	return nil
}

func execBext(h *Hart, d *Decoded) error {
	idx := h.ReadReg(d.Rs2) & 63
	h.WriteReg(d.Rd, (h.ReadReg(d.Rs1)>>idx)&1)
	return nil
}

func execBexti(h *Hart, d *Decoded) error {
	idx := shamt(d.Raw)
	h.WriteReg(d.Rd, (h.ReadReg(d.Rs1)>>idx)&1)
	return nil
}

func execBinv(h *Hart, d *Decoded) error {
	idx := h.ReadReg(d.Rs2) & 63
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)^(uint64(1)<<idx))
	return nil
}

func execBinvi(h *Hart, d *Decoded) error {
	idx := shamt(d.Raw)
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)^(uint64(1)<<idx))
	return nil
}

func execBset(h *Hart, d *Decoded) error {
	idx := h.ReadReg(d.Rs2) & 63
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)|(uint64(1)<<idx))
	return nil
}

func execBseti(h *Hart, d *Decoded) error {
	idx := shamt(d.Raw)
	h.WriteReg(d.Rd, h.ReadReg(d.Rs1)|(uint64(1)<<idx))
	return nil
}

// -- Zba: address-generation instructions --

func execSh1add(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, (h.ReadReg(d.Rs1)<<1)+h.ReadReg(d.Rs2))
	return nil
}

func execSh2add(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, (h.ReadReg(d.Rs1)<<2)+h.ReadReg(d.Rs2))
	return nil
}

func execSh3add(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, (h.ReadReg(d.Rs1)<<3)+h.ReadReg(d.Rs2))
	return nil
}

func execAddUW(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(uint32(h.ReadReg(d.Rs1)))+h.ReadReg(d.Rs2))
	return nil
}

func execSh1addUW(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, (uint64(uint32(h.ReadReg(d.Rs1)))<<1)+h.ReadReg(d.Rs2))
	return nil
}

func execSh2addUW(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, (uint64(uint32(h.ReadReg(d.Rs1)))<<2)+h.ReadReg(d.Rs2))
	return nil
}

func execSh3addUW(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, (uint64(uint32(h.ReadReg(d.Rs1)))<<3)+h.ReadReg(d.Rs2))
	return nil
}

func execSlliUW(h *Hart, d *Decoded) error {
	sh := shamt(d.Raw)
	h.WriteReg(d.Rd, uint64(uint32(h.ReadReg(d.Rs1)))<<sh)
	return nil
}

// -- Zbc: carry-less multiply --

func execClmul(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, clmul(h.ReadReg(d.Rs1), h.ReadReg(d.Rs2)))
	return nil
}

func execClmulh(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, clmulh(h.ReadReg(d.Rs1), h.ReadReg(d.Rs2)))
	return nil
}

func execClmulr(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, clmulr(h.ReadReg(d.Rs1), h.ReadReg(d.Rs2)))
	return nil
}

// clmul computes the low 64 bits of the carry-less product of a and b.
func clmul(a, b uint64) uint64 {
	var result uint64
	for i := 0; i < 64; i++ {
		if (b>>i)&1 != 0 {
			result ^= a << i
		}
	}
	return result
}

// clmulh computes the high 64 bits of the 128-bit carry-less product.
func clmulh(a, b uint64) uint64 {
	var result uint64
	for i := 1; i < 64; i++ {
		if (b>>i)&1 != 0 {
			result ^= a >> (64 - i)
		}
	}
	return result
}

// clmulr computes the "reversed" carry-less product: bit-reverse both
// operands, carry-less multiply, bit-reverse the result.
func clmulr(a, b uint64) uint64 {
	return bits.Reverse64(clmul(bits.Reverse64(a), bits.Reverse64(b)))
}
