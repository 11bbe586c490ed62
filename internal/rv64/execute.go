package rv64

import "fmt"

func execLui(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(d.Imm))
	return nil
}

func execAuipc(h *Hart, d *Decoded) error {
	h.WriteReg(d.Rd, uint64(int64(d.PC)+d.Imm))
	return nil
}

func execJal(h *Hart, d *Decoded) error {
	target := uint64(int64(d.PC) + d.Imm)
	h.WriteReg(d.Rd, d.PC+uint64(d.Size))
	h.PC = target
	h.branched = true
	return nil
}

func execJalr(h *Hart, d *Decoded) error {
	target := uint64(int64(h.ReadReg(d.Rs1))+d.Imm) &^ 1
	h.WriteReg(d.Rd, d.PC+uint64(d.Size))
	h.PC = target
	h.branched = true
	return nil
}

func execBranch(h *Hart, d *Decoded) error {
	r1 := h.ReadReg(d.Rs1)
	r2 := h.ReadReg(d.Rs2)

	var taken bool
	switch d.Funct3 {
	case 0b000: // BEQ
		taken = r1 == r2
	case 0b001: // BNE
		taken = r1 != r2
	case 0b100: // BLT
		taken = int64(r1) < int64(r2)
	case 0b101: // BGE
		taken = int64(r1) >= int64(r2)
	case 0b110: // BLTU
		taken = r1 < r2
	case 0b111: // BGEU
		taken = r1 >= r2
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	if taken {
		target := uint64(int64(d.PC) + d.Imm)
		if target&1 != 0 {
			return Exception(CauseInsnAddrMisaligned, target)
		}
		h.PC = target
		h.branched = true
	}
	return nil
}

func execLoad(h *Hart, d *Decoded) error {
	va := uint64(int64(h.ReadReg(d.Rs1)) + d.Imm)

	var size uint64
	switch d.Funct3 {
	case 0b000, 0b100: // LB, LBU
		size = 1
	case 0b001, 0b101: // LH, LHU
		size = 2
	case 0b010, 0b110: // LW, LWU
		size = 4
	case 0b011: // LD
		size = 8
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	if va&(size-1) != 0 {
		return Exception(CauseLoadAddrMisaligned, va)
	}

	pa, err := h.Translate(va, size, AccessRead)
	if err != nil {
		return err
	}

	var val uint64
	switch d.Funct3 {
	case 0b000: // LB
		v, e := h.Bus.Read8(h.ID, pa)
		val, err = uint64(int8(v)), e
	case 0b001: // LH
		v, e := h.Bus.Read16(h.ID, pa)
		val, err = uint64(int16(v)), e
	case 0b010: // LW
		v, e := h.Bus.Read32(h.ID, pa)
		val, err = uint64(int32(v)), e
	case 0b011: // LD
		val, err = h.Bus.Read64(h.ID, pa)
	case 0b100: // LBU
		v, e := h.Bus.Read8(h.ID, pa)
		val, err = uint64(v), e
	case 0b101: // LHU
		v, e := h.Bus.Read16(h.ID, pa)
		val, err = uint64(v), e
	case 0b110: // LWU
		v, e := h.Bus.Read32(h.ID, pa)
		val, err = uint64(v), e
	}
	if err != nil {
		return Exception(CauseLoadAccessFault, va)
	}

	h.WriteReg(d.Rd, val)
	return nil
}

func execStore(h *Hart, d *Decoded) error {
	va := uint64(int64(h.ReadReg(d.Rs1)) + d.Imm)
	val := h.ReadReg(d.Rs2)

	var size uint64
	switch d.Funct3 {
	case 0b000:
		size = 1
	case 0b001:
		size = 2
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	if va&(size-1) != 0 {
		return Exception(CauseStoreAddrMisaligned, va)
	}

	pa, err := h.Translate(va, size, AccessWrite)
	if err != nil {
		return err
	}

	switch d.Funct3 {
	case 0b000:
		err = h.Bus.Write8(h.ID, pa, uint8(val))
	case 0b001:
		err = h.Bus.Write16(h.ID, pa, uint16(val))
	case 0b010:
		err = h.Bus.Write32(h.ID, pa, uint32(val))
	case 0b011:
		err = h.Bus.Write64(h.ID, pa, val)
	}
	if err != nil {
		return Exception(CauseStoreAccessFault, va)
	}
	return nil
}

func execOpImmBase(h *Hart, d *Decoded) error {
	r1 := h.ReadReg(d.Rs1)
	sh := shamt(d.Raw)

	var val uint64
	switch d.Funct3 {
	case 0b000: // ADDI
		val = uint64(int64(r1) + d.Imm)
	case 0b001: // SLLI
		val = r1 << sh
	case 0b010: // SLTI
		if int64(r1) < d.Imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint64(d.Imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint64(d.Imm)
	case 0b101: // SRLI/SRAI
		if (d.Raw>>30)&1 == 1 {
			val = uint64(int64(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110: // ORI
		val = r1 | uint64(d.Imm)
	case 0b111: // ANDI
		val = r1 & uint64(d.Imm)
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	h.WriteReg(d.Rd, val)
	return nil
}

func execOpImm32Base(h *Hart, d *Decoded) error {
	r1 := uint32(h.ReadReg(d.Rs1))
	imm := int32(d.Imm)
	sh := shamt32(d.Raw)

	var val int32
	switch d.Funct3 {
	case 0b000: // ADDIW
		val = int32(r1) + imm
	case 0b001: // SLLIW
		val = int32(r1 << sh)
	case 0b101: // SRLIW/SRAIW
		if (d.Raw>>30)&1 == 1 {
			val = int32(r1) >> sh
		} else {
			val = int32(r1 >> sh)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	h.WriteReg(d.Rd, uint64(val))
	return nil
}

func execOpBase(h *Hart, d *Decoded) error {
	r1 := h.ReadReg(d.Rs1)
	r2 := h.ReadReg(d.Rs2)

	if d.Funct7 == 0b0000001 {
		return execOpM(h, d, r1, r2)
	}

	var val uint64
	switch d.Funct3 {
	case 0b000: // ADD/SUB
		if d.Funct7 == 0b0100000 {
			val = uint64(int64(r1) - int64(r2))
		} else {
			val = uint64(int64(r1) + int64(r2))
		}
	case 0b001: // SLL
		val = r1 << (r2 & 0x3f)
	case 0b010: // SLT
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b011: // SLTU
		if r1 < r2 {
			val = 1
		}
	case 0b100: // XOR
		val = r1 ^ r2
	case 0b101: // SRL/SRA
		if d.Funct7 == 0b0100000 {
			val = uint64(int64(r1) >> (r2 & 0x3f))
		} else {
			val = r1 >> (r2 & 0x3f)
		}
	case 0b110: // OR
		val = r1 | r2
	case 0b111: // AND
		val = r1 & r2
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	h.WriteReg(d.Rd, val)
	return nil
}

func execOpM(h *Hart, d *Decoded, r1, r2 uint64) error {
	var val uint64
	switch d.Funct3 {
	case 0b000: // MUL
		val = uint64(int64(r1) * int64(r2))
	case 0b001: // MULH
		hi, _ := mulh64(int64(r1), int64(r2))
		val = uint64(hi)
	case 0b010: // MULHSU
		hi, _ := mulhsu64(int64(r1), r2)
		val = uint64(hi)
	case 0b011: // MULHU
		hi, _ := mulhu64(r1, r2)
		val = hi
	case 0b100: // DIV
		if r2 == 0 {
			val = ^uint64(0)
		} else if r1 == uint64(1<<63) && r2 == ^uint64(0) {
			val = r1
		} else {
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110: // REM
		if r2 == 0 {
			val = r1
		} else if r1 == uint64(1<<63) && r2 == ^uint64(0) {
			val = 0
		} else {
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}
	h.WriteReg(d.Rd, val)
	return nil
}

func execOp32Base(h *Hart, d *Decoded) error {
	r1 := uint32(h.ReadReg(d.Rs1))
	r2 := uint32(h.ReadReg(d.Rs2))

	if d.Funct7 == 0b0000001 {
		return execOp32M(h, d, r1, r2)
	}

	var val int32
	switch d.Funct3 {
	case 0b000: // ADDW/SUBW
		if d.Funct7 == 0b0100000 {
			val = int32(r1) - int32(r2)
		} else {
			val = int32(r1) + int32(r2)
		}
	case 0b001: // SLLW
		val = int32(r1 << (r2 & 0x1f))
	case 0b101: // SRLW/SRAW
		if d.Funct7 == 0b0100000 {
			val = int32(r1) >> (r2 & 0x1f)
		} else {
			val = int32(r1 >> (r2 & 0x1f))
		}
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	h.WriteReg(d.Rd, uint64(val))
	return nil
}

func execOp32M(h *Hart, d *Decoded, r1, r2 uint32) error {
	var val int32
	switch d.Funct3 {
	case 0b000: // MULW
		val = int32(r1) * int32(r2)
	case 0b100: // DIVW
		if r2 == 0 {
			val = -1
		} else if r1 == uint32(1<<31) && r2 == ^uint32(0) {
			val = int32(r1)
		} else {
			val = int32(r1) / int32(r2)
		}
	case 0b101: // DIVUW
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110: // REMW
		if r2 == 0 {
			val = int32(r1)
		} else if r1 == uint32(1<<31) && r2 == ^uint32(0) {
			val = 0
		} else {
			val = int32(r1) % int32(r2)
		}
	case 0b111: // REMUW
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}
	h.WriteReg(d.Rd, uint64(val))
	return nil
}

func execMiscMem(h *Hart, d *Decoded) error {
	switch d.Funct3 {
	case 0b000: // FENCE
	case 0b001: // FENCE.I
		h.InvalidateDecodeCache()
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}
	return nil
}

func mulhu64(a, b uint64) (uint64, uint64) {
	const mask32 = 0xFFFFFFFF
	a0 := a & mask32
	a1 := a >> 32
	b0 := b & mask32
	b1 := b >> 32

	p0 := a0 * b0
	p1 := a0 * b1
	p2 := a1 * b0
	p3 := a1 * b1

	carry := ((p0 >> 32) + (p1 & mask32) + (p2 & mask32)) >> 32
	hi := p3 + (p1 >> 32) + (p2 >> 32) + carry
	lo := a * b
	return hi, lo
}

func mulh64(a, b int64) (int64, uint64) {
	negResult := (a < 0) != (b < 0)
	ua := uint64(a)
	ub := uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}

	hi, lo := mulhu64(ua, ub)

	if negResult {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

func mulhsu64(a int64, b uint64) (int64, uint64) {
	negResult := a < 0
	ua := uint64(a)
	if a < 0 {
		ua = uint64(-a)
	}

	hi, lo := mulhu64(ua, b)

	if negResult {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

func execSystem(h *Hart, d *Decoded) error {
	csr := uint16(d.Raw >> 20)

	if d.Funct3 == 0 {
		switch d.Raw {
		case 0x00000073: // ECALL
			return handleEcall(h)
		case 0x00100073: // EBREAK
			return Exception(CauseBreakpoint, h.PC)
		case 0x30200073: // MRET
			return h.MRET()
		case 0x10200073: // SRET
			return h.SRET()
		case 0x10500073: // WFI
			h.WFI = true
			return nil
		default:
			if (d.Raw >> 25) == 0b0001001 { // SFENCE.VMA
				rs1 := d.Rs1
				rs2 := d.Rs2
				if rs1 == 0 {
					h.FlushTLB()
				} else {
					h.FlushTLBAddr(h.ReadReg(rs1))
				}
				_ = rs2
				h.InvalidateDecodeCache()
				return nil
			}
			return Exception(CauseIllegalInsn, uint64(d.Raw))
		}
	}

	var writeVal uint64
	var doWrite bool

	rs1Val := h.ReadReg(d.Rs1)
	if d.Funct3 >= 5 {
		rs1Val = uint64(d.Rs1) // immediate forms pack a 5-bit zero-extended imm in rs1
	}

	csrVal, err := h.ReadCSR(csr)
	if err != nil {
		return err
	}

	switch d.Funct3 & 3 {
	case 1: // CSRRW(I)
		writeVal = rs1Val
		doWrite = true
	case 2: // CSRRS(I)
		writeVal = csrVal | rs1Val
		doWrite = d.Rs1 != 0
	case 3: // CSRRC(I)
		writeVal = csrVal &^ rs1Val
		doWrite = d.Rs1 != 0
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	if doWrite {
		if err := h.WriteCSR(csr, writeVal); err != nil {
			return err
		}
	}

	h.WriteReg(d.Rd, csrVal)
	return nil
}

func handleEcall(h *Hart) error {
	switch h.Priv {
	case PrivUser:
		return Exception(CauseEcallFromU, 0)
	case PrivSupervisor:
		return Exception(CauseEcallFromS, 0)
	case PrivMachine:
		return Exception(CauseEcallFromM, 0)
	default:
		return fmt.Errorf("invalid privilege level: %d", h.Priv)
	}
}
