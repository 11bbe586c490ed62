package rv64

import "math"

// Rounding modes (frm / the funct3 field of an OP-FP encoding).
const (
	RoundNearestEven = 0
	RoundToZero      = 1
	RoundDown        = 2
	RoundUp          = 3
	RoundNearestMax  = 4
	RoundDynamic     = 7
)

// Accrued floating-point exception flags (fflags).
const (
	FlagNX = 1 << 0
	FlagUF = 1 << 1
	FlagOF = 1 << 2
	FlagDZ = 1 << 3
	FlagNV = 1 << 4
)

func f32ToU64(f float32) uint64 {
	return 0xffffffff00000000 | uint64(math.Float32bits(f))
}

func u64ToF32(val uint64) float32 {
	if (val >> 32) != 0xffffffff {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(val))
}

func f64ToU64(f float64) uint64 { return math.Float64bits(f) }
func u64ToF64(val uint64) float64 { return math.Float64frombits(val) }

// setFS marks the F/D register file dirty in mstatus.FS, and sets SD when
// dirty (spec's ambient FS-tracking carried from the teacher's mstatus
// layout).
func (h *Hart) setFS(state uint64) {
	h.Mstatus = (h.Mstatus &^ MstatusFS) | (state << MstatusFSShift)
	if state == 3 {
		h.Mstatus |= MstatusSD
	}
}

func execLoadFP(h *Hart, d *Decoded) error {
	va := uint64(int64(h.ReadReg(d.Rs1)) + d.Imm)

	switch d.Funct3 {
	case 0b010: // FLW
		pa, err := h.Translate(va, 4, AccessRead)
		if err != nil {
			return err
		}
		val, err := h.Bus.Read32(h.ID, pa)
		if err != nil {
			return Exception(CauseLoadAccessFault, va)
		}
		h.F[d.Rd] = f32ToU64(math.Float32frombits(val))
		h.setFS(3)
	case 0b011: // FLD
		pa, err := h.Translate(va, 8, AccessRead)
		if err != nil {
			return err
		}
		val, err := h.Bus.Read64(h.ID, pa)
		if err != nil {
			return Exception(CauseLoadAccessFault, va)
		}
		h.F[d.Rd] = val
		h.setFS(3)
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}
	return nil
}

func execStoreFP(h *Hart, d *Decoded) error {
	va := uint64(int64(h.ReadReg(d.Rs1)) + d.Imm)

	switch d.Funct3 {
	case 0b010: // FSW
		pa, err := h.Translate(va, 4, AccessWrite)
		if err != nil {
			return err
		}
		if err := h.Bus.Write32(h.ID, pa, uint32(h.F[d.Rs2])); err != nil {
			return Exception(CauseStoreAccessFault, va)
		}
	case 0b011: // FSD
		pa, err := h.Translate(va, 8, AccessWrite)
		if err != nil {
			return err
		}
		if err := h.Bus.Write64(h.ID, pa, h.F[d.Rs2]); err != nil {
			return Exception(CauseStoreAccessFault, va)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}
	return nil
}

func execOpFP(h *Hart, d *Decoded) error {
	f3 := d.Funct3
	isDouble := (d.Funct7 & 1) == 1

	switch d.Funct7 >> 2 {
	case 0b00000: // FADD
		if isDouble {
			h.F[d.Rd] = f64ToU64(u64ToF64(h.F[d.Rs1]) + u64ToF64(h.F[d.Rs2]))
		} else {
			h.F[d.Rd] = f32ToU64(u64ToF32(h.F[d.Rs1]) + u64ToF32(h.F[d.Rs2]))
		}
		h.setFS(3)

	case 0b00001: // FSUB
		if isDouble {
			h.F[d.Rd] = f64ToU64(u64ToF64(h.F[d.Rs1]) - u64ToF64(h.F[d.Rs2]))
		} else {
			h.F[d.Rd] = f32ToU64(u64ToF32(h.F[d.Rs1]) - u64ToF32(h.F[d.Rs2]))
		}
		h.setFS(3)

	case 0b00010: // FMUL
		if isDouble {
			h.F[d.Rd] = f64ToU64(u64ToF64(h.F[d.Rs1]) * u64ToF64(h.F[d.Rs2]))
		} else {
			h.F[d.Rd] = f32ToU64(u64ToF32(h.F[d.Rs1]) * u64ToF32(h.F[d.Rs2]))
		}
		h.setFS(3)

	case 0b00011: // FDIV
		if isDouble {
			h.F[d.Rd] = f64ToU64(u64ToF64(h.F[d.Rs1]) / u64ToF64(h.F[d.Rs2]))
		} else {
			h.F[d.Rd] = f32ToU64(u64ToF32(h.F[d.Rs1]) / u64ToF32(h.F[d.Rs2]))
		}
		h.setFS(3)

	case 0b01011: // FSQRT
		if isDouble {
			h.F[d.Rd] = f64ToU64(math.Sqrt(u64ToF64(h.F[d.Rs1])))
		} else {
			h.F[d.Rd] = f32ToU64(float32(math.Sqrt(float64(u64ToF32(h.F[d.Rs1])))))
		}
		h.setFS(3)

	case 0b00100: // FSGNJ/FSGNJN/FSGNJX
		if isDouble {
			a, b := h.F[d.Rs1], h.F[d.Rs2]
			signB := b & (1 << 63)
			switch f3 {
			case 0b000:
				h.F[d.Rd] = (a &^ (1 << 63)) | signB
			case 0b001:
				h.F[d.Rd] = (a &^ (1 << 63)) | (^signB & (1 << 63))
			case 0b010:
				h.F[d.Rd] = (a &^ (1 << 63)) | ((a & (1 << 63)) ^ signB)
			default:
				return Exception(CauseIllegalInsn, uint64(d.Raw))
			}
		} else {
			a, b := uint32(h.F[d.Rs1]), uint32(h.F[d.Rs2])
			signB := b & (1 << 31)
			var result uint32
			switch f3 {
			case 0b000:
				result = (a &^ (1 << 31)) | signB
			case 0b001:
				result = (a &^ (1 << 31)) | (^signB & (1 << 31))
			case 0b010:
				result = (a &^ (1 << 31)) | ((a & (1 << 31)) ^ signB)
			default:
				return Exception(CauseIllegalInsn, uint64(d.Raw))
			}
			h.F[d.Rd] = f32ToU64(math.Float32frombits(result))
		}
		h.setFS(3)

	case 0b00101: // FMIN/FMAX
		if isDouble {
			a, b := u64ToF64(h.F[d.Rs1]), u64ToF64(h.F[d.Rs2])
			if f3 == 0b000 {
				h.F[d.Rd] = f64ToU64(math.Min(a, b))
			} else {
				h.F[d.Rd] = f64ToU64(math.Max(a, b))
			}
		} else {
			a, b := float64(u64ToF32(h.F[d.Rs1])), float64(u64ToF32(h.F[d.Rs2]))
			if f3 == 0b000 {
				h.F[d.Rd] = f32ToU64(float32(math.Min(a, b)))
			} else {
				h.F[d.Rd] = f32ToU64(float32(math.Max(a, b)))
			}
		}
		h.setFS(3)

	case 0b10100: // FEQ/FLT/FLE
		var result uint64
		if isDouble {
			a, b := u64ToF64(h.F[d.Rs1]), u64ToF64(h.F[d.Rs2])
			result = fcompare(f3, a, b)
		} else {
			a, b := u64ToF32(h.F[d.Rs1]), u64ToF32(h.F[d.Rs2])
			result = fcompare(f3, float64(a), float64(b))
		}
		h.WriteReg(d.Rd, result)

	case 0b11000: // FCVT.W/WU/L/LU.S/D
		var result int64
		if isDouble {
			a := u64ToF64(h.F[d.Rs1])
			switch d.Rs2 {
			case 0b00000:
				result = int64(int32(a))
			case 0b00001:
				result = int64(int32(uint32(a)))
			case 0b00010:
				result = int64(a)
			case 0b00011:
				result = int64(uint64(a))
			default:
				return Exception(CauseIllegalInsn, uint64(d.Raw))
			}
		} else {
			a := u64ToF32(h.F[d.Rs1])
			switch d.Rs2 {
			case 0b00000:
				result = int64(int32(a))
			case 0b00001:
				result = int64(int32(uint32(a)))
			case 0b00010:
				result = int64(a)
			case 0b00011:
				result = int64(uint64(a))
			default:
				return Exception(CauseIllegalInsn, uint64(d.Raw))
			}
		}
		h.WriteReg(d.Rd, uint64(result))

	case 0b11010: // FCVT.S/D.W/WU/L/LU
		if isDouble {
			var result float64
			switch d.Rs2 {
			case 0b00000:
				result = float64(int32(h.ReadReg(d.Rs1)))
			case 0b00001:
				result = float64(uint32(h.ReadReg(d.Rs1)))
			case 0b00010:
				result = float64(int64(h.ReadReg(d.Rs1)))
			case 0b00011:
				result = float64(h.ReadReg(d.Rs1))
			default:
				return Exception(CauseIllegalInsn, uint64(d.Raw))
			}
			h.F[d.Rd] = f64ToU64(result)
		} else {
			var result float32
			switch d.Rs2 {
			case 0b00000:
				result = float32(int32(h.ReadReg(d.Rs1)))
			case 0b00001:
				result = float32(uint32(h.ReadReg(d.Rs1)))
			case 0b00010:
				result = float32(int64(h.ReadReg(d.Rs1)))
			case 0b00011:
				result = float32(h.ReadReg(d.Rs1))
			default:
				return Exception(CauseIllegalInsn, uint64(d.Raw))
			}
			h.F[d.Rd] = f32ToU64(result)
		}
		h.setFS(3)

	case 0b11100: // FMV.X.W/D, FCLASS
		switch f3 {
		case 0b000:
			if isDouble {
				h.WriteReg(d.Rd, h.F[d.Rs1])
			} else {
				h.WriteReg(d.Rd, uint64(int32(h.F[d.Rs1])))
			}
		case 0b001:
			if isDouble {
				h.WriteReg(d.Rd, classifyF64(u64ToF64(h.F[d.Rs1])))
			} else {
				h.WriteReg(d.Rd, classifyF32(u64ToF32(h.F[d.Rs1])))
			}
		default:
			return Exception(CauseIllegalInsn, uint64(d.Raw))
		}

	case 0b11110: // FMV.W/D.X
		if isDouble {
			h.F[d.Rd] = h.ReadReg(d.Rs1)
		} else {
			h.F[d.Rd] = f32ToU64(math.Float32frombits(uint32(h.ReadReg(d.Rs1))))
		}
		h.setFS(3)

	case 0b01000: // FCVT.S.D / FCVT.D.S
		if isDouble {
			h.F[d.Rd] = f64ToU64(float64(u64ToF32(h.F[d.Rs1])))
		} else {
			h.F[d.Rd] = f32ToU64(float32(u64ToF64(h.F[d.Rs1])))
		}
		h.setFS(3)

	default:
		return Exception(CauseIllegalInsn, uint64(d.Raw))
	}

	return nil
}

func fcompare(f3 uint32, a, b float64) uint64 {
	switch f3 {
	case 0b010: // FEQ
		if a == b {
			return 1
		}
	case 0b001: // FLT
		if a < b {
			return 1
		}
	case 0b000: // FLE
		if a <= b {
			return 1
		}
	}
	return 0
}

// execFMA dispatches the four fused multiply-add opcodes (OpMadd/OpMsub/
// OpNmsub/OpNmadd), which share funct2's low bit for single/double select.
func execFMA(h *Hart, d *Decoded) error {
	op := opcode(d.Raw)
	double := funct2(d.Raw)&1 == 1

	if double {
		a, b, c := u64ToF64(h.F[d.Rs1]), u64ToF64(h.F[d.Rs2]), u64ToF64(h.F[d.Rs3])
		var result float64
		switch op {
		case OpMadd:
			result = a*b + c
		case OpMsub:
			result = a*b - c
		case OpNmsub:
			result = -(a * b) + c
		case OpNmadd:
			result = -(a * b) - c
		}
		h.F[d.Rd] = f64ToU64(result)
	} else {
		a, b, c := u64ToF32(h.F[d.Rs1]), u64ToF32(h.F[d.Rs2]), u64ToF32(h.F[d.Rs3])
		var result float32
		switch op {
		case OpMadd:
			result = a*b + c
		case OpMsub:
			result = a*b - c
		case OpNmsub:
			result = -(a * b) + c
		case OpNmadd:
			result = -(a * b) - c
		}
		h.F[d.Rd] = f32ToU64(result)
	}

	h.setFS(3)
	return nil
}

func classifyF32(f float32) uint64 {
	bits := math.Float32bits(f)
	sign := bits >> 31
	exp := (bits >> 23) & 0xff
	frac := bits & 0x7fffff

	if exp == 0xff {
		if frac != 0 {
			if frac&(1<<22) != 0 {
				return 1 << 9
			}
			return 1 << 8
		}
		if sign != 0 {
			return 1 << 0
		}
		return 1 << 7
	}
	if exp == 0 {
		if frac == 0 {
			if sign != 0 {
				return 1 << 3
			}
			return 1 << 4
		}
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	}
	if sign != 0 {
		return 1 << 1
	}
	return 1 << 6
}

func classifyF64(f float64) uint64 {
	bits := math.Float64bits(f)
	sign := bits >> 63
	exp := (bits >> 52) & 0x7ff
	frac := bits & 0xfffffffffffff

	if exp == 0x7ff {
		if frac != 0 {
			if frac&(1<<51) != 0 {
				return 1 << 9
			}
			return 1 << 8
		}
		if sign != 0 {
			return 1 << 0
		}
		return 1 << 7
	}
	if exp == 0 {
		if frac == 0 {
			if sign != 0 {
				return 1 << 3
			}
			return 1 << 4
		}
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	}
	if sign != 0 {
		return 1 << 1
	}
	return 1 << 6
}
