package rv64

// Step executes a single instruction on hart h: interrupt check, fetch
// (with compressed expansion and decode-cache lookup), execute, trap
// delivery, and counter updates.
func (h *Hart) Step() {
	if h.WFI {
		if cause, pending := h.PendingInterrupt(); pending {
			h.WFI = false
			h.Trap(cause, 0, true)
		}
		return
	}

	if cause, pending := h.PendingInterrupt(); pending {
		h.Trap(cause, 0, true)
		return
	}

	pc := h.PC
	h.branched = false
	d, err := h.fetchDecodeCached(pc, func() (uint32, uint8, error) {
		return h.fetchInsn(pc)
	})
	if err != nil {
		if te, ok := err.(*TrapError); ok {
			h.Trap(te.Cause, te.Tval, te.IsInterrupt)
			return
		}
		h.Trap(CauseInsnAccessFault, pc, false)
		return
	}
	if !d.Valid {
		h.Trap(CauseIllegalInsn, uint64(d.Raw), false)
		return
	}

	err = d.Op(h, &d)
	if err != nil {
		if te, ok := err.(*TrapError); ok {
			h.Trap(te.Cause, te.Tval, te.IsInterrupt)
			return
		}
		h.Trap(CauseIllegalInsn, uint64(d.Raw), false)
		return
	}

	if !h.branched {
		h.PC = pc + uint64(d.Size)
	}

	h.Cycle++
	h.Instret++
}

// fetchInsn reads the instruction word at pc, translating through the MMU
// and transparently expanding a 16-bit compressed encoding. It returns the
// (possibly expanded) 32-bit word and its original size (2 or 4).
func (h *Hart) fetchInsn(pc uint64) (uint32, uint8, error) {
	if pc&1 != 0 {
		return 0, 0, Exception(CauseInsnAddrMisaligned, pc)
	}

	paLow, err := h.Translate(pc, 2, AccessExecute)
	if err != nil {
		return 0, 0, err
	}
	low, err := h.Bus.Read16(h.ID, paLow)
	if err != nil {
		return 0, 0, Exception(CauseInsnAccessFault, pc)
	}

	if low&0x3 != 0x3 {
		expanded, err := ExpandCompressed(low)
		if err != nil {
			return 0, 0, err
		}
		return expanded, 2, nil
	}

	paHigh, err := h.Translate(pc+2, 2, AccessExecute)
	if err != nil {
		return 0, 0, err
	}
	high, err := h.Bus.Read16(h.ID, paHigh)
	if err != nil {
		return 0, 0, Exception(CauseInsnAccessFault, pc)
	}

	return uint32(low) | uint32(high)<<16, 4, nil
}
