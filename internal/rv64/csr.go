package rv64

// csrMinPriv extracts the privilege class encoded in a CSR address's bits
// [9:8], the standard RISC-V convention this hart enforces on every access.
func csrMinPriv(addr uint16) uint8 {
	return uint8((addr >> 8) & 0x3)
}

// csrReadOnly reports whether a CSR address's bits [11:10] mark it
// read-only (both bits set).
func csrReadOnly(addr uint16) bool {
	return (addr>>10)&0x3 == 0x3
}

func (h *Hart) checkCSRAccess(addr uint16, write bool) error {
	if write && csrReadOnly(addr) {
		return Exception(CauseIllegalInsn, 0)
	}
	if h.Priv < csrMinPriv(addr) {
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

// checkCounterEnable gates a read of cycle/time/instret (bit selects which
// of mcounteren/scounteren's CY/TM/IR bits applies) per spec §4.3: M always
// passes, S and U additionally need the mcounteren bit, and U further needs
// the scounteren bit.
func (h *Hart) checkCounterEnable(bit uint64) error {
	if h.Priv == PrivMachine {
		return nil
	}
	if h.Mcounteren&(1<<bit) == 0 {
		return Exception(CauseIllegalInsn, 0)
	}
	if h.Priv == PrivUser && h.Scounteren&(1<<bit) == 0 {
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

// ReadCSR reads a CSR by address, applying masked views (sstatus/sip/sie)
// and privilege checks per spec §4.4.
func (h *Hart) ReadCSR(addr uint16) (uint64, error) {
	if err := h.checkCSRAccess(addr, false); err != nil {
		return 0, err
	}
	switch addr {
	case CSRFflags:
		return uint64(h.Fflags), nil
	case CSRFrm:
		return uint64(h.Frm), nil
	case CSRFcsr:
		return uint64(h.Frm)<<5 | uint64(h.Fflags), nil
	case CSRCycle:
		if err := h.checkCounterEnable(0); err != nil {
			return 0, err
		}
		return h.Cycle, nil
	case CSRTime:
		if err := h.checkCounterEnable(1); err != nil {
			return 0, err
		}
		return h.Bus.ReadMTime(), nil
	case CSRInstret:
		if err := h.checkCounterEnable(2); err != nil {
			return 0, err
		}
		return h.Instret, nil

	case CSRSstatus:
		return h.Mstatus & SstatusMask, nil
	case CSRSie:
		return h.Mie & SipSieMask, nil
	case CSRStvec:
		return h.Stvec, nil
	case CSRScounteren:
		return h.Scounteren, nil
	case CSRSscratch:
		return h.Sscratch, nil
	case CSRSepc:
		return h.Sepc, nil
	case CSRScause:
		return h.Scause, nil
	case CSRStval:
		return h.Stval, nil
	case CSRSip:
		return h.Mip & SipSieMask, nil
	case CSRStimecmp:
		return h.Stimecmp, nil
	case CSRSatp:
		if h.Priv == PrivSupervisor && h.Mstatus&MstatusTVM != 0 {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return h.Satp, nil

	case CSRMstatus:
		return h.Mstatus, nil
	case CSRMisa:
		return h.Misa, nil
	case CSRMedeleg:
		return h.Medeleg, nil
	case CSRMideleg:
		return h.Mideleg, nil
	case CSRMie:
		return h.Mie, nil
	case CSRMtvec:
		return h.Mtvec, nil
	case CSRMcounteren:
		return h.Mcounteren, nil
	case CSRMscratch:
		return h.Mscratch, nil
	case CSRMepc:
		return h.Mepc, nil
	case CSRMcause:
		return h.Mcause, nil
	case CSRMtval:
		return h.Mtval, nil
	case CSRMip:
		return h.Mip, nil

	case CSRMvendorid, CSRMarchid, CSRMimpid, CSRMconfigptr:
		return 0, nil
	case CSRMhartid:
		return h.ID, nil
	}

	if addr >= CSRPmpcfgBase && addr < CSRPmpcfgBase+16 {
		if addr%2 != 0 {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return h.PMP.ReadCfg(int(addr-CSRPmpcfgBase) / 2 * 2), nil
	}
	if addr >= CSRPmpaddrBase && addr < CSRPmpaddrBase+64 {
		return h.PMP.Addr[addr-CSRPmpaddrBase], nil
	}

	return 0, Exception(CauseIllegalInsn, 0)
}

// WriteCSR writes a CSR by address, masking WARL fields and honoring
// sstatus/sip/sie's restricted views per spec §4.4.
func (h *Hart) WriteCSR(addr uint16, value uint64) error {
	if err := h.checkCSRAccess(addr, true); err != nil {
		return err
	}
	switch addr {
	case CSRFflags:
		h.Fflags = uint8(value) & 0x1F
		return nil
	case CSRFrm:
		h.Frm = uint8(value) & 0x7
		return nil
	case CSRFcsr:
		h.Fflags = uint8(value) & 0x1F
		h.Frm = uint8(value>>5) & 0x7
		return nil

	case CSRSstatus:
		h.Mstatus = (h.Mstatus &^ SstatusMask) | (value & SstatusMask)
		return nil
	case CSRSie:
		h.Mie = (h.Mie &^ SipSieMask) | (value & SipSieMask)
		return nil
	case CSRStvec:
		h.Stvec = value &^ 0x2
		return nil
	case CSRScounteren:
		h.Scounteren = value & 0x7
		return nil
	case CSRSscratch:
		h.Sscratch = value
		return nil
	case CSRSepc:
		h.Sepc = value &^ 1
		return nil
	case CSRScause:
		h.Scause = value
		return nil
	case CSRStval:
		h.Stval = value
		return nil
	case CSRSip:
		h.Mip = (h.Mip &^ MipSSIP) | (value & MipSSIP)
		return nil
	case CSRStimecmp:
		h.Stimecmp = value
		return nil
	case CSRSatp:
		if h.Priv == PrivSupervisor && h.Mstatus&MstatusTVM != 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		mode := satpMode(value)
		if mode != 0 && mode != satpModeSv39 {
			return nil // WARL: reject unsupported modes by ignoring the write
		}
		h.Satp = value
		h.FlushTLB()
		return nil

	case CSRMstatus:
		h.Mstatus = value &^ (0x3 << 9) // reserved VS field stays zero
		return nil
	case CSRMisa:
		return nil // misa is read-only in this implementation
	case CSRMedeleg:
		h.Medeleg = value
		return nil
	case CSRMideleg:
		h.Mideleg = value
		return nil
	case CSRMie:
		h.Mie = value
		return nil
	case CSRMtvec:
		h.Mtvec = value &^ 0x2
		return nil
	case CSRMcounteren:
		h.Mcounteren = value & 0x7
		return nil
	case CSRMscratch:
		h.Mscratch = value
		return nil
	case CSRMepc:
		h.Mepc = value &^ 1
		return nil
	case CSRMcause:
		h.Mcause = value
		return nil
	case CSRMtval:
		h.Mtval = value
		return nil
	case CSRMip:
		const mMipWritable = MipSSIP | MipSEIP | MipSTIP
		h.Mip = (h.Mip &^ mMipWritable) | (value & mMipWritable)
		return nil

	case CSRMvendorid, CSRMarchid, CSRMimpid, CSRMhartid, CSRMconfigptr:
		return nil
	}

	if addr >= CSRPmpcfgBase && addr < CSRPmpcfgBase+16 {
		if addr%2 != 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		h.PMP.WriteCfg(int(addr-CSRPmpcfgBase)/2*2, value)
		return nil
	}
	if addr >= CSRPmpaddrBase && addr < CSRPmpaddrBase+64 {
		h.PMP.WriteAddr(int(addr-CSRPmpaddrBase), value)
		return nil
	}

	return Exception(CauseIllegalInsn, 0)
}

// PendingInterrupt implements spec §4.5's interrupt priority and
// delivery-eligibility rules: returns the cause to take (with InterruptBit
// set) and true if one is both pending+enabled and deliverable at the
// hart's current privilege.
func (h *Hart) PendingInterrupt() (uint64, bool) {
	pending := h.Mip & h.Mie
	if pending == 0 {
		return 0, false
	}

	// Machine-level interrupts, highest priority among enabled M-delegated
	// causes: MEI, MSI, MTI.
	order := []uint64{MipMEIP, MipMSIP, MipMTIP, MipSEIP, MipSSIP, MipSTIP}
	causeFor := map[uint64]uint64{
		MipMEIP: CauseMExternalInt, MipMSIP: CauseMSoftwareInt, MipMTIP: CauseMTimerInt,
		MipSEIP: CauseSExternalInt, MipSSIP: CauseSSoftwareInt, MipSTIP: CauseSTimerInt,
	}

	for _, bit := range order {
		if pending&bit == 0 {
			continue
		}
		delegated := h.Mideleg&bit != 0

		if !delegated {
			// Machine-handled interrupt: globally enabled in M only if
			// current mode is below M, or current mode is M and MIE set.
			if h.Priv == PrivMachine && h.Mstatus&MstatusMIE == 0 {
				continue
			}
			return causeFor[bit] | InterruptBit, true
		}

		// Delegated to S: only deliverable if current mode is below S, or
		// current mode is S and SIE set. Never taken while in M.
		if h.Priv == PrivMachine {
			continue
		}
		if h.Priv == PrivSupervisor && h.Mstatus&MstatusSIE == 0 {
			continue
		}
		return causeFor[bit] | InterruptBit, true
	}

	return 0, false
}

// Trap delivers a synchronous exception or asynchronous interrupt per spec
// §4.4: it picks M or S as the target mode via delegation, stacks
// status/privilege, and redirects pc through mtvec/stvec.
func (h *Hart) Trap(cause uint64, tval uint64, isInterrupt bool) {
	if isInterrupt {
		cause |= InterruptBit
	}
	rawCause := cause &^ InterruptBit

	toS := h.Priv != PrivMachine
	if toS {
		if isInterrupt {
			toS = h.Mideleg&(1<<rawCause) != 0
		} else {
			toS = h.Medeleg&(1<<rawCause) != 0
		}
	}

	prevPriv := h.Priv

	if toS {
		h.Scause = cause
		h.Stval = tval
		h.Sepc = h.PC
		if h.Mstatus&MstatusSIE != 0 {
			h.Mstatus |= MstatusSPIE
		} else {
			h.Mstatus &^= MstatusSPIE
		}
		h.Mstatus &^= MstatusSIE
		if prevPriv == PrivUser {
			h.Mstatus &^= MstatusSPP
		} else {
			h.Mstatus |= MstatusSPP
		}
		h.Priv = PrivSupervisor
		h.PC = vectoredTarget(h.Stvec, rawCause, isInterrupt)
		return
	}

	h.Mcause = cause
	h.Mtval = tval
	h.Mepc = h.PC
	if h.Mstatus&MstatusMIE != 0 {
		h.Mstatus |= MstatusMPIE
	} else {
		h.Mstatus &^= MstatusMPIE
	}
	h.Mstatus &^= MstatusMIE
	// MPP stores the full two-bit previous privilege, not just a U/S flag:
	// without this a trap from S to M and back would incorrectly resume in
	// U mode.
	h.Mstatus = (h.Mstatus &^ MstatusMPP) | (uint64(prevPriv) << MstatusMPPShift)
	h.Priv = PrivMachine
	h.PC = vectoredTarget(h.Mtvec, rawCause, isInterrupt)
}

func vectoredTarget(tvec uint64, cause uint64, isInterrupt bool) uint64 {
	base := tvec &^ 0x3
	mode := tvec & 0x3
	if isInterrupt && mode == 1 {
		return base + 4*cause
	}
	return base
}

// MRET returns from an M-mode trap handler per spec §4.4.
func (h *Hart) MRET() error {
	if h.Priv != PrivMachine {
		return Exception(CauseIllegalInsn, 0)
	}
	mpp := uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	if h.Mstatus&MstatusMPIE != 0 {
		h.Mstatus |= MstatusMIE
	} else {
		h.Mstatus &^= MstatusMIE
	}
	h.Mstatus |= MstatusMPIE
	h.Mstatus = (h.Mstatus &^ MstatusMPP) | (uint64(PrivUser) << MstatusMPPShift)
	if mpp != PrivMachine {
		h.Mstatus &^= MstatusMPRV
	}
	h.Priv = mpp
	h.PC = h.Mepc
	h.branched = true
	return nil
}

// SRET returns from an S-mode trap handler; illegal from U, and illegal
// from S itself when MSTATUS.TSR traps it to M, per spec §4.4.
func (h *Hart) SRET() error {
	if h.Priv == PrivUser {
		return Exception(CauseIllegalInsn, 0)
	}
	if h.Priv == PrivSupervisor && h.Mstatus&MstatusTSR != 0 {
		return Exception(CauseIllegalInsn, 0)
	}
	spp := uint8((h.Mstatus & MstatusSPP) >> MstatusSPPShift)
	if h.Mstatus&MstatusSPIE != 0 {
		h.Mstatus |= MstatusSIE
	} else {
		h.Mstatus &^= MstatusSIE
	}
	h.Mstatus |= MstatusSPIE
	h.Mstatus &^= MstatusSPP
	if spp != PrivMachine {
		h.Mstatus &^= MstatusMPRV
	}
	h.Priv = spp
	h.PC = h.Sepc
	h.branched = true
	return nil
}
