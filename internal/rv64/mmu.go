package rv64

// Sv39 page table constants.
const (
	pageShift  = 12
	pageSize   = 1 << pageShift
	ptesPerPTE = 512
	sv39Levels = 3
)

// PTE bit layout.
const (
	pteV uint64 = 1 << 0
	pteR uint64 = 1 << 1
	pteW uint64 = 1 << 2
	pteX uint64 = 1 << 3
	pteU uint64 = 1 << 4
	pteG uint64 = 1 << 5
	pteA uint64 = 1 << 6
	pteD uint64 = 1 << 7
)

// satp MODE field, Sv39 encoding.
const satpModeSv39 = 8

// TLBEntries is the number of associatively-scanned software TLB slots per
// hart, per spec §4.8 (explicitly not a hashed/indexed array).
const TLBEntries = 32

// TLBEntry caches one Sv39 translation: VPN, its resolved PPN, the leaf
// PTE's permission bits, and the ASID it was created under.
type TLBEntry struct {
	Valid bool
	VPN   uint64
	PPN   uint64
	Perm  uint64 // R/W/X/U bits copied from the leaf PTE
	Global bool
	ASID  uint64
}

func satpASID(satp uint64) uint64 { return (satp >> 44) & 0xFFFF }
func satpPPN(satp uint64) uint64  { return satp & 0x0FFF_FFFF_FFFF }
func satpMode(satp uint64) uint64 { return satp >> 60 }

func vpnOf(va uint64) uint64 { return (va >> pageShift) & 0x1F_FFFF_FFFF }

// tlbLookup scans the hart's TLB associatively (spec §4.8: no hashed index)
// for a VPN match valid for the current ASID or global.
func (h *Hart) tlbLookup(vpn, asid uint64) *TLBEntry {
	for i := range h.TLB {
		e := &h.TLB[i]
		if e.Valid && e.VPN == vpn && (e.Global || e.ASID == asid) {
			return e
		}
	}
	return nil
}

// tlbInsert installs a translation in the next slot of a round-robin victim
// counter (h.tlbVictim); recency of use is not tracked, and the structure
// stays a flat, unindexed array.
func (h *Hart) tlbInsert(vpn, ppn, perm, asid uint64, global bool) {
	victim := int(h.tlbVictim % TLBEntries)
	h.tlbVictim++
	h.TLB[victim] = TLBEntry{Valid: true, VPN: vpn, PPN: ppn, Perm: perm, Global: global, ASID: asid}
}

// FlushTLB implements SFENCE.VMA with no operands: a full associative flush.
func (h *Hart) FlushTLB() {
	for i := range h.TLB {
		h.TLB[i].Valid = false
	}
}

// FlushTLBAddr flushes entries whose VPN matches va (SFENCE.VMA rs1!=0).
func (h *Hart) FlushTLBAddr(va uint64) {
	vpn := vpnOf(va)
	for i := range h.TLB {
		if h.TLB[i].Valid && h.TLB[i].VPN == vpn {
			h.TLB[i].Valid = false
		}
	}
}

// FlushTLBASID flushes entries matching asid, leaving global entries intact.
// SFENCE.VMA does not use it: execSystem ignores rs2 and calls FlushTLB or
// FlushTLBAddr.
func (h *Hart) FlushTLBASID(asid uint64) {
	for i := range h.TLB {
		if h.TLB[i].Valid && !h.TLB[i].Global && h.TLB[i].ASID == asid {
			h.TLB[i].Valid = false
		}
	}
}

// mmuEnabled reports whether satp selects Sv39 paging for the given
// effective privilege (bare for M-mode always, regardless of satp).
func (h *Hart) mmuEnabled(effPriv uint8) bool {
	if effPriv == PrivMachine {
		return false
	}
	return satpMode(h.Satp) == satpModeSv39
}

// effectivePriv returns the privilege level a load/store should be checked
// against: Priv normally, or MSTATUS.MPP when MPRV is set and the access is
// not an instruction fetch (spec §4.8's MPRV composition rule).
func (h *Hart) effectivePriv(kind AccessKind) uint8 {
	if kind != AccessExecute && h.Mstatus&MstatusMPRV != 0 {
		return uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	}
	return h.Priv
}

// walkPageTable performs the 3-level Sv39 walk for va, returning the
// resolved PPN, the leaf PTE's permission+U bits and the leaf PTE's address,
// or fault=true if the walk fails.
func (h *Hart) walkPageTable(va uint64, kind AccessKind) (ppn uint64, perm uint64, pteAddr uint64, fault bool) {
	// Sv39 requires a valid sign extension of the 39-bit virtual address.
	if signExtend(va, 39) != int64(va) {
		return 0, 0, 0, true
	}

	a := satpPPN(h.Satp) * pageSize
	vpn := [3]uint64{
		(va >> 12) & 0x1FF,
		(va >> 21) & 0x1FF,
		(va >> 30) & 0x1FF,
	}

	var pte uint64
	var addr uint64
	level := sv39Levels - 1
	for {
		addr = a + vpn[level]*8
		raw, err := h.Bus.Read64(h.ID, addr)
		if err != nil {
			return 0, 0, 0, true
		}
		pte = raw

		if pte&pteV == 0 || (pte&pteR == 0 && pte&pteW != 0) {
			return 0, 0, 0, true
		}

		if pte&(pteR|pteX) != 0 {
			break // leaf
		}

		level--
		if level < 0 {
			return 0, 0, 0, true
		}
		a = ((pte >> 10) & 0x0FFF_FFFF_FFFF) * pageSize
	}

	// Superpage misalignment check: a leaf above level 0 must have its low
	// PPN fields zero.
	ppnFull := (pte >> 10) & 0x0FFF_FFFF_FFFF
	for l := 0; l < level; l++ {
		shift := uint(9 * (l + 1))
		if ppnFull&((1<<shift)-1) != 0 {
			return 0, 0, 0, true
		}
	}

	// Fill the low-order PPN bits from the va for a superpage.
	resolved := ppnFull
	for l := 0; l < level; l++ {
		mask := uint64(0x1FF) << uint(9*l)
		resolved = (resolved &^ mask) | (vpn[l] << uint(9*l) & mask)
	}

	return resolved, pte & 0xFF, addr, false
}

func (h *Hart) checkPerm(perm uint64, kind AccessKind, priv uint8) bool {
	u := perm&pteU != 0
	if priv == PrivUser && !u {
		return false
	}
	if priv == PrivSupervisor && u && h.Mstatus&MstatusSUM == 0 && kind != AccessExecute {
		return false
	}
	switch kind {
	case AccessRead:
		if perm&pteR != 0 {
			return true
		}
		if perm&pteX != 0 && h.Mstatus&MstatusMXR != 0 {
			return true
		}
		return false
	case AccessWrite:
		return perm&pteW != 0
	case AccessExecute:
		if priv == PrivSupervisor && u {
			return false
		}
		return perm&pteX != 0
	}
	return false
}

func pageFaultCause(kind AccessKind) uint64 {
	switch kind {
	case AccessRead:
		return CauseLoadPageFault
	case AccessWrite:
		return CauseStorePageFault
	default:
		return CauseInsnPageFault
	}
}

func accessFaultCause(kind AccessKind) uint64 {
	switch kind {
	case AccessRead:
		return CauseLoadAccessFault
	case AccessWrite:
		return CauseStoreAccessFault
	default:
		return CauseInsnAccessFault
	}
}

// Translate resolves va to a physical address for the given access kind,
// consulting/filling the TLB and applying PMP on every walk, per spec §4.8
// (MMU) composed with §4.7 (PMP): a PMP check always follows a successful
// walk (or is the whole check when paging is bare).
func (h *Hart) Translate(va uint64, size uint64, kind AccessKind) (uint64, error) {
	priv := h.effectivePriv(kind)

	if !h.mmuEnabled(priv) {
		pa := va
		if !h.PMP.Check(pa, size, priv, kind) {
			return 0, Exception(accessFaultCause(kind), va)
		}
		return pa, nil
	}

	vpn := vpnOf(va)
	asid := satpASID(h.Satp)
	pageOff := va & (pageSize - 1)

	if e := h.tlbLookup(vpn, asid); e != nil {
		if !h.checkPerm(e.Perm, kind, priv) {
			return 0, Exception(pageFaultCause(kind), va)
		}
		if kind == AccessWrite && e.Perm&pteD == 0 {
			return 0, Exception(pageFaultCause(kind), va)
		}
		pa := (e.PPN << pageShift) | pageOff
		if !h.PMP.Check(pa, size, priv, kind) {
			return 0, Exception(accessFaultCause(kind), va)
		}
		return pa, nil
	}

	ppn, perm, _, fault := h.walkPageTable(va, kind)
	if fault {
		return 0, Exception(pageFaultCause(kind), va)
	}
	if !h.checkPerm(perm, kind, priv) {
		return 0, Exception(pageFaultCause(kind), va)
	}

	// A/D are software-managed per spec §4.8: a leaf with A clear, or a
	// store against a leaf with D clear, page-faults instead of the
	// hardware auto-setting the bits.
	if perm&pteA == 0 || (kind == AccessWrite && perm&pteD == 0) {
		return 0, Exception(pageFaultCause(kind), va)
	}

	h.tlbInsert(vpn, ppn, perm, asid, perm&pteG != 0)

	pa := (ppn << pageShift) | pageOff
	if !h.PMP.Check(pa, size, priv, kind) {
		return 0, Exception(accessFaultCause(kind), va)
	}
	return pa, nil
}
