package rv64

import (
	"fmt"
	"sync"
)

// PLIC register region offsets, relative to PLICBase, per spec §4.11.
const (
	plicPriorityBase  = 0x000000
	plicPendingBase   = 0x001000
	plicEnableBase    = 0x002000
	plicEnableStride  = 0x80
	plicContextBase   = 0x200000
	plicContextStride = 0x1000
)

// PLICSources is the number of implemented interrupt sources (source 0 is
// reserved and never claimable, per spec §9's fixed-width resolution).
const PLICSources = 64

// PLIC is the Platform-Level Interrupt Controller: per-source
// priority/pending/active bits and per-context enable/threshold, with
// N_contexts = 2*N_harts (an M and an S context per hart).
type PLIC struct {
	harts []*Hart
	mu    sync.Mutex

	priority [PLICSources + 1]uint32
	pending  [PLICSources + 1]bool
	active   [PLICSources + 1]bool

	enable      [][PLICSources/32 + 1]uint32
	threshold   []uint32
	lastClaimed []uint32
}

// NewPLIC creates a PLIC with 2 contexts per hart (M at 2*id, S at 2*id+1).
func NewPLIC(harts []*Hart) *PLIC {
	n := len(harts) * 2
	return &PLIC{
		harts:       harts,
		enable:      make([][PLICSources/32 + 1]uint32, n),
		threshold:   make([]uint32, n),
		lastClaimed: make([]uint32, n),
	}
}

func (p *PLIC) Size() uint64 { return PLICSize }

// SetPending marks source as pending, called by a device driver model
// raising an IRQ (spec §9: "devices call into the PLIC by id").
func (p *PLIC) SetPending(source uint32, pending bool) {
	if source == 0 || source > PLICSources {
		return
	}
	p.mu.Lock()
	p.pending[source] = pending
	p.mu.Unlock()
	p.updateAll()
}

func (p *PLIC) Read(hartID uint64, offset uint64, size int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < plicPendingBase:
		src := offset / 4
		if src <= PLICSources {
			return uint64(p.priority[src]), nil
		}

	case offset >= plicPendingBase && offset < plicEnableBase:
		word := (offset - plicPendingBase) / 4
		var v uint32
		base := word * 32
		for b := uint32(0); b < 32; b++ {
			src := base + uint64(b)
			if src >= 1 && src <= PLICSources && p.pending[src] {
				v |= 1 << b
			}
		}
		return uint64(v), nil

	case offset >= plicEnableBase && offset < plicContextBase:
		rel := offset - plicEnableBase
		ctx := rel / plicEnableStride
		word := (rel % plicEnableStride) / 4
		if int(ctx) < len(p.enable) && int(word) < len(p.enable[0]) {
			return uint64(p.enable[ctx][word]), nil
		}

	case offset >= plicContextBase:
		rel := offset - plicContextBase
		ctx := rel / plicContextStride
		reg := rel % plicContextStride
		if int(ctx) < len(p.threshold) {
			switch reg {
			case 0:
				return uint64(p.threshold[ctx]), nil
			case 4:
				return uint64(p.claimLocked(int(ctx))), nil
			}
		}
	}
	return 0, fmt.Errorf("plic: read out of range offset=%#x", offset)
}

func (p *PLIC) Write(hartID uint64, offset uint64, size int, value uint64) error {
	p.mu.Lock()

	switch {
	case offset < plicPendingBase:
		src := offset / 4
		if src >= 1 && src <= PLICSources {
			p.priority[src] = uint32(value) & 0x7
		}

	case offset >= plicEnableBase && offset < plicContextBase:
		rel := offset - plicEnableBase
		ctx := rel / plicEnableStride
		word := (rel % plicEnableStride) / 4
		if int(ctx) < len(p.enable) && int(word) < len(p.enable[0]) {
			p.enable[ctx][word] = uint32(value)
		}

	case offset >= plicContextBase:
		rel := offset - plicContextBase
		ctx := rel / plicContextStride
		reg := rel % plicContextStride
		if int(ctx) < len(p.threshold) {
			switch reg {
			case 0:
				p.threshold[ctx] = uint32(value) & 0x7
			case 4:
				p.completeLocked(int(ctx), uint32(value))
			}
		}
	}

	p.mu.Unlock()
	p.updateAll()
	return nil
}

func (p *PLIC) enabled(ctx int, src uint32) bool {
	word := src / 32
	bit := src % 32
	return p.enable[ctx][word]&(1<<bit) != 0
}

// claimLocked implements the claim protocol of spec §4.11: a source is
// claimable iff pending && !active && enabled[ctx] && priority>threshold;
// the winner maximizes priority, ties broken by smallest source id. Caller
// holds p.mu.
func (p *PLIC) claimLocked(ctx int) uint32 {
	var best uint32
	var bestPrio uint32
	for src := uint32(1); src <= PLICSources; src++ {
		if !p.pending[src] || p.active[src] {
			continue
		}
		if !p.enabled(ctx, src) {
			continue
		}
		prio := p.priority[src]
		if prio <= p.threshold[ctx] {
			continue
		}
		if best == 0 || prio > bestPrio {
			best = src
			bestPrio = prio
		}
	}
	if best != 0 {
		p.pending[best] = false
		p.active[best] = true
		p.lastClaimed[ctx] = best
	}
	return best
}

// completeLocked clears active for source, allowing it to be claimed again.
func (p *PLIC) completeLocked(ctx int, source uint32) {
	if source == 0 || source > PLICSources {
		return
	}
	if p.lastClaimed[ctx] == source {
		p.active[source] = false
		p.lastClaimed[ctx] = 0
	}
}

func (p *PLIC) hasClaimable(ctx int) bool {
	for src := uint32(1); src <= PLICSources; src++ {
		if !p.pending[src] || p.active[src] {
			continue
		}
		if !p.enabled(ctx, src) {
			continue
		}
		if p.priority[src] > p.threshold[ctx] {
			return true
		}
	}
	return false
}

// updateAll re-derives MIP.MEIP/SEIP for every hart from the current
// pending/active/enable state, spec §4.11's plic_service.
func (p *PLIC) updateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.harts {
		mCtx, sCtx := 2*id, 2*id+1
		if p.hasClaimable(mCtx) {
			h.Mip |= MipMEIP
		} else {
			h.Mip &^= MipMEIP
		}
		if p.hasClaimable(sCtx) {
			h.Mip |= MipSEIP
		} else {
			h.Mip &^= MipSEIP
		}
	}
}

// Service implements plic_service(hart), called each tick by the Machine run
// loop before stepping that hart. It ignores h and re-evaluates MEIP/SEIP for
// every hart.
func (p *PLIC) Service(h *Hart) {
	p.updateAll()
}

var _ Device = (*PLIC)(nil)
