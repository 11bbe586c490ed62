package rv64

import (
	"fmt"
	"sync/atomic"
)

// CLINT register offsets, relative to CLINTBase, per spec §4.10.
const (
	clintMsipBase     = 0x0000
	clintMtimecmpBase = 0x4000
	clintMtimeOffset  = 0xBFF8
)

// CLINT is the Core-Local Interruptor: per-hart msip/mtimecmp plus one
// global mtime counter shared by every hart. mtime advances only through
// Tick, by 1 per call, and the Machine's run loop calls Tick once per
// scheduler round; mtime therefore counts rounds and is not derived from
// wall-clock time.
type CLINT struct {
	harts []*Hart

	msip     []uint32
	mtimecmp []uint64
	mtime    uint64 // accessed via atomic.*Uint64
}

// NewCLINT creates a CLINT for the given harts, all mtimecmp initialized to
// the maximum value (no timer interrupt pending at reset).
func NewCLINT(harts []*Hart) *CLINT {
	c := &CLINT{
		harts:    harts,
		msip:     make([]uint32, len(harts)),
		mtimecmp: make([]uint64, len(harts)),
	}
	for i := range c.mtimecmp {
		c.mtimecmp[i] = ^uint64(0)
	}
	return c
}

func (c *CLINT) Size() uint64 { return CLINTSize }

// ReadMTime exposes mtime for the `time` CSR and for the S-mode timer check.
func (c *CLINT) ReadMTime() uint64 {
	return atomic.LoadUint64(&c.mtime)
}

func (c *CLINT) Read(hartID uint64, offset uint64, size int) (uint64, error) {
	switch {
	case offset >= clintMsipBase && offset < clintMsipBase+4*uint64(len(c.msip)):
		i := (offset - clintMsipBase) / 4
		return uint64(atomic.LoadUint32(&c.msip[i])), nil

	case offset >= clintMtimecmpBase && offset < clintMtimecmpBase+8*uint64(len(c.mtimecmp)):
		i := (offset - clintMtimecmpBase) / 8
		return c.mtimecmp[i], nil

	case offset >= clintMtimeOffset && offset < clintMtimeOffset+8:
		return c.ReadMTime(), nil
	}
	return 0, fmt.Errorf("clint: read out of range offset=%#x", offset)
}

func (c *CLINT) Write(hartID uint64, offset uint64, size int, value uint64) error {
	switch {
	case offset >= clintMsipBase && offset < clintMsipBase+4*uint64(len(c.msip)):
		i := (offset - clintMsipBase) / 4
		v := uint32(value) & 1
		atomic.StoreUint32(&c.msip[i], v)
		c.refreshHart(int(i))
		return nil

	case offset >= clintMtimecmpBase && offset < clintMtimecmpBase+8*uint64(len(c.mtimecmp)):
		i := (offset - clintMtimecmpBase) / 8
		reg := offset - clintMtimecmpBase - i*8
		if size == 4 {
			cur := c.mtimecmp[i]
			if reg == 0 {
				c.mtimecmp[i] = (cur &^ 0xffffffff) | (value & 0xffffffff)
			} else {
				c.mtimecmp[i] = (cur &^ (0xffffffff << 32)) | ((value & 0xffffffff) << 32)
			}
		} else {
			c.mtimecmp[i] = value
		}
		c.refreshHart(int(i))
		return nil
	}
	return fmt.Errorf("clint: write out of range offset=%#x", offset)
}

// refreshHart recomputes MSIP/MTIP/STIP for hart i, per spec §4.10's
// "writes immediately re-evaluate MIP" rule.
func (c *CLINT) refreshHart(i int) {
	if i < 0 || i >= len(c.harts) {
		return
	}
	h := c.harts[i]
	if atomic.LoadUint32(&c.msip[i])&1 != 0 {
		h.Mip |= MipMSIP
	} else {
		h.Mip &^= MipMSIP
	}
	mtime := c.ReadMTime()
	if mtime >= c.mtimecmp[i] {
		h.Mip |= MipMTIP
	} else {
		h.Mip &^= MipMTIP
	}
	if mtime >= h.Stimecmp {
		h.Mip |= MipSTIP
	} else {
		h.Mip &^= MipSTIP
	}
}

// Tick advances the shared mtime counter by one virtual-clock slice and
// re-evaluates every hart's timer bits, per spec §4.12's run loop.
func (c *CLINT) Tick() {
	atomic.AddUint64(&c.mtime, 1)
	for i := range c.harts {
		c.refreshHart(i)
	}
}

var _ Device = (*CLINT)(nil)
