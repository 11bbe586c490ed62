package rv64

import (
	"fmt"
	"io"
)

// ROM is a flat read/write byte-addressable region, grounded on the
// original reference device of the same name: it does not actually enforce
// a write lock, matching the reference's behavior of a writable "ROM" used
// to hold the machine's reset vector and bundled firmware.
type ROM struct {
	mem *MemoryRegion
}

// NewROM creates a ROM of size bytes, optionally preloaded with image.
func NewROM(size uint64, image []byte) *ROM {
	r := &ROM{mem: NewMemoryRegion(size)}
	copy(r.mem.Data, image)
	return r
}

func (r *ROM) Size() uint64 { return r.mem.Size() }
func (r *ROM) Read(hartID, offset uint64, size int) (uint64, error) {
	return r.mem.Read(hartID, offset, size)
}
func (r *ROM) Write(hartID, offset uint64, size int, value uint64) error {
	return r.mem.Write(hartID, offset, size, value)
}

var _ Device = (*ROM)(nil)

// SYSCON is the single-register sifive,test-compatible poweroff/reboot
// device: writing 0x5555 powers the machine off, 0x7777 resets it.
type SYSCON struct {
	mem      *MemoryRegion
	onPowerOff func()
	onReset    func()
}

// NewSYSCON creates a SYSCON backed by onPowerOff/onReset lifecycle hooks
// into the owning Machine.
func NewSYSCON(onPowerOff, onReset func()) *SYSCON {
	return &SYSCON{mem: NewMemoryRegion(SysconSize), onPowerOff: onPowerOff, onReset: onReset}
}

func (s *SYSCON) Size() uint64 { return s.mem.Size() }

func (s *SYSCON) Read(hartID, offset uint64, size int) (uint64, error) {
	return s.mem.Read(hartID, offset, size)
}

func (s *SYSCON) Write(hartID, offset uint64, size int, value uint64) error {
	if offset == 0 {
		switch value {
		case 0x5555:
			if s.onPowerOff != nil {
				s.onPowerOff()
			}
			return nil
		case 0x7777:
			if s.onReset != nil {
				s.onReset()
			}
			return nil
		}
	}
	return s.mem.Write(hartID, offset, size, value)
}

var _ Device = (*SYSCON)(nil)

// NS16550A-style UART register offsets.
const (
	uartRegRHRorDLL = 0
	uartRegIERorDLM = 1
	uartRegIIRorFCR = 2
	uartRegLCR      = 3
	uartRegMCR      = 4
	uartRegLSR      = 5
	uartRegMSR      = 6
	uartRegSCR      = 7
)

// LSR bits.
const (
	lsrDataReady uint8 = 1 << 0
	lsrThrEmpty  uint8 = 1 << 5
	lsrTemt      uint8 = 1 << 6
)

// IIR values.
const (
	iirNoInt       uint8 = 0x01
	iirThrEmpty    uint8 = 0x02
	iirRxAvailable uint8 = 0x04
)

// UART is an NS16550A-compatible serial port with a 16-byte RX FIFO,
// mapped into a 0x100 register window, driving a PLIC source on RX/THR
// events.
type UART struct {
	Out io.Writer

	plic   *PLIC
	irqNum uint32

	rhr, ier, iir, fcr, lcr, mcr, lsr, msr, scr uint8
	dll, dlm                                    uint8
	dlab                                        bool
	fifoEnabled                                 bool
	fifo                                        []uint8
}

// NewUART creates a UART wired to plic's irqNum source, writing transmitted
// bytes to out (the host console sink, an external collaborator per
// spec §1).
func NewUART(out io.Writer, plic *PLIC, irqNum uint32) *UART {
	u := &UART{Out: out, plic: plic, irqNum: irqNum}
	u.Reset()
	return u
}

func (u *UART) Size() uint64 { return UARTSize }

// Reset restores power-on register values.
func (u *UART) Reset() {
	u.rhr, u.ier, u.fcr, u.lcr, u.mcr, u.msr, u.scr = 0, 0, 0, 0, 0, 0, 0
	u.iir = iirNoInt
	u.lsr = lsrThrEmpty | lsrTemt
	u.dll, u.dlm = 0, 0
	u.dlab = false
	u.fifo = u.fifo[:0]
}

func (u *UART) calcIIR() uint8 {
	if u.ier&0x01 != 0 && u.lsr&lsrDataReady != 0 {
		return iirRxAvailable
	}
	if u.ier&0x02 != 0 && u.lsr&lsrThrEmpty != 0 {
		return iirThrEmpty
	}
	return iirNoInt
}

func (u *UART) updateIIR() {
	u.iir = u.calcIIR()
	if u.plic == nil {
		return
	}
	if u.iir != iirNoInt {
		u.plic.SetPending(u.irqNum, true)
	} else {
		u.plic.SetPending(u.irqNum, false)
	}
}

func (u *UART) Read(hartID, offset uint64, size int) (uint64, error) {
	switch offset {
	case uartRegRHRorDLL:
		if u.dlab {
			return uint64(u.dll), nil
		}
		var v uint8
		if u.fifoEnabled {
			if len(u.fifo) > 0 {
				v = u.fifo[0]
				u.fifo = u.fifo[1:]
				if len(u.fifo) == 0 {
					u.lsr &^= lsrDataReady
				}
			}
		} else {
			v = u.rhr
			u.lsr &^= lsrDataReady
		}
		u.updateIIR()
		return uint64(v), nil

	case uartRegIERorDLM:
		if u.dlab {
			return uint64(u.dlm), nil
		}
		return uint64(u.ier), nil

	case uartRegIIRorFCR:
		v := u.iir
		if v == iirThrEmpty {
			u.lsr &^= lsrThrEmpty
		} else if v == iirRxAvailable {
			u.lsr &^= lsrDataReady
		}
		u.updateIIR()
		return uint64(v), nil

	case uartRegLCR:
		return uint64(u.lcr), nil
	case uartRegMCR:
		return uint64(u.mcr), nil
	case uartRegLSR:
		return uint64(u.lsr), nil
	case uartRegMSR:
		return uint64(u.msr), nil
	case uartRegSCR:
		return uint64(u.scr), nil
	}
	return 0, nil
}

func (u *UART) Write(hartID, offset uint64, size int, value uint64) error {
	b := uint8(value)
	switch offset {
	case uartRegRHRorDLL:
		if u.dlab {
			u.dll = b
			return nil
		}
		if u.Out != nil {
			fmt.Fprintf(u.Out, "%c", b)
		}
		u.lsr |= lsrThrEmpty | lsrTemt
		if u.ier&0x02 != 0 {
			u.updateIIR()
		}
		u.updateIIR()
		return nil

	case uartRegIERorDLM:
		if u.dlab {
			u.dlm = b
		} else {
			u.ier = b & 0x0F
			u.updateIIR()
		}
		return nil

	case uartRegIIRorFCR:
		u.fcr = b
		u.fifoEnabled = b&0x01 != 0
		if b&0x02 != 0 {
			u.fifo = u.fifo[:0]
		}
		return nil

	case uartRegLCR:
		u.lcr = b
		u.dlab = b&0x80 != 0
		return nil

	case uartRegMCR:
		u.mcr = b
		return nil

	case uartRegLSR, uartRegMSR:
		return nil // read-only

	case uartRegSCR:
		u.scr = b
		return nil
	}
	return nil
}

// ReceiveByte delivers a host-side input byte into the RX path, the
// counterpart of the host console's read side (an external collaborator
// per spec §1: the core only sees this call).
func (u *UART) ReceiveByte(b uint8) {
	if u.fifoEnabled {
		if len(u.fifo) < 16 {
			u.fifo = append(u.fifo, b)
		}
	} else {
		u.rhr = b
	}
	u.lsr |= lsrDataReady
	u.updateIIR()
}

var _ Device = (*UART)(nil)
