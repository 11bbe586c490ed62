package rv64

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// ErrHalt is returned from Run when the guest has powered the machine off.
var ErrHalt = errors.New("machine halted")

// MachineState is the lifecycle state of a Machine, driven by the guest's
// SYSCON writes.
type MachineState int

const (
	StatePoweredOff MachineState = iota
	StateRunning
	StateHalted
)

// Machine is a complete RV64GC system: N harts sharing one Bus, RAM, ROM,
// CLINT, PLIC and UART, advanced one virtual-clock tick at a time.
type Machine struct {
	Harts   []*Hart
	Bus     *Bus
	CLINT   *CLINT
	PLIC    *PLIC
	UART    *UART
	ROM     *ROM
	Syscon  *SYSCON
	VirtIO  *VirtIOBlock

	state atomic.Int32
}

// Config describes the machine to build: how many harts, how much RAM, and
// which boot ROM image (if any) to preload.
type Config struct {
	NumHarts uint64
	RAMSize  uint64
	ROMImage []byte
	DTBAddr  uint64

	// DiskImage, if non-nil, attaches a VirtIOBlock device backed by this
	// byte slice (read from --image by the CLI).
	DiskImage []byte
}

// NewMachine wires together a Bus, N harts, and the standard device set
// (ROM, SYSCON, CLINT, PLIC, UART), following the physical memory map of
// spec §3.
func NewMachine(cfg Config, consoleOut io.Writer) *Machine {
	bus := NewBus(cfg.RAMSize)

	m := &Machine{Bus: bus}

	n := cfg.NumHarts
	if n == 0 {
		n = 1
	}
	m.Harts = make([]*Hart, n)
	for i := uint64(0); i < n; i++ {
		h := NewHart(i, bus, cfg.DTBAddr)
		m.Harts[i] = h
		bus.RegisterReservation(&h.Reservation)
	}

	m.CLINT = NewCLINT(m.Harts)
	bus.AttachCLINT(m.CLINT)
	bus.AddDevice(CLINTBase, m.CLINT)

	m.PLIC = NewPLIC(m.Harts)
	bus.AddDevice(PLICBase, m.PLIC)

	m.UART = NewUART(consoleOut, m.PLIC, 1)
	bus.AddDevice(UARTBase, m.UART)
	bus.UARTOutput = consoleOut

	m.ROM = NewROM(ROMSize, cfg.ROMImage)
	bus.AddDevice(ROMBase, m.ROM)

	m.Syscon = NewSYSCON(m.handlePowerOff, m.handleReset)
	bus.AddDevice(SysconBase, m.Syscon)

	if cfg.DiskImage != nil {
		m.VirtIO = NewVirtIOBlock(bus, m.PLIC, 2, cfg.DiskImage)
		bus.AddDevice(VirtIOBase, m.VirtIO)
	}

	m.state.Store(int32(StateRunning))
	return m
}

func (m *Machine) handlePowerOff() { m.state.Store(int32(StateHalted)) }

func (m *Machine) handleReset() {
	for _, h := range m.Harts {
		h.Reset()
	}
	for i := range m.Bus.RAM.Data {
		m.Bus.RAM.Data[i] = 0
	}
	m.state.Store(int32(StateRunning))
}

// State reports the machine's current lifecycle state.
func (m *Machine) State() MachineState { return MachineState(m.state.Load()) }

// Halt forces the machine to the halted state, as if the guest had written
// the poweroff code to SYSCON.
func (m *Machine) Halt() { m.state.Store(int32(StateHalted)) }

// LoadBytes copies data into guest physical memory starting at addr.
func (m *Machine) LoadBytes(addr uint64, data []byte) error {
	return m.Bus.LoadBytes(addr, data)
}

// SetPC sets every hart's program counter (used by the boot sequencer before
// the first Run call; secondary harts are typically parked in a WFI loop by
// firmware rather than started here).
func (m *Machine) SetPC(pc uint64) {
	for _, h := range m.Harts {
		h.PC = pc
	}
}

// tick runs one round of the machine's scheduler loop, per spec §4.12: each
// hart is serviced by the PLIC, x0 is pinned to zero, then it either checks
// for a wakeup (WFI) or steps one instruction; the CLINT's shared mtime
// advances once per round.
func (m *Machine) tick() {
	for _, h := range m.Harts {
		m.PLIC.Service(h)
		h.X[0] = 0
		h.Step()
	}
	m.CLINT.Tick()
}

// Run drives the machine until ctx is cancelled or the guest powers off,
// yielding to the caller (for ctx.Err() checks) every yieldAfter ticks.
func (m *Machine) Run(ctx context.Context, yieldAfter int64) error {
	if yieldAfter <= 0 {
		yieldAfter = 100000
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.State() == StateHalted {
			return ErrHalt
		}

		for i := int64(0); i < yieldAfter; i++ {
			m.tick()
			if m.State() == StateHalted {
				return ErrHalt
			}
		}
	}
}

// ReadAt implements io.ReaderAt against guest physical memory, for dumping
// RAM or inspecting ELF/DTB placement from the host.
func (m *Machine) ReadAt(p []byte, off int64) (int, error) {
	addr := uint64(off)
	for i := range p {
		v, err := m.Bus.Read8(0, addr+uint64(i))
		if err != nil {
			return i, err
		}
		p[i] = v
	}
	return len(p), nil
}

// WriteAt implements io.WriterAt against guest physical memory.
func (m *Machine) WriteAt(p []byte, off int64) (int, error) {
	addr := uint64(off)
	for i, b := range p {
		if err := m.Bus.Write8(0, addr+uint64(i), b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// String names the machine's lifecycle state, for status logging.
func (s MachineState) String() string {
	switch s {
	case StatePoweredOff:
		return "powered-off"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
