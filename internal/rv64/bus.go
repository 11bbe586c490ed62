package rv64

import (
	"fmt"
	"io"
)

// Device is a memory-mapped peripheral, the trait of spec §4.6: dispatch is
// addr/size-routed by the owning Bus, not specialized per device type.
type Device interface {
	Read(hartID uint64, offset uint64, size int) (uint64, error)
	Write(hartID uint64, offset uint64, size int, value uint64) error
	Size() uint64
}

// MemoryRegion is a contiguous byte-addressable span of physical memory
// (DRAM or ROM), the PhysMem region of spec §3.
type MemoryRegion struct {
	Data []byte
}

// NewMemoryRegion allocates a zeroed region of the given size.
func NewMemoryRegion(size uint64) *MemoryRegion {
	return &MemoryRegion{Data: make([]byte, size)}
}

func (m *MemoryRegion) Read(_ uint64, offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("memory read out of bounds: offset=%#x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		return uint64(m.Data[offset]), nil
	case 2:
		return uint64(hartEndian.Uint16(m.Data[offset:])), nil
	case 4:
		return uint64(hartEndian.Uint32(m.Data[offset:])), nil
	case 8:
		return hartEndian.Uint64(m.Data[offset:]), nil
	default:
		return 0, fmt.Errorf("invalid read size: %d", size)
	}
}

func (m *MemoryRegion) Write(_ uint64, offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("memory write out of bounds: offset=%#x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		m.Data[offset] = byte(value)
	case 2:
		hartEndian.PutUint16(m.Data[offset:], uint16(value))
	case 4:
		hartEndian.PutUint32(m.Data[offset:], uint32(value))
	case 8:
		hartEndian.PutUint64(m.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

func (m *MemoryRegion) Size() uint64 { return uint64(len(m.Data)) }

func (m *MemoryRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	return copy(p, m.Data[off:]), nil
}

func (m *MemoryRegion) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.Data)) {
		return 0, fmt.Errorf("write offset out of bounds")
	}
	return copy(m.Data[off:], p), nil
}

// DeviceMapping is one non-overlapping base+size region routed to a Device.
type DeviceMapping struct {
	Base   uint64
	Size   uint64
	Device Device
}

// Bus is the MMIOBus of spec §4.6: DRAM plus an ordered list of Devices,
// dispatched with a last-hit-region cache (spec §3's PhysMem region note).
// It also owns the cross-hart AMO reservation set (spec §4.9, §5) so that
// invalidation does not require a hart to hold a back-reference to its
// siblings or to the Machine.
type Bus struct {
	RAM     *MemoryRegion
	RAMBase uint64
	Devices []DeviceMapping

	UARTOutput io.Writer

	lastHit int // index into Devices, -1 for none/RAM

	reservations []*Reservation

	clint *CLINT
}

// AttachCLINT lets the bus answer the `time` CSR read directly from the
// CLINT's shared mtime counter instead of routing through MMIO.
func (bus *Bus) AttachCLINT(c *CLINT) { bus.clint = c }

// ReadMTime returns the CLINT's free-running mtime counter, or 0 if no
// CLINT is attached (e.g. in a unit test harness).
func (bus *Bus) ReadMTime() uint64 {
	if bus.clint == nil {
		return 0
	}
	return bus.clint.ReadMTime()
}

// NewBus creates a bus with ramSize bytes of DRAM at RAMBase, backed by an
// anonymous mapping where the host platform supports one (see
// memory_unix.go / memory_other.go).
func NewBus(ramSize uint64) *Bus {
	data, err := allocRAM(ramSize)
	if err != nil {
		data = make([]byte, ramSize)
	}
	return &Bus{
		RAM:     &MemoryRegion{Data: data},
		RAMBase: RAMBase,
		lastHit: -1,
	}
}

// AddDevice registers dev at base. Devices must not overlap DRAM or each
// other; the caller (Machine setup) is responsible for that invariant.
func (bus *Bus) AddDevice(base uint64, dev Device) {
	bus.Devices = append(bus.Devices, DeviceMapping{Base: base, Size: dev.Size(), Device: dev})
}

// RegisterReservation lets the bus invalidate hart id's reservation on any
// overlapping store (spec §4.9, §5's ordering guarantee).
func (bus *Bus) RegisterReservation(r *Reservation) {
	bus.reservations = append(bus.reservations, r)
}

func (bus *Bus) findDevice(addr uint64) (Device, uint64, error) {
	if addr >= bus.RAMBase && addr < bus.RAMBase+bus.RAM.Size() {
		return bus.RAM, addr - bus.RAMBase, nil
	}

	if bus.lastHit >= 0 && bus.lastHit < len(bus.Devices) {
		m := bus.Devices[bus.lastHit]
		if addr >= m.Base && addr < m.Base+m.Size {
			return m.Device, addr - m.Base, nil
		}
	}

	for i, mapping := range bus.Devices {
		if addr >= mapping.Base && addr < mapping.Base+mapping.Size {
			bus.lastHit = i
			return mapping.Device, addr - mapping.Base, nil
		}
	}

	return nil, 0, fmt.Errorf("no device at address %#x", addr)
}

// invalidateReservations clears every registered reservation overlapping
// [pa, pa+size) — spec §4.9's amo_invalidate, called after any successful
// store.
func (bus *Bus) invalidateReservations(pa uint64, size uint64) {
	for _, r := range bus.reservations {
		if !r.Valid {
			continue
		}
		rSize := uint64(r.Size)
		if pa < r.Addr+rSize && r.Addr < pa+size {
			r.Valid = false
		}
	}
}

func (bus *Bus) Read(hartID, addr uint64, size int) (uint64, error) {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(hartID, offset, size)
}

// Write writes to the bus and invalidates any reservation the store
// overlaps, per spec §4.9.
func (bus *Bus) Write(hartID, addr uint64, size int, value uint64) error {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return err
	}
	if err := dev.Write(hartID, offset, size, value); err != nil {
		return err
	}
	bus.invalidateReservations(addr, uint64(size))
	return nil
}

func (bus *Bus) Read8(hartID, addr uint64) (uint8, error) {
	v, err := bus.Read(hartID, addr, 1)
	return uint8(v), err
}
func (bus *Bus) Read16(hartID, addr uint64) (uint16, error) {
	v, err := bus.Read(hartID, addr, 2)
	return uint16(v), err
}
func (bus *Bus) Read32(hartID, addr uint64) (uint32, error) {
	v, err := bus.Read(hartID, addr, 4)
	return uint32(v), err
}
func (bus *Bus) Read64(hartID, addr uint64) (uint64, error) {
	return bus.Read(hartID, addr, 8)
}
func (bus *Bus) Write8(hartID, addr uint64, value uint8) error {
	return bus.Write(hartID, addr, 1, uint64(value))
}
func (bus *Bus) Write16(hartID, addr uint64, value uint16) error {
	return bus.Write(hartID, addr, 2, uint64(value))
}
func (bus *Bus) Write32(hartID, addr uint64, value uint32) error {
	return bus.Write(hartID, addr, 4, uint64(value))
}
func (bus *Bus) Write64(hartID, addr uint64, value uint64) error {
	return bus.Write(hartID, addr, 8, value)
}

// LoadBytes copies data into the bus starting at addr, fast-pathing DRAM.
func (bus *Bus) LoadBytes(addr uint64, data []byte) error {
	if addr >= bus.RAMBase && addr+uint64(len(data)) <= bus.RAMBase+bus.RAM.Size() {
		copy(bus.RAM.Data[addr-bus.RAMBase:], data)
		return nil
	}
	for i, b := range data {
		if err := bus.Write8(0, addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}
