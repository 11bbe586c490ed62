//go:build unix

package rv64

import "golang.org/x/sys/unix"

// allocRAM reserves size bytes of guest DRAM as an anonymous mapping rather
// than a heap slice, so the backing store is demand-paged by the kernel
// instead of zeroed and resident up front — relevant once RAM sizes reach
// the hundreds of megabytes a real kernel boot needs.
func allocRAM(size uint64) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return make([]byte, size), nil
	}
	return data, nil
}
