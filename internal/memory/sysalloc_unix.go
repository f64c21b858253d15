//go:build unix

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const sysMapSupported = true

var pageSize = uintptr(unix.Getpagesize())

// sysAlloc maps size bytes of private anonymous memory. The mapping is
// page aligned, zeroed, and invisible to the garbage collector.
func sysAlloc(size uintptr) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// sysFree unmaps memory returned by sysAlloc.
func sysFree(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap %d bytes: %w", len(b), err)
	}
	return nil
}
