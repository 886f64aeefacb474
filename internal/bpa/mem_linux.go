//go:build linux
// +build linux

package bpa

import (
	"golang.org/x/sys/unix"
)

// Partitions are backed by anonymous shared mappings so that the CPU view is
// page aligned and can be handed to clients without copying.
func mapMemory(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
}

func unmapMemory(mem []byte) error {
	return unix.Munmap(mem)
}
