//////////////////////////////////////////////////////////////////////////////
//
// Heap-backed partitions for platforms without anonymous mappings in x/sys.
//
//////////////////////////////////////////////////////////////////////////////

//go:build !linux
// +build !linux

package bpa

func mapMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapMemory(mem []byte) error {
	return nil
}
