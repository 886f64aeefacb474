//////////////////////////////////////////////////////////////////////////////
//
// Physical allocator errors
//
//////////////////////////////////////////////////////////////////////////////

package bpa

import "errors"

var (
	ErrNoMemory     = errors.New("bpa: out of memory")
	ErrNoPartition  = errors.New("bpa: no partition for placement")
	ErrBadPartition = errors.New("bpa: partition must be page aligned and non-empty")
	ErrBadPlacement = errors.New("bpa: unknown placement")
	ErrOverlap      = errors.New("bpa: partitions overlap")
)
