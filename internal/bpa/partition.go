package bpa

import (
	"sort"
)

// A free extent, as a byte offset and length within a partition.
type extent struct {
	off, size uint64
}

// Partition is a contiguous physical range handed out first-fit in whole
// pages.
type Partition struct {
	Name string
	Base uint64
	Size uint64

	// CPU view of the whole partition.
	mem []byte

	// Sorted by offset, coalesced.
	free []extent

	// Physical address to reserved size of every live allocation.
	live map[uint64]uint64
}

func newPartition(cfg PartitionConfig) (*Partition, error) {
	if cfg.Size == 0 || cfg.Base%PageSize != 0 || cfg.Size%PageSize != 0 {
		return nil, ErrBadPartition
	}
	mem, err := mapMemory(int(cfg.Size))
	if err != nil {
		return nil, err
	}
	return &Partition{
		Name: cfg.Name,
		Base: cfg.Base,
		Size: cfg.Size,
		mem:  mem,
		free: []extent{{0, cfg.Size}},
		live: make(map[uint64]uint64),
	}, nil
}

// Reserve size bytes (a multiple of PageSize) at a physical address aligned
// to align bytes. Returns the physical address.
func (p *Partition) reserve(size, align uint64) (uint64, bool) {
	for i, e := range p.free {
		start := roundUp64(p.Base+e.off, align) - p.Base
		if start+size > e.off+e.size {
			continue
		}

		// Split the extent around the reservation.
		var rest []extent
		if start > e.off {
			rest = append(rest, extent{e.off, start - e.off})
		}
		if end := start + size; end < e.off+e.size {
			rest = append(rest, extent{end, e.off + e.size - end})
		}
		p.free = append(p.free[:i], append(rest, p.free[i+1:]...)...)

		phys := p.Base + start
		p.live[phys] = size
		return phys, true
	}
	return 0, false
}

// Release a live reservation. Reports false if phys is not live.
func (p *Partition) release(phys uint64) bool {
	size, ok := p.live[phys]
	if !ok {
		return false
	}
	delete(p.live, phys)

	off := phys - p.Base
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].off > off })
	p.free = append(p.free, extent{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = extent{off, size}

	// Coalesce with the following, then the preceding extent.
	if i+1 < len(p.free) && p.free[i].off+p.free[i].size == p.free[i+1].off {
		p.free[i].size += p.free[i+1].size
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}
	if i > 0 && p.free[i-1].off+p.free[i-1].size == p.free[i].off {
		p.free[i-1].size += p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
	return true
}

func (p *Partition) contains(phys uint64) bool {
	return phys >= p.Base && phys < p.Base+p.Size
}

// CPU view of a physical range inside this partition.
func (p *Partition) slice(phys, size uint64) []byte {
	off := phys - p.Base
	return p.mem[off : off+size : off+size]
}

func (p *Partition) used() uint64 {
	var n uint64
	for _, size := range p.live {
		n += size
	}
	return n
}

func (p *Partition) close() error {
	mem := p.mem
	p.mem = nil
	if mem == nil {
		return nil
	}
	return unmapMemory(mem)
}

func roundUp64(n, m uint64) uint64 {
	if m <= 1 {
		return n
	}
	return ((n + m - 1) / m) * m
}
