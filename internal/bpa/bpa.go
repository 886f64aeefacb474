// Package bpa allocates physically contiguous buffers from fixed partitions
// of "big physical area" memory, the way display hardware needs them: whole
// pages, optionally with a companion lookup table, and never straddling a
// placement boundary that the hardware cannot address across.
package bpa

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/vout/internal/invariant"
	"github.com/lanikai/vout/internal/logging"
)

var log = logging.DefaultLogger.WithTag("bpa")

const (
	PageSize = 4096

	// Most buffers may not cross a 64 MiB boundary.
	DefaultBoundary = 1 << 26

	// Lookup tables hold 256 32-bit entries and must be 16-byte aligned.
	ClutSize      = 256 * 4
	ClutAlignment = 16
)

// Placement selects which partitions an allocation may come from. The first
// configured partition is the system partition, the second the video
// partition.
type Placement int

const (
	PlacementAny Placement = iota
	PlacementSystem
	PlacementVideo
)

func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return PlacementAny, nil
	case "system":
		return PlacementSystem, nil
	case "video":
		return PlacementVideo, nil
	}
	return PlacementAny, errors.Wrap(ErrBadPlacement, s)
}

func (p Placement) String() string {
	switch p {
	case PlacementAny:
		return "any"
	case PlacementSystem:
		return "system"
	case PlacementVideo:
		return "video"
	}
	return fmt.Sprintf("Placement(%d)", int(p))
}

type PartitionConfig struct {
	Name string
	Base uint64
	Size uint64
}

type Config struct {
	Partitions []PartitionConfig

	// Zero means DefaultBoundary.
	Boundary uint64
}

// Region is one live allocation.
type Region struct {
	Partition string
	Phys      uint64

	// Reserved bytes, a whole number of pages.
	Size int

	// CPU view of the reserved pages.
	Virt []byte

	// Lookup table placed after the buffer by AllocWithClut.
	ClutPhys uint64
	Clut     []byte

	// Set when the region straddles the placement boundary even after the
	// aligned retry.
	Degraded bool
}

type PartitionStats struct {
	Name string
	Base uint64
	Size uint64
	Used uint64
	Live int
}

type Stats struct {
	Partitions []PartitionStats
	Degraded   int
}

// Allocator hands out regions from a set of partitions.
type Allocator struct {
	mu         sync.Mutex
	partitions []*Partition
	boundary   uint64
	degraded   int
}

func New(cfg Config) (*Allocator, error) {
	a := &Allocator{boundary: cfg.Boundary}
	if a.boundary == 0 {
		a.boundary = DefaultBoundary
	}
	if a.boundary%PageSize != 0 {
		return nil, errors.Errorf("bpa: boundary %#x is not page aligned", a.boundary)
	}

	for _, pc := range cfg.Partitions {
		for _, q := range a.partitions {
			if pc.Base < q.Base+q.Size && q.Base < pc.Base+pc.Size {
				a.Close()
				return nil, errors.Wrapf(ErrOverlap, "%s and %s", pc.Name, q.Name)
			}
		}
		p, err := newPartition(pc)
		if err != nil {
			a.Close()
			return nil, errors.Wrapf(err, "partition %s", pc.Name)
		}
		log.Debug("partition %s: %#x + %#x", p.Name, p.Base, p.Size)
		a.partitions = append(a.partitions, p)
	}
	if len(a.partitions) == 0 {
		return nil, errors.New("bpa: no partitions configured")
	}
	return a, nil
}

func (a *Allocator) Boundary() uint64 {
	return a.boundary
}

func (a *Allocator) candidates(policy Placement) ([]*Partition, error) {
	switch policy {
	case PlacementAny:
		return a.partitions, nil
	case PlacementSystem:
		return a.partitions[:1], nil
	case PlacementVideo:
		if len(a.partitions) < 2 {
			return nil, ErrNoPartition
		}
		return a.partitions[1:2], nil
	}
	return nil, ErrBadPlacement
}

func (a *Allocator) straddles(phys, size uint64) bool {
	return phys/a.boundary != (phys+size-1)/a.boundary
}

// Alloc reserves size bytes, rounded up to whole pages, aligned to alignPages
// pages. A region that straddles the placement boundary is released and
// re-requested aligned to the boundary; if that still straddles (the request
// is larger than the boundary) the region is accepted and marked Degraded.
func (a *Allocator) Alloc(size, alignPages int, policy Placement) (Region, error) {
	if size <= 0 {
		return Region{}, errors.Errorf("bpa: invalid size %d", size)
	}
	if alignPages < 1 {
		alignPages = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	parts, err := a.candidates(policy)
	if err != nil {
		return Region{}, err
	}

	need := roundUp64(uint64(size), PageSize)
	p, phys, ok := reserveFrom(parts, need, uint64(alignPages)*PageSize)
	if !ok {
		return Region{}, ErrNoMemory
	}

	if a.straddles(phys, need) {
		log.Info("%#x + %d (%d pages) crosses a %#x boundary, retrying", phys, size, need/PageSize, a.boundary)
		p.release(phys)
		p, phys, ok = reserveFrom(parts, need, a.boundary)
		if !ok {
			return Region{}, errors.Wrap(ErrNoMemory, "boundary aligned retry")
		}
	}

	r := Region{
		Partition: p.Name,
		Phys:      phys,
		Size:      int(need),
		Virt:      p.slice(phys, need),
	}
	if a.straddles(phys, need) {
		log.Warn("%#x + %d (%d pages) crosses a %#x boundary again, accepting", phys, size, need/PageSize, a.boundary)
		r.Degraded = true
		a.degraded++
	}
	return r, nil
}

func reserveFrom(parts []*Partition, size, align uint64) (*Partition, uint64, bool) {
	for _, p := range parts {
		if phys, ok := p.reserve(size, align); ok {
			return p, phys, true
		}
	}
	return nil, 0, false
}

// AllocWithClut reserves a buffer of size bytes followed by a lookup table at
// the next ClutAlignment boundary. The whole span obeys the placement rules.
// The returned region is zeroed.
func (a *Allocator) AllocWithClut(size int, policy Placement) (Region, error) {
	clutOffset := int(roundUp64(uint64(size), ClutAlignment))
	r, err := a.Alloc(clutOffset+ClutSize, 1, policy)
	if err != nil {
		return r, err
	}
	r.ClutPhys = r.Phys + uint64(clutOffset)
	r.Clut = r.Virt[clutOffset : clutOffset+ClutSize]
	zero(r.Virt)
	return r, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Free releases a region. Freeing memory that is not live is an invariant
// violation.
func (a *Allocator) Free(r Region) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range a.partitions {
		if p.contains(r.Phys) {
			if !p.release(r.Phys) {
				invariant.Violated("bpa: free of %#x in %s which is not live", r.Phys, p.Name)
			}
			return
		}
	}
	invariant.Violated("bpa: free of %#x outside every partition", r.Phys)
}

// Live reports whether phys is the start of a live region.
func (a *Allocator) Live(phys uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.partitions {
		if _, ok := p.live[phys]; ok {
			return true
		}
	}
	return false
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{Degraded: a.degraded}
	for _, p := range a.partitions {
		s.Partitions = append(s.Partitions, PartitionStats{
			Name: p.Name,
			Base: p.Base,
			Size: p.Size,
			Used: p.used(),
			Live: len(p.live),
		})
	}
	return s
}

// Close unmaps every partition. Outstanding regions become invalid.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, p := range a.partitions {
		if n := len(p.live); n > 0 {
			log.Warn("closing partition %s with %d live regions", p.Name, n)
		}
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "unmap %s", p.Name)
		}
	}
	return firstErr
}
