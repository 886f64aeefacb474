// Package buffer owns the client-visible buffers of a streaming session:
// their memory, their submission header template, and their lifecycle state.
package buffer

import (
	"sync"

	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/invariant"
	"github.com/lanikai/vout/internal/logging"
	"github.com/lanikai/vout/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("buffer")

const DefaultMaxUserBuffers = 15

type Config struct {
	Placement bpa.Placement

	// Number of user-pointer buffers that may be queued at once.
	MaxUserBuffers int
}

// Pool is the set of buffers of one device. Memory-mapped buffers are
// allocated in bulk; user-pointer buffers occupy a fixed number of slots that
// share one lookup-table block.
type Pool struct {
	alloc     *bpa.Allocator
	placement bpa.Placement
	maxUser   int

	mu       sync.RWMutex
	mmap     []*Descriptor
	user     []*Descriptor
	userClut bpa.Region
	gen      uint32
}

func NewPool(alloc *bpa.Allocator, cfg Config) *Pool {
	if cfg.MaxUserBuffers <= 0 {
		cfg.MaxUserBuffers = DefaultMaxUserBuffers
	}
	p := &Pool{
		alloc:     alloc,
		placement: cfg.Placement,
		maxUser:   cfg.MaxUserBuffers,
		user:      make([]*Descriptor, cfg.MaxUserBuffers),
	}
	for i := range p.user {
		p.user[i] = &Descriptor{Index: i, Memory: v4l2.V4L2_MEMORY_USERPTR}
	}
	return p
}

func (p *Pool) nextGen() uint32 {
	p.gen++
	return p.gen
}

// Allocate creates up to count memory-mapped buffers for the given format.
// Allocation stops at the first failure; the number of buffers actually
// created is returned. The pool must be empty.
func (p *Pool) Allocate(count int, pix v4l2.PixFormat, layout format.Layout) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.mmap) != 0 {
		invariant.Violated("buffer: allocate over %d live buffers", len(p.mmap))
		return 0
	}

	length := roundPage(int(pix.SizeImage))
	log.Debug("%d buffers of %#x bytes", count, length)

	for i := 0; i < count; i++ {
		r, err := p.alloc.AllocWithClut(length, p.placement)
		if err != nil {
			log.Debug("allocated %d of %d buffers: %v", i, count, err)
			break
		}

		d := &Descriptor{
			Index:    i,
			Memory:   v4l2.V4L2_MEMORY_MMAP,
			gen:      p.nextGen(),
			region:   r,
			Phys:     r.Phys,
			Virt:     r.Virt[:length:length],
			Length:   length,
			Format:   pix,
			Layout:   layout,
			ClutPhys: r.ClutPhys,
			Clut:     r.Clut,
		}
		d.field = pix.Field
		d.Header = header(r.Phys, length, pix, r.ClutPhys)
		d.setState(Idle)
		p.mmap = append(p.mmap, d)
		log.Debug("buffer %d at %#x", i, r.Phys)
	}
	return len(p.mmap)
}

// Deallocate releases every buffer. It fails with ErrBusy, changing nothing,
// while any memory-mapped buffer is still mapped by the client.
func (p *Pool) Deallocate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, d := range p.mmap {
		if d.MapCount() > 0 {
			log.Debug("buffer %d still mapped %d times", d.Index, d.MapCount())
			return ErrBusy
		}
	}

	for _, d := range p.mmap {
		p.alloc.Free(d.region)
		d.setState(Free)
		d.Phys, d.Virt, d.ClutPhys, d.Clut = 0, nil, 0, nil
	}
	p.mmap = nil

	for _, d := range p.user {
		if d.State() != Free {
			log.Debug("releasing user buffer %d", d.Index)
		}
		d.setState(Free)
		d.Phys, d.UserAddr, d.Length, d.Clut, d.ClutPhys = 0, 0, 0, nil, 0
	}
	if p.userClut.Phys != 0 {
		p.alloc.Free(p.userClut)
		p.userClut = bpa.Region{}
	}
	return nil
}

// AcquireUser attaches client memory to a free user-pointer slot. A slot is
// free when its buffer is not queued with the device.
func (p *Pool) AcquireUser(addr uint64, length int, pix v4l2.PixFormat, layout format.Layout) (*Descriptor, error) {
	if addr == 0 {
		return nil, ErrBadUserPointer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userClut.Phys == 0 {
		r, err := p.alloc.Alloc(bpa.ClutSize*p.maxUser, 1, p.placement)
		if err != nil {
			return nil, err
		}
		p.userClut = r
	}

	for i, d := range p.user {
		s := d.State()
		if s != Free && s != Idle {
			continue
		}
		clut := i * bpa.ClutSize

		d.gen = p.nextGen()
		d.Phys = addr
		d.UserAddr = addr
		d.Length = length
		d.Format = pix
		d.Layout = layout
		d.ClutPhys = p.userClut.Phys + uint64(clut)
		d.Clut = p.userClut.Virt[clut : clut+bpa.ClutSize]
		d.Header = header(addr, length, pix, d.ClutPhys)
		d.setState(Idle)
		return d, nil
	}
	return nil, ErrTooManyUserBuffers
}

// Get resolves a handle.
func (p *Pool) Get(h Handle) (*Descriptor, error) {
	d, err := p.ByIndex(h.Memory, h.Index)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	gen := d.gen
	p.mu.RUnlock()
	if gen != h.Gen {
		return nil, ErrStaleHandle
	}
	return d, nil
}

// ByIndex returns the live descriptor at index.
func (p *Pool) ByIndex(mem v4l2.Memory, index int) (*Descriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var list []*Descriptor
	switch mem {
	case v4l2.V4L2_MEMORY_MMAP:
		list = p.mmap
	case v4l2.V4L2_MEMORY_USERPTR:
		list = p.user
	}
	if index < 0 || index >= len(list) || list[index].State() == Free {
		return nil, ErrNoSuchBuffer
	}
	return list[index], nil
}

// ByOffset finds the memory-mapped buffer with the given mmap offset.
func (p *Pool) ByOffset(offset uint32) (*Descriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, d := range p.mmap {
		if MmapOffset(d.Phys) == offset {
			return d, nil
		}
	}
	return nil, ErrNoSuchBuffer
}

// Count returns the number of memory-mapped buffers.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.mmap)
}

// Each calls fn for every live descriptor, memory-mapped first.
func (p *Pool) Each(fn func(d *Descriptor)) {
	p.mu.RLock()
	list := append([]*Descriptor(nil), p.mmap...)
	for _, d := range p.user {
		if d.State() != Free {
			list = append(list, d)
		}
	}
	p.mu.RUnlock()

	for _, d := range list {
		fn(d)
	}
}

func (p *Pool) Allocator() *bpa.Allocator {
	return p.alloc
}

func roundPage(n int) int {
	return (n + bpa.PageSize - 1) &^ (bpa.PageSize - 1)
}

// MaxUserBuffers is the number of user-pointer buffers that may be queued at
// once.
func (p *Pool) MaxUserBuffers() int {
	return p.maxUser
}
