package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/invariant"
	"github.com/lanikai/vout/internal/v4l2"
)

// Descriptor is one client-visible buffer. Geometry and memory fields are
// fixed between allocation and release. Header belongs to whoever moved the
// descriptor into its current state: the client path while Idle, the stream
// controller from Queued on.
type Descriptor struct {
	Index  int
	Memory v4l2.Memory
	gen    uint32

	region bpa.Region

	Phys   uint64
	Virt   []byte
	Length int

	// Client address of a user-pointer buffer.
	UserAddr uint64

	Format v4l2.PixFormat
	Layout format.Layout

	ClutPhys uint64
	Clut     []byte

	Header display.Buffer

	state    int32
	mapCount int32

	mu        sync.Mutex
	options   Flags
	field     v4l2.Field
	bytesUsed uint32
	timestamp v4l2.Timeval
	sequence  uint32
}

func (d *Descriptor) Handle() Handle {
	return Handle{Memory: d.Memory, Index: d.Index, Gen: d.gen}
}

func (d *Descriptor) State() State {
	return State(atomic.LoadInt32(&d.state))
}

// Move changes state from one value to another. A descriptor not in the
// expected state is an invariant violation and Move reports false.
func (d *Descriptor) Move(from, to State) bool {
	if atomic.CompareAndSwapInt32(&d.state, int32(from), int32(to)) {
		return true
	}
	invariant.Violated("buffer %v: %v -> %v while %v", d.Handle(), from, to, d.State())
	return false
}

// TryMove is Move for transitions that may legitimately lose a race.
func (d *Descriptor) TryMove(from, to State) bool {
	return atomic.CompareAndSwapInt32(&d.state, int32(from), int32(to))
}

func (d *Descriptor) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

// Map records a client mapping of the buffer memory.
func (d *Descriptor) Map() {
	atomic.AddInt32(&d.mapCount, 1)
}

func (d *Descriptor) Unmap() {
	if n := atomic.AddInt32(&d.mapCount, -1); n < 0 {
		atomic.AddInt32(&d.mapCount, 1)
		invariant.Violated("buffer %v unmapped more often than mapped", d.Handle())
	}
}

func (d *Descriptor) MapCount() int {
	return int(atomic.LoadInt32(&d.mapCount))
}

// Options returns the client-chosen flags of the last queue operation.
func (d *Descriptor) Options() Flags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.options
}

// Prepare records the per-queue client parameters.
func (d *Descriptor) Prepare(options Flags, field v4l2.Field, bytesUsed uint32) {
	d.mu.Lock()
	d.options = options & ClientOptions
	d.field = field
	d.bytesUsed = bytesUsed
	d.mu.Unlock()
}

func (d *Descriptor) SetTimestamp(tv v4l2.Timeval) {
	d.mu.Lock()
	d.timestamp = tv
	d.mu.Unlock()
}

func (d *Descriptor) SetSequence(seq uint32) {
	d.mu.Lock()
	d.sequence = seq
	d.mu.Unlock()
}

// Flags returns the full flag set: client options plus the lifecycle flags
// derived from the state and mapping count.
func (d *Descriptor) Flags() Flags {
	d.mu.Lock()
	f := d.options
	d.mu.Unlock()

	switch d.State() {
	case Queued, InFlight:
		f |= FlagQueued
	case Done:
		f |= FlagQueued | FlagDone
	}
	if d.MapCount() > 0 {
		f |= FlagMapped
	}
	return f
}

// Info returns the client's view of the buffer.
func (d *Descriptor) Info() v4l2.BufferInfo {
	flags := d.Flags()

	d.mu.Lock()
	defer d.mu.Unlock()
	info := v4l2.BufferInfo{
		Index:     uint32(d.Index),
		Type:      v4l2.V4L2_BUF_TYPE_VIDEO_OUTPUT,
		BytesUsed: d.bytesUsed,
		Flags:     flags.V4L2(),
		Field:     d.field,
		Timestamp: d.timestamp,
		Sequence:  d.sequence,
		Memory:    d.Memory,
		Length:    uint32(d.Length),
	}
	if d.Memory == v4l2.V4L2_MEMORY_MMAP {
		info.Offset = MmapOffset(d.Phys)
	} else {
		info.Offset = uint32(d.UserAddr)
	}
	return info
}

// Release returns a completed buffer to the client along with its view at
// that moment. The view is taken while the buffer is still Done: once Idle,
// a user-pointer slot may be handed to the next queue operation.
func (d *Descriptor) Release() (v4l2.BufferInfo, bool) {
	info := d.Info()
	info.Flags &^= v4l2.V4L2_BUF_FLAG_QUEUED | v4l2.V4L2_BUF_FLAG_DONE
	return info, d.Move(Done, Idle)
}

// MmapOffset is the offset a client passes to mmap for a buffer. The
// physical address serves as the offset.
func MmapOffset(phys uint64) uint32 {
	return uint32(phys)
}

// header builds the submission template for a buffer.
func header(phys uint64, length int, pix v4l2.PixFormat, clutPhys uint64) display.Buffer {
	info, _ := format.Lookup(pix.PixelFormat)
	var h display.Buffer
	h.Src.Picture = display.Picture{
		Addr:         phys,
		Size:         length,
		ChromaOffset: int(pix.Priv),
		Surface:      info.Surface,
		Depth:        info.Depth,
		Pitch:        int(pix.BytesPerLine),
		Width:        int(pix.Width),
		Height:       int(pix.Height),
	}
	h.Src.Visible = format.Full(int(pix.Width), int(pix.Height))
	if pix.Colorspace == v4l2.V4L2_COLORSPACE_REC709 {
		h.Src.Flags |= display.SrcColorspace709
	}
	h.Src.ClutAddr = clutPhys
	h.Src.ConstAlpha = 255

	// Persistent: pausing is simply not queuing, and the last frame stays up.
	h.Info.Flags = display.InfoPersistent
	return h
}
