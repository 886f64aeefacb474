package vout

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lanikai/vout/internal/buffer"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/stream"
	"github.com/lanikai/vout/internal/v4l2"
)

// QueueRequest describes one buffer handed to the device.
type QueueRequest struct {
	Index  int
	Memory v4l2.Memory
	Field  v4l2.Field

	// Client options: repeat first field, interpolate fields, rescale to
	// video range, graphics, non-premultiplied alpha. Others are ignored.
	Flags v4l2.BufFlag

	// Presentation time; zero means as soon as possible.
	Timestamp v4l2.Timeval

	BytesUsed uint32

	// User-pointer buffers only.
	UserPtr uint64
	Length  int

	// Palette for CLUT formats as 0xAARRGGBB, alpha 0 to 255.
	Clut []uint32
}

const srcFieldFlags = display.SrcInterlaced | display.SrcBottomFieldFirst |
	display.SrcTopFieldOnly | display.SrcBottomFieldOnly

// RequestBuffers releases the current buffers and allocates count new
// memory-mapped ones for the current format, returning how many were
// created. For user-pointer memory nothing is allocated; the result is the
// number of buffers that may be queued at once. A count of zero only
// releases.
func (dev *Device) RequestBuffers(count int, mem v4l2.Memory) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return 0, err
	}
	if mem != v4l2.V4L2_MEMORY_MMAP && mem != v4l2.V4L2_MEMORY_USERPTR {
		return 0, ErrInvalidMemory
	}
	if count < 0 {
		return 0, ErrInvalidValue
	}
	if dev.ctrl.Streaming() {
		return 0, ErrBusy
	}
	if count > 0 && !dev.hasFormat {
		return 0, ErrNoFormat
	}

	if err := dev.ctrl.Reset(); err != nil {
		return 0, errors.Wrap(ErrBusy, err.Error())
	}
	if err := dev.pool.Deallocate(); err != nil {
		return 0, errors.Wrap(ErrBusy, "buffers still mapped")
	}
	dev.memory = mem
	if count == 0 {
		return 0, nil
	}

	if mem == v4l2.V4L2_MEMORY_USERPTR {
		if max := dev.pool.MaxUserBuffers(); count > max {
			count = max
		}
		return count, nil
	}

	n := dev.pool.Allocate(count, dev.pix, dev.layout)
	if n == 0 {
		return 0, errors.Wrapf(ErrNoMemory, "%d buffers of %d bytes", count, dev.pix.SizeImage)
	}
	if n < count {
		log.Warn("allocated only %d of %d buffers", n, count)
	}
	return n, nil
}

// QueryBuffer describes a memory-mapped buffer.
func (dev *Device) QueryBuffer(index int) (v4l2.BufferInfo, error) {
	d, err := dev.pool.ByIndex(v4l2.V4L2_MEMORY_MMAP, index)
	if err != nil {
		return v4l2.BufferInfo{}, ErrInvalidIndex
	}
	return d.Info(), nil
}

// BufferByOffset finds the memory-mapped buffer a client mmap offset
// refers to.
func (dev *Device) BufferByOffset(offset uint32) (v4l2.BufferInfo, error) {
	d, err := dev.pool.ByOffset(offset)
	if err != nil {
		return v4l2.BufferInfo{}, ErrInvalidIndex
	}
	return d.Info(), nil
}

// Map returns the memory of the buffer at offset and counts the mapping.
// Buffers are not released while mapped.
func (dev *Device) Map(offset uint32) ([]byte, error) {
	d, err := dev.pool.ByOffset(offset)
	if err != nil {
		return nil, ErrInvalidIndex
	}
	d.Map()
	return d.Virt, nil
}

func (dev *Device) Unmap(offset uint32) error {
	d, err := dev.pool.ByOffset(offset)
	if err != nil {
		return ErrInvalidIndex
	}
	d.Unmap()
	return nil
}

// Queue hands a buffer to the device. The buffer is submitted to the display
// at once when streaming, otherwise when streaming starts. Every check runs
// before any state changes, so a rejected request leaves the buffer as it
// was.
func (dev *Device) Queue(req QueueRequest) (v4l2.BufferInfo, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return v4l2.BufferInfo{}, err
	}
	if !dev.hasFormat {
		return v4l2.BufferInfo{}, ErrNoFormat
	}
	if req.Memory != dev.memory {
		return v4l2.BufferInfo{}, ErrInvalidMemory
	}

	if !dev.caps.Resize &&
		(dev.bufferCrop.Width != dev.outputCrop.Width || dev.bufferCrop.Height != dev.outputCrop.Height) {
		return v4l2.BufferInfo{}, ErrCrop
	}

	nfields, fieldFlags, err := dev.fieldSetup(req.Field)
	if err != nil {
		return v4l2.BufferInfo{}, err
	}
	if fieldFlags&display.SrcInterlaced != 0 && dev.mode.Progressive && !dev.caps.Deinterlace {
		return v4l2.BufferInfo{}, ErrNotSupported
	}

	var d *buffer.Descriptor
	if req.Memory == v4l2.V4L2_MEMORY_USERPTR {
		if req.Length < int(dev.pix.SizeImage) {
			return v4l2.BufferInfo{}, errors.Wrapf(ErrInvalidValue, "user buffer of %d bytes, need %d", req.Length, dev.pix.SizeImage)
		}
		d, err = dev.pool.AcquireUser(req.UserPtr, req.Length, dev.pix, dev.layout)
		if err != nil {
			return v4l2.BufferInfo{}, errors.Wrap(err, "queue")
		}
	} else {
		d, err = dev.pool.ByIndex(v4l2.V4L2_MEMORY_MMAP, req.Index)
		if err != nil {
			return v4l2.BufferInfo{}, ErrInvalidIndex
		}
		if d.State() != buffer.Idle {
			return v4l2.BufferInfo{}, ErrAlreadyQueued
		}
	}

	info, _ := format.Lookup(dev.pix.PixelFormat)
	switch {
	case info.Kind == format.KindCLUT && len(req.Clut) == 0:
		log.Warn("buffer %d: no palette for %s", d.Index, info.Name)
	case info.Kind != format.KindCLUT && len(req.Clut) != 0:
		log.Warn("buffer %d: palette ignored for %s", d.Index, info.Name)
	case info.Kind == format.KindCLUT:
		loadClut(d.Clut, req.Clut, info.ClutEntries)
	}

	h := &d.Header
	h.Src.Visible = dev.bufferCrop
	h.Dst.Window = dev.outputCrop
	h.Src.ColorKey = dev.colorKey.Snapshot()
	if dev.globalAlpha < 255 {
		h.Src.ConstAlpha = uint8(dev.globalAlpha)
		h.Src.Flags |= display.SrcConstAlpha
	} else {
		h.Src.ConstAlpha = 255
		h.Src.Flags &^= display.SrcConstAlpha
	}
	h.Src.Flags = h.Src.Flags&^srcFieldFlags | fieldFlags
	h.Info.NFields = nfields
	h.Info.PresentationTime = req.Timestamp.Micros()

	opts := buffer.FromV4L2(req.Flags) & buffer.ClientOptions
	(opts | buffer.FlagPersistent).Apply(h)
	if opts&buffer.FlagRepeatFirstField != 0 && fieldFlags&display.SrcInterlaced != 0 {
		h.Info.NFields++
	}
	d.Prepare(opts, req.Field, req.BytesUsed)

	if err := dev.ctrl.Enqueue(d.Handle()); err != nil {
		if err == stream.ErrAlreadyQueued {
			return v4l2.BufferInfo{}, ErrAlreadyQueued
		}
		return v4l2.BufferInfo{}, err
	}
	log.Trace(2, "queued %v %v nfields=%d", d.Handle(), req.Field, h.Info.NFields)
	return d.Info(), nil
}

// fieldSetup maps a queued field to the number of fields shown and the source
// field flags. The field must match the format unless the format left it
// open. Plain interlaced content is bottom field first on NTSC displays.
func (dev *Device) fieldSetup(field v4l2.Field) (int, display.SrcFlags, error) {
	if dev.pix.Field != v4l2.V4L2_FIELD_ANY && field != dev.pix.Field {
		return 0, 0, ErrField
	}
	switch field {
	case v4l2.V4L2_FIELD_NONE:
		return 1, 0, nil
	case v4l2.V4L2_FIELD_INTERLACED:
		if dev.mode.Standard.NTSC() {
			return 2, display.SrcInterlaced | display.SrcBottomFieldFirst, nil
		}
		return 2, display.SrcInterlaced, nil
	case v4l2.V4L2_FIELD_INTERLACED_TB:
		return 2, display.SrcInterlaced, nil
	case v4l2.V4L2_FIELD_INTERLACED_BT:
		return 2, display.SrcInterlaced | display.SrcBottomFieldFirst, nil
	}
	return 0, 0, ErrField
}

// loadClut copies a client palette into a buffer's lookup table. The plane
// takes alpha in the range 0 to 128.
func loadClut(dst []byte, src []uint32, entries int) {
	if len(src) < entries {
		log.Warn("palette has %d of %d entries", len(src), entries)
		entries = len(src)
	}
	if max := len(dst) / 4; entries > max {
		entries = max
	}
	for i := 0; i < entries; i++ {
		c := src[i]
		alpha := ((c >> 24) + 1) / 2
		binary.LittleEndian.PutUint32(dst[4*i:], c&0xffffff|alpha<<24)
	}
}

// Dequeue returns the oldest buffer the display has finished with. With
// block set it waits until one is available, the context ends, or streaming
// stops (io.EOF). Without it, ErrWouldBlock reports an empty queue.
func (dev *Device) Dequeue(ctx context.Context, block bool) (v4l2.BufferInfo, error) {
	dev.mu.Lock()
	err := dev.check()
	dev.mu.Unlock()
	if err != nil {
		return v4l2.BufferInfo{}, err
	}
	return dev.ctrl.Dequeue(ctx, block)
}
