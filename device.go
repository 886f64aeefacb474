//////////////////////////////////////////////////////////////////////////////
//
// Device is the client surface of a video output plane: format and crop
// negotiation, plane controls, buffer requests, and streaming.
//
//////////////////////////////////////////////////////////////////////////////

package vout

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/buffer"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/logging"
	"github.com/lanikai/vout/internal/stream"
	"github.com/lanikai/vout/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("vout")

// Device owns one output plane and every buffer queued to it. Methods are
// safe for concurrent use; a blocking Dequeue does not hold up the others.
type Device struct {
	sink  display.Sink
	alloc *bpa.Allocator
	pool  *buffer.Pool
	ctrl  *stream.Controller
	cache *format.Cache

	mu     sync.Mutex
	closed bool
	caps   display.Caps
	mode   display.Mode

	hasFormat bool
	pix       v4l2.PixFormat
	layout    format.Layout
	memory    v4l2.Memory

	bufferCrop  format.Rect
	outputCrop  format.Rect
	colorKey    display.ColorKey
	globalAlpha int
}

// Open prepares a device for the given sink. The sink's capabilities and
// display mode are read once here; the mode is refreshed on every format
// negotiation.
func Open(sink display.Sink, opts Options) (*Device, error) {
	caps, err := sink.Capabilities()
	if err != nil {
		return nil, errors.Wrap(err, "capabilities")
	}
	mode, err := sink.Mode()
	if err != nil {
		return nil, errors.Wrap(err, "display mode")
	}

	alloc, err := bpa.New(opts.Allocator)
	if err != nil {
		return nil, errors.Wrap(err, "allocator")
	}

	size := opts.FormatCacheSize
	if size <= 0 {
		size = defaultFormatCacheSize
	}

	pool := buffer.NewPool(alloc, opts.Pool)
	dev := &Device{
		sink:        sink,
		alloc:       alloc,
		pool:        pool,
		ctrl:        stream.New(pool, sink, opts.Observer),
		cache:       format.NewCache(size),
		caps:        caps,
		mode:        mode,
		memory:      v4l2.V4L2_MEMORY_MMAP,
		outputCrop:  format.Full(mode.ActiveWidth, mode.ActiveHeight),
		globalAlpha: 255,
	}
	log.Info("opened output plane: %d formats, %dx%d display", len(caps.Formats), mode.ActiveWidth, mode.ActiveHeight)
	return dev, nil
}

func (dev *Device) check() error {
	if dev.closed {
		return ErrClosed
	}
	return nil
}

// limits refreshes the display mode and describes what negotiation may pick.
func (dev *Device) limits() format.Limits {
	if mode, err := dev.sink.Mode(); err == nil {
		dev.mode = mode
	} else {
		log.Warn("display mode: %v", err)
	}
	return format.Limits{
		Formats:       dev.caps.Formats,
		MinWidth:      dev.caps.MinWidth,
		MinHeight:     dev.caps.MinHeight,
		MaxWidth:      dev.caps.MaxWidth,
		MaxHeight:     dev.caps.MaxHeight,
		Deinterlace:   dev.caps.Deinterlace,
		Progressive:   dev.mode.Progressive,
		HD:            dev.mode.Standard.HD(),
		PixelsPerLine: dev.mode.PixelsPerLine,
		ActiveWidth:   dev.mode.ActiveWidth,
		ActiveHeight:  dev.mode.ActiveHeight,
	}
}

// EnumFormats lists the pixel formats the plane accepts, preferred first.
func (dev *Device) EnumFormats() []format.Info {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var out []format.Info
	for _, fourcc := range dev.caps.Formats {
		if info, ok := format.Lookup(fourcc); ok {
			out = append(out, info)
		}
	}
	return out
}

// TryFormat negotiates a format without applying it.
func (dev *Device) TryFormat(req v4l2.PixFormat) (v4l2.PixFormat, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return req, err
	}
	pix, _, err := dev.cache.Negotiate(req, dev.limits())
	return pix, err
}

// SetFormat negotiates and applies a format. It is refused while streaming or
// while buffers of the previous format exist. The buffer crop is reset to the
// whole image.
func (dev *Device) SetFormat(req v4l2.PixFormat) (v4l2.PixFormat, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return req, err
	}
	if dev.ctrl.Streaming() || dev.pool.Count() > 0 {
		return req, ErrBusy
	}

	pix, layout, err := dev.cache.Negotiate(req, dev.limits())
	if err != nil {
		return req, errors.Wrap(err, "set format")
	}
	dev.pix, dev.layout, dev.hasFormat = pix, layout, true
	dev.bufferCrop = format.Full(int(pix.Width), int(pix.Height))
	log.Debug("format %s %dx%d %v pitch %d size %d", v4l2.FourccString(pix.PixelFormat),
		pix.Width, pix.Height, pix.Field, pix.BytesPerLine, pix.SizeImage)
	return pix, nil
}

// Format returns the current format; ok is false until one has been set.
func (dev *Device) Format() (pix v4l2.PixFormat, ok bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.pix, dev.hasFormat
}

// SetBufferCrop selects the visible part of each buffer. The window is
// clamped to the image and the result returned.
func (dev *Device) SetBufferCrop(c format.Rect) (format.Rect, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return c, err
	}
	if !dev.hasFormat {
		return c, ErrNoFormat
	}
	if c.Empty() {
		return c, ErrInvalidValue
	}
	dev.bufferCrop = format.ClampBufferCrop(c, dev.pix)
	return dev.bufferCrop, nil
}

func (dev *Device) BufferCrop() (format.Rect, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.hasFormat {
		return format.Rect{}, ErrNoFormat
	}
	return dev.bufferCrop, nil
}

// SetOutputCrop places the picture on the display. The window is clamped to
// the active area of the current mode and the result returned.
func (dev *Device) SetOutputCrop(c format.Rect) (format.Rect, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return c, err
	}
	if c.Empty() {
		return c, ErrInvalidValue
	}
	dev.outputCrop = format.ClampOutputCrop(c, dev.mode.ActiveWidth, dev.mode.ActiveHeight, !dev.mode.Progressive)
	return dev.outputCrop, nil
}

func (dev *Device) OutputCrop() format.Rect {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.outputCrop
}

// SetColorKey updates the fields of the colour key named in ck.Flags. A
// per-buffer key travels with each subsequently queued buffer; otherwise the
// key goes to the plane at once. Disabling the key, or switching it to
// per-buffer, clears it from the plane.
func (dev *Device) SetColorKey(ck display.ColorKey) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return err
	}
	if ck.Flags&^display.ColorKeyAll != 0 {
		return ErrInvalidValue
	}

	prev := dev.colorKey
	cur := prev
	cur.Flags |= ck.Flags
	if ck.Flags&display.ColorKeyEnable != 0 {
		cur.Enable = ck.Enable
	}
	if ck.Flags&display.ColorKeyFormat != 0 {
		cur.Format = ck.Format
	}
	if ck.Flags&display.ColorKeyRInfo != 0 {
		cur.RInfo = ck.RInfo
	}
	if ck.Flags&display.ColorKeyGInfo != 0 {
		cur.GInfo = ck.GInfo
	}
	if ck.Flags&display.ColorKeyBInfo != 0 {
		cur.BInfo = ck.BInfo
	}
	if ck.Flags&display.ColorKeyMinVal != 0 {
		cur.MinVal = ck.MinVal
	}
	if ck.Flags&display.ColorKeyMaxVal != 0 {
		cur.MaxVal = ck.MaxVal
	}

	var err error
	switch {
	case ck.Flags&display.ColorKeyEnable != 0 &&
		(cur.Enable&display.ColorKeyEnabled == 0 || (cur.PerBuffer() && !prev.PerBuffer())):
		err = dev.sink.SetColorKey(display.ColorKey{Flags: display.ColorKeyAll})
	case !cur.PerBuffer():
		err = dev.sink.SetColorKey(cur)
	}
	if err != nil {
		return errors.Wrap(ErrBusy, err.Error())
	}
	dev.colorKey = cur
	return nil
}

func (dev *Device) ColorKey() display.ColorKey {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.colorKey
}

// SetGlobalAlpha sets the plane transparency for subsequently queued
// buffers, from 0 (transparent) to 255 (opaque).
func (dev *Device) SetGlobalAlpha(alpha int) error {
	if alpha < 0 || alpha > 255 {
		return ErrInvalidValue
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return err
	}
	dev.globalAlpha = alpha
	return nil
}

func (dev *Device) GlobalAlpha() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.globalAlpha
}

// StreamOn starts presenting queued buffers.
func (dev *Device) StreamOn() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return err
	}
	if !dev.hasFormat {
		return ErrNoFormat
	}
	if err := dev.ctrl.StreamOn(); err != nil {
		if err == stream.ErrAlreadyStreaming {
			return ErrBusy
		}
		return err
	}
	return nil
}

// StreamOff stops presentation and returns every buffer to the client
// without it being dequeued. It is a no-op when not streaming.
func (dev *Device) StreamOff() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.check(); err != nil {
		return err
	}
	return dev.ctrl.StreamOff()
}

func (dev *Device) Streaming() bool {
	return dev.ctrl.Streaming()
}

// SessionID identifies the current streaming session; empty when stopped.
func (dev *Device) SessionID() string {
	return dev.ctrl.SessionID()
}

func (dev *Device) Caps() display.Caps {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.caps
}

func (dev *Device) Mode() display.Mode {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.mode
}

type Stats struct {
	Stream    stream.Stats
	Allocator bpa.Stats
	Buffers   int
}

func (dev *Device) Stats() Stats {
	return Stats{
		Stream:    dev.ctrl.Stats(),
		Allocator: dev.alloc.Stats(),
		Buffers:   dev.pool.Count(),
	}
}

// Close stops streaming and releases all buffer memory. Buffers still
// mapped by the client keep the device from closing.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return ErrClosed
	}

	if err := dev.ctrl.StreamOff(); err != nil {
		log.Warn("stream off on close: %v", err)
	}
	if err := dev.ctrl.Reset(); err != nil {
		return errors.Wrap(err, "close")
	}
	if err := dev.pool.Deallocate(); err != nil {
		return errors.Wrap(ErrBusy, "close: buffers still mapped")
	}
	dev.cache.Purge()
	dev.closed = true
	return dev.alloc.Close()
}
