package vout

import (
	"context"
	"encoding/binary"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/buffer"
	"github.com/lanikai/vout/internal/config"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/v4l2"
)

// captured records every submission the simulated display is offered.
type captured struct {
	mu   sync.Mutex
	bufs []display.Buffer
}

func (c *captured) hook(b *display.Buffer) error {
	c.mu.Lock()
	c.bufs = append(c.bufs, *b)
	c.mu.Unlock()
	return nil
}

func (c *captured) get() []display.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]display.Buffer(nil), c.bufs...)
}

func testOptions() Options {
	return Options{
		Allocator: bpa.Config{Partitions: []bpa.PartitionConfig{
			{Name: "bigphysarea", Base: 0x40000000, Size: 8 << 20},
		}},
	}
}

func openSimulated(t *testing.T, tweak func(*display.SimulatorConfig)) (*Device, *display.Simulator, *captured) {
	sc := config.Default().Simulator()
	sc.Manual = true
	if tweak != nil {
		tweak(&sc)
	}
	sim := display.NewSimulator(sc)
	rec := &captured{}
	sim.QueueHook = rec.hook

	dev, err := Open(sim, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() {
		dev.Close()
		sim.Close()
	})
	return dev, sim, rec
}

func setFormat(t *testing.T, dev *Device, fourcc uint32, w, h int, field v4l2.Field) v4l2.PixFormat {
	pix, err := dev.SetFormat(v4l2.PixFormat{
		Width:       uint32(w),
		Height:      uint32(h),
		PixelFormat: fourcc,
		Field:       field,
	})
	require.NoError(t, err)
	require.Equal(t, fourcc, pix.PixelFormat)
	return pix
}

func queue(dev *Device, index int, field v4l2.Field) error {
	_, err := dev.Queue(QueueRequest{Index: index, Memory: v4l2.V4L2_MEMORY_MMAP, Field: field})
	return err
}

func TestMacroblockBuffers(t *testing.T) {
	dev, _, _ := openSimulated(t, nil)
	pix := setFormat(t, dev, v4l2.V4L2_PIX_FMT_STM420MB, 640, 480, v4l2.V4L2_FIELD_NONE)
	assert.Equal(t, uint32(460800), pix.SizeImage)
	assert.Equal(t, uint32(307200), pix.Priv)

	n, err := dev.RequestBuffers(4, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	type span struct{ start, end uint64 }
	var spans []span
	for i := 0; i < n; i++ {
		info, err := dev.QueryBuffer(i)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), info.Index)
		assert.Equal(t, v4l2.V4L2_MEMORY_MMAP, info.Memory)
		assert.GreaterOrEqual(t, info.Length, uint32(460800))
		assert.Zero(t, info.Offset%bpa.PageSize)
		spans = append(spans, span{uint64(info.Offset), uint64(info.Offset) + uint64(info.Length)})

		byOffset, err := dev.BufferByOffset(info.Offset)
		require.NoError(t, err)
		assert.Equal(t, info.Index, byOffset.Index)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		assert.LessOrEqual(t, spans[i-1].end, spans[i].start, "buffers %d and %d overlap", i-1, i)
	}

	_, err = dev.QueryBuffer(4)
	assert.Equal(t, ErrInvalidIndex, err)
	assert.Equal(t, 4, dev.Stats().Buffers)
}

func TestQueueValidation(t *testing.T) {
	dev, _, _ := openSimulated(t, nil)

	assert.Equal(t, ErrNoFormat, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
	_, err := dev.RequestBuffers(2, v4l2.V4L2_MEMORY_MMAP)
	assert.Equal(t, ErrNoFormat, err)

	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err = dev.RequestBuffers(2, v4l2.Memory(7))
	assert.Equal(t, ErrInvalidMemory, err)
	n, err := dev.RequestBuffers(2, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = dev.Queue(QueueRequest{Index: 0, Memory: v4l2.Memory(7)})
	assert.Equal(t, ErrInvalidMemory, err)
	assert.Equal(t, ErrInvalidIndex, queue(dev, 2, v4l2.V4L2_FIELD_NONE))
	assert.Equal(t, ErrInvalidIndex, queue(dev, -1, v4l2.V4L2_FIELD_NONE))
	assert.Equal(t, ErrField, queue(dev, 0, v4l2.V4L2_FIELD_INTERLACED))

	require.NoError(t, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
	assert.Equal(t, ErrAlreadyQueued, queue(dev, 0, v4l2.V4L2_FIELD_NONE))

	info, err := dev.QueryBuffer(0)
	require.NoError(t, err)
	assert.NotZero(t, info.Flags&v4l2.V4L2_BUF_FLAG_QUEUED)

	// Formats cannot change under live buffers.
	_, err = dev.SetFormat(v4l2.PixFormat{Width: 32, Height: 32, PixelFormat: v4l2.V4L2_PIX_FMT_UYVY})
	assert.Equal(t, ErrBusy, err)
	n, err = dev.RequestBuffers(0, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = dev.SetFormat(v4l2.PixFormat{Width: 32, Height: 32, PixelFormat: v4l2.V4L2_PIX_FMT_UYVY})
	assert.NoError(t, err)
}

func TestStreaming(t *testing.T) {
	dev, sim, _ := openSimulated(t, nil)
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	n, err := dev.RequestBuffers(4, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := dev.Queue(QueueRequest{
			Index:     i,
			Memory:    v4l2.V4L2_MEMORY_MMAP,
			Field:     v4l2.V4L2_FIELD_NONE,
			BytesUsed: 4096,
		})
		require.NoError(t, err)
	}
	require.NoError(t, dev.StreamOn())
	assert.True(t, dev.Streaming())
	assert.NotEmpty(t, dev.SessionID())
	assert.Equal(t, ErrBusy, dev.StreamOn())

	_, err = dev.RequestBuffers(2, v4l2.V4L2_MEMORY_MMAP)
	assert.Equal(t, ErrBusy, err)

	for i := 0; i < n+1; i++ {
		sim.Tick()
	}

	// The last buffer stays on screen.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < n-1; i++ {
		info, err := dev.Dequeue(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), info.Index)
		assert.Equal(t, uint32(4096), info.BytesUsed)
		assert.Zero(t, info.Flags&v4l2.V4L2_BUF_FLAG_QUEUED)
	}
	_, err = dev.Dequeue(ctx, false)
	assert.Equal(t, ErrWouldBlock, err)

	// Requeue one and let it replace the buffer on screen.
	require.NoError(t, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
	sim.Tick()
	sim.Tick()
	info, err := dev.Dequeue(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), info.Index)

	require.NoError(t, dev.StreamOff())
	require.NoError(t, dev.StreamOff())
	assert.False(t, dev.Streaming())
	_, err = dev.Dequeue(ctx, true)
	assert.Equal(t, io.EOF, err)

	// Everything is back with the client and can be queued again.
	for i := 0; i < n; i++ {
		require.NoError(t, queue(dev, i, v4l2.V4L2_FIELD_NONE))
	}
	st := dev.Stats().Stream
	assert.Equal(t, uint64(n), st.Dequeued)
}

func TestSubmissionHeader(t *testing.T) {
	dev, sim, rec := openSimulated(t, nil)
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err := dev.RequestBuffers(1, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	crop, err := dev.SetBufferCrop(format.Rect{Left: 8, Top: 4, Width: 32, Height: 16})
	require.NoError(t, err)
	assert.Equal(t, format.Rect{Left: 8, Top: 4, Width: 32, Height: 16}, crop)

	// Oversized windows are clamped to the active area.
	out, err := dev.SetOutputCrop(format.Rect{Left: 100, Top: 51, Width: 2000, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, 720, out.Width)
	assert.Zero(t, out.Left)
	assert.Zero(t, out.Top%2)

	assert.Equal(t, ErrInvalidValue, dev.SetGlobalAlpha(256))
	require.NoError(t, dev.SetGlobalAlpha(128))

	_, err = dev.Queue(QueueRequest{
		Index:     0,
		Memory:    v4l2.V4L2_MEMORY_MMAP,
		Field:     v4l2.V4L2_FIELD_NONE,
		Flags:     v4l2.V4L2_BUF_FLAG_GRAPHICS | v4l2.V4L2_BUF_FLAG_DONE,
		Timestamp: v4l2.Timeval{Sec: 1, Usec: 500},
	})
	require.NoError(t, err)
	require.NoError(t, dev.StreamOn())

	bufs := rec.get()
	require.Len(t, bufs, 1)
	b := bufs[0]
	assert.Equal(t, crop, b.Src.Visible)
	assert.Equal(t, out, b.Dst.Window)
	assert.Equal(t, uint8(128), b.Src.ConstAlpha)
	assert.NotZero(t, b.Src.Flags&display.SrcConstAlpha)
	assert.Zero(t, b.Src.Flags&display.SrcInterlaced)
	assert.NotZero(t, b.Info.Flags&display.InfoGraphics)
	assert.NotZero(t, b.Info.Flags&display.InfoPersistent)
	assert.Equal(t, int64(1000500), b.Info.PresentationTime)
	assert.Equal(t, 1, b.Info.NFields)

	sim.Tick()
	require.NoError(t, dev.StreamOff())

	// Only client options survive into the buffer flags.
	info, err := dev.QueryBuffer(0)
	require.NoError(t, err)
	assert.NotZero(t, info.Flags&v4l2.V4L2_BUF_FLAG_GRAPHICS)
	assert.Zero(t, info.Flags&v4l2.V4L2_BUF_FLAG_DONE)
}

func TestNTSCInterlacedRepeatFirstField(t *testing.T) {
	dev, _, rec := openSimulated(t, func(sc *display.SimulatorConfig) {
		sc.Mode = display.ModeFor(display.StdNTSCM, false)
	})
	pix := setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_INTERLACED)
	assert.Equal(t, v4l2.V4L2_FIELD_INTERLACED, pix.Field)
	_, err := dev.RequestBuffers(1, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	_, err = dev.Queue(QueueRequest{
		Index:  0,
		Memory: v4l2.V4L2_MEMORY_MMAP,
		Field:  v4l2.V4L2_FIELD_INTERLACED,
		Flags:  v4l2.V4L2_BUF_FLAG_REPEAT_FIRST_FIELD,
	})
	require.NoError(t, err)
	require.NoError(t, dev.StreamOn())

	// NTSC shows the bottom field first; the repeated field lengthens it.
	bufs := rec.get()
	require.Len(t, bufs, 2)
	assert.NotZero(t, bufs[0].Src.Flags&display.SrcBottomFieldOnly)
	assert.Equal(t, 2, bufs[0].Info.NFields)
	assert.NotZero(t, bufs[1].Src.Flags&display.SrcTopFieldOnly)
	assert.Equal(t, 1, bufs[1].Info.NFields)
}

func TestCropWithoutResize(t *testing.T) {
	dev, _, _ := openSimulated(t, func(sc *display.SimulatorConfig) {
		sc.Caps.Resize = false
	})
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err := dev.RequestBuffers(1, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	assert.Equal(t, ErrCrop, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
	_, err = dev.SetOutputCrop(format.Rect{Left: 16, Top: 16, Width: 64, Height: 32})
	require.NoError(t, err)
	assert.NoError(t, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
}

func TestInterlacedOnProgressive(t *testing.T) {
	dev, _, _ := openSimulated(t, func(sc *display.SimulatorConfig) {
		sc.Mode = display.ModeFor(display.StdPAL, true)
		sc.Caps.Deinterlace = false
	})
	pix := setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_ANY)
	assert.Equal(t, v4l2.V4L2_FIELD_ANY, pix.Field)
	_, err := dev.RequestBuffers(1, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	assert.Equal(t, ErrNotSupported, queue(dev, 0, v4l2.V4L2_FIELD_INTERLACED_TB))
	assert.NoError(t, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
}

func TestPalette(t *testing.T) {
	dev, _, _ := openSimulated(t, nil)
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_CLUT8, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err := dev.RequestBuffers(1, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	_, err = dev.Queue(QueueRequest{
		Index:  0,
		Memory: v4l2.V4L2_MEMORY_MMAP,
		Field:  v4l2.V4L2_FIELD_NONE,
		Clut:   []uint32{0xff112233, 0x00445566, 0x7f000000},
	})
	require.NoError(t, err)

	d, err := dev.pool.ByIndex(v4l2.V4L2_MEMORY_MMAP, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80112233), binary.LittleEndian.Uint32(d.Clut[0:]))
	assert.Equal(t, uint32(0x00445566), binary.LittleEndian.Uint32(d.Clut[4:]))
	assert.Equal(t, uint32(0x40000000), binary.LittleEndian.Uint32(d.Clut[8:]))
	assert.Zero(t, binary.LittleEndian.Uint32(d.Clut[12:]))
}

func TestColorKey(t *testing.T) {
	dev, sim, rec := openSimulated(t, nil)
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err := dev.RequestBuffers(1, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	require.NoError(t, dev.SetColorKey(display.ColorKey{
		Flags:  display.ColorKeyEnable | display.ColorKeyMinVal | display.ColorKeyMaxVal,
		Enable: display.ColorKeyEnabled,
		MinVal: 0x101010,
		MaxVal: 0x202020,
	}))
	assert.Equal(t, uint32(0x101010), sim.ColorKey().MinVal)

	// Only the named fields change.
	require.NoError(t, dev.SetColorKey(display.ColorKey{Flags: display.ColorKeyRInfo, RInfo: display.ColorKeyInside}))
	ck := sim.ColorKey()
	assert.Equal(t, display.ColorKeyInside, ck.RInfo)
	assert.Equal(t, uint32(0x202020), ck.MaxVal)

	// Moving the key to the buffers clears it from the plane.
	require.NoError(t, dev.SetColorKey(display.ColorKey{
		Flags:  display.ColorKeyEnable,
		Enable: display.ColorKeyEnabled | display.ColorKeyActivateBuffer,
	}))
	assert.Equal(t, display.ColorKey{Flags: display.ColorKeyAll}, sim.ColorKey())

	require.NoError(t, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
	require.NoError(t, dev.StreamOn())
	bufs := rec.get()
	require.Len(t, bufs, 1)
	assert.Equal(t, display.ColorKeyEnabled, bufs[0].Src.ColorKey.Enable)
	assert.Equal(t, uint32(0x101010), bufs[0].Src.ColorKey.MinVal)

	assert.Equal(t, ErrInvalidValue, dev.SetColorKey(display.ColorKey{Flags: 1 << 20}))
}

func TestMappedBuffersStayAllocated(t *testing.T) {
	dev, _, _ := openSimulated(t, nil)
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err := dev.RequestBuffers(2, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)

	info, err := dev.QueryBuffer(1)
	require.NoError(t, err)
	mem, err := dev.Map(info.Offset)
	require.NoError(t, err)
	assert.Len(t, mem, int(info.Length))

	info, err = dev.QueryBuffer(1)
	require.NoError(t, err)
	assert.NotZero(t, info.Flags&v4l2.V4L2_BUF_FLAG_MAPPED)

	_, err = dev.RequestBuffers(0, v4l2.V4L2_MEMORY_MMAP)
	assert.Equal(t, ErrBusy, errors.Cause(err))
	assert.Equal(t, ErrBusy, errors.Cause(dev.Close()))
	assert.Equal(t, 2, dev.Stats().Buffers)

	require.NoError(t, dev.Unmap(info.Offset))
	_, err = dev.RequestBuffers(0, v4l2.V4L2_MEMORY_MMAP)
	assert.NoError(t, err)
	assert.Equal(t, ErrInvalidIndex, dev.Unmap(info.Offset))
}

func TestUserPointer(t *testing.T) {
	dev, _, _ := openSimulated(t, nil)
	pix := setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)

	n, err := dev.RequestBuffers(40, v4l2.V4L2_MEMORY_USERPTR)
	require.NoError(t, err)
	assert.Equal(t, buffer.DefaultMaxUserBuffers, n)

	req := QueueRequest{
		Memory: v4l2.V4L2_MEMORY_USERPTR,
		Field:  v4l2.V4L2_FIELD_NONE,
		Length: int(pix.SizeImage),
	}
	_, err = dev.Queue(req)
	assert.Equal(t, buffer.ErrBadUserPointer, errors.Cause(err))

	req.UserPtr = 0x48000000
	req.Length = 16
	_, err = dev.Queue(req)
	assert.Equal(t, ErrInvalidValue, errors.Cause(err))

	req.Length = int(pix.SizeImage)
	info, err := dev.Queue(req)
	require.NoError(t, err)
	assert.Equal(t, v4l2.V4L2_MEMORY_USERPTR, info.Memory)
	assert.Equal(t, uint32(0x48000000), info.Offset)
	assert.NotZero(t, info.Flags&v4l2.V4L2_BUF_FLAG_QUEUED)
}

func TestClose(t *testing.T) {
	dev, _, _ := openSimulated(t, nil)
	setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	_, err := dev.RequestBuffers(2, v4l2.V4L2_MEMORY_MMAP)
	require.NoError(t, err)
	require.NoError(t, queue(dev, 0, v4l2.V4L2_FIELD_NONE))
	require.NoError(t, dev.StreamOn())

	require.NoError(t, dev.Close())
	assert.False(t, dev.Streaming())
	assert.Equal(t, ErrClosed, dev.Close())
	assert.Equal(t, ErrClosed, queue(dev, 1, v4l2.V4L2_FIELD_NONE))
	_, err = dev.Dequeue(context.Background(), false)
	assert.Equal(t, ErrClosed, err)
}

func TestDequeueWhileSlotReused(t *testing.T) {
	sc := config.Default().Simulator()
	sc.VSync = 200 * time.Microsecond
	sim := display.NewSimulator(sc)
	opts := testOptions()
	opts.Pool = buffer.Config{MaxUserBuffers: 2}
	dev, err := Open(sim, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		dev.Close()
		sim.Close()
	})

	pix := setFormat(t, dev, v4l2.V4L2_PIX_FMT_UYVY, 64, 32, v4l2.V4L2_FIELD_NONE)
	n, err := dev.RequestBuffers(2, v4l2.V4L2_MEMORY_USERPTR)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	const frames = 50
	addr := func(i int) uint64 { return 0x48000000 + uint64(i)<<20 }
	queueUser := func(i int) error {
		_, err := dev.Queue(QueueRequest{
			Memory:  v4l2.V4L2_MEMORY_USERPTR,
			Field:   v4l2.V4L2_FIELD_NONE,
			UserPtr: addr(i),
			Length:  int(pix.SizeImage),
		})
		return err
	}
	require.NoError(t, queueUser(0))
	require.NoError(t, queueUser(1))
	require.NoError(t, dev.StreamOn())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Refill each slot the moment it frees up.
	queued := make(chan error, 1)
	go func() {
		for i := 2; i < frames; {
			err := queueUser(i)
			switch {
			case err == nil:
				i++
			case errors.Cause(err) == buffer.ErrTooManyUserBuffers:
				if ctx.Err() != nil {
					queued <- ctx.Err()
					return
				}
				time.Sleep(10 * time.Microsecond)
			default:
				queued <- err
				return
			}
		}
		queued <- nil
	}()

	// The last frame stays on screen.
	var offsets []uint32
	for len(offsets) < frames-1 {
		info, err := dev.Dequeue(ctx, true)
		require.NoError(t, err)
		assert.Zero(t, info.Flags&(v4l2.V4L2_BUF_FLAG_QUEUED|v4l2.V4L2_BUF_FLAG_DONE))
		offsets = append(offsets, info.Offset)
	}
	require.NoError(t, <-queued)

	for i, off := range offsets {
		assert.Equal(t, uint32(addr(i)), off, "frame %d", i)
	}
	require.NoError(t, dev.StreamOff())
}
