package main

import (
	"context"
	"fmt"
	imgcolor "image/color"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/vout"
	vcolor "github.com/lanikai/vout/internal/color"
	"github.com/lanikai/vout/internal/config"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/logging"
	"github.com/lanikai/vout/internal/monitor"
	"github.com/lanikai/vout/internal/v4l2"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string

var log = logging.DefaultLogger.WithTag("voutd")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if flagShow != "" {
		f, err := os.Open(flagShow)
		if err != nil {
			log.Fatalf("%v", err)
		}
		err = showRecording(os.Stdout, f)
		f.Close()
		if err != nil {
			log.Fatalf("%v", err)
		}
		os.Exit(0)
	}

	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagMonitor != "" {
		cfg.Monitor.Listen = flagMonitor
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatalf("%v", err)
	}

	if flagBuffers < 2 {
		log.Fatalf("need at least 2 buffers: the last one stays on screen until replaced")
	}

	req, err := parsePicture(flagFourcc, flagGeometry, flagField)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := display.NewSimulator(cfg.Simulator())
	defer sim.Close()

	opts := vout.OptionsFromConfig(cfg)
	if cfg.Monitor.Listen != "" {
		mon := monitor.New()
		opts.Observer = mon.Observe
		go func() {
			if err := mon.ListenAndServe(cfg.Monitor.Listen); err != nil {
				log.Error("monitor: %v", err)
			}
		}()
		defer mon.Close()
	}

	dev, err := vout.Open(sim, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer dev.Close()

	s, err := run(ctx, dev, req)
	if err != nil {
		log.Error("%v", err)
	}
	summary(s)
}

func parsePicture(fourcc, geometry, field string) (v4l2.PixFormat, error) {
	var pix v4l2.PixFormat

	if len(fourcc) != 4 {
		return pix, errors.Errorf("format %q is not a fourcc", fourcc)
	}
	pix.PixelFormat = v4l2.Fourcc(fourcc[0], fourcc[1], fourcc[2], fourcc[3])

	var width, height int
	if n, err := fmt.Sscanf(geometry, "%dx%d", &width, &height); n != 2 || err != nil {
		return pix, errors.Errorf("geometry %q: want WxH", geometry)
	}
	pix.Width, pix.Height = uint32(width), uint32(height)

	switch strings.ToLower(field) {
	case "none", "progressive":
		pix.Field = v4l2.V4L2_FIELD_NONE
	case "interlaced":
		pix.Field = v4l2.V4L2_FIELD_INTERLACED
	case "tb":
		pix.Field = v4l2.V4L2_FIELD_INTERLACED_TB
	case "bt":
		pix.Field = v4l2.V4L2_FIELD_INTERLACED_BT
	default:
		return pix, errors.Errorf("field %q", field)
	}
	return pix, nil
}

type result struct {
	pix     v4l2.PixFormat
	buffers int
	frames  int
	stats   vout.Stats
}

// run streams frames until enough have been shown or ctx ends: every buffer
// is queued up front, and each one dequeued goes straight back.
func run(ctx context.Context, dev *vout.Device, req v4l2.PixFormat) (result, error) {
	var r result

	pix, err := dev.SetFormat(req)
	if err != nil {
		return r, err
	}
	r.pix = pix
	if pix.PixelFormat != req.PixelFormat || pix.Width != req.Width || pix.Height != req.Height {
		log.Warn("asked for %s %dx%d, got %s %dx%d",
			v4l2.FourccString(req.PixelFormat), req.Width, req.Height,
			v4l2.FourccString(pix.PixelFormat), pix.Width, pix.Height)
	}

	var rec *recorder
	if flagRecord != "" {
		f, err := os.Create(flagRecord)
		if err != nil {
			return r, err
		}
		defer f.Close()
		if rec, err = newRecorder(f, pix); err != nil {
			return r, err
		}
		defer func(rec *recorder) {
			if err := rec.Close(); err != nil {
				log.Error("record: %v", err)
			}
			log.Info("recorded %d buffers to %s", rec.n, flagRecord)
		}(rec)
	}

	n, err := dev.RequestBuffers(flagBuffers, v4l2.V4L2_MEMORY_MMAP)
	if err != nil {
		return r, err
	}
	r.buffers = n

	for i := 0; i < n; i++ {
		if err := paint(dev, i, pix); err != nil {
			return r, err
		}
		if _, err := dev.Queue(queueRequest(i, pix)); err != nil {
			return r, err
		}
	}

	if err := dev.StreamOn(); err != nil {
		return r, err
	}
	log.Info("streaming %d buffers, session %s", n, dev.SessionID())

	for r.frames < flagFrames {
		info, err := dev.Dequeue(ctx, true)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("dequeue: %v", err)
			}
			break
		}
		r.frames++
		log.Debug("buffer %d done, sequence %d", info.Index, info.Sequence)
		if rec != nil {
			if err := rec.add(info); err != nil {
				log.Error("%v", err)
				rec = nil
			}
		}

		if _, err := dev.Queue(queueRequest(int(info.Index), pix)); err != nil {
			log.Error("queue: %v", err)
			break
		}
	}

	r.stats = dev.Stats()
	return r, dev.StreamOff()
}

func queueRequest(index int, pix v4l2.PixFormat) vout.QueueRequest {
	req := vout.QueueRequest{
		Index:     index,
		Memory:    v4l2.V4L2_MEMORY_MMAP,
		Field:     pix.Field,
		BytesUsed: pix.SizeImage,
	}
	if req.Field == v4l2.V4L2_FIELD_ANY {
		req.Field = v4l2.V4L2_FIELD_NONE
	}
	if pix.PixelFormat == v4l2.V4L2_PIX_FMT_CLUT8 {
		req.Clut = greyscale
	}
	return req
}

var greyscale = func() []uint32 {
	clut := make([]uint32, 256)
	for i := range clut {
		v := uint32(i)
		clut[i] = 0xff000000 | v<<16 | v<<8 | v
	}
	return clut
}()

// Colours painted into successive buffers, so frames are told apart.
var palette = []imgcolor.RGBA{
	{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff},
	{R: 0xc0, G: 0xc0, A: 0xff},
	{G: 0xc0, B: 0xc0, A: 0xff},
	{G: 0xc0, A: 0xff},
	{R: 0xc0, B: 0xc0, A: 0xff},
	{R: 0xc0, A: 0xff},
	{B: 0xc0, A: 0xff},
}

func paint(dev *vout.Device, index int, pix v4l2.PixFormat) error {
	info, err := dev.QueryBuffer(index)
	if err != nil {
		return err
	}
	mem, err := dev.Map(info.Offset)
	if err != nil {
		return err
	}
	defer dev.Unmap(info.Offset)

	layout := format.ComputeLayout(&pix)
	if !vcolor.Fill(mem, pix, layout, palette[index%len(palette)]) {
		log.Warn("cannot paint %s buffers", v4l2.FourccString(pix.PixelFormat))
	}
	return nil
}

func summary(r result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	bold.Printf("%s %dx%d %v\n", v4l2.FourccString(r.pix.PixelFormat), r.pix.Width, r.pix.Height, r.pix.Field)
	fmt.Printf("  buffers    %d of %d requested\n", r.buffers, flagBuffers)
	green.Printf("  frames     %d completed, %d dequeued\n", r.stats.Stream.Completed, r.frames)
	if r.stats.Stream.Dropped > 0 || r.stats.Stream.Retries > 0 {
		yellow.Printf("  dropped    %d, %d busy retries\n", r.stats.Stream.Dropped, r.stats.Stream.Retries)
	}
	for _, p := range r.stats.Allocator.Partitions {
		fmt.Printf("  %-18s %d of %d KiB in %d regions\n", p.Name, p.Used>>10, p.Size>>10, p.Live)
	}
	if r.stats.Allocator.Degraded > 0 {
		yellow.Printf("  %d allocations crossed the placement boundary\n", r.stats.Allocator.Degraded)
	}
}
