// Package display describes what the presentation hardware consumes: the
// per-submission buffer header, the Sink contract, and the rule for splitting
// an interlaced frame into two field submissions. It also provides a
// simulated vsync-driven sink.
package display

import (
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/logging"
)

var log = logging.DefaultLogger.WithTag("display")

type SrcFlags uint32

const (
	SrcColorspace709 SrcFlags = 1 << iota
	SrcInterlaced
	SrcBottomFieldFirst
	SrcTopFieldOnly
	SrcBottomFieldOnly
	SrcRepeatFirstField
	SrcInterpolateFields
	SrcPremultipliedAlpha
	SrcConstAlpha
)

type DstFlags uint32

const (
	DstRescaleToVideoRange DstFlags = 1 << iota
)

type InfoFlags uint32

const (
	// The last buffer stays on screen when no more are queued.
	InfoPersistent InfoFlags = 1 << iota
	InfoGraphics
)

// Picture is the memory description of the source image.
type Picture struct {
	Addr         uint64
	Size         int
	ChromaOffset int
	Surface      format.Surface
	Depth        int
	Pitch        int
	Width        int
	Height       int
}

type Src struct {
	Picture Picture
	Visible format.Rect
	Flags   SrcFlags

	ClutAddr uint64

	ColorKey ColorKey

	// Used when SrcConstAlpha is set.
	ConstAlpha uint8
}

type Dst struct {
	// Output window on the display.
	Window format.Rect
	Flags  DstFlags
}

// Stats describes how a submission was retired.
type Stats struct {
	// Number of fields actually shown.
	Fields int

	// Retirement time in microseconds on the display clock.
	Time int64

	// Set when the buffer was retired by a flush rather than displayed.
	Flushed bool
}

type Info struct {
	Flags InfoFlags

	// Presentation time in microseconds; zero means as soon as possible.
	PresentationTime int64

	// Number of fields this submission stays on screen for.
	NFields int

	// Called with the vsync time the submission is first shown.
	OnDisplay func(vsyncTime int64)

	// Called once the hardware no longer references the memory.
	OnCompleted func(Stats)
}

// Buffer is one submission to a Sink.
type Buffer struct {
	Src  Src
	Dst  Dst
	Info Info
}

// IsInterlacedFrame reports whether b carries two interlaced fields that are
// to be submitted one at a time.
func (b *Buffer) IsInterlacedFrame() bool {
	return b.Src.Flags&SrcInterlaced != 0 &&
		b.Src.Flags&(SrcTopFieldOnly|SrcBottomFieldOnly) == 0
}

// Split divides an interlaced frame into two field submissions. The field
// shown first carries the display callback, the other the completion
// callback, so a frame produces exactly one of each. The first field is shown
// for ceil(n/2) fields and the second for the remainder.
//
// When the remainder is zero the second submission must not be queued; the
// completion callback then rides on the first. ok is false for buffers that
// are not interlaced frames.
func Split(b *Buffer) (first, second Buffer, ok bool) {
	if !b.IsInterlacedFrame() {
		return *b, Buffer{}, false
	}

	first, second = *b, *b
	if b.Src.Flags&SrcBottomFieldFirst != 0 {
		first.Src.Flags |= SrcBottomFieldOnly
		second.Src.Flags |= SrcTopFieldOnly
	} else {
		first.Src.Flags |= SrcTopFieldOnly
		second.Src.Flags |= SrcBottomFieldOnly
	}

	n := b.Info.NFields
	first.Info.NFields = (n + 1) / 2
	second.Info.NFields = n - first.Info.NFields

	first.Info.OnCompleted = nil
	second.Info.OnDisplay = nil
	if second.Info.NFields == 0 {
		first.Info.OnCompleted = b.Info.OnCompleted
		second.Info.OnCompleted = nil
	}
	return first, second, true
}
