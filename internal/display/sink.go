package display

import (
	"errors"
	"strings"
	"time"
)

var (
	// The hardware queue has no room; retry after a completion.
	ErrQueueFull = errors.New("display: queue full")

	// The wait for queue space was interrupted.
	ErrInterrupted = errors.New("display: interrupted")

	ErrLocked    = errors.New("display: plane locked by another session")
	ErrNotLocked = errors.New("display: plane not locked")
)

// IsBusy reports whether err is a transient rejection after which the
// submission should be retried.
func IsBusy(err error) bool {
	return err == ErrQueueFull || err == ErrInterrupted
}

// Sink is the presentation engine. Queue never blocks; callbacks attached to
// a Buffer fire later from the sink's own goroutine, except during Flush
// which retires every outstanding buffer before returning.
type Sink interface {
	Queue(b *Buffer) error

	// Exclusive use of the plane for one streaming session.
	Lock() error
	Unlock() error

	Flush() error

	// Applies a plane-wide colour key.
	SetColorKey(ck ColorKey) error

	Capabilities() (Caps, error)
	Mode() (Mode, error)
}

type Caps struct {
	// Pixel formats, preferred first.
	Formats []uint32

	// Hardware can resize the source crop to the output window.
	Resize bool

	// Hardware can show interlaced content on a progressive display.
	Deinterlace bool

	MinWidth, MinHeight int

	// Zero means limited by the display mode.
	MaxWidth, MaxHeight int
}

// Standard is a bit set of output standards.
type Standard uint32

const (
	StdPAL Standard = 1 << iota
	StdNTSCM
	StdNTSCJ
	StdNTSC443
	StdSMPTE274M
	StdSMPTE296M
)

func ParseStandard(s string) (Standard, bool) {
	switch strings.ToLower(s) {
	case "pal":
		return StdPAL, true
	case "ntsc", "ntsc-m":
		return StdNTSCM, true
	case "ntsc-j":
		return StdNTSCJ, true
	case "ntsc-443":
		return StdNTSC443, true
	case "1080i", "smpte274m":
		return StdSMPTE274M, true
	case "720p", "smpte296m":
		return StdSMPTE296M, true
	}
	return 0, false
}

// NTSC standards display the bottom field first.
func (s Standard) NTSC() bool {
	return s&(StdNTSCM|StdNTSCJ|StdNTSC443) != 0
}

func (s Standard) HD() bool {
	return s&(StdSMPTE274M|StdSMPTE296M) != 0
}

// Mode is the current display mode.
type Mode struct {
	Standard      Standard
	Progressive   bool
	PixelsPerLine int
	ActiveWidth   int
	ActiveHeight  int

	// Time between vsyncs, i.e. one field on interlaced modes.
	FieldPeriod time.Duration
}

// ModeFor returns the usual mode for a standard.
func ModeFor(std Standard, progressive bool) Mode {
	m := Mode{Standard: std, Progressive: progressive}
	switch {
	case std&StdPAL != 0:
		m.PixelsPerLine, m.ActiveWidth, m.ActiveHeight = 720, 720, 576
		m.FieldPeriod = 20 * time.Millisecond
	case std.NTSC():
		m.PixelsPerLine, m.ActiveWidth, m.ActiveHeight = 720, 720, 480
		m.FieldPeriod = 16683 * time.Microsecond
	case std&StdSMPTE274M != 0:
		m.PixelsPerLine, m.ActiveWidth, m.ActiveHeight = 1920, 1920, 1080
		m.FieldPeriod = 20 * time.Millisecond
	case std&StdSMPTE296M != 0:
		m.PixelsPerLine, m.ActiveWidth, m.ActiveHeight = 1280, 1280, 720
		m.Progressive = true
		m.FieldPeriod = 20 * time.Millisecond
	}
	return m
}
