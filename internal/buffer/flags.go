package buffer

import (
	"strings"

	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/v4l2"
)

// Flags is the single internal representation of buffer flags. Clients see
// them as v4l2.BufFlag; the hardware sees them spread over the source,
// destination and presentation flags of a display.Buffer.
type Flags uint32

const (
	FlagQueued Flags = 1 << iota
	FlagDone
	FlagMapped
	FlagRepeatFirstField
	FlagInterpolateFields
	FlagRescaleToVideoRange
	FlagGraphics
	FlagNonPremultipliedAlpha
	FlagPersistent
)

// Flags a client chooses per queued buffer.
const ClientOptions = FlagRepeatFirstField | FlagInterpolateFields |
	FlagRescaleToVideoRange | FlagGraphics | FlagNonPremultipliedAlpha

var flagNames = []struct {
	flag Flags
	name string
	v4l2 v4l2.BufFlag
}{
	{FlagQueued, "queued", v4l2.V4L2_BUF_FLAG_QUEUED},
	{FlagDone, "done", v4l2.V4L2_BUF_FLAG_DONE},
	{FlagMapped, "mapped", v4l2.V4L2_BUF_FLAG_MAPPED},
	{FlagRepeatFirstField, "repeat-first-field", v4l2.V4L2_BUF_FLAG_REPEAT_FIRST_FIELD},
	{FlagInterpolateFields, "interpolate-fields", v4l2.V4L2_BUF_FLAG_INTERPOLATE_FIELDS},
	{FlagRescaleToVideoRange, "rescale-to-video-range", v4l2.V4L2_BUF_FLAG_RESCALE_COLOUR_TO_VIDEO_RANGE},
	{FlagGraphics, "graphics", v4l2.V4L2_BUF_FLAG_GRAPHICS},
	{FlagNonPremultipliedAlpha, "non-premultiplied-alpha", v4l2.V4L2_BUF_FLAG_NON_PREMULTIPLIED_ALPHA},
	{FlagPersistent, "persistent", 0},
}

// FromV4L2 converts client-visible flags. Unknown bits are dropped.
func FromV4L2(v v4l2.BufFlag) Flags {
	var f Flags
	for _, n := range flagNames {
		if n.v4l2 != 0 && v&n.v4l2 != 0 {
			f |= n.flag
		}
	}
	return f
}

// V4L2 converts to client-visible flags. FlagPersistent has no client form.
func (f Flags) V4L2() v4l2.BufFlag {
	var v v4l2.BufFlag
	for _, n := range flagNames {
		if f&n.flag != 0 {
			v |= n.v4l2
		}
	}
	return v
}

// Apply sets the hardware flags of b that correspond to f, clearing those
// that do not. Non-premultiplied alpha is the inverse of the hardware's
// premultiplied flag, so premultiplied is the default.
func (f Flags) Apply(b *display.Buffer) {
	setSrc := func(on bool, bit display.SrcFlags) {
		if on {
			b.Src.Flags |= bit
		} else {
			b.Src.Flags &^= bit
		}
	}
	setSrc(f&FlagRepeatFirstField != 0, display.SrcRepeatFirstField)
	setSrc(f&FlagInterpolateFields != 0, display.SrcInterpolateFields)
	setSrc(f&FlagNonPremultipliedAlpha == 0, display.SrcPremultipliedAlpha)

	if f&FlagRescaleToVideoRange != 0 {
		b.Dst.Flags |= display.DstRescaleToVideoRange
	} else {
		b.Dst.Flags &^= display.DstRescaleToVideoRange
	}

	if f&FlagGraphics != 0 {
		b.Info.Flags |= display.InfoGraphics
	} else {
		b.Info.Flags &^= display.InfoGraphics
	}
	if f&FlagPersistent != 0 {
		b.Info.Flags |= display.InfoPersistent
	} else {
		b.Info.Flags &^= display.InfoPersistent
	}
}

// FromHardware recovers the flags that Apply encodes into b.
func FromHardware(b *display.Buffer) Flags {
	var f Flags
	if b.Src.Flags&display.SrcRepeatFirstField != 0 {
		f |= FlagRepeatFirstField
	}
	if b.Src.Flags&display.SrcInterpolateFields != 0 {
		f |= FlagInterpolateFields
	}
	if b.Src.Flags&display.SrcPremultipliedAlpha == 0 {
		f |= FlagNonPremultipliedAlpha
	}
	if b.Dst.Flags&display.DstRescaleToVideoRange != 0 {
		f |= FlagRescaleToVideoRange
	}
	if b.Info.Flags&display.InfoGraphics != 0 {
		f |= FlagGraphics
	}
	if b.Info.Flags&display.InfoPersistent != 0 {
		f |= FlagPersistent
	}
	return f
}

func (f Flags) String() string {
	var names []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
