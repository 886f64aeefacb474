package format

import (
	"errors"

	"github.com/lanikai/vout/internal/v4l2"
)

var ErrNoFormats = errors.New("format: plane reports no image formats")

// Limits is what the plane and the current display mode allow.
type Limits struct {
	// Pixel formats supported by the plane, preferred first.
	Formats []uint32

	MinWidth, MinHeight int

	// Zero means "use the display mode".
	MaxWidth, MaxHeight int

	// Whether the plane can deinterlace for a progressive display.
	Deinterlace bool

	// Current display mode.
	Progressive   bool
	HD            bool
	PixelsPerLine int
	ActiveWidth   int
	ActiveHeight  int
}

func (lim *Limits) supports(fourcc uint32) bool {
	for _, f := range lim.Formats {
		if f == fourcc {
			return true
		}
	}
	return false
}

// Negotiate adjusts a requested format to the closest one the plane can
// display. It never rejects a request for being unsupported; the returned
// format reflects what was actually selected.
func Negotiate(req v4l2.PixFormat, lim Limits) (v4l2.PixFormat, Layout, error) {
	if len(lim.Formats) == 0 {
		return req, Layout{}, ErrNoFormats
	}
	pix := req

	switch pix.Field {
	case v4l2.V4L2_FIELD_ANY, v4l2.V4L2_FIELD_NONE:
	case v4l2.V4L2_FIELD_INTERLACED, v4l2.V4L2_FIELD_INTERLACED_TB, v4l2.V4L2_FIELD_INTERLACED_BT:
		if lim.Progressive && !lim.Deinterlace {
			log.Warn("interlaced content on a progressive display is not supported by this plane")
			pix.Field = v4l2.V4L2_FIELD_NONE
		}
	default:
		pix.Field = v4l2.V4L2_FIELD_ANY
	}

	if info, ok := Lookup(pix.PixelFormat); ok && info.YUV {
		// The plane converts YUV to RGB internally using 601 or 709 maths.
		if pix.Colorspace != v4l2.V4L2_COLORSPACE_SMPTE170M && pix.Colorspace != v4l2.V4L2_COLORSPACE_REC709 {
			if lim.HD {
				pix.Colorspace = v4l2.V4L2_COLORSPACE_REC709
			} else {
				pix.Colorspace = v4l2.V4L2_COLORSPACE_SMPTE170M
			}
		}
	} else {
		pix.Colorspace = v4l2.V4L2_COLORSPACE_SRGB
	}

	if !lim.supports(pix.PixelFormat) {
		log.Debug("format %s not supported, falling back to %s",
			v4l2.FourccString(pix.PixelFormat), v4l2.FourccString(lim.Formats[0]))
		pix.PixelFormat = lim.Formats[0]
	}
	info, _ := Lookup(pix.PixelFormat)

	// Interlaced buffers need an even number of lines.
	if pix.Field != v4l2.V4L2_FIELD_NONE {
		pix.Height += pix.Height % 2
	}

	switch info.Kind {
	case KindPacked422:
		pix.Width += pix.Width % 2
	case KindMacroblock:
		pix.Width = uint32(roundUp(int(pix.Width), MacroblockSize))
		pix.Height = uint32(roundUp(int(pix.Height), MacroblockSize))
	}

	maxW, maxH := lim.MaxWidth, lim.MaxHeight
	if maxW == 0 {
		maxW = lim.PixelsPerLine
	}
	if maxH == 0 {
		maxH = lim.ActiveHeight
	}
	pix.Width = uint32(clamp(int(pix.Width), lim.MinWidth, maxW))
	pix.Height = uint32(clamp(int(pix.Height), lim.MinHeight, maxH))

	// The client's stride is honoured for raster formats only. Macroblock
	// formats always use the virtual luma stride.
	minBPL := uint32((int(pix.Width)*info.Depth + 7) / 8)
	if pix.BytesPerLine < minBPL || info.Kind == KindMacroblock {
		pix.BytesPerLine = minBPL
	}

	layout := ComputeLayout(&pix)
	return pix, layout, nil
}

func clamp(v, lo, hi int) int {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
