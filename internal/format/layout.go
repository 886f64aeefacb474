package format

import (
	"github.com/lanikai/vout/internal/v4l2"
)

// Macroblock storage geometry of the ST planar formats. Macroblocks are
// stored in groups of MacroblockGroupWidth x MacroblockGroupHeight, and the
// decoder needs whole groups, so the buffer is padded with a dummy slice
// (extra macroblock row) and dummy column as required. The chroma group is
// twice the luma group.
const (
	MacroblockSize         = 16
	MacroblockGroupHeight  = 2
	MacroblockGroupWidth   = 2
	macroblockGroupLuma    = MacroblockGroupHeight * MacroblockGroupWidth
	macroblockGroupChroma  = MacroblockGroupHeight * MacroblockGroupWidth * 2
	macroblockLumaBytes    = 256
	macroblockChroma422    = 256
	macroblockChroma420    = 128
	MacroblockGranularity  = 2048
	planarChromaAlignment  = 8
	packed422StrideAlign   = 64
	planarStrideAlign      = 8
	semiPlanar420StrideAln = 32
)

func roundUp(n, m int) int {
	return ((n + m - 1) / m) * m
}

// MacroblockSizes returns the unaligned luma and chroma plane sizes of a
// macroblock format picture of the given dimensions.
func MacroblockSizes(fourcc uint32, width, height int) (luma, chroma int) {
	wMB := (width + MacroblockSize - 1) / MacroblockSize
	hMB := (height + MacroblockSize - 1) / MacroblockSize

	// Dummy slice.
	hMB = roundUp(hMB, MacroblockGroupHeight)

	// Dummy column, per plane group surface.
	luma = roundUp(wMB*hMB, macroblockGroupLuma) * macroblockLumaBytes

	chroma = roundUp(wMB*hMB, macroblockGroupChroma)
	if fourcc == v4l2.V4L2_PIX_FMT_STM422MB {
		chroma *= macroblockChroma422
	} else {
		chroma *= macroblockChroma420
	}
	return
}

// Plane offsets and size of a buffer. ChromaOffset is zero for single-plane
// formats.
type Layout struct {
	LumaSize     int
	ChromaOffset int
	ChromaSize   int
	SizeImage    int
}

// ComputeLayout fills in BytesPerLine alignment, SizeImage and Priv (the
// chroma offset) of a format whose width, height and minimum stride are
// already settled.
func ComputeLayout(pix *v4l2.PixFormat) Layout {
	info, _ := Lookup(pix.PixelFormat)

	bpl := int(pix.BytesPerLine)
	switch info.Kind {
	case KindPacked422:
		// Some planes read 4:2:2 raster in 32 pixel chunks.
		bpl = roundUp(bpl, packed422StrideAlign)
	case KindPlanar420, KindPlanar422, KindSemi422:
		bpl = roundUp(bpl, planarStrideAlign)
	case KindSemi420:
		bpl = roundUp(bpl, semiPlanar420StrideAln)
	}
	pix.BytesPerLine = uint32(bpl)

	height := int(pix.Height)
	var l Layout
	switch info.Kind {
	case KindMacroblock:
		luma, chroma := MacroblockSizes(pix.PixelFormat, int(pix.Width), height)
		l.LumaSize = luma
		l.ChromaOffset = roundUp(luma, MacroblockGranularity)
		l.ChromaSize = roundUp(chroma, MacroblockGranularity)
		l.SizeImage = l.ChromaOffset + l.ChromaSize

	case KindPlanar420, KindSemi420:
		// Two chroma lines take the same space as one luma line.
		luma := roundUp(bpl*height, planarChromaAlignment)
		l = Layout{LumaSize: luma, ChromaOffset: luma, ChromaSize: luma / 2, SizeImage: luma + luma/2}

	case KindPlanar422, KindSemi422:
		luma := roundUp(bpl*height, planarChromaAlignment)
		l = Layout{LumaSize: luma, ChromaOffset: luma, ChromaSize: luma, SizeImage: 2 * luma}

	default:
		l = Layout{LumaSize: bpl * height, SizeImage: bpl * height}
	}

	pix.SizeImage = uint32(l.SizeImage)
	pix.Priv = uint32(l.ChromaOffset)
	return l
}
