// Copyright 2019 Lanikai Labs. All rights reserved.

// Package color paints solid colours into buffers of any supported pixel
// format, for test patterns.
package color

import (
	"encoding/binary"
	imgcolor "image/color"

	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/v4l2"
)

// Fill paints the whole picture in mem with c. CLUT formats are filled with
// the palette index of the colour's luma on a greyscale palette. Formats that
// are not known leave mem untouched and report false.
func Fill(mem []byte, pix v4l2.PixFormat, layout format.Layout, c imgcolor.RGBA) bool {
	info, ok := format.Lookup(pix.PixelFormat)
	if !ok || len(mem) < layout.SizeImage {
		return false
	}
	y, cb, cr := imgcolor.RGBToYCbCr(c.R, c.G, c.B)

	switch info.Kind {
	case format.KindPacked422:
		var px [4]byte
		if pix.PixelFormat == v4l2.V4L2_PIX_FMT_UYVY {
			px = [4]byte{cb, y, cr, y}
		} else {
			px = [4]byte{y, cb, y, cr}
		}
		fillLines(mem, pix, px[:])

	case format.KindPlanar420, format.KindPlanar422:
		// Separate Cb and Cr planes of equal size; YVU420 has Cr first.
		first, second := cb, cr
		if pix.PixelFormat == v4l2.V4L2_PIX_FMT_YVU420 {
			first, second = cr, cb
		}
		half := layout.ChromaSize / 2
		set(mem[:layout.LumaSize], y)
		set(mem[layout.ChromaOffset:layout.ChromaOffset+half], first)
		set(mem[layout.ChromaOffset+half:layout.ChromaOffset+layout.ChromaSize], second)

	case format.KindSemi420, format.KindSemi422, format.KindMacroblock:
		set(mem[:layout.LumaSize], y)
		chroma := mem[layout.ChromaOffset : layout.ChromaOffset+layout.ChromaSize]
		for i := 0; i+1 < len(chroma); i += 2 {
			chroma[i], chroma[i+1] = cb, cr
		}

	case format.KindCLUT:
		switch info.Depth {
		case 2:
			i := y >> 6
			set(mem[:layout.SizeImage], i|i<<2|i<<4|i<<6)
		case 4:
			i := y >> 4
			set(mem[:layout.SizeImage], i|i<<4)
		case 8:
			set(mem[:layout.SizeImage], y)
		case 16:
			fillLines(mem, pix, []byte{y, c.A})
		}

	case format.KindRaster:
		fillLines(mem, pix, rasterPixel(pix.PixelFormat, c))

	default:
		return false
	}
	return true
}

// rasterPixel encodes one RGB pixel as stored in memory.
func rasterPixel(fourcc uint32, c imgcolor.RGBA) []byte {
	r, g, b, a := uint16(c.R), uint16(c.G), uint16(c.B), uint16(c.A)
	var px []byte
	switch fourcc {
	case v4l2.V4L2_PIX_FMT_RGB565:
		px = make([]byte, 2)
		binary.LittleEndian.PutUint16(px, r>>3<<11|g>>2<<5|b>>3)
	case v4l2.V4L2_PIX_FMT_BGRA5551:
		px = make([]byte, 2)
		binary.LittleEndian.PutUint16(px, a>>7<<15|r>>3<<10|g>>3<<5|b>>3)
	case v4l2.V4L2_PIX_FMT_BGRA4444:
		px = make([]byte, 2)
		binary.LittleEndian.PutUint16(px, a>>4<<12|r>>4<<8|g>>4<<4|b>>4)
	case v4l2.V4L2_PIX_FMT_BGR24:
		px = []byte{c.B, c.G, c.R}
	case v4l2.V4L2_PIX_FMT_BGR32:
		px = []byte{c.B, c.G, c.R, c.A}
	case v4l2.V4L2_PIX_FMT_RGB32:
		px = []byte{c.A, c.R, c.G, c.B}
	}
	return px
}

// fillLines repeats px across the visible width of every line.
func fillLines(mem []byte, pix v4l2.PixFormat, px []byte) {
	if len(px) == 0 {
		return
	}
	info, _ := format.Lookup(pix.PixelFormat)
	lineBytes := int(pix.Width) * info.Depth / 8
	for row := 0; row < int(pix.Height); row++ {
		line := mem[row*int(pix.BytesPerLine):]
		for i := 0; i+len(px) <= lineBytes; i += len(px) {
			copy(line[i:], px)
		}
	}
}

func set(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
