// Package format describes the pixel formats the output plane accepts and
// computes buffer geometry: stride alignment, plane offsets, and image sizes,
// including the macroblock-group layout of the ST planar formats.
package format

import (
	"github.com/lanikai/vout/internal/logging"
	"github.com/lanikai/vout/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("format")

// Surface is the display hardware's colour format code.
type Surface int

const (
	SurfaceNone Surface = iota
	SurfaceRGB565
	SurfaceARGB1555
	SurfaceARGB4444
	SurfaceRGB888
	SurfaceARGB8888
	SurfaceBGRA8888
	SurfaceYCbCr422R
	SurfaceYUYV
	SurfaceYCbCr422MB
	SurfaceYCbCr420MB
	SurfaceYUV420
	SurfaceYVU420
	SurfaceYUV422P
	SurfaceYCbCr420R2B
	SurfaceYCbCr422R2B
	SurfaceCLUT2
	SurfaceCLUT4
	SurfaceCLUT8
	SurfaceACLUT88
)

// Kind groups formats that share layout rules.
type Kind int

const (
	KindRaster     Kind = iota // single plane, stride * height
	KindPacked422              // interleaved 4:2:2, even width
	KindPlanar420              // separate luma and 4:2:0 chroma
	KindPlanar422              // separate luma and 4:2:2 chroma
	KindSemi420                // luma plus interleaved 4:2:0 chroma
	KindSemi422                // luma plus interleaved 4:2:2 chroma
	KindMacroblock             // ST macroblock-group planar
	KindCLUT                   // palette indexed
)

// Info describes one supported pixel format.
type Info struct {
	Fourcc  uint32
	Name    string
	Surface Surface

	// Bits per pixel; for planar formats, of the luma plane only.
	Depth int

	Kind Kind

	// Number of palette entries for CLUT formats.
	ClutEntries int

	// Whether the content is YUV and therefore carries a 601/709 colorspace.
	YUV bool
}

var formats = []Info{
	{v4l2.V4L2_PIX_FMT_RGB565, "RGB-16 (5-6-5)", SurfaceRGB565, 16, KindRaster, 0, false},
	{v4l2.V4L2_PIX_FMT_BGRA5551, "RGBA-16 (5-5-5-1)", SurfaceARGB1555, 16, KindRaster, 0, false},
	{v4l2.V4L2_PIX_FMT_BGRA4444, "RGBA-16 (4-4-4-4)", SurfaceARGB4444, 16, KindRaster, 0, false},
	{v4l2.V4L2_PIX_FMT_BGR24, "RGB-24 (B-G-R)", SurfaceRGB888, 24, KindRaster, 0, false},
	{v4l2.V4L2_PIX_FMT_BGR32, "ARGB-32 (8-8-8-8)", SurfaceARGB8888, 32, KindRaster, 0, false},
	{v4l2.V4L2_PIX_FMT_RGB32, "BGRA-32 (8-8-8-8)", SurfaceBGRA8888, 32, KindRaster, 0, false},
	{v4l2.V4L2_PIX_FMT_UYVY, "YUV 4:2:2 (U-Y-V-Y)", SurfaceYCbCr422R, 16, KindPacked422, 0, true},
	{v4l2.V4L2_PIX_FMT_YUYV, "YUV 4:2:2 (Y-U-Y-V)", SurfaceYUYV, 16, KindPacked422, 0, true},
	{v4l2.V4L2_PIX_FMT_STM422MB, "YUV 4:2:2MB", SurfaceYCbCr422MB, 8, KindMacroblock, 0, true},
	{v4l2.V4L2_PIX_FMT_STM420MB, "YUV 4:2:0MB", SurfaceYCbCr420MB, 8, KindMacroblock, 0, true},
	{v4l2.V4L2_PIX_FMT_YUV420, "YUV 4:2:0 (YUV)", SurfaceYUV420, 8, KindPlanar420, 0, true},
	{v4l2.V4L2_PIX_FMT_YVU420, "YUV 4:2:0 (YVU)", SurfaceYVU420, 8, KindPlanar420, 0, true},
	{v4l2.V4L2_PIX_FMT_YUV422P, "YUV 4:2:2 (YUV)", SurfaceYUV422P, 8, KindPlanar422, 0, true},
	{v4l2.V4L2_PIX_FMT_NV12, "YUV 4:2:0 (Y-CbCr)", SurfaceYCbCr420R2B, 8, KindSemi420, 0, true},
	{v4l2.V4L2_PIX_FMT_NV16, "YUV 4:2:2 (Y-CbCr)", SurfaceYCbCr422R2B, 8, KindSemi422, 0, true},
	{v4l2.V4L2_PIX_FMT_CLUT2, "CLUT2 (RGB)", SurfaceCLUT2, 2, KindCLUT, 4, false},
	{v4l2.V4L2_PIX_FMT_CLUT4, "CLUT4 (RGB)", SurfaceCLUT4, 4, KindCLUT, 16, false},
	{v4l2.V4L2_PIX_FMT_CLUT8, "CLUT8 (RGB)", SurfaceCLUT8, 8, KindCLUT, 256, false},
	{v4l2.V4L2_PIX_FMT_CLUTA8, "CLUT8 with Alpha (RGB)", SurfaceACLUT88, 16, KindCLUT, 256, false},
}

// Lookup returns the description of a pixel format code.
func Lookup(fourcc uint32) (Info, bool) {
	for _, f := range formats {
		if f.Fourcc == fourcc {
			return f, true
		}
	}
	return Info{}, false
}

// BySurface returns the description of a hardware colour format.
func BySurface(s Surface) (Info, bool) {
	for _, f := range formats {
		if f.Surface == s {
			return f, true
		}
	}
	return Info{}, false
}

// All returns every known format, in enumeration order.
func All() []Info {
	return append([]Info(nil), formats...)
}
