// Package v4l2 holds the client-visible Video4Linux2 values used by the
// output device: buffer types, memory types, field orders, colorspaces,
// pixel format codes, buffer flags, and the binary layout of the buffer and
// pixel format structures exchanged with clients.
package v4l2

// Buffer type. Only video output is supported.
const (
	V4L2_BUF_TYPE_VIDEO_OUTPUT uint32 = 2
)

// Memory describes who owns a buffer's storage.
type Memory uint32

const (
	V4L2_MEMORY_MMAP    Memory = 1
	V4L2_MEMORY_USERPTR Memory = 2
)

func (m Memory) String() string {
	switch m {
	case V4L2_MEMORY_MMAP:
		return "mmap"
	case V4L2_MEMORY_USERPTR:
		return "userptr"
	default:
		return "unknown"
	}
}

// Field describes how the lines of a buffer map onto interlaced fields.
type Field uint32

const (
	V4L2_FIELD_ANY           Field = 0
	V4L2_FIELD_NONE          Field = 1
	V4L2_FIELD_TOP           Field = 2
	V4L2_FIELD_BOTTOM        Field = 3
	V4L2_FIELD_INTERLACED    Field = 4
	V4L2_FIELD_SEQ_TB        Field = 5
	V4L2_FIELD_SEQ_BT        Field = 6
	V4L2_FIELD_ALTERNATE     Field = 7
	V4L2_FIELD_INTERLACED_TB Field = 8
	V4L2_FIELD_INTERLACED_BT Field = 9
)

// Interlaced reports whether the field value describes a frame that carries
// two interleaved fields.
func (f Field) Interlaced() bool {
	return f == V4L2_FIELD_INTERLACED || f == V4L2_FIELD_INTERLACED_TB || f == V4L2_FIELD_INTERLACED_BT
}

func (f Field) String() string {
	switch f {
	case V4L2_FIELD_ANY:
		return "any"
	case V4L2_FIELD_NONE:
		return "none"
	case V4L2_FIELD_TOP:
		return "top"
	case V4L2_FIELD_BOTTOM:
		return "bottom"
	case V4L2_FIELD_INTERLACED:
		return "interlaced"
	case V4L2_FIELD_SEQ_TB:
		return "seq-tb"
	case V4L2_FIELD_SEQ_BT:
		return "seq-bt"
	case V4L2_FIELD_ALTERNATE:
		return "alternate"
	case V4L2_FIELD_INTERLACED_TB:
		return "interlaced-tb"
	case V4L2_FIELD_INTERLACED_BT:
		return "interlaced-bt"
	default:
		return "invalid"
	}
}

type Colorspace uint32

const (
	V4L2_COLORSPACE_SMPTE170M Colorspace = 1
	V4L2_COLORSPACE_REC709    Colorspace = 3
	V4L2_COLORSPACE_SRGB      Colorspace = 8
)

// Fourcc builds a pixel format code from its four characters.
func Fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// FourccString is the inverse of Fourcc.
func FourccString(code uint32) string {
	return string([]byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)})
}

// Pixel formats understood by the output device. The STM macroblock and CLUT
// codes are vendor extensions.
var (
	V4L2_PIX_FMT_RGB565   = Fourcc('R', 'G', 'B', 'P')
	V4L2_PIX_FMT_BGRA5551 = Fourcc('B', 'G', 'R', 'T')
	V4L2_PIX_FMT_BGRA4444 = Fourcc('B', 'G', 'R', 'S')
	V4L2_PIX_FMT_BGR24    = Fourcc('B', 'G', 'R', '3')
	V4L2_PIX_FMT_BGR32    = Fourcc('B', 'G', 'R', '4')
	V4L2_PIX_FMT_RGB32    = Fourcc('R', 'G', 'B', '4')
	V4L2_PIX_FMT_UYVY     = Fourcc('U', 'Y', 'V', 'Y')
	V4L2_PIX_FMT_YUYV     = Fourcc('Y', 'U', 'Y', 'V')
	V4L2_PIX_FMT_YUV420   = Fourcc('Y', 'U', '1', '2')
	V4L2_PIX_FMT_YVU420   = Fourcc('Y', 'V', '1', '2')
	V4L2_PIX_FMT_YUV422P  = Fourcc('4', '2', '2', 'P')
	V4L2_PIX_FMT_NV12     = Fourcc('N', 'V', '1', '2')
	V4L2_PIX_FMT_NV16     = Fourcc('N', 'V', '1', '6')
	V4L2_PIX_FMT_STM422MB = Fourcc('4', '2', '2', 'B')
	V4L2_PIX_FMT_STM420MB = Fourcc('4', '2', '0', 'B')
	V4L2_PIX_FMT_CLUT2    = Fourcc('C', 'L', 'T', '2')
	V4L2_PIX_FMT_CLUT4    = Fourcc('C', 'L', 'T', '4')
	V4L2_PIX_FMT_CLUT8    = Fourcc('C', 'L', 'T', '8')
	V4L2_PIX_FMT_CLUTA8   = Fourcc('C', 'L', 'A', '8')
)

// BufFlag is the client-visible buffer flag word.
type BufFlag uint32

const (
	V4L2_BUF_FLAG_MAPPED BufFlag = 0x0001
	V4L2_BUF_FLAG_QUEUED BufFlag = 0x0002
	V4L2_BUF_FLAG_DONE   BufFlag = 0x0004

	// Vendor extensions for output buffers.
	V4L2_BUF_FLAG_REPEAT_FIRST_FIELD            BufFlag = 0x1000
	V4L2_BUF_FLAG_INTERPOLATE_FIELDS            BufFlag = 0x2000
	V4L2_BUF_FLAG_RESCALE_COLOUR_TO_VIDEO_RANGE BufFlag = 0x4000
	V4L2_BUF_FLAG_GRAPHICS                      BufFlag = 0x8000
	V4L2_BUF_FLAG_NON_PREMULTIPLIED_ALPHA       BufFlag = 0x10000
)

// Timeval mirrors struct timeval on a 32-bit ABI.
type Timeval struct {
	Sec  int32
	Usec int32
}

const usecPerSec = 1000000

// TimevalFromMicros splits a signed microsecond count into seconds and
// microseconds. Seconds are floored, so Usec is always in [0, 1e6).
func TimevalFromMicros(us int64) Timeval {
	sec := us / usecPerSec
	if us%usecPerSec < 0 {
		sec--
	}
	return Timeval{Sec: int32(sec), Usec: int32(us - sec*usecPerSec)}
}

// Micros is the inverse of TimevalFromMicros.
func (tv Timeval) Micros() int64 {
	return int64(tv.Sec)*usecPerSec + int64(tv.Usec)
}
