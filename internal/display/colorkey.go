package display

// Which ColorKey fields are meaningful.
type ColorKeyFlags uint32

const (
	ColorKeyNone ColorKeyFlags = 0

	ColorKeyEnable ColorKeyFlags = 1 << (iota - 1)
	ColorKeyFormat
	ColorKeyRInfo
	ColorKeyGInfo
	ColorKeyBInfo
	ColorKeyMinVal
	ColorKeyMaxVal

	ColorKeyAll = ColorKeyEnable | ColorKeyFormat | ColorKeyRInfo | ColorKeyGInfo |
		ColorKeyBInfo | ColorKeyMinVal | ColorKeyMaxVal
)

// How a colour key is activated.
type ColorKeyEnableMode uint32

const (
	ColorKeyDisabled ColorKeyEnableMode = 0

	// Applied on the next vsync.
	ColorKeyEnabled ColorKeyEnableMode = 1

	// Applied with the next queued buffer rather than to the plane.
	ColorKeyActivateBuffer ColorKeyEnableMode = 2
)

type ColorKeyPixFormat uint32

const (
	ColorKeyRGB ColorKeyPixFormat = iota
	ColorKeyYCbCr
)

// Per-component match mode.
type ColorKeyMode uint32

const (
	ColorKeyIgnore ColorKeyMode = iota
	ColorKeyInside
	ColorKeyOutside
)

// ColorKey makes source pixels in a range transparent. MinVal and MaxVal hold
// one byte per component as 0x00RRGGBB (or 0x00CrYCb).
type ColorKey struct {
	Flags  ColorKeyFlags
	Enable ColorKeyEnableMode
	Format ColorKeyPixFormat
	RInfo  ColorKeyMode
	GInfo  ColorKeyMode
	BInfo  ColorKeyMode
	MinVal uint32
	MaxVal uint32
}

// PerBuffer reports whether the key is to travel with queued buffers.
func (ck *ColorKey) PerBuffer() bool {
	return ck.Flags&ColorKeyEnable != 0 && ck.Enable&ColorKeyActivateBuffer != 0
}

// Snapshot returns the copy of a per-buffer key that goes into a buffer
// header: activation already happened, so only the enable state remains.
func (ck ColorKey) Snapshot() ColorKey {
	if !ck.PerBuffer() {
		return ColorKey{Flags: ColorKeyNone}
	}
	ck.Enable &^= ColorKeyActivateBuffer
	return ck
}
