package v4l2

import (
	"encoding/binary"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/vout/internal/packet"
)

// Structure sizes on the 32-bit little-endian ABI the output driver serves.
const (
	BufferSize    = 68
	PixFormatSize = 32
)

var nativeEndian = binary.LittleEndian

var errShortBuffer = errors.New("v4l2: short buffer")

// BufferInfo is the client's view of one buffer (struct v4l2_buffer).
//
//	 0 index      4 type       8 bytesused  12 flags
//	16 field     20 timestamp (sec, usec)
//	28 timecode (16 bytes, unused)
//	44 sequence  48 memory    52 offset/userptr
//	56 length    60 input     64 reserved
type BufferInfo struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     BufFlag
	Field     Field
	Timestamp Timeval
	Sequence  uint32
	Memory    Memory

	// Offset for V4L2_MEMORY_MMAP buffers, client pointer for
	// V4L2_MEMORY_USERPTR buffers.
	Offset uint32
	Length uint32

	// Client palette location; zero when the client supplies none.
	Reserved uint32
}

func (b *BufferInfo) MarshalBinary() ([]byte, error) {
	w := packet.NewWriterOrder(make([]byte, BufferSize), nativeEndian)
	w.WriteUint32(b.Index)
	w.WriteUint32(b.Type)
	w.WriteUint32(b.BytesUsed)
	w.WriteUint32(uint32(b.Flags))
	w.WriteUint32(uint32(b.Field))
	w.WriteInt32(b.Timestamp.Sec)
	w.WriteInt32(b.Timestamp.Usec)
	w.ZeroPad(16)
	w.WriteUint32(b.Sequence)
	w.WriteUint32(uint32(b.Memory))
	w.WriteUint32(b.Offset)
	w.WriteUint32(b.Length)
	w.WriteUint32(0)
	w.WriteUint32(b.Reserved)
	return w.Bytes(), nil
}

func (b *BufferInfo) UnmarshalBinary(data []byte) error {
	r := packet.NewReaderOrder(data, nativeEndian)
	if err := r.CheckRemaining(BufferSize); err != nil {
		return errors.Errorf("%v: %w", err, errShortBuffer)
	}
	b.Index = r.ReadUint32()
	b.Type = r.ReadUint32()
	b.BytesUsed = r.ReadUint32()
	b.Flags = BufFlag(r.ReadUint32())
	b.Field = Field(r.ReadUint32())
	b.Timestamp.Sec = r.ReadInt32()
	b.Timestamp.Usec = r.ReadInt32()
	r.Skip(16)
	b.Sequence = r.ReadUint32()
	b.Memory = Memory(r.ReadUint32())
	b.Offset = r.ReadUint32()
	b.Length = r.ReadUint32()
	r.Skip(4)
	b.Reserved = r.ReadUint32()
	return nil
}

// PixFormat is struct v4l2_pix_format. Priv carries the chroma offset for
// formats with separate luma and chroma planes.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        Field
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   Colorspace
	Priv         uint32
}

func (p *PixFormat) MarshalBinary() ([]byte, error) {
	w := packet.NewWriterOrder(make([]byte, PixFormatSize), nativeEndian)
	for _, v := range []uint32{
		p.Width, p.Height, p.PixelFormat, uint32(p.Field),
		p.BytesPerLine, p.SizeImage, uint32(p.Colorspace), p.Priv,
	} {
		w.WriteUint32(v)
	}
	return w.Bytes(), nil
}

func (p *PixFormat) UnmarshalBinary(data []byte) error {
	r := packet.NewReaderOrder(data, nativeEndian)
	if err := r.CheckRemaining(PixFormatSize); err != nil {
		return errors.Errorf("%v: %w", err, errShortBuffer)
	}
	p.Width = r.ReadUint32()
	p.Height = r.ReadUint32()
	p.PixelFormat = r.ReadUint32()
	p.Field = Field(r.ReadUint32())
	p.BytesPerLine = r.ReadUint32()
	p.SizeImage = r.ReadUint32()
	p.Colorspace = Colorspace(r.ReadUint32())
	p.Priv = r.ReadUint32()
	return nil
}

// IsShortBuffer reports whether err was caused by truncated input.
func IsShortBuffer(err error) bool {
	return errors.Is(err, errShortBuffer)
}
