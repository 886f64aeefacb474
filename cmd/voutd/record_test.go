package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/vout/internal/v4l2"
)

func TestRecording(t *testing.T) {
	pix := v4l2.PixFormat{
		Width:        64,
		Height:       32,
		PixelFormat:  v4l2.V4L2_PIX_FMT_UYVY,
		Field:        v4l2.V4L2_FIELD_NONE,
		BytesPerLine: 128,
		SizeImage:    4096,
	}
	infos := []v4l2.BufferInfo{
		{Index: 0, Type: v4l2.V4L2_BUF_TYPE_VIDEO_OUTPUT, BytesUsed: 4096, Sequence: 0, Memory: v4l2.V4L2_MEMORY_MMAP, Offset: 0x40000000, Length: 8192},
		{Index: 1, Type: v4l2.V4L2_BUF_TYPE_VIDEO_OUTPUT, BytesUsed: 4096, Sequence: 1, Memory: v4l2.V4L2_MEMORY_MMAP, Offset: 0x40002000, Length: 8192,
			Timestamp: v4l2.Timeval{Sec: 1, Usec: 40000}},
	}

	var buf bytes.Buffer
	rec, err := newRecorder(&buf, pix)
	require.NoError(t, err)
	for _, info := range infos {
		require.NoError(t, rec.add(info))
	}
	require.NoError(t, rec.Close())
	assert.Equal(t, 2, rec.n)
	assert.Equal(t, v4l2.PixFormatSize+2*v4l2.BufferSize, buf.Len())

	gotPix, gotInfos, err := readRecording(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, pix, gotPix)
	assert.Equal(t, infos, gotInfos)

	var out strings.Builder
	require.NoError(t, showRecording(&out, bytes.NewReader(buf.Bytes())))
	assert.Contains(t, out.String(), "UYVY 64x32")
	assert.Contains(t, out.String(), "2 buffers")
	assert.Contains(t, out.String(), "1.040000")

	// A truncated entry is an error, not a silent end.
	_, _, err = readRecording(bytes.NewReader(buf.Bytes()[:buf.Len()-1]))
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))

	_, _, err = readRecording(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, errors.Cause(err))
}
