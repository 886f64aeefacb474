package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/lanikai/vout/internal/v4l2"
)

// A recording is the negotiated format followed by every dequeued buffer,
// each in the driver's binary layout.
type recorder struct {
	w *bufio.Writer
	n int
}

func newRecorder(w io.Writer, pix v4l2.PixFormat) (*recorder, error) {
	r := &recorder{w: bufio.NewWriter(w)}
	b, err := pix.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := r.w.Write(b); err != nil {
		return nil, errors.Wrap(err, "record format")
	}
	return r, nil
}

func (r *recorder) add(info v4l2.BufferInfo) error {
	b, err := info.MarshalBinary()
	if err != nil {
		return err
	}
	log.Trace(3, "buffer %d: % x", info.Index, b)
	if _, err := r.w.Write(b); err != nil {
		return errors.Wrapf(err, "record buffer %d", info.Index)
	}
	r.n++
	return nil
}

func (r *recorder) Close() error {
	return r.w.Flush()
}

func readRecording(rd io.Reader) (v4l2.PixFormat, []v4l2.BufferInfo, error) {
	var pix v4l2.PixFormat
	b := make([]byte, v4l2.PixFormatSize)
	if _, err := io.ReadFull(rd, b); err != nil {
		return pix, nil, errors.Wrap(err, "recording header")
	}
	if err := pix.UnmarshalBinary(b); err != nil {
		return pix, nil, err
	}

	var out []v4l2.BufferInfo
	b = make([]byte, v4l2.BufferSize)
	for {
		_, err := io.ReadFull(rd, b)
		if err == io.EOF {
			return pix, out, nil
		}
		if err != nil {
			return pix, out, errors.Wrapf(err, "recording entry %d", len(out))
		}
		var info v4l2.BufferInfo
		if err := info.UnmarshalBinary(b); err != nil {
			return pix, out, err
		}
		out = append(out, info)
	}
}

// showRecording prints a recording made with --record.
func showRecording(w io.Writer, rd io.Reader) error {
	pix, infos, err := readRecording(rd)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %dx%d %v, %d buffers\n", v4l2.FourccString(pix.PixelFormat), pix.Width, pix.Height, pix.Field, len(infos))
	for _, info := range infos {
		fmt.Fprintf(w, "%6d  index %-3d offset %#08x  %d bytes  %d.%06d\n", info.Sequence, info.Index,
			info.Offset, info.BytesUsed, info.Timestamp.Sec, info.Timestamp.Usec)
	}
	return nil
}
