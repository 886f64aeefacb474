package format

import (
	"github.com/lanikai/vout/internal/v4l2"
)

// Rect is a crop window. Left and Top are signed, as clients may pass
// negative offsets which are then clamped.
type Rect struct {
	Left, Top     int
	Width, Height int
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Full returns the rectangle covering a whole w x h area.
func Full(w, h int) Rect {
	return Rect{Width: w, Height: h}
}

// ClampBufferCrop constrains a source crop to the buffer extent. Oversized
// windows shrink while keeping the requested aspect ratio. For interlaced
// buffers the height is even and the first line belongs to the top field.
func ClampBufferCrop(c Rect, pix v4l2.PixFormat) Rect {
	return clampRect(c, int(pix.Width), int(pix.Height), pix.Field != v4l2.V4L2_FIELD_NONE)
}

// ClampOutputCrop constrains an output window to the active area of the
// display mode, with the same rules as ClampBufferCrop. Interlaced displays
// need the window to start on a top field line.
func ClampOutputCrop(c Rect, activeWidth, activeHeight int, interlaced bool) Rect {
	return clampRect(c, activeWidth, activeHeight, interlaced)
}

func clampRect(req Rect, w, h int, interlaced bool) Rect {
	c := req
	if c.Width > w {
		c.Width = w
		c.Height = (c.Width * req.Height) / req.Width
	}
	if c.Height > h {
		c.Height = h
		c.Width = (c.Height * req.Width) / req.Height
	}

	if interlaced {
		c.Height += c.Height % 2
		c.Top -= c.Top % 2
		if c.Height > h {
			c.Height = h - h%2
		}
	}

	if c.Left < 0 {
		c.Left = 0
	}
	if c.Top < 0 {
		c.Top = 0
	}
	if c.Left+c.Width > w {
		c.Left = w - c.Width
	}
	if c.Top+c.Height > h {
		c.Top = h - c.Height
	}
	return c
}
