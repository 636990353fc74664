package media

import "image"

// CompositeFrame is one opaque RGBA output picture. It is owned by the
// orchestrator from compositing until encode submission.
type CompositeFrame struct {
	Width     int
	Height    int
	Timestamp int64
	Pix       []byte
}

// NewCompositeFrame allocates a composite of the given geometry.
func NewCompositeFrame(width, height int, timestamp int64) *CompositeFrame {
	return &CompositeFrame{
		Width:     width,
		Height:    height,
		Timestamp: timestamp,
		Pix:       make([]byte, width*height*4),
	}
}

// Image returns an RGBA view over the composite pixels.
func (c *CompositeFrame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    c.Pix,
		Stride: c.Width * 4,
		Rect:   image.Rect(0, 0, c.Width, c.Height),
	}
}

// Release drops the pixel buffer.
func (c *CompositeFrame) Release() {
	if c != nil {
		c.Pix = nil
	}
}
