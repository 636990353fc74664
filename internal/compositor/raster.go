package compositor

import (
	"context"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/smazurov/hudrender/internal/media"
)

// Raster composites with image/draw on premultiplied RGBA.
type Raster struct {
	width  int
	height int
}

// NewRaster creates a software compositor for the output geometry.
func NewRaster(width, height int) (*Raster, error) {
	if err := checkGeometry(width, height); err != nil {
		return nil, err
	}
	return &Raster{width: width, height: height}, nil
}

// Name returns the backend name.
func (r *Raster) Name() string { return string(BackendSoftware) }

// Close is a no-op.
func (r *Raster) Close() error { return nil }

// Composite fills the output with the video frame, blends the overlay
// source-over and forces the result opaque.
func (r *Raster) Composite(ctx context.Context, video *media.RawFrame, overlay *image.RGBA, tsUs int64) (*media.CompositeFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := video.Image()
	if src == nil {
		return nil, ErrReleasedFrame
	}

	out := media.NewCompositeFrame(r.width, r.height, tsUs)
	dst := out.Image()

	if src.Rect.Eq(dst.Rect) {
		copy(dst.Pix, src.Pix)
	} else {
		xdraw.BiLinear.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	}

	if overlay != nil {
		if overlay.Rect.Eq(dst.Rect) {
			draw.Draw(dst, dst.Rect, overlay, overlay.Rect.Min, draw.Over)
		} else {
			xdraw.BiLinear.Scale(dst, dst.Rect, overlay, overlay.Rect, draw.Over, nil)
		}
	}

	forceOpaque(dst.Pix)
	return out, nil
}

func forceOpaque(pix []byte) {
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
}
