package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/smazurov/hudrender/internal/media"
)

var errClosed = errors.New("compositor closed")

// GPU composites with float premultiplied shader passes dispatched over
// tiles on a Device, followed by the enabled post effects.
type GPU struct {
	device  *Device
	width   int
	height  int
	effects Effects
	hints   Hints

	front   []float32
	back    []float32
	scratch []float32
	closed  bool
}

// NewGPU creates a GPU compositor. Device failures are reported as
// ErrCompositorInit.
func NewGPU(opts Options) (*GPU, error) {
	if err := checkGeometry(opts.Width, opts.Height); err != nil {
		return nil, err
	}

	dev := opts.Device
	if dev == nil {
		d, err := AcquireDevice(DeviceConfig{})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompositorInit, err)
		}
		dev = d
	}
	if err := dev.retain(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompositorInit, err)
	}

	n := opts.Width * opts.Height * 4
	g := &GPU{
		device:  dev,
		width:   opts.Width,
		height:  opts.Height,
		effects: opts.Effects,
		front:   make([]float32, n),
		back:    make([]float32, n),
	}
	if opts.Effects.Bloom != nil {
		g.scratch = make([]float32, n)
	}
	return g, nil
}

// Name returns the backend name.
func (g *GPU) Name() string { return string(BackendGPU) }

// SetHints applies to subsequent Composite calls.
func (g *GPU) SetHints(h Hints) { g.hints = h }

// Close releases the device reference. It is safe to call twice.
func (g *GPU) Close() error {
	if !g.closed {
		g.closed = true
		g.device.release()
	}
	return nil
}

// Composite blends overlay over video, runs the effect chain and writes an
// opaque composite.
func (g *GPU) Composite(ctx context.Context, video *media.RawFrame, overlay *image.RGBA, tsUs int64) (*media.CompositeFrame, error) {
	if g.closed {
		return nil, errClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := video.Image()
	if src == nil {
		return nil, ErrReleasedFrame
	}

	vs := newSampler(src, g.width, g.height)
	var ovs *sampler
	if overlay != nil {
		s := newSampler(overlay, g.width, g.height)
		ovs = &s
	}

	if err := g.device.Dispatch(ctx, g.width, g.height, func(t image.Rectangle) {
		blendKernel(t, g.width, g.front, &vs, ovs)
	}); err != nil {
		return nil, err
	}

	// Effects run only over an actual overlay composite.
	if overlay != nil {
		for _, p := range g.passes(tsUs) {
			if err := p(ctx); err != nil {
				return nil, err
			}
		}
	}

	out := media.NewCompositeFrame(g.width, g.height, tsUs)
	front := g.front
	if err := g.device.Dispatch(ctx, g.width, g.height, func(t image.Rectangle) {
		storeKernel(t, g.width, front, out.Pix)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

type pass func(ctx context.Context) error

// passes builds the enabled effect chain in fixed order. Each pass reads
// front and writes back, then the buffers swap.
func (g *GPU) passes(tsUs int64) []pass {
	var ps []pass
	w, h := g.width, g.height

	pointwise := func(kernel func(t image.Rectangle, in, out []float32)) pass {
		return func(ctx context.Context) error {
			in, out := g.front, g.back
			if err := g.device.Dispatch(ctx, w, h, func(t image.Rectangle) { kernel(t, in, out) }); err != nil {
				return err
			}
			g.front, g.back = g.back, g.front
			return nil
		}
	}

	if ca := g.effects.ChromaticAberration; ca != nil {
		shift := ca.Intensity + g.hints.ChromaticBoost
		ps = append(ps, pointwise(func(t image.Rectangle, in, out []float32) {
			chromaticKernel(t, w, in, out, shift)
		}))
	}
	if b := g.effects.Bloom; b != nil {
		bloom := *b
		ps = append(ps, func(ctx context.Context) error {
			in, tmp, out := g.front, g.scratch, g.back
			if err := g.device.Dispatch(ctx, w, h, func(t image.Rectangle) {
				brightBlurRowsKernel(t, w, in, tmp, bloom)
			}); err != nil {
				return err
			}
			if err := g.device.Dispatch(ctx, w, h, func(t image.Rectangle) {
				bloomComposeKernel(t, w, h, in, tmp, out, bloom)
			}); err != nil {
				return err
			}
			g.front, g.back = g.back, g.front
			return nil
		})
	}
	if s := g.effects.Scanlines; s != nil {
		sl := *s
		ps = append(ps, pointwise(func(t image.Rectangle, in, out []float32) {
			scanlineKernel(t, w, in, out, sl)
		}))
	}
	if v := g.effects.Vignette; v != nil {
		vg := *v
		ps = append(ps, pointwise(func(t image.Rectangle, in, out []float32) {
			vignetteKernel(t, w, h, in, out, vg)
		}))
	}
	if gr := g.effects.Grain; gr != nil {
		seed := gr.Seed ^ uint64(tsUs)
		amount := gr.Amount
		ps = append(ps, pointwise(func(t image.Rectangle, in, out []float32) {
			grainKernel(t, w, in, out, amount, seed)
		}))
	}
	return ps
}
