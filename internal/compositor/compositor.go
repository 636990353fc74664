// Package compositor blends a rendered overlay onto a decoded video frame to
// produce one opaque output picture.
//
// Two backends share the contract: Raster (image/draw on the calling
// goroutine) and GPU (tile-parallel shader passes on a shared Device, with an
// optional post-effect chain). New selects a backend and falls back to
// Raster once if the GPU path cannot start.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/media"
	"github.com/smazurov/hudrender/internal/metrics"
)

// Errors.
var (
	ErrCompositorInit = errors.New("compositor init failed")
	ErrReleasedFrame  = errors.New("video frame already released")
)

// Compositor produces an opaque composite from a video frame and an optional
// overlay. A nil overlay yields the video frame alone.
type Compositor interface {
	Composite(ctx context.Context, video *media.RawFrame, overlay *image.RGBA, tsUs int64) (*media.CompositeFrame, error)
	Name() string
	Close() error
}

// Hintable compositors accept per-frame effect hints.
type Hintable interface {
	SetHints(h Hints)
}

// Backend selects a compositor implementation.
type Backend string

// Backends.
const (
	BackendAuto     Backend = "auto"
	BackendGPU      Backend = "gpu"
	BackendSoftware Backend = "software"
)

// ParseBackend validates a backend name. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendGPU, BackendSoftware:
		return b, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", ErrCompositorInit, s)
	}
}

// Options configures New.
type Options struct {
	Backend Backend
	Width   int
	Height  int
	Effects Effects
	// Device is the GPU capability to use. Nil acquires the process-wide
	// device.
	Device *Device
}

// New creates a compositor. auto and gpu try the GPU backend first and fall
// back to software once; a failed fallback returns ErrCompositorInit.
func New(ctx context.Context, opts Options) (Compositor, error) {
	logger := logging.GetLogger("compositor")

	backend, err := ParseBackend(string(opts.Backend))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if backend == BackendSoftware {
		if !opts.Effects.IsZero() {
			logger.Warn("Post effects are only applied by the gpu backend", "effects", opts.Effects.Names())
		}
		return NewRaster(opts.Width, opts.Height)
	}

	gpu, gpuErr := NewGPU(opts)
	if gpuErr == nil {
		logger.Info("Using gpu compositor", "width", opts.Width, "height", opts.Height,
			"effects", opts.Effects.Names(), "workers", gpu.device.Workers())
		return &fallback{primary: gpu, width: opts.Width, height: opts.Height, logger: logger}, nil
	}

	logger.Warn("GPU compositor unavailable, falling back to software", "backend", backend, "error", gpuErr)
	metrics.IncCompositorFallback(string(BackendGPU), string(BackendSoftware))
	raster, err := NewRaster(opts.Width, opts.Height)
	if err != nil {
		return nil, errors.Join(gpuErr, err)
	}
	return raster, nil
}

// fallback runs the GPU backend and switches to software once if the device
// is lost mid-render.
type fallback struct {
	primary   Compositor
	secondary Compositor
	width     int
	height    int
	logger    logging.Logger
}

func (f *fallback) active() Compositor {
	if f.secondary != nil {
		return f.secondary
	}
	return f.primary
}

func (f *fallback) Composite(ctx context.Context, video *media.RawFrame, overlay *image.RGBA, tsUs int64) (*media.CompositeFrame, error) {
	out, err := f.active().Composite(ctx, video, overlay, tsUs)
	if err == nil || f.secondary != nil || !errors.Is(err, ErrDeviceLost) {
		return out, err
	}

	f.logger.Warn("GPU device lost, continuing on software compositor", "ts_us", tsUs, "error", err)
	metrics.IncCompositorFallback(string(BackendGPU), string(BackendSoftware))
	raster, rerr := NewRaster(f.width, f.height)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	_ = f.primary.Close()
	f.secondary = raster
	return f.secondary.Composite(ctx, video, overlay, tsUs)
}

func (f *fallback) SetHints(h Hints) {
	if hc, ok := f.active().(Hintable); ok {
		hc.SetHints(h)
	}
}

func (f *fallback) Name() string {
	return f.active().Name()
}

func (f *fallback) Close() error {
	var errs []error
	if f.secondary != nil {
		errs = append(errs, f.secondary.Close())
	}
	errs = append(errs, f.primary.Close())
	return errors.Join(errs...)
}

func checkGeometry(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid geometry %dx%d", ErrCompositorInit, width, height)
	}
	return nil
}
