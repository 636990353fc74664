package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/smazurov/hudrender/internal/hud"
	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/metrics"
)

// Surface is an external rendering surface that draws overlay state and lets
// the caller grab the result. Calls are serialized by Capture.
type Surface interface {
	// Push replaces the state the surface draws.
	Push(ctx context.Context, state hud.State) error
	// WaitRendered blocks until the surface has drawn settleFrames frames
	// since the last Push.
	WaitRendered(ctx context.Context, settleFrames int) error
	// Capture returns the current surface pixels.
	Capture(ctx context.Context) (*image.RGBA, error)
}

// Capture stages.
const (
	StagePush    = "push"
	StageSettle  = "settle"
	StageCapture = "capture"
)

// CaptureFailure describes one failed overlay capture. The frame it belongs
// to is rendered without an overlay.
type CaptureFailure struct {
	Stage       string
	TimestampMs float64
	Timeout     bool
	Err         error
}

func (f *CaptureFailure) Error() string {
	return fmt.Sprintf("overlay capture %s at %.3fms: %v", f.Stage, f.TimestampMs, f.Err)
}

func (f *CaptureFailure) Unwrap() error {
	return f.Err
}

// CaptureOptions tunes the capture renderer.
type CaptureOptions struct {
	// SettleFrames is the number of surface frames to wait after Push.
	SettleFrames int
	// Timeout bounds one full push, settle and capture round.
	Timeout time.Duration
}

// Capture defaults.
const (
	DefaultSettleFrames   = 2
	DefaultCaptureTimeout = 2 * time.Second
)

// Capture renders overlays by driving a Surface. Only one render is in
// flight at a time.
type Capture struct {
	mu       sync.Mutex
	surface  Surface
	opts     CaptureOptions
	logger   logging.Logger
	failures int
	last     *CaptureFailure
}

// NewCapture wraps a surface.
func NewCapture(surface Surface, opts CaptureOptions) *Capture {
	if opts.SettleFrames <= 0 {
		opts.SettleFrames = DefaultSettleFrames
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCaptureTimeout
	}
	return &Capture{
		surface: surface,
		opts:    opts,
		logger:  logging.GetLogger("overlay"),
	}
}

// Synchronous is false: every render waits on the surface.
func (c *Capture) Synchronous() bool { return false }

// Render pushes state to the surface and captures the settled result.
// Surface failures and timeouts yield (nil, nil); only cancellation of ctx
// is returned as an error.
func (c *Capture) Render(ctx context.Context, state hud.State, tMs float64) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	img, stage, err := c.round(rctx, state)
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	failure := &CaptureFailure{
		Stage:       stage,
		TimestampMs: tMs,
		Timeout:     errors.Is(err, context.DeadlineExceeded),
		Err:         err,
	}
	c.failures++
	c.last = failure

	reason := stage
	if failure.Timeout {
		reason = "timeout"
	}
	metrics.IncCaptureFailure(reason)
	c.logger.Warn("Overlay capture failed, rendering frame without overlay",
		"stage", stage, "t_ms", tMs, "timeout", failure.Timeout, "error", err)
	return nil, nil
}

func (c *Capture) round(ctx context.Context, state hud.State) (*image.RGBA, string, error) {
	if err := c.surface.Push(ctx, state); err != nil {
		return nil, StagePush, err
	}
	if err := c.surface.WaitRendered(ctx, c.opts.SettleFrames); err != nil {
		return nil, StageSettle, err
	}
	img, err := c.surface.Capture(ctx)
	if err != nil {
		return nil, StageCapture, err
	}
	if img == nil {
		return nil, StageCapture, errors.New("surface returned no image")
	}
	return img, "", nil
}

// Failures returns how many renders fell back to no overlay.
func (c *Capture) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastFailure returns the most recent capture failure, or nil.
func (c *Capture) LastFailure() *CaptureFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	dup := *c.last
	return &dup
}
