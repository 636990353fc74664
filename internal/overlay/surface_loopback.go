package overlay

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/smazurov/hudrender/internal/hud"
)

// ErrNotSettled is returned when a surface is captured before it has drawn
// the pushed state.
var ErrNotSettled = errors.New("surface has not settled")

// LoopbackSurface is an in-process Surface that draws with a Raster renderer.
// The pushed state becomes visible only after the requested number of render
// ticks, mirroring an external surface's frame loop.
type LoopbackSurface struct {
	mu       sync.Mutex
	raster   *Raster
	tick     time.Duration
	pending  *hud.State
	ticks    int
	current  *image.RGBA
	rendered int
}

// NewLoopbackSurface creates a surface over the raster renderer. tick is the
// simulated duration of one surface frame and may be zero.
func NewLoopbackSurface(raster *Raster, tick time.Duration) *LoopbackSurface {
	return &LoopbackSurface{raster: raster, tick: tick}
}

// Push stages a new state and resets the settle counter.
func (s *LoopbackSurface) Push(ctx context.Context, state hud.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := state.Clone()
	s.pending = &st
	s.ticks = 0
	return nil
}

// WaitRendered advances the frame loop until settleFrames ticks have passed.
func (s *LoopbackSurface) WaitRendered(ctx context.Context, settleFrames int) error {
	for {
		s.mu.Lock()
		done := s.pending == nil || s.ticks >= settleFrames
		s.mu.Unlock()
		if done {
			return nil
		}

		if s.tick > 0 {
			t := time.NewTimer(s.tick)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.advance(ctx); err != nil {
			return err
		}
	}
}

func (s *LoopbackSurface) advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	s.ticks++
	img, err := s.raster.Render(ctx, *s.pending, 0)
	if err != nil {
		return err
	}
	s.current = img
	s.rendered++
	return nil
}

// Capture returns a copy of the last drawn frame.
func (s *LoopbackSurface) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNotSettled
	}
	out := image.NewRGBA(s.current.Rect)
	copy(out.Pix, s.current.Pix)
	return out, nil
}

// Rendered returns the number of surface frames drawn so far.
func (s *LoopbackSurface) Rendered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}
