package overlay

import (
	"context"
	"errors"
	"image"

	"github.com/smazurov/hudrender/internal/hud"
)

// Errors returned at renderer construction.
var (
	ErrUnknownPreset = errors.New("unknown overlay preset")
	ErrInvalidSize   = errors.New("invalid overlay size")
)

// Renderer produces the overlay image for one frame. A nil image with a nil
// error means the frame has no overlay.
type Renderer interface {
	Render(ctx context.Context, state hud.State, tMs float64) (*image.RGBA, error)
	// Synchronous reports whether Render completes without external waits.
	Synchronous() bool
}
