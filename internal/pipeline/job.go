package pipeline

import (
	"fmt"
	"strings"

	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/hud"
	"github.com/smazurov/hudrender/internal/overlay"
)

// Format is the output container.
type Format string

// Output formats.
const (
	FormatMP4    Format = "mp4"
	FormatPNGZip Format = "png-zip"
)

// ParseFormat validates a format name. Empty means mp4.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatMP4, nil
	case FormatMP4, FormatPNGZip:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Buffered mode frame buffer bounds.
const (
	DefaultBufferFrames = 3
	MinBufferFrames     = 2
	MaxBufferFrames     = 8
)

// Request limits. Every output frame needs a precomputed overlay state and
// every compositor holds several full-size planes, so both are bounded.
const (
	MaxFPS       = 240
	MaxFrames    = 4 * 60 * 60 * 60
	MaxDimension = 8192
)

// ProgressFunc observes output frames as they are submitted.
type ProgressFunc func(done, total int)

// Job describes one render.
type Job struct {
	// Input is the source MP4 path.
	Input string
	// Log holds the recorded overlay events and snapshots.
	Log *hud.Log
	// DurationMs and FPS fix the output frame count.
	DurationMs int64
	FPS        float64
	// Width and Height set the output geometry; zero uses the source size.
	Width  int
	Height int

	// Codec, BitrateBps, KeyInterval and EncoderBackend configure the mp4
	// encoder. An empty codec uses DefaultCodec().
	Codec          string
	BitrateBps     int
	KeyInterval    int
	EncoderBackend string

	Overlay    overlay.Renderer
	Compositor compositor.Options

	Output string
	Format Format

	// BufferFrames is the decode buffer size in buffered mode, clamped
	// to [MinBufferFrames, MaxBufferFrames].
	BufferFrames int

	Progress ProgressFunc
}

// FrameCount returns the number of output frames the job produces.
func (j *Job) FrameCount() int {
	return hud.FrameCount(j.FPS, j.DurationMs)
}

func (j *Job) validate() error {
	switch {
	case j.Input == "":
		return newError(ErrCodeInvalidJob, "input path is required", nil)
	case j.Output == "":
		return newError(ErrCodeInvalidJob, "output path is required", nil)
	case !(j.FPS > 0):
		return newError(ErrCodeInvalidJob, fmt.Sprintf("fps must be positive, got %v", j.FPS), nil)
	case j.DurationMs <= 0:
		return newError(ErrCodeInvalidJob, fmt.Sprintf("duration must be positive, got %dms", j.DurationMs), nil)
	case j.FPS > MaxFPS:
		return newError(ErrCodeInvalidJob, fmt.Sprintf("fps %v exceeds %d", j.FPS, MaxFPS), nil)
	case float64(j.DurationMs)*j.FPS/1000 > MaxFrames:
		return newError(ErrCodeInvalidJob, fmt.Sprintf("%dms at %v fps exceeds %d frames", j.DurationMs, j.FPS, MaxFrames), nil)
	case j.Width < 0 || j.Height < 0 || j.Width > MaxDimension || j.Height > MaxDimension:
		return newError(ErrCodeInvalidJob, fmt.Sprintf("invalid output size %dx%d", j.Width, j.Height), nil)
	case j.Overlay == nil:
		return newError(ErrCodeInvalidJob, "overlay renderer is required", nil)
	}
	if _, err := ParseFormat(string(j.Format)); err != nil {
		return newError(ErrCodeInvalidJob, "invalid output format", err)
	}
	return nil
}

// CheckGeometry rejects output sizes outside 1..MaxDimension.
func CheckGeometry(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return newError(ErrCodeInvalidJob, fmt.Sprintf("output size %dx%d outside 1..%d", width, height, MaxDimension), nil)
	}
	return nil
}

func clampBuffer(n int) int {
	if n <= 0 {
		return DefaultBufferFrames
	}
	return min(max(n, MinBufferFrames), MaxBufferFrames)
}

// Result summarizes a finished run.
type Result struct {
	Frames          int    `json:"frames"`
	FreezeFrames    int    `json:"freeze_frames"`
	CaptureFailures int    `json:"capture_failures"`
	Output          string `json:"output"`
	Compositor      string `json:"compositor"`
	Mode            string `json:"mode"`
}
