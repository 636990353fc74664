package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/hud"
	"github.com/smazurov/hudrender/internal/overlay"
	"github.com/smazurov/hudrender/internal/pipeline"
	"github.com/smazurov/hudrender/internal/version"
)

// Overlay backends.
const (
	OverlayRaster  = "raster"
	OverlayCapture = "capture"
)

// Request describes a render job as submitted by the API or the CLI.
type Request struct {
	Input          string   `json:"input" toml:"input"`
	OverlayLog     string   `json:"overlay_log,omitempty" toml:"overlay_log"`
	Output         string   `json:"output,omitempty" toml:"output"`
	DurationMs     int64    `json:"duration_ms,omitempty" toml:"duration_ms"`
	FPS            float64  `json:"fps,omitempty" toml:"fps"`
	Width          int      `json:"width,omitempty" toml:"width"`
	Height         int      `json:"height,omitempty" toml:"height"`
	Codec          string   `json:"codec,omitempty" toml:"codec"`
	BitrateBps     int      `json:"bitrate,omitempty" toml:"bitrate"`
	KeyInterval    int      `json:"key_interval,omitempty" toml:"key_interval"`
	EncoderBackend string   `json:"encoder_backend,omitempty" toml:"encoder_backend"`
	OverlayBackend string   `json:"overlay_backend,omitempty" toml:"overlay_backend"`
	Preset         string   `json:"preset,omitempty" toml:"preset"`
	CaptureURL     string   `json:"capture_url,omitempty" toml:"capture_url"`
	SettleFrames   int      `json:"settle_frames,omitempty" toml:"settle_frames"`
	Compositor     string   `json:"compositor,omitempty" toml:"compositor"`
	Effects        []string `json:"effects,omitempty" toml:"effects"`
	OutputFormat   string   `json:"output_format,omitempty" toml:"output_format"`
	BufferFrames   int      `json:"buffer_frames,omitempty" toml:"buffer_frames"`
}

// Defaults fill request fields left empty.
type Defaults struct {
	FPS            float64  `toml:"fps"`
	Codec          string   `toml:"codec"`
	BitrateBps     int      `toml:"bitrate"`
	OverlayBackend string   `toml:"overlay_backend"`
	Preset         string   `toml:"preset"`
	Compositor     string   `toml:"compositor"`
	Effects        []string `toml:"effects"`
	OutputFormat   string   `toml:"output_format"`
	OutputDir      string   `toml:"output_dir"`
	BufferFrames   int      `toml:"buffer_frames"`
}

// DefaultFPS is used when neither the request nor the defaults set a rate.
const DefaultFPS = 30.0

// Apply returns req with empty fields taken from d.
func (d Defaults) Apply(req Request) Request {
	if req.FPS == 0 {
		req.FPS = d.FPS
	}
	if req.FPS == 0 {
		req.FPS = DefaultFPS
	}
	if req.Codec == "" {
		req.Codec = d.Codec
	}
	if req.BitrateBps == 0 {
		req.BitrateBps = d.BitrateBps
	}
	if req.OverlayBackend == "" {
		req.OverlayBackend = d.OverlayBackend
	}
	if req.OverlayBackend == "" {
		req.OverlayBackend = OverlayRaster
	}
	if req.Preset == "" {
		req.Preset = d.Preset
	}
	if req.Preset == "" {
		req.Preset = string(overlay.PresetFull)
	}
	if req.Compositor == "" {
		req.Compositor = d.Compositor
	}
	if req.Effects == nil {
		req.Effects = d.Effects
	}
	if req.OutputFormat == "" {
		req.OutputFormat = d.OutputFormat
	}
	if req.BufferFrames == 0 {
		req.BufferFrames = d.BufferFrames
	}
	if req.Output == "" && req.Input != "" {
		req.Output = defaultOutput(req.Input, d.OutputDir, req.OutputFormat)
	}
	return req
}

func defaultOutput(input, dir, format string) string {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	ext := ".mp4"
	if pipeline.Format(format) == pipeline.FormatPNGZip {
		ext = ".zip"
	}
	return filepath.Join(dir, stem+"-hud"+ext)
}

// Build turns a request into a pipeline job. The returned closer releases
// overlay resources once the job has run; it is never nil.
func Build(ctx context.Context, req Request) (pipeline.Job, io.Closer, error) {
	invalid := func(msg string, cause error) (pipeline.Job, io.Closer, error) {
		return pipeline.Job{}, nopCloser{}, NewError(ErrCodeInvalidRequest, msg, cause)
	}

	if req.Input == "" {
		return invalid("input is required", nil)
	}
	if req.Output == "" {
		return invalid("output is required", nil)
	}
	format, err := pipeline.ParseFormat(req.OutputFormat)
	if err != nil {
		return invalid("invalid output_format", err)
	}
	backend, err := compositor.ParseBackend(req.Compositor)
	if err != nil {
		return invalid("invalid compositor", err)
	}
	var effects compositor.Effects
	for _, name := range req.Effects {
		if err := effects.Enable(name); err != nil {
			return invalid("invalid effects", err)
		}
	}

	log := &hud.Log{}
	if req.OverlayLog != "" {
		if log, err = hud.LoadLog(req.OverlayLog); err != nil {
			return invalid("invalid overlay_log", err)
		}
	}

	duration := req.DurationMs
	if duration == 0 {
		duration = log.SpanMs()
	}
	if duration <= 0 {
		return invalid("duration_ms is required when the overlay log is empty", nil)
	}

	width, height := req.Width, req.Height
	if width == 0 || height == 0 {
		cfg, err := pipeline.InputConfig(req.Input)
		if err != nil {
			return invalid("cannot read input", err)
		}
		if width == 0 {
			width = cfg.CodedWidth
		}
		if height == 0 {
			height = cfg.CodedHeight
		}
	}

	if err := pipeline.CheckGeometry(width, height); err != nil {
		return invalid("invalid output size", err)
	}

	renderer, closer, err := buildOverlay(ctx, req, width, height)
	if err != nil {
		return invalid("invalid overlay", err)
	}

	return pipeline.Job{
		Input:          req.Input,
		Log:            log,
		DurationMs:     duration,
		FPS:            req.FPS,
		Width:          req.Width,
		Height:         req.Height,
		Codec:          req.Codec,
		BitrateBps:     req.BitrateBps,
		KeyInterval:    req.KeyInterval,
		EncoderBackend: req.EncoderBackend,
		Overlay:        renderer,
		Compositor:     compositor.Options{Backend: backend, Effects: effects},
		Output:         req.Output,
		Format:         format,
		BufferFrames:   req.BufferFrames,
	}, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func buildOverlay(ctx context.Context, req Request, width, height int) (overlay.Renderer, io.Closer, error) {
	preset, err := overlay.ParsePreset(req.Preset)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(req.OverlayBackend) {
	case "", OverlayRaster:
		r, err := overlay.NewRaster(width, height, preset)
		if err != nil {
			return nil, nil, err
		}
		return r, nopCloser{}, nil

	case OverlayCapture:
		opts := overlay.CaptureOptions{SettleFrames: req.SettleFrames}
		switch {
		case strings.HasPrefix(req.CaptureURL, "ws://"), strings.HasPrefix(req.CaptureURL, "wss://"):
			s, err := overlay.DialWSSurface(ctx, req.CaptureURL, http.Header{"User-Agent": {version.UserAgent()}})
			if err != nil {
				return nil, nil, err
			}
			return overlay.NewCapture(s, opts), s, nil
		case strings.HasPrefix(req.CaptureURL, "http://"), strings.HasPrefix(req.CaptureURL, "https://"):
			return overlay.NewCapture(overlay.NewHTTPSurface(req.CaptureURL, nil), opts), nopCloser{}, nil
		case req.CaptureURL == "":
			// No external surface: drive the raster renderer through the
			// capture protocol in-process.
			r, err := overlay.NewRaster(width, height, preset)
			if err != nil {
				return nil, nil, err
			}
			return overlay.NewCapture(overlay.NewLoopbackSurface(r, 0), opts), nopCloser{}, nil
		default:
			return nil, nil, fmt.Errorf("unsupported capture_url scheme %q", req.CaptureURL)
		}

	default:
		return nil, nil, errors.New("overlay_backend must be raster or capture")
	}
}
