package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/jobs"
	"github.com/smazurov/hudrender/internal/pipeline"
)

// RenderFile is the layout of the render defaults file (render.toml).
type RenderFile struct {
	Render jobs.Defaults `toml:"render"`
}

// LoadRenderDefaults reads and validates a render defaults file. A missing
// file yields zero defaults.
func LoadRenderDefaults(path string) (jobs.Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return jobs.Defaults{}, nil
	}
	if err != nil {
		return jobs.Defaults{}, fmt.Errorf("failed to read render defaults: %w", err)
	}

	var file RenderFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return jobs.Defaults{}, fmt.Errorf("failed to parse render defaults: %w", err)
	}
	if err := ValidateRenderDefaults(file.Render); err != nil {
		return jobs.Defaults{}, fmt.Errorf("invalid render defaults in %s: %w", path, err)
	}
	return file.Render, nil
}

// ValidateRenderDefaults rejects values no job could use.
func ValidateRenderDefaults(d jobs.Defaults) error {
	if d.FPS < 0 {
		return fmt.Errorf("fps must not be negative, got %g", d.FPS)
	}
	if d.BitrateBps < 0 {
		return fmt.Errorf("bitrate must not be negative, got %d", d.BitrateBps)
	}
	if d.BufferFrames != 0 && (d.BufferFrames < pipeline.MinBufferFrames || d.BufferFrames > pipeline.MaxBufferFrames) {
		return fmt.Errorf("buffer_frames must be within %d..%d, got %d",
			pipeline.MinBufferFrames, pipeline.MaxBufferFrames, d.BufferFrames)
	}
	if d.OverlayBackend != "" && !slices.Contains([]string{jobs.OverlayRaster, jobs.OverlayCapture}, d.OverlayBackend) {
		return fmt.Errorf("unknown overlay_backend %q", d.OverlayBackend)
	}
	if d.Compositor != "" {
		if _, err := compositor.ParseBackend(d.Compositor); err != nil {
			return err
		}
	}
	if d.OutputFormat != "" {
		if _, err := pipeline.ParseFormat(d.OutputFormat); err != nil {
			return err
		}
	}
	var fx compositor.Effects
	for _, name := range d.Effects {
		if err := fx.Enable(name); err != nil {
			return err
		}
	}
	return nil
}

// SaveRenderDefaults writes d as a render defaults file.
func SaveRenderDefaults(path string, d jobs.Defaults) error {
	data, err := toml.Marshal(RenderFile{Render: d})
	if err != nil {
		return fmt.Errorf("failed to marshal render defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write render defaults: %w", err)
	}
	return nil
}
