package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/hudrender/internal/config"
	"github.com/smazurov/hudrender/internal/events"
	"github.com/smazurov/hudrender/internal/jobs"
	"github.com/smazurov/hudrender/internal/logging"
	"github.com/spf13/cobra"
)

// CreateRenderCmd creates the render command.
func CreateRenderCmd() *cobra.Command {
	var req jobs.Request
	var defaultsFile string
	var logLevel string
	var logJSON bool
	var printJSON bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a HUD overlay onto a video",
		Long: `Decodes the input MP4, composites the HUD described by the overlay log onto ` +
			`every output frame and writes a new MP4 (or a ZIP of PNG frames). ` +
			`Interrupting the command cancels the render and leaves no output file.`,
		Example: `  hudrender render --input session.mp4 --log hud.json --out session-hud.mp4
  hudrender render --input session.mp4 --log hud.json --effects vignette,scanlines --compositor gpu`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			loggingConfig := logging.Config{Level: logLevel, Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("render")

			defaults, err := config.LoadRenderDefaults(defaultsFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.New()
			unsub := bus.Subscribe(func(e events.JobProgressEvent) {
				logger.Info("Render progress", "frames_done", e.FramesDone, "frames_total", e.FramesTotal)
			})
			defer unsub()

			manager := jobs.NewManager(&jobs.ManagerOptions{
				Workers:  1,
				Defaults: defaults,
				EventBus: bus,
			})
			defer manager.Shutdown()

			info, err := manager.Submit(req)
			if err != nil {
				return err
			}
			logger.Info("Rendering", "input", info.Input, "output", info.Output, "frames", info.FramesTotal)

			final, err := manager.Wait(ctx, info.ID)
			if err != nil {
				// Interrupted; cancel and wait for the partial output to be removed
				logger.Warn("Interrupted, cancelling render")
				_ = manager.Cancel(info.ID)
				waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if final, err = manager.Wait(waitCtx, info.ID); err != nil {
					return fmt.Errorf("render did not stop: %w", err)
				}
			}

			if printJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(final); err != nil {
					return err
				}
			}
			if final.State != jobs.StateComplete {
				return &RenderError{Code: final.ErrorCode, Message: final.Error}
			}
			if !printJSON {
				r := final.Result
				fmt.Fprintf(c.OutOrStdout(), "%s: %d frames (%d frozen, %d without overlay) via %s compositor, %s mode\n",
					final.Output, r.Frames, r.FreezeFrames, r.CaptureFailures, r.Compositor, r.Mode)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Input, "input", "i", "", "Source MP4 file")
	f.StringVarP(&req.OverlayLog, "log", "l", "", "Overlay log JSON file")
	f.StringVarP(&req.Output, "out", "o", "", "Output path (default <input>-hud.mp4 or .zip)")
	f.Int64Var(&req.DurationMs, "duration-ms", 0, "Output duration in ms (default: overlay log span)")
	f.Float64Var(&req.FPS, "fps", 0, "Output frame rate")
	f.IntVar(&req.Width, "width", 0, "Output width (default: input width)")
	f.IntVar(&req.Height, "height", 0, "Output height (default: input height)")
	f.StringVar(&req.Codec, "codec", "", "Output codec")
	f.IntVar(&req.BitrateBps, "bitrate", 0, "Target bitrate in bits per second")
	f.IntVar(&req.KeyInterval, "key-interval", 0, "Frames between forced key frames")
	f.StringVar(&req.EncoderBackend, "encoder-backend", "", "Preferred encoder backend")
	f.StringVar(&req.OverlayBackend, "overlay", "", "Overlay renderer: raster or capture")
	f.StringVar(&req.Preset, "preset", "", "Raster HUD preset")
	f.StringVar(&req.CaptureURL, "capture-url", "", "Capture surface URL (http, https, ws or wss)")
	f.IntVar(&req.SettleFrames, "settle-frames", 0, "Surface frames to wait after each push")
	f.StringVar(&req.Compositor, "compositor", "", "Compositor backend: auto, gpu or software")
	f.StringSliceVar(&req.Effects, "effects", nil, "Post effects to enable, comma separated (see 'hudrender effects')")
	f.StringVar(&req.OutputFormat, "format", "", "Output format: mp4 or png-zip")
	f.IntVar(&req.BufferFrames, "buffer-frames", 0, "Decoded frames buffered ahead in buffered mode")
	f.StringVar(&defaultsFile, "defaults", "render.toml", "Render defaults file")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&logJSON, "log-json", false, "Log as JSON")
	f.BoolVar(&printJSON, "json", false, "Print the final job as JSON")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// RenderError reports a render that did not complete.
type RenderError struct {
	Code    string
	Message string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed (%s): %s", e.Code, e.Message)
}
