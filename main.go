package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/hudrender/cmd"
	"github.com/smazurov/hudrender/internal/api"
	"github.com/smazurov/hudrender/internal/config"
	"github.com/smazurov/hudrender/internal/events"
	"github.com/smazurov/hudrender/internal/jobs"
	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/metrics/exporters"
	"github.com/smazurov/hudrender/internal/nats"
	"github.com/smazurov/hudrender/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port       string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CORSOrigin string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Render settings
	RenderDefaultsFile string `help:"Render defaults file, reloaded on change" default:"render.toml" toml:"render.defaults_file" env:"RENDER_DEFAULTS_FILE"`
	RenderWorkers      int    `help:"Jobs rendering at once" default:"1" toml:"render.workers" env:"RENDER_WORKERS"`
	RenderOutputDir    string `help:"Directory for outputs when a job names none" toml:"render.output_dir" env:"RENDER_OUTPUT_DIR"`
	RenderTempDir      string `help:"Directory for partial outputs" toml:"render.temp_dir" env:"RENDER_TEMP_DIR"`

	// Metrics settings
	MetricsSSEEnabled bool `help:"Publish job metrics on the event stream" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// NATS settings
	NatsEnabled bool   `help:"Publish job events to NATS" default:"false" toml:"nats.enabled" env:"NATS_ENABLED"`
	NatsURL     string `help:"NATS server URL" default:"nats://127.0.0.1:4222" toml:"nats.url" env:"NATS_URL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline   string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingMP4        string `help:"Container logging level" default:"info" toml:"logging.mp4" env:"LOGGING_MP4"`
	LoggingCodec      string `help:"Codec logging level" default:"info" toml:"logging.codec" env:"LOGGING_CODEC"`
	LoggingOverlay    string `help:"Overlay logging level" default:"info" toml:"logging.overlay" env:"LOGGING_OVERLAY"`
	LoggingCompositor string `help:"Compositor logging level" default:"info" toml:"logging.compositor" env:"LOGGING_COMPOSITOR"`
	LoggingJobs       string `help:"Jobs logging level" default:"info" toml:"logging.jobs" env:"LOGGING_JOBS"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingNATS       string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"pipeline":   opts.LoggingPipeline,
				"mp4":        opts.LoggingMP4,
				"codec":      opts.LoggingCodec,
				"overlay":    opts.LoggingOverlay,
				"compositor": opts.LoggingCompositor,
				"jobs":       opts.LoggingJobs,
				"api":        opts.LoggingAPI,
				"nats":       opts.LoggingNATS,
			},
		})

		logger := logging.GetLogger("main")
		eventBus := events.New()

		var logSeq atomic.Uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        logSeq.Add(1),
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		withOverrides := func(d jobs.Defaults) jobs.Defaults {
			if opts.RenderOutputDir != "" {
				d.OutputDir = opts.RenderOutputDir
			}
			return d
		}

		defaults, err := config.LoadRenderDefaults(opts.RenderDefaultsFile)
		if err != nil {
			logger.Warn("Failed to load render defaults, using built-in defaults",
				"file", opts.RenderDefaultsFile, "error", err)
			defaults = jobs.Defaults{}
		}

		manager := jobs.NewManager(&jobs.ManagerOptions{
			Workers:  opts.RenderWorkers,
			Defaults: withOverrides(defaults),
			TempDir:  opts.RenderTempDir,
			EventBus: eventBus,
		})

		defaultsWatcher := config.NewConfigWatcher(
			opts.RenderDefaultsFile,
			config.LoadRenderDefaults,
			logging.GetLogger("config"),
		)
		defaultsWatcher.OnReload(func(d jobs.Defaults) {
			manager.SetDefaults(withOverrides(d))
			logger.Info("Render defaults reloaded", "file", opts.RenderDefaultsFile)
		})

		var natsClient *nats.JobClient
		var natsBridge *nats.Bridge
		if opts.NatsEnabled {
			natsLogger := logging.GetLogger("nats")
			natsClient = nats.NewJobClient(opts.NatsURL, natsLogger)
			natsClient.OnCancel(func(jobID, reason string) {
				if cancelErr := manager.Cancel(jobID); cancelErr != nil {
					natsLogger.Warn("Cancel request rejected", "job_id", jobID, "reason", reason, "error", cancelErr)
				}
			})
			natsBridge = nats.NewBridge(eventBus, natsClient, natsLogger)
		}

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			CORSOrigin:        opts.CORSOrigin,
			Jobs:              manager,
			EventBus:          eventBus,
			PrometheusHandler: exporters.HTTPHandler(),
		})

		watchdogCtx, stopWatchdog := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if startErr := defaultsWatcher.Start(); startErr != nil {
				logger.Warn("Render defaults hot reload disabled", "error", startErr)
			}

			// SIGHUP forces a render defaults reload
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-hup:
						defaultsWatcher.Reload()
					case <-watchdogCtx.Done():
						signal.Stop(hup)
						return
					}
				}
			}()

			if natsClient != nil {
				if connErr := natsClient.Connect(); connErr != nil {
					logger.Warn("NATS unavailable, continuing without it", "url", opts.NatsURL, "error", connErr)
				}
				natsBridge.Start()
			}

			if sseExporter != nil {
				sseExporter.Start(context.Background())
			}

			systemd.Ready()
			go systemd.Watchdog(watchdogCtx)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			systemd.Stopping()
			stopWatchdog()

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Cancel running jobs after the API stops accepting new ones
			manager.Shutdown()

			if sseExporter != nil {
				sseExporter.Stop()
			}
			if natsBridge != nil {
				natsBridge.Stop()
				natsClient.Close()
			}
			if stopErr := defaultsWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
		})
	})

	cli.Root().Use = "hudrender"
	cli.Root().Short = "Render HUD overlays onto recorded video"

	cli.Root().AddCommand(cmd.CreateRenderCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateEffectsCmd())
	cli.Root().AddCommand(cmd.CreateCodecsCmd())

	cli.Run()
}
