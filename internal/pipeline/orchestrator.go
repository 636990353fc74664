package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/hud"
	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/media"
	"github.com/smazurov/hudrender/internal/metrics"
)

// Run modes.
const (
	ModeSynchronous = "synchronous"
	ModeBuffered    = "buffered"
)

// yieldEvery is how often the buffered consumer yields to the producer.
const yieldEvery = 16

// failureCounter is implemented by renderers that count dropped overlays.
type failureCounter interface {
	Failures() int
}

// Options configures an Orchestrator.
type Options struct {
	// JobID labels metrics; empty disables per-job gauges.
	JobID string
	// Registry supplies codec backends. Nil uses DefaultRegistry().
	Registry *codec.Registry
	// Pool allocates decoded frames. Nil creates a pool per run.
	Pool *media.Pool
	// TempDir holds partial output. Empty means the output's directory.
	TempDir string
	// BlockSize is the input read size. Zero uses the demuxer default.
	BlockSize int
	Logger    logging.Logger
}

// Orchestrator runs one Job. It is single use.
type Orchestrator struct {
	job    Job
	opts   Options
	logger logging.Logger

	ran    atomic.Bool
	states []hud.State
	total  int
	buffer int

	comp compositor.Compositor
	out  sink

	frames int
	freeze int
}

// New validates job and prepares an orchestrator for it.
func New(job Job, opts Options) (*Orchestrator, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	job.Format, _ = ParseFormat(string(job.Format))
	if job.Codec == "" {
		job.Codec = DefaultCodec()
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Pool == nil {
		opts.Pool = media.NewPool(MaxBufferFrames + 2)
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("pipeline")
	}
	return &Orchestrator{
		job:    job,
		opts:   opts,
		logger: opts.Logger,
		buffer: clampBuffer(job.BufferFrames),
	}, nil
}

// Pool returns the frame pool used by the run.
func (o *Orchestrator) Pool() *media.Pool {
	return o.opts.Pool
}

// Run renders the job. On success the output file exists and holds exactly
// Job.FrameCount() frames. On failure or cancellation nothing is left at the
// output path and the error is a *Error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.ran.CompareAndSwap(false, true) {
		return nil, newError(ErrCodeInternal, "orchestrator already ran", nil)
	}
	start := time.Now()

	o.states = o.job.Log.Interpolator().FrameStates(o.job.FPS, o.job.DurationMs)
	o.total = len(o.states)

	var captureBefore int
	fc, counts := o.job.Overlay.(failureCounter)
	if counts {
		captureBefore = fc.Failures()
	}

	mode := ModeBuffered
	if o.job.Overlay.Synchronous() {
		mode = ModeSynchronous
	}
	o.logger.Info("Starting render",
		"job_id", o.opts.JobID,
		"input", o.job.Input,
		"output", o.job.Output,
		"format", o.job.Format,
		"frames", o.total,
		"fps", o.job.FPS,
		"mode", mode)

	src := &source{
		path:      o.job.Input,
		registry:  o.opts.Registry,
		pool:      o.opts.Pool,
		blockSize: o.opts.BlockSize,
		onConfig: func(cfg media.DecoderConfig) error {
			return o.prepare(ctx, cfg)
		},
	}

	var err error
	if mode == ModeSynchronous {
		err = o.runSync(ctx, src)
	} else {
		err = o.runBuffered(ctx, src)
	}
	err = o.converge(err)

	if o.opts.JobID != "" {
		metrics.SetBufferDepth(o.opts.JobID, 0)
	}
	if o.freeze > 0 {
		metrics.AddFreezeFrames(o.opts.JobID, o.freeze)
	}

	if err != nil {
		o.logger.Error("Render failed", "job_id", o.opts.JobID, "frames", o.frames, "error", err)
		return nil, classify("render "+o.job.Input, err)
	}

	res := &Result{
		Frames:       o.frames,
		FreezeFrames: o.freeze,
		Output:       o.job.Output,
		Mode:         mode,
	}
	if o.comp != nil {
		res.Compositor = o.comp.Name()
	}
	if counts {
		res.CaptureFailures = fc.Failures() - captureBefore
	}
	o.logger.Info("Render complete",
		"job_id", o.opts.JobID,
		"output", res.Output,
		"frames", res.Frames,
		"freeze_frames", res.FreezeFrames,
		"capture_failures", res.CaptureFailures,
		"compositor", res.Compositor,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// prepare creates the compositor and sink once the input geometry is known.
func (o *Orchestrator) prepare(ctx context.Context, cfg media.DecoderConfig) error {
	if o.out != nil {
		return nil
	}
	width, height := o.job.Width, o.job.Height
	if width == 0 {
		width = cfg.CodedWidth
	}
	if height == 0 {
		height = cfg.CodedHeight
	}
	if err := CheckGeometry(width, height); err != nil {
		return err
	}

	copts := o.job.Compositor
	copts.Width, copts.Height = width, height
	comp, err := compositor.New(ctx, copts)
	if err != nil {
		return err
	}

	var out sink
	switch o.job.Format {
	case FormatPNGZip:
		out, err = newPNGZipSink(o.job.Output, o.opts.TempDir, o.job.FPS)
	default:
		out, err = newMP4Sink(o.job.Output, o.opts.TempDir, o.opts.Registry, codec.EncoderConfig{
			Codec:       o.job.Codec,
			Width:       width,
			Height:      height,
			BitrateBps:  o.job.BitrateBps,
			FrameRate:   o.job.FPS,
			KeyInterval: o.job.KeyInterval,
			Backend:     o.job.EncoderBackend,
		})
	}
	if err != nil {
		return errors.Join(err, comp.Close())
	}

	o.comp, o.out = comp, out
	o.logger.Debug("Pipeline prepared",
		"job_id", o.opts.JobID,
		"input_codec", cfg.Codec,
		"input_size", fmt.Sprintf("%dx%d", cfg.CodedWidth, cfg.CodedHeight),
		"output_size", fmt.Sprintf("%dx%d", width, height),
		"compositor", comp.Name(),
		"sink", out.name(),
		"encoder", out.backend())
	return nil
}

// converge finishes or discards the sink and closes the compositor.
func (o *Orchestrator) converge(runErr error) error {
	errs := []error{runErr}
	if o.out != nil {
		if runErr == nil {
			errs = append(errs, o.out.finish())
		} else if err := o.out.discard(); err != nil {
			o.logger.Warn("Failed to discard partial output", "output", o.job.Output, "error", err)
		}
	}
	if o.comp != nil {
		if err := o.comp.Close(); err != nil {
			o.logger.Warn("Failed to close compositor", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return errors.Join(errs...)
}

// renderFrame renders, composites and writes output frame i over video.
// The caller keeps ownership of video.
func (o *Orchestrator) renderFrame(ctx context.Context, i int, video *media.RawFrame) error {
	state := o.states[i]
	tMs := hud.FrameTimeMs(i, o.job.FPS)
	ts := hud.FrameTimestampUs(i, o.job.FPS)

	img, err := o.job.Overlay.Render(ctx, state, tMs)
	if err != nil {
		return err
	}
	if hc, ok := o.comp.(compositor.Hintable); ok {
		hc.SetHints(compositor.HintsFor(state))
	}
	frame, err := o.comp.Composite(ctx, video, img, ts)
	if err != nil {
		return err
	}
	if err := o.out.write(ctx, frame, i == 0); err != nil {
		return err
	}

	o.frames++
	metrics.AddFramesEncoded(o.out.name(), 1)
	if o.job.Progress != nil {
		o.job.Progress(o.frames, o.total)
	}
	return nil
}

// freezeTail repeats last for the remaining output frames.
func (o *Orchestrator) freezeTail(ctx context.Context, from int, last *media.RawFrame) error {
	if from < o.total {
		o.logger.Warn("Source ended early, repeating last frame",
			"job_id", o.opts.JobID, "decoded", from, "frames", o.total)
	}
	for i := from; i < o.total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.renderFrame(ctx, i, last); err != nil {
			return err
		}
		o.freeze++
	}
	return nil
}

// runSync renders each frame inside the decoder callback.
func (o *Orchestrator) runSync(ctx context.Context, src *source) error {
	var last *media.RawFrame
	defer func() { last.Release() }()

	i := 0
	_, err := src.run(ctx, func(f *media.RawFrame) error {
		if i >= o.total {
			f.Release()
			return errSourceDone
		}
		if err := ctx.Err(); err != nil {
			f.Release()
			return err
		}
		err := o.renderFrame(ctx, i, f)
		last.Release()
		last = f
		if err != nil {
			return err
		}
		i++
		if i >= o.total {
			return errSourceDone
		}
		return nil
	})
	if err != nil {
		return err
	}
	if last == nil {
		return ErrStarvation
	}
	return o.freezeTail(ctx, i, last)
}

// runBuffered decodes on a producer goroutine into a bounded channel while
// the consumer renders. The producer blocks when the channel is full.
func (o *Orchestrator) runBuffered(ctx context.Context, src *source) error {
	g, gctx := errgroup.WithContext(ctx)
	prodCtx, stopProducer := context.WithCancel(gctx)
	defer stopProducer()

	frames := make(chan *media.RawFrame, o.buffer)
	var prodErr error

	g.Go(func() error {
		_, err := src.run(prodCtx, func(f *media.RawFrame) error {
			select {
			case frames <- f:
				return nil
			case <-prodCtx.Done():
				f.Release()
				return prodCtx.Err()
			}
		})
		if err != nil && prodCtx.Err() != nil && ctx.Err() == nil {
			// stopped by the consumer, which reports its own error
			err = nil
		}
		prodErr = err
		close(frames)
		return err
	})

	g.Go(func() error {
		var held *media.RawFrame
		defer func() {
			held.Release()
			stopProducer()
			for f := range frames {
				f.Release()
			}
		}()

		exhausted := false
		for i := 0; i < o.total; i++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			if o.opts.JobID != "" {
				metrics.SetBufferDepth(o.opts.JobID, len(frames))
			}

			var cur *media.RawFrame
			if !exhausted {
				select {
				case f, ok := <-frames:
					if ok {
						cur = f
					} else {
						exhausted = true
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			if cur != nil {
				held.Release()
				held = cur.Clone()
			} else {
				if prodErr != nil {
					return prodErr
				}
				if held == nil {
					return ErrStarvation
				}
				if o.freeze == 0 {
					o.logger.Warn("Source ended early, repeating last frame",
						"job_id", o.opts.JobID, "decoded", i, "frames", o.total)
				}
				cur = held.Clone()
				o.freeze++
			}

			err := o.renderFrame(gctx, i, cur)
			cur.Release()
			if err != nil {
				return err
			}
			if (i+1)%yieldEvery == 0 {
				runtime.Gosched()
			}
		}
		return nil
	})

	return g.Wait()
}
