package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/media"
)

// OutputSink receives encoded chunks. meta is non-nil only with the first
// chunk of the stream.
type OutputSink func(chunk media.EncodedOutputChunk, meta *media.OutputMetadata) error

// FrameEncoder drives an encode primitive and applies the keyframe policy:
// a keyframe at frame 0, at least every KeyInterval frames, and whenever the
// caller forces one.
type FrameEncoder struct {
	mu       sync.Mutex
	registry *Registry
	onChunk  OutputSink
	logger   *slog.Logger

	state    State
	prim     EncoderPrimitive
	backend  string
	cfg      EncoderConfig
	meta     media.OutputMetadata
	metaSent bool
	frames   int
	sinceKey int
	keys     int
}

// NewFrameEncoder creates an unconfigured encoder.
func NewFrameEncoder(registry *Registry, onChunk OutputSink) *FrameEncoder {
	return &FrameEncoder{
		registry: registry,
		onChunk:  onChunk,
		logger:   logging.GetLogger("codec"),
		state:    StateUnconfigured,
	}
}

// Configure selects a backend for cfg.Codec, preferring hardware.
func (e *FrameEncoder) Configure(cfg EncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateUnconfigured, StateConfigured:
	default:
		return fmt.Errorf("%w: configure while %s", ErrInvalidState, e.state)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: invalid geometry %dx%d", ErrUnsupportedCodec, cfg.Width, cfg.Height)
	}
	if cfg.KeyInterval <= 0 {
		cfg.KeyInterval = DefaultKeyInterval
	}

	if e.prim != nil {
		e.prim.Close()
		e.prim = nil
	}

	candidates, err := e.registry.encoderCandidates(cfg.Codec, cfg.Backend)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range candidates {
		prim, err := b.NewEncoder(cfg.Codec)
		var meta media.OutputMetadata
		if err == nil {
			meta, err = prim.Configure(cfg)
			if err != nil {
				prim.Close()
			}
		}
		if err != nil {
			e.logger.Warn("Encoder backend rejected configuration, trying next", "backend", b.Name(), "codec", cfg.Codec, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}

		e.prim = prim
		e.backend = b.Name()
		e.cfg = cfg
		e.meta = meta
		e.metaSent = false
		e.frames = 0
		e.sinceKey = 0
		e.state = StateConfigured
		e.logger.Info("Encoder configured",
			"backend", b.Name(),
			"hardware", b.Hardware(),
			"codec", cfg.Codec,
			"width", cfg.Width,
			"height", cfg.Height,
			"bitrate", cfg.BitrateBps,
			"fps", cfg.FrameRate)
		return nil
	}

	e.state = StateUnconfigured
	if len(errs) == 0 {
		return fmt.Errorf("%w: no backend encodes %q", ErrUnsupportedCodec, cfg.Codec)
	}
	return fmt.Errorf("%w: %q: %w", ErrUnsupportedCodec, cfg.Codec, errors.Join(errs...))
}

// Encode submits one frame. The frame may be released once Encode returns.
func (e *FrameEncoder) Encode(frame *media.CompositeFrame, forceKey bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateConfigured, StateEncoding:
	default:
		return fmt.Errorf("%w: encode while %s", ErrInvalidState, e.state)
	}
	if frame.Width != e.cfg.Width || frame.Height != e.cfg.Height {
		return fmt.Errorf("%w: frame %dx%d does not match configured %dx%d",
			ErrEncode, frame.Width, frame.Height, e.cfg.Width, e.cfg.Height)
	}

	key := forceKey || e.frames == 0 || e.sinceKey >= e.cfg.KeyInterval
	e.state = StateEncoding
	if err := e.prim.Encode(frame, key, e.emit); err != nil {
		return e.wrapEncodeErr(err)
	}

	e.frames++
	if key {
		e.keys++
		e.sinceKey = 1
	} else {
		e.sinceKey++
	}
	return nil
}

// Flush drains buffered output and returns the encoder to Configured.
func (e *FrameEncoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateConfigured, StateEncoding:
	default:
		return fmt.Errorf("%w: flush while %s", ErrInvalidState, e.state)
	}

	e.state = StateFlushing
	err := e.prim.Flush(e.emit)
	e.state = StateConfigured
	if err != nil {
		return e.wrapEncodeErr(err)
	}
	e.logger.Debug("Encoder flushed", "frames", e.frames, "keyframes", e.keys)
	return nil
}

// Close releases the primitive. It is safe to call more than once.
func (e *FrameEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return nil
	}
	e.state = StateClosed
	if e.prim == nil {
		return nil
	}
	err := e.prim.Close()
	e.prim = nil
	return err
}

// State returns the current state.
func (e *FrameEncoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Backend returns the selected backend name.
func (e *FrameEncoder) Backend() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend
}

// Frames returns the number of frames submitted since Configure.
func (e *FrameEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *FrameEncoder) emit(chunk media.EncodedOutputChunk) error {
	var meta *media.OutputMetadata
	if !e.metaSent {
		m := e.meta
		meta = &m
		e.metaSent = true
	}
	if e.onChunk == nil {
		return nil
	}
	if err := e.onChunk(chunk, meta); err != nil {
		return &sinkError{err: err}
	}
	return nil
}

func (e *FrameEncoder) wrapEncodeErr(err error) error {
	var sinkErr *sinkError
	if errors.As(err, &sinkErr) {
		return sinkErr.err
	}
	if errors.Is(err, ErrEncode) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEncode, err)
}
