package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/media"
)

// FrameDecoder drives a decode primitive through
// Unconfigured → Configured → Decoding | Flushing → Closed.
type FrameDecoder struct {
	mu       sync.Mutex
	registry *Registry
	pool     *media.Pool
	onFrame  FrameSink
	logger   *slog.Logger

	state   State
	prim    DecoderPrimitive
	backend string
	chunks  int
	frames  int
}

// NewFrameDecoder creates an unconfigured decoder. onFrame receives every
// decoded frame and owns it from then on.
func NewFrameDecoder(registry *Registry, pool *media.Pool, onFrame FrameSink) *FrameDecoder {
	return &FrameDecoder{
		registry: registry,
		pool:     pool,
		onFrame:  onFrame,
		logger:   logging.GetLogger("codec"),
		state:    StateUnconfigured,
	}
}

// Configure selects a backend for cfg.Codec. Backends are tried in registry
// order until one accepts the configuration.
func (d *FrameDecoder) Configure(cfg media.DecoderConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateUnconfigured, StateConfigured:
	default:
		return fmt.Errorf("%w: configure while %s", ErrInvalidState, d.state)
	}

	if d.prim != nil {
		d.prim.Close()
		d.prim = nil
	}

	var errs []error
	for _, b := range d.registry.decoderCandidates(cfg.Codec) {
		prim, err := b.NewDecoder(cfg.Codec, d.pool)
		if err == nil {
			err = prim.Configure(cfg)
			if err != nil {
				prim.Close()
			}
		}
		if err != nil {
			d.logger.Debug("Decoder backend rejected configuration", "backend", b.Name(), "codec", cfg.Codec, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}

		d.prim = prim
		d.backend = b.Name()
		d.state = StateConfigured
		d.logger.Info("Decoder configured",
			"backend", b.Name(),
			"codec", cfg.Codec,
			"width", cfg.CodedWidth,
			"height", cfg.CodedHeight)
		return nil
	}

	d.state = StateUnconfigured
	if len(errs) == 0 {
		return fmt.Errorf("%w: no backend decodes %q", ErrUnsupportedCodec, cfg.Codec)
	}
	return fmt.Errorf("%w: %q: %w", ErrUnsupportedCodec, cfg.Codec, errors.Join(errs...))
}

// Decode submits one chunk in decode order.
func (d *FrameDecoder) Decode(chunk media.EncodedChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateConfigured, StateDecoding:
	default:
		return fmt.Errorf("%w: decode while %s", ErrInvalidState, d.state)
	}

	d.state = StateDecoding
	d.chunks++
	if err := d.prim.Decode(chunk, d.emit); err != nil {
		return d.wrapDecodeErr(err)
	}
	return nil
}

// Flush emits all buffered frames and returns the decoder to Configured.
func (d *FrameDecoder) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateConfigured, StateDecoding:
	default:
		return fmt.Errorf("%w: flush while %s", ErrInvalidState, d.state)
	}

	d.state = StateFlushing
	err := d.prim.Flush(d.emit)
	d.state = StateConfigured
	if err != nil {
		return d.wrapDecodeErr(err)
	}
	d.logger.Debug("Decoder flushed", "chunks", d.chunks, "frames", d.frames)
	return nil
}

// Close releases the primitive. It is safe to call more than once.
func (d *FrameDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return nil
	}
	d.state = StateClosed
	if d.prim == nil {
		return nil
	}
	err := d.prim.Close()
	d.prim = nil
	return err
}

// State returns the current state.
func (d *FrameDecoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Backend returns the selected backend name.
func (d *FrameDecoder) Backend() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend
}

func (d *FrameDecoder) emit(f *media.RawFrame) error {
	d.frames++
	if d.onFrame == nil {
		f.Release()
		return nil
	}
	if err := d.onFrame(f); err != nil {
		return &sinkError{err: err}
	}
	return nil
}

// wrapDecodeErr tags primitive failures with ErrDecode, leaving errors that
// came from the frame sink untouched.
func (d *FrameDecoder) wrapDecodeErr(err error) error {
	var sinkErr *sinkError
	if errors.As(err, &sinkErr) {
		return sinkErr.err
	}
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}
