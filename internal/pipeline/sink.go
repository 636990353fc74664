package pipeline

import (
	"context"
	"errors"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/media"
	"github.com/smazurov/hudrender/internal/mp4"
)

// sink consumes composite frames in output order. write takes ownership of
// the frame. Exactly one of finish or discard ends the sink.
type sink interface {
	write(ctx context.Context, frame *media.CompositeFrame, key bool) error
	finish() error
	discard() error
	// name labels the sink in logs and metrics.
	name() string
	// backend reports the encoder backend, if any.
	backend() string
}

// mp4Sink encodes composites and muxes them into an MP4 file.
type mp4Sink struct {
	enc *codec.FrameEncoder
	mux *mp4.Muxer
}

func newMP4Sink(path, tempDir string, registry *codec.Registry, cfg codec.EncoderConfig) (*mp4Sink, error) {
	mux, err := mp4.NewMuxer(path, mp4.MuxerOptions{TempDir: tempDir})
	if err != nil {
		return nil, newError(ErrCodeOutput, "create output", err)
	}
	s := &mp4Sink{mux: mux}
	s.enc = codec.NewFrameEncoder(registry, s.onChunk)
	if err := s.enc.Configure(cfg); err != nil {
		_ = mux.Discard()
		return nil, err
	}
	return s, nil
}

func (s *mp4Sink) onChunk(chunk media.EncodedOutputChunk, meta *media.OutputMetadata) error {
	if meta != nil {
		if err := s.mux.SetMetadata(*meta); err != nil {
			return err
		}
	}
	return s.mux.AddChunk(chunk)
}

func (s *mp4Sink) write(ctx context.Context, frame *media.CompositeFrame, key bool) error {
	defer frame.Release()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.enc.Encode(frame, key)
}

func (s *mp4Sink) finish() error {
	if err := s.enc.Flush(); err != nil {
		return errors.Join(err, s.discard())
	}
	if err := s.enc.Close(); err != nil {
		return errors.Join(err, s.mux.Discard())
	}
	if err := s.mux.Finalize(); err != nil {
		return newError(ErrCodeOutput, "finalize output", err)
	}
	return nil
}

func (s *mp4Sink) discard() error {
	return errors.Join(s.enc.Close(), s.mux.Discard())
}

func (s *mp4Sink) name() string { return string(FormatMP4) }

func (s *mp4Sink) backend() string { return s.enc.Backend() }
