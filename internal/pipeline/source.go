package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/media"
	"github.com/smazurov/hudrender/internal/mp4"
)

// errSourceDone is returned by a frame sink to stop decoding early.
var errSourceDone = errors.New("source done")

// source demuxes and decodes an MP4 file into raw frames.
type source struct {
	path      string
	registry  *codec.Registry
	pool      *media.Pool
	blockSize int
	// onConfig runs once, before the decoder is configured.
	onConfig func(media.DecoderConfig) error
}

// run decodes the file, handing every frame to onFrame in presentation
// order. onFrame owns each frame it receives. Returning errSourceDone from
// onFrame stops the source without error; frames the decoder still emits are
// released. run returns the number of frames decoded.
func (s *source) run(ctx context.Context, onFrame codec.FrameSink) (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, newError(ErrCodeContainer, "open input", err)
	}
	defer f.Close()

	decoded := 0
	stopped := false
	dec := codec.NewFrameDecoder(s.registry, s.pool, func(frame *media.RawFrame) error {
		if stopped {
			frame.Release()
			return errSourceDone
		}
		decoded++
		if err := onFrame(frame); err != nil {
			if errors.Is(err, errSourceDone) {
				stopped = true
			}
			return err
		}
		return nil
	})
	defer dec.Close()

	err = mp4.Demux(f, mp4.Handlers{
		OnConfig: func(cfg media.DecoderConfig) error {
			if s.onConfig != nil {
				if err := s.onConfig(cfg); err != nil {
					return err
				}
			}
			return dec.Configure(cfg)
		},
		OnChunk: func(chunk media.EncodedChunk) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return dec.Decode(chunk)
		},
		OnComplete: func() error {
			return dec.Flush()
		},
	}, s.blockSize)
	if err != nil && !errors.Is(err, errSourceDone) {
		return decoded, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return decoded, nil
}

// InputConfig reads the decoder configuration of the video track in path
// without decoding any samples.
func InputConfig(path string) (media.DecoderConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return media.DecoderConfig{}, newError(ErrCodeContainer, "open input", err)
	}
	defer f.Close()

	var cfg media.DecoderConfig
	err = mp4.Demux(f, mp4.Handlers{
		OnConfig: func(c media.DecoderConfig) error {
			cfg = c
			return errSourceDone
		},
		OnChunk: func(media.EncodedChunk) error { return errSourceDone },
	}, 0)
	if err != nil && !errors.Is(err, errSourceDone) {
		return media.DecoderConfig{}, classify("read "+path, err)
	}
	if cfg.Codec == "" {
		return media.DecoderConfig{}, newError(ErrCodeContainer, "no video track in "+path, nil)
	}
	return cfg, nil
}
