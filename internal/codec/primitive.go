package codec

import (
	"github.com/smazurov/hudrender/internal/media"
)

// FrameSink receives decoded frames and takes ownership of them.
type FrameSink func(*media.RawFrame) error

// ChunkSink receives encoded output chunks.
type ChunkSink func(media.EncodedOutputChunk) error

// DecoderPrimitive is a backend decoder. Frames are emitted in presentation
// order; the primitive reorders internally.
type DecoderPrimitive interface {
	// Configure prepares the primitive. Errors wrapping ErrUnsupportedCodec
	// make the registry try the next backend.
	Configure(cfg media.DecoderConfig) error
	Decode(chunk media.EncodedChunk, emit FrameSink) error
	// Flush emits every buffered frame and leaves the primitive reusable.
	Flush(emit FrameSink) error
	Close() error
}

// EncoderPrimitive is a backend encoder.
type EncoderPrimitive interface {
	Configure(cfg EncoderConfig) (media.OutputMetadata, error)
	// Encode submits one frame. key requests an independently decodable
	// output chunk.
	Encode(frame *media.CompositeFrame, key bool, emit ChunkSink) error
	Flush(emit ChunkSink) error
	Close() error
}

// EncoderConfig describes the output stream.
type EncoderConfig struct {
	Codec       string
	Width       int
	Height      int
	BitrateBps  int
	FrameRate   float64
	KeyInterval int
	// Backend forces a backend by name; empty selects automatically.
	Backend string
}

// DefaultKeyInterval is the maximum distance between keyframes in frames.
const DefaultKeyInterval = 60

// Backend supplies primitives for a set of codecs.
type Backend interface {
	Name() string
	// Hardware reports whether the backend uses a hardware codec engine.
	Hardware() bool
	// Available reports whether the backend can run on this host.
	Available() bool
	Decodes(codec string) bool
	Encodes(codec string) bool
	NewDecoder(codec string, pool *media.Pool) (DecoderPrimitive, error)
	NewEncoder(codec string) (EncoderPrimitive, error)
}

// sinkError marks an error returned by a caller's sink so it is not mistaken
// for a primitive failure.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return e.err.Error() }

func (e *sinkError) Unwrap() error { return e.err }
