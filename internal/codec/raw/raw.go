// Package raw implements the portable software codec backend. Each access
// unit is a zstd-compressed RGBA picture; delta units store the XOR against
// the previous picture so static content compresses to almost nothing.
package raw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/media"
)

// Codec is the codec id handled by this backend.
const Codec = "raw"

const (
	headerSize = 12
	flagDelta  = 0x01
)

var magic = [4]byte{'H', 'R', 'W', '1'}

var errNoReference = errors.New("delta unit without reference picture")

// Backend is the raw codec backend. It is always available.
type Backend struct{}

// NewBackend creates the raw backend.
func NewBackend() *Backend {
	return &Backend{}
}

// Name implements codec.Backend.
func (*Backend) Name() string { return "raw" }

// Hardware implements codec.Backend.
func (*Backend) Hardware() bool { return false }

// Available implements codec.Backend.
func (*Backend) Available() bool { return true }

// Decodes implements codec.Backend.
func (*Backend) Decodes(c string) bool { return c == Codec }

// Encodes implements codec.Backend.
func (*Backend) Encodes(c string) bool { return c == Codec }

// NewDecoder implements codec.Backend.
func (*Backend) NewDecoder(c string, pool *media.Pool) (codec.DecoderPrimitive, error) {
	if c != Codec {
		return nil, fmt.Errorf("%w: raw backend cannot decode %q", codec.ErrUnsupportedCodec, c)
	}
	return &decoder{pool: pool}, nil
}

// NewEncoder implements codec.Backend.
func (*Backend) NewEncoder(c string) (codec.EncoderPrimitive, error) {
	if c != Codec {
		return nil, fmt.Errorf("%w: raw backend cannot encode %q", codec.ErrUnsupportedCodec, c)
	}
	return &encoder{}, nil
}

type header struct {
	delta  bool
	width  int
	height int
}

func (h header) marshal(dst []byte) []byte {
	var b [headerSize]byte
	copy(b[0:4], magic[:])
	if h.delta {
		b[4] = flagDelta
	}
	binary.BigEndian.PutUint16(b[8:10], uint16(h.width))
	binary.BigEndian.PutUint16(b[10:12], uint16(h.height))
	return append(dst, b[:]...)
}

func parseHeader(b []byte) (header, []byte, error) {
	if len(b) < headerSize {
		return header{}, nil, fmt.Errorf("access unit too short (%d bytes)", len(b))
	}
	if [4]byte(b[0:4]) != magic {
		return header{}, nil, fmt.Errorf("bad access unit magic %q", b[0:4])
	}
	return header{
		delta:  b[4]&flagDelta != 0,
		width:  int(binary.BigEndian.Uint16(b[8:10])),
		height: int(binary.BigEndian.Uint16(b[10:12])),
	}, b[headerSize:], nil
}

func xorInto(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

type decoder struct {
	pool   *media.Pool
	zr     *zstd.Decoder
	width  int
	height int
	prev   []byte
}

func (d *decoder) Configure(cfg media.DecoderConfig) error {
	if cfg.Codec != Codec {
		return fmt.Errorf("%w: %q", codec.ErrUnsupportedCodec, cfg.Codec)
	}
	if cfg.CodedWidth <= 0 || cfg.CodedHeight <= 0 || cfg.CodedWidth > math.MaxUint16 || cfg.CodedHeight > math.MaxUint16 {
		return fmt.Errorf("%w: geometry %dx%d", codec.ErrUnsupportedCodec, cfg.CodedWidth, cfg.CodedHeight)
	}
	if d.zr == nil {
		zr, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("create zstd decoder: %w", err)
		}
		d.zr = zr
	}
	d.width, d.height = cfg.CodedWidth, cfg.CodedHeight
	d.prev = nil
	return nil
}

func (d *decoder) Decode(chunk media.EncodedChunk, emit codec.FrameSink) error {
	h, payload, err := parseHeader(chunk.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}
	if h.width != d.width || h.height != d.height {
		return fmt.Errorf("%w: unit %dx%d in %dx%d stream", codec.ErrDecode, h.width, h.height, d.width, d.height)
	}

	size := d.width * d.height * 4
	pix, err := d.zr.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}
	if len(pix) != size {
		return fmt.Errorf("%w: unit holds %d bytes, want %d", codec.ErrDecode, len(pix), size)
	}
	if h.delta {
		if d.prev == nil {
			return fmt.Errorf("%w: %w", codec.ErrDecode, errNoReference)
		}
		xorInto(pix, pix, d.prev)
	}
	d.prev = pix

	frame := d.pool.NewFrame(d.width, d.height, chunk.Timestamp)
	copy(frame.Data(), pix)
	return emit(frame)
}

func (d *decoder) Flush(codec.FrameSink) error {
	return nil
}

func (d *decoder) Close() error {
	if d.zr != nil {
		d.zr.Close()
		d.zr = nil
	}
	d.prev = nil
	return nil
}

type encoder struct {
	zw       *zstd.Encoder
	cfg      codec.EncoderConfig
	duration int64
	prev     []byte
	scratch  []byte
}

func (e *encoder) Configure(cfg codec.EncoderConfig) (media.OutputMetadata, error) {
	if cfg.Codec != Codec {
		return media.OutputMetadata{}, fmt.Errorf("%w: %q", codec.ErrUnsupportedCodec, cfg.Codec)
	}
	if cfg.Width > math.MaxUint16 || cfg.Height > math.MaxUint16 {
		return media.OutputMetadata{}, fmt.Errorf("%w: geometry %dx%d", codec.ErrUnsupportedCodec, cfg.Width, cfg.Height)
	}
	if e.zw == nil {
		zw, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return media.OutputMetadata{}, fmt.Errorf("create zstd encoder: %w", err)
		}
		e.zw = zw
	}
	e.cfg = cfg
	e.prev = nil
	if cfg.FrameRate > 0 {
		e.duration = int64(math.Round(1e6 / cfg.FrameRate))
	}
	return media.OutputMetadata{Codec: Codec, Width: cfg.Width, Height: cfg.Height}, nil
}

func (e *encoder) Encode(frame *media.CompositeFrame, key bool, emit codec.ChunkSink) error {
	size := e.cfg.Width * e.cfg.Height * 4
	if len(frame.Pix) != size {
		return fmt.Errorf("%w: frame holds %d bytes, want %d", codec.ErrEncode, len(frame.Pix), size)
	}

	delta := !key && e.prev != nil
	src := frame.Pix
	if delta {
		if cap(e.scratch) < size {
			e.scratch = make([]byte, size)
		}
		e.scratch = e.scratch[:size]
		xorInto(e.scratch, frame.Pix, e.prev)
		src = e.scratch
	}

	out := header{delta: delta, width: e.cfg.Width, height: e.cfg.Height}.marshal(nil)
	out = e.zw.EncodeAll(src, out)

	if e.prev == nil {
		e.prev = make([]byte, size)
	}
	copy(e.prev, frame.Pix)

	return emit(media.EncodedOutputChunk{
		Key:       !delta,
		Timestamp: frame.Timestamp,
		Duration:  e.duration,
		Data:      out,
	})
}

func (e *encoder) Flush(codec.ChunkSink) error {
	return nil
}

func (e *encoder) Close() error {
	if e.zw == nil {
		return nil
	}
	err := e.zw.Close()
	e.zw = nil
	e.prev = nil
	return err
}
