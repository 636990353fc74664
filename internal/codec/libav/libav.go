//go:build libav

package libav

import (
	"errors"
	"fmt"
	"math"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/media"
)

const enabled = true

func register(r *codec.Registry) {
	r.Register(&backend{name: "libav-hw", hardware: true})
	r.Register(&backend{name: "libav", hardware: false})
}

var codecIDs = map[string]astiav.CodecID{
	"avc":  astiav.CodecIDH264,
	"hevc": astiav.CodecIDHevc,
	"vp8":  astiav.CodecIDVp8,
	"vp9":  astiav.CodecIDVp9,
	"av1":  astiav.CodecIDAv1,
}

// Encoder names by codec, in preference order.
var (
	hardwareEncoders = map[string][]string{
		"avc":  {"h264_nvenc", "h264_qsv", "h264_vaapi", "h264_v4l2m2m", "h264_rkmpp"},
		"hevc": {"hevc_nvenc", "hevc_qsv", "hevc_vaapi", "hevc_v4l2m2m", "hevc_rkmpp"},
	}
	softwareEncoders = map[string][]string{
		"avc":  {"libx264", "libopenh264"},
		"hevc": {"libx265"},
		"vp9":  {"libvpx-vp9"},
		"av1":  {"libsvtav1", "libaom-av1"},
	}
)

type backend struct {
	name     string
	hardware bool
}

func (b *backend) Name() string   { return b.name }
func (b *backend) Hardware() bool { return b.hardware }

func (b *backend) Available() bool {
	for c := range b.encoderNames() {
		if len(b.compiledEncoders(c)) > 0 {
			return true
		}
	}
	return !b.hardware
}

func (b *backend) Decodes(c string) bool {
	if b.hardware {
		return false
	}
	id, ok := codecIDs[c]
	return ok && astiav.FindDecoder(id) != nil
}

func (b *backend) Encodes(c string) bool {
	return len(b.compiledEncoders(c)) > 0
}

func (b *backend) encoderNames() map[string][]string {
	if b.hardware {
		return hardwareEncoders
	}
	return softwareEncoders
}

func (b *backend) compiledEncoders(c string) []*astiav.Codec {
	var out []*astiav.Codec
	for _, name := range b.encoderNames()[c] {
		if enc := astiav.FindEncoderByName(name); enc != nil {
			out = append(out, enc)
		}
	}
	return out
}

func (b *backend) NewDecoder(c string, pool *media.Pool) (codec.DecoderPrimitive, error) {
	if !b.Decodes(c) {
		return nil, fmt.Errorf("%w: %s cannot decode %q", codec.ErrUnsupportedCodec, b.name, c)
	}
	return &decoder{pool: pool}, nil
}

func (b *backend) NewEncoder(c string) (codec.EncoderPrimitive, error) {
	encs := b.compiledEncoders(c)
	if len(encs) == 0 {
		return nil, fmt.Errorf("%w: %s cannot encode %q", codec.ErrUnsupportedCodec, b.name, c)
	}
	return &encoder{candidates: encs}, nil
}

type decoder struct {
	pool   *media.Pool
	ctx    *astiav.CodecContext
	pkt    *astiav.Packet
	frame  *astiav.Frame
	scaler *rgbaScaler
}

func (d *decoder) Configure(cfg media.DecoderConfig) error {
	d.release()

	id, ok := codecIDs[cfg.Codec]
	if !ok {
		return fmt.Errorf("%w: %q", codec.ErrUnsupportedCodec, cfg.Codec)
	}
	dec := astiav.FindDecoder(id)
	if dec == nil {
		return fmt.Errorf("%w: no decoder for %q", codec.ErrUnsupportedCodec, cfg.Codec)
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return errors.New("AllocCodecContext returned nil")
	}
	ctx.SetWidth(cfg.CodedWidth)
	ctx.SetHeight(cfg.CodedHeight)
	ctx.SetTimeBase(astiav.NewRational(1, 1_000_000))
	ctx.SetPktTimebase(astiav.NewRational(1, 1_000_000))
	if len(cfg.ExtraData) > 0 {
		if err := ctx.SetExtraData(cfg.ExtraData); err != nil {
			ctx.Free()
			return fmt.Errorf("set extradata: %w", err)
		}
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("%w: open %s: %v", codec.ErrUnsupportedCodec, dec.Name(), err)
	}

	d.ctx = ctx
	d.pkt = astiav.AllocPacket()
	d.frame = astiav.AllocFrame()
	d.scaler = &rgbaScaler{}
	return nil
}

func (d *decoder) Decode(chunk media.EncodedChunk, emit codec.FrameSink) error {
	if err := d.pkt.FromData(chunk.Data); err != nil {
		return fmt.Errorf("packet from data: %w", err)
	}
	d.pkt.SetPts(chunk.Timestamp)
	d.pkt.SetDts(chunk.Timestamp)
	if chunk.IsKey() {
		d.pkt.SetFlags(d.pkt.Flags().Add(astiav.PacketFlagKey))
	}
	err := d.ctx.SendPacket(d.pkt)
	d.pkt.Unref()
	if err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("send packet: %w", err)
	}
	return d.receive(emit)
}

func (d *decoder) Flush(emit codec.FrameSink) error {
	if err := d.ctx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("send flush packet: %w", err)
	}
	if err := d.receive(emit); err != nil {
		return err
	}
	d.ctx.FlushBuffers()
	return nil
}

func (d *decoder) receive(emit codec.FrameSink) error {
	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}

		w, h := d.frame.Width(), d.frame.Height()
		out := d.pool.NewFrame(w, h, d.frame.Pts())
		err := d.scaler.toRGBA(d.frame, out.Data())
		d.frame.Unref()
		if err != nil {
			out.Release()
			return err
		}
		if err := emit(out); err != nil {
			return err
		}
	}
}

func (d *decoder) Close() error {
	d.release()
	return nil
}

func (d *decoder) release() {
	if d.scaler != nil {
		d.scaler.close()
		d.scaler = nil
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
}

type encoder struct {
	candidates []*astiav.Codec
	ctx        *astiav.CodecContext
	name       string
	src        *astiav.Frame
	dst        *astiav.Frame
	sws        *astiav.SoftwareScaleContext
	pkt        *astiav.Packet
	duration   int64
}

func (e *encoder) Configure(cfg codec.EncoderConfig) (media.OutputMetadata, error) {
	e.release()

	var errs []error
	for _, enc := range e.candidates {
		ctx, err := openEncoder(enc, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", enc.Name(), err))
			continue
		}
		e.ctx = ctx
		e.name = enc.Name()
		break
	}
	if e.ctx == nil {
		return media.OutputMetadata{}, fmt.Errorf("%w: %w", codec.ErrUnsupportedCodec, errors.Join(errs...))
	}

	pixFmt := e.ctx.PixelFormat()
	sws, err := astiav.CreateSoftwareScaleContext(
		cfg.Width, cfg.Height, astiav.PixelFormatRgba,
		cfg.Width, cfg.Height, pixFmt,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		e.release()
		return media.OutputMetadata{}, fmt.Errorf("create scaler: %w", err)
	}
	e.sws = sws

	e.src = astiav.AllocFrame()
	e.src.SetWidth(cfg.Width)
	e.src.SetHeight(cfg.Height)
	e.src.SetPixelFormat(astiav.PixelFormatRgba)
	if err := e.src.AllocBuffer(1); err != nil {
		e.release()
		return media.OutputMetadata{}, fmt.Errorf("alloc source frame: %w", err)
	}

	e.dst = astiav.AllocFrame()
	e.dst.SetWidth(cfg.Width)
	e.dst.SetHeight(cfg.Height)
	e.dst.SetPixelFormat(pixFmt)
	if err := e.dst.AllocBuffer(1); err != nil {
		e.release()
		return media.OutputMetadata{}, fmt.Errorf("alloc encode frame: %w", err)
	}

	e.pkt = astiav.AllocPacket()
	if cfg.FrameRate > 0 {
		e.duration = int64(math.Round(1e6 / cfg.FrameRate))
	}

	return media.OutputMetadata{
		Codec:     cfg.Codec,
		Width:     cfg.Width,
		Height:    cfg.Height,
		ExtraData: append([]byte(nil), e.ctx.ExtraData()...),
	}, nil
}

func openEncoder(enc *astiav.Codec, cfg codec.EncoderConfig) (*astiav.CodecContext, error) {
	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return nil, errors.New("AllocCodecContext returned nil")
	}

	pixFmt := astiav.PixelFormatYuv420P
	if formats := enc.PixelFormats(); len(formats) > 0 {
		pixFmt = formats[0]
		for _, f := range formats {
			if f == astiav.PixelFormatYuv420P || f == astiav.PixelFormatNv12 {
				pixFmt = f
				break
			}
		}
	}

	ctx.SetWidth(cfg.Width)
	ctx.SetHeight(cfg.Height)
	ctx.SetPixelFormat(pixFmt)
	ctx.SetTimeBase(astiav.NewRational(1, 1_000_000))
	if cfg.FrameRate > 0 {
		ctx.SetFramerate(astiav.NewRational(int(math.Round(cfg.FrameRate*1000)), 1000))
	}
	if cfg.BitrateBps > 0 {
		ctx.SetBitRate(int64(cfg.BitrateBps))
	}
	ctx.SetGopSize(cfg.KeyInterval)
	ctx.SetMaxBFrames(0)
	ctx.SetFlags(ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	if err := ctx.Open(enc, nil); err != nil {
		ctx.Free()
		return nil, err
	}
	return ctx, nil
}

func (e *encoder) Encode(frame *media.CompositeFrame, key bool, emit codec.ChunkSink) error {
	if err := e.src.MakeWritable(); err != nil {
		return fmt.Errorf("source frame writable: %w", err)
	}
	if err := e.src.Data().SetBytes(frame.Pix, 1); err != nil {
		return fmt.Errorf("fill source frame: %w", err)
	}
	if err := e.dst.MakeWritable(); err != nil {
		return fmt.Errorf("encode frame writable: %w", err)
	}
	if err := e.sws.ScaleFrame(e.src, e.dst); err != nil {
		return fmt.Errorf("convert to %s: %w", e.ctx.PixelFormat(), err)
	}

	e.dst.SetPts(frame.Timestamp)
	if key {
		e.dst.SetPictureType(astiav.PictureTypeI)
	} else {
		e.dst.SetPictureType(astiav.PictureTypeNone)
	}
	if err := e.ctx.SendFrame(e.dst); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("send frame: %w", err)
	}
	return e.receive(emit)
}

func (e *encoder) Flush(emit codec.ChunkSink) error {
	if err := e.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("send flush frame: %w", err)
	}
	return e.receive(emit)
}

func (e *encoder) receive(emit codec.ChunkSink) error {
	for {
		if err := e.ctx.ReceivePacket(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive packet: %w", err)
		}
		chunk := media.EncodedOutputChunk{
			Key:       e.pkt.Flags().Has(astiav.PacketFlagKey),
			Timestamp: e.pkt.Pts(),
			Duration:  e.duration,
			Data:      append([]byte(nil), e.pkt.Data()...),
		}
		e.pkt.Unref()
		if err := emit(chunk); err != nil {
			return err
		}
	}
}

func (e *encoder) Close() error {
	e.release()
	return nil
}

func (e *encoder) release() {
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
	if e.src != nil {
		e.src.Free()
		e.src = nil
	}
	if e.dst != nil {
		e.dst.Free()
		e.dst = nil
	}
	if e.sws != nil {
		e.sws.Free()
		e.sws = nil
	}
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
}

// rgbaScaler converts decoded frames of any pixel format to packed RGBA,
// recreating its context when the source geometry or format changes.
type rgbaScaler struct {
	sws  *astiav.SoftwareScaleContext
	dst  *astiav.Frame
	w, h int
	pix  astiav.PixelFormat
}

func (s *rgbaScaler) ensure(src *astiav.Frame) error {
	w, h, pix := src.Width(), src.Height(), src.PixelFormat()
	if s.sws != nil && w == s.w && h == s.h && pix == s.pix {
		return nil
	}
	s.close()

	sws, err := astiav.CreateSoftwareScaleContext(w, h, pix, w, h, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags())
	if err != nil {
		return fmt.Errorf("create scaler %dx%d %s -> rgba: %w", w, h, pix, err)
	}
	dst := astiav.AllocFrame()
	dst.SetWidth(w)
	dst.SetHeight(h)
	dst.SetPixelFormat(astiav.PixelFormatRgba)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		sws.Free()
		return fmt.Errorf("alloc rgba frame: %w", err)
	}
	s.sws, s.dst = sws, dst
	s.w, s.h, s.pix = w, h, pix
	return nil
}

func (s *rgbaScaler) toRGBA(src *astiav.Frame, out []byte) error {
	if err := s.ensure(src); err != nil {
		return err
	}
	if err := s.sws.ScaleFrame(src, s.dst); err != nil {
		return fmt.Errorf("scale frame: %w", err)
	}
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return fmt.Errorf("copy rgba: %w", err)
	}
	return nil
}

func (s *rgbaScaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.sws != nil {
		s.sws.Free()
		s.sws = nil
	}
}
