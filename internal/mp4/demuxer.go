package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gomp4 "github.com/abema/go-mp4"

	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/media"
)

// Handlers receive demuxer output. OnConfig is called exactly once before the
// first OnChunk. An error returned from a handler aborts demuxing and is
// returned from Write or Close.
type Handlers struct {
	OnConfig   func(media.DecoderConfig) error
	OnChunk    func(media.EncodedChunk) error
	OnComplete func() error
}

// Demuxer extracts the first video track of an MP4 file. Bytes may be fed in
// any number of Write calls; samples are emitted in decode order as soon as
// both the moov box and the sample's bytes have arrived.
type Demuxer struct {
	handlers Handlers
	logger   *slog.Logger

	buf  []byte // buffered input, buf[0] is at file offset base
	base int64
	end  int64 // file offset one past the last byte received

	next      int64 // file offset of the next top-level box header
	scanDone  bool  // a box extends to EOF; no more top-level headers
	track     *videoTrack
	emitted   int
	completed bool
	err       error
}

// NewDemuxer creates a demuxer that reports through h.
func NewDemuxer(h Handlers) *Demuxer {
	return &Demuxer{
		handlers: h,
		logger:   logging.GetLogger("mp4"),
	}
}

// Write feeds the next bytes of the file.
func (d *Demuxer) Write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.completed {
		return len(p), nil
	}
	d.buf = append(d.buf, p...)
	d.end += int64(len(p))

	if err := d.process(); err != nil {
		d.err = err
		return 0, err
	}
	return len(p), nil
}

// Close signals end of input. It returns ErrContainer if no moov box was
// seen and ErrCorruptData if sample data is missing.
func (d *Demuxer) Close() error {
	if d.err != nil {
		return d.err
	}
	if d.completed {
		return nil
	}
	if err := d.process(); err != nil {
		d.err = err
		return err
	}
	if d.track == nil {
		d.err = fmt.Errorf("%w: no moov box in %d bytes", ErrContainer, d.end)
		return d.err
	}
	if d.emitted < len(d.track.samples) {
		s := d.track.samples[d.emitted]
		d.err = fmt.Errorf("%w: sample %d at offset %d truncated (input ends at %d)",
			ErrCorruptData, d.emitted, s.offset, d.end)
		return d.err
	}
	return d.finish()
}

// Config returns the decoder configuration once moov has been parsed.
func (d *Demuxer) Config() (media.DecoderConfig, bool) {
	if d.track == nil {
		return media.DecoderConfig{}, false
	}
	return d.track.config, true
}

// SampleCount returns the number of samples in the video track, or -1 before
// moov has been parsed.
func (d *Demuxer) SampleCount() int {
	if d.track == nil {
		return -1
	}
	return len(d.track.samples)
}

func (d *Demuxer) process() error {
	if d.track == nil {
		if err := d.scanForMoov(); err != nil {
			return err
		}
		if d.track == nil {
			return nil
		}
	}
	return d.emitAvailable()
}

// scanForMoov walks top-level box headers until moov is fully buffered.
func (d *Demuxer) scanForMoov() error {
	for !d.scanDone {
		rel := d.next - d.base
		if d.end-d.next < 8 {
			return nil
		}

		bi, err := gomp4.ReadBoxInfo(bytes.NewReader(d.buf[rel:]))
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("%w: box header at %d: %v", ErrCorruptData, d.next, err)
		}
		if bi.ExtendToEOF {
			if bi.Type == gomp4.BoxTypeMoov() {
				return fmt.Errorf("%w: moov without explicit size", ErrContainer)
			}
			d.scanDone = true
			return nil
		}
		if bi.Size < bi.HeaderSize {
			return fmt.Errorf("%w: box %s at %d has size %d", ErrCorruptData, bi.Type.String(), d.next, bi.Size)
		}

		if bi.Type == gomp4.BoxTypeMoov() {
			if d.end-d.next < int64(bi.Size) {
				return nil
			}
			moov := d.buf[rel : rel+int64(bi.Size)]
			track, err := parseMovie(moov)
			if err != nil {
				return err
			}
			d.track = track
			d.logger.Debug("Parsed movie header",
				"codec", track.config.Codec,
				"width", track.config.CodedWidth,
				"height", track.config.CodedHeight,
				"timescale", track.timescale,
				"samples", len(track.samples))
			if d.handlers.OnConfig != nil {
				if err := d.handlers.OnConfig(track.config); err != nil {
					return err
				}
			}
			d.next += int64(bi.Size)
			return nil
		}

		d.next += int64(bi.Size)
	}
	return nil
}

// emitAvailable emits every pending sample whose bytes are buffered, in
// decode order, then drops buffered bytes no remaining sample needs.
func (d *Demuxer) emitAvailable() error {
	samples := d.track.samples
	for d.emitted < len(samples) {
		s := samples[d.emitted]
		if s.offset < d.base {
			return fmt.Errorf("%w: sample %d at offset %d precedes retained data", ErrCorruptData, d.emitted, s.offset)
		}
		if s.offset+s.size > d.end {
			break
		}
		rel := s.offset - d.base
		data := make([]byte, s.size)
		copy(data, d.buf[rel:rel+s.size])

		if d.handlers.OnChunk != nil {
			if err := d.handlers.OnChunk(d.track.chunk(s, data)); err != nil {
				return err
			}
		}
		d.emitted++
	}

	if d.emitted == len(samples) {
		d.buf = nil
		d.base = d.end
		return d.finish()
	}
	d.trim()
	return nil
}

// trim discards buffered bytes that no pending sample refers to.
func (d *Demuxer) trim() {
	offset := d.track.minOffset[d.emitted]
	if offset > d.end {
		offset = d.end
	}
	drop := offset - d.base
	if drop <= 0 {
		return
	}
	d.buf = append(d.buf[:0:0], d.buf[drop:]...)
	d.base = offset
}

func (d *Demuxer) finish() error {
	if d.completed {
		return nil
	}
	d.completed = true
	d.logger.Debug("Demux complete", "samples", d.emitted)
	if d.handlers.OnComplete != nil {
		return d.handlers.OnComplete()
	}
	return nil
}

// Demux reads r to the end, feeding a demuxer in blocks of blockSize bytes
// (0 means 64 KiB), and closes it.
func Demux(r io.Reader, h Handlers, blockSize int) error {
	if blockSize <= 0 {
		blockSize = 64 << 10
	}
	d := NewDemuxer(h)
	buf := make([]byte, blockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := d.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if d.completed {
			break
		}
	}
	return d.Close()
}
