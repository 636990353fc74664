package mp4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	gomp4 "github.com/abema/go-mp4"

	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/media"
)

// MediaTimescale is the timescale of written tracks: one tick per microsecond.
const MediaTimescale = 1_000_000

const movieTimescale = 1000

// MuxerOptions tunes the muxer.
type MuxerOptions struct {
	// TempDir holds the sample spool. Empty means the output's directory.
	TempDir string
}

type outSample struct {
	size int64
	ts   int64
	dur  int64
	key  bool
}

// Muxer writes a single-track, fast-start MP4. Samples are spooled to a temp
// file as they arrive; Finalize writes ftyp and moov ahead of mdat into a
// second temp file and renames it over the destination.
type Muxer struct {
	path   string
	dir    string
	logger *slog.Logger

	spool    *os.File
	meta     *media.OutputMetadata
	samples  []outSample
	firstTS  int64
	lastTS   int64
	dataSize int64
	done     bool
}

// NewMuxer prepares a muxer writing to path. Nothing appears at path until
// Finalize succeeds.
func NewMuxer(path string, opts MuxerOptions) (*Muxer, error) {
	dir := opts.TempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	spool, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.mdat")
	if err != nil {
		return nil, fmt.Errorf("create sample spool: %w", err)
	}
	return &Muxer{
		path:   path,
		dir:    filepath.Dir(path),
		logger: logging.GetLogger("mp4"),
		spool:  spool,
	}, nil
}

// SetMetadata records the track description. Later calls are ignored.
func (m *Muxer) SetMetadata(meta media.OutputMetadata) error {
	if m.done {
		return ErrFinalized
	}
	if m.meta != nil {
		return nil
	}
	if _, _, ok := entryForCodec(meta.Codec); !ok {
		return fmt.Errorf("%w: cannot mux codec %q", ErrContainer, meta.Codec)
	}
	m.meta = &meta
	return nil
}

// AddChunk appends one encoded sample. Timestamps must strictly increase.
func (m *Muxer) AddChunk(c media.EncodedOutputChunk) error {
	if m.done {
		return ErrFinalized
	}
	if len(m.samples) == 0 {
		m.firstTS = c.Timestamp
	} else if c.Timestamp <= m.lastTS {
		return fmt.Errorf("%w: %d after %d", ErrTimestampOrder, c.Timestamp, m.lastTS)
	}
	if _, err := m.spool.Write(c.Data); err != nil {
		return fmt.Errorf("spool sample: %w", err)
	}
	m.lastTS = c.Timestamp
	m.dataSize += int64(len(c.Data))
	m.samples = append(m.samples, outSample{
		size: int64(len(c.Data)),
		ts:   c.Timestamp - m.firstTS,
		dur:  c.Duration,
		key:  c.Key,
	})
	return nil
}

// Samples returns the number of samples added so far.
func (m *Muxer) Samples() int {
	return len(m.samples)
}

// Finalize writes the output file. It may be called once.
func (m *Muxer) Finalize() error {
	if m.done {
		return ErrFinalized
	}
	m.done = true
	defer m.removeSpool()

	if m.meta == nil {
		return fmt.Errorf("%w: no track metadata", ErrContainer)
	}
	if len(m.samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrContainer)
	}

	ftyp, err := buildFtyp()
	if err != nil {
		return err
	}
	mdatHeader := mdatHeaderSize(m.dataSize)

	// co64 has a fixed size, so a first pass sizes moov for the real offset.
	probe, err := m.buildMoov(0)
	if err != nil {
		return err
	}
	dataOffset := uint64(len(ftyp) + len(probe) + mdatHeader)
	moov, err := m.buildMoov(dataOffset)
	if err != nil {
		return err
	}

	out, err := os.CreateTemp(m.dir, "."+filepath.Base(m.path)+".*.part")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmp := out.Name()
	fail := func(err error) error {
		out.Close()
		os.Remove(tmp)
		return err
	}

	if _, err := out.Write(ftyp); err != nil {
		return fail(fmt.Errorf("write ftyp: %w", err))
	}
	if _, err := out.Write(moov); err != nil {
		return fail(fmt.Errorf("write moov: %w", err))
	}
	if _, err := out.Write(writeMdatHeader(m.dataSize)); err != nil {
		return fail(fmt.Errorf("write mdat header: %w", err))
	}
	if _, err := m.spool.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind spool: %w", err))
	}
	if _, err := io.Copy(out, m.spool); err != nil {
		return fail(fmt.Errorf("copy samples: %w", err))
	}
	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("sync output: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename output: %w", err)
	}

	m.logger.Debug("Wrote MP4",
		"path", m.path,
		"samples", len(m.samples),
		"bytes", int(dataOffset)+int(m.dataSize))
	return nil
}

// Discard abandons the output. Nothing is left at the destination path.
func (m *Muxer) Discard() error {
	if m.done {
		return nil
	}
	m.done = true
	m.removeSpool()
	return nil
}

func (m *Muxer) removeSpool() {
	if m.spool == nil {
		return
	}
	name := m.spool.Name()
	m.spool.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("Failed to remove sample spool", "path", name, "error", err)
	}
	m.spool = nil
}

func (m *Muxer) duration() int64 {
	last := m.samples[len(m.samples)-1]
	return last.ts + m.lastDuration()
}

// lastDuration is the final sample's duration: its own if set, else the
// previous delta.
func (m *Muxer) lastDuration() int64 {
	n := len(m.samples)
	if d := m.samples[n-1].dur; d > 0 {
		return d
	}
	if n > 1 {
		return m.samples[n-1].ts - m.samples[n-2].ts
	}
	return 0
}

func buildFtyp() ([]byte, error) {
	var ws seekBuffer
	w := gomp4.NewWriter(&ws)
	ftyp := &gomp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 0x200,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}
	if err := writeLeaf(w, gomp4.BoxTypeFtyp(), ftyp); err != nil {
		return nil, err
	}
	return ws.Bytes(), nil
}

// buildMoov serializes the movie header for a single chunk at dataOffset.
func (m *Muxer) buildMoov(dataOffset uint64) ([]byte, error) {
	var ws seekBuffer
	w := gomp4.NewWriter(&ws)

	mediaDur := uint64(m.duration())
	movieDur := mediaDur * movieTimescale / MediaTimescale
	width, height := uint32(m.meta.Width), uint32(m.meta.Height)

	steps := []func() error{
		func() error { return start(w, gomp4.BoxTypeMoov()) },
		func() error {
			mvhd := &gomp4.Mvhd{
				Timescale:   movieTimescale,
				Rate:        0x00010000,
				Volume:      0x0100,
				Matrix:      identityMatrix(),
				NextTrackID: 2,
			}
			if movieDur > math.MaxUint32 {
				mvhd.SetVersion(1)
				mvhd.DurationV1 = movieDur
			} else {
				mvhd.DurationV0 = uint32(movieDur)
			}
			return writeLeaf(w, gomp4.BoxTypeMvhd(), mvhd)
		},
		func() error { return start(w, gomp4.BoxTypeTrak()) },
		func() error {
			tkhd := &gomp4.Tkhd{
				TrackID: 1,
				Matrix:  identityMatrix(),
				Width:   width << 16,
				Height:  height << 16,
			}
			tkhd.SetFlags(0x000003)
			if movieDur > math.MaxUint32 {
				tkhd.SetVersion(1)
				tkhd.DurationV1 = movieDur
			} else {
				tkhd.DurationV0 = uint32(movieDur)
			}
			return writeLeaf(w, gomp4.BoxTypeTkhd(), tkhd)
		},
		func() error { return start(w, gomp4.BoxTypeMdia()) },
		func() error {
			mdhd := &gomp4.Mdhd{
				Timescale: MediaTimescale,
				Language:  [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
			}
			if mediaDur > math.MaxUint32 {
				mdhd.SetVersion(1)
				mdhd.DurationV1 = mediaDur
			} else {
				mdhd.DurationV0 = uint32(mediaDur)
			}
			return writeLeaf(w, gomp4.BoxTypeMdhd(), mdhd)
		},
		func() error {
			return writeLeaf(w, gomp4.BoxTypeHdlr(), &gomp4.Hdlr{
				HandlerType: handlerVideo,
				Name:        "VideoHandler",
			})
		},
		func() error { return start(w, gomp4.BoxTypeMinf()) },
		func() error {
			vmhd := &gomp4.Vmhd{}
			vmhd.SetFlags(0x000001)
			return writeLeaf(w, gomp4.BoxTypeVmhd(), vmhd)
		},
		func() error { return start(w, gomp4.BoxTypeDinf()) },
		func() error { return writeNode(w, gomp4.BoxTypeDref(), &gomp4.Dref{EntryCount: 1}) },
		func() error {
			url := &gomp4.Url{}
			url.SetFlags(0x000001)
			return writeLeaf(w, gomp4.BoxTypeUrl(), url)
		},
		func() error { return end(w) }, // dref
		func() error { return end(w) }, // dinf
		func() error { return start(w, gomp4.BoxTypeStbl()) },
		func() error { return m.writeStsd(w) },
		func() error { return writeLeaf(w, gomp4.BoxTypeStts(), m.stts()) },
		func() error { return writeLeaf(w, gomp4.BoxTypeStss(), m.stss()) },
		func() error {
			return writeLeaf(w, gomp4.BoxTypeStsc(), &gomp4.Stsc{
				EntryCount: 1,
				Entries: []gomp4.StscEntry{
					{FirstChunk: 1, SamplesPerChunk: uint32(len(m.samples)), SampleDescriptionIndex: 1},
				},
			})
		},
		func() error { return writeLeaf(w, gomp4.BoxTypeStsz(), m.stsz()) },
		func() error {
			return writeLeaf(w, gomp4.BoxTypeCo64(), &gomp4.Co64{
				EntryCount:  1,
				ChunkOffset: []uint64{dataOffset},
			})
		},
		func() error { return end(w) }, // stbl
		func() error { return end(w) }, // minf
		func() error { return end(w) }, // mdia
		func() error { return end(w) }, // trak
		func() error { return end(w) }, // moov
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("build moov: %w", err)
		}
	}
	return ws.Bytes(), nil
}

// writeStsd writes the sample description. Visual sample entries are laid out
// by hand so the configuration box payload passes through untouched.
func (m *Muxer) writeStsd(w *gomp4.Writer) error {
	entryType, configType, _ := entryForCodec(m.meta.Codec)

	if err := writeNode(w, gomp4.BoxTypeStsd(), &gomp4.Stsd{EntryCount: 1}); err != nil {
		return err
	}
	if err := start(w, entryType); err != nil {
		return err
	}
	if _, err := w.Write(visualSampleEntry(m.meta.Width, m.meta.Height)); err != nil {
		return err
	}
	if configType != noConfig && len(m.meta.ExtraData) > 0 {
		if err := start(w, configType); err != nil {
			return err
		}
		if _, err := w.Write(m.meta.ExtraData); err != nil {
			return err
		}
		if err := end(w); err != nil {
			return err
		}
	}
	if err := end(w); err != nil { // sample entry
		return err
	}
	return end(w) // stsd
}

func (m *Muxer) stts() *gomp4.Stts {
	stts := &gomp4.Stts{}
	for i := range m.samples {
		var delta int64
		if i+1 < len(m.samples) {
			delta = m.samples[i+1].ts - m.samples[i].ts
		} else {
			delta = m.lastDuration()
		}
		n := len(stts.Entries)
		if n > 0 && int64(stts.Entries[n-1].SampleDelta) == delta {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(delta)})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	return stts
}

func (m *Muxer) stss() *gomp4.Stss {
	stss := &gomp4.Stss{}
	for i, s := range m.samples {
		if s.key {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}
	}
	stss.EntryCount = uint32(len(stss.SampleNumber))
	return stss
}

func (m *Muxer) stsz() *gomp4.Stsz {
	stsz := &gomp4.Stsz{
		SampleCount: uint32(len(m.samples)),
		EntrySize:   make([]uint32, len(m.samples)),
	}
	for i, s := range m.samples {
		stsz.EntrySize[i] = uint32(s.size)
	}
	return stsz
}

func visualSampleEntry(width, height int) []byte {
	b := make([]byte, visualSampleEntrySize)
	binary.BigEndian.PutUint16(b[6:8], 1) // data reference index
	binary.BigEndian.PutUint16(b[24:26], uint16(width))
	binary.BigEndian.PutUint16(b[26:28], uint16(height))
	binary.BigEndian.PutUint32(b[28:32], 0x00480000) // 72 dpi
	binary.BigEndian.PutUint32(b[32:36], 0x00480000)
	binary.BigEndian.PutUint16(b[40:42], 1) // frame count
	name := "hudrender"
	b[42] = byte(len(name))
	copy(b[43:], name)
	binary.BigEndian.PutUint16(b[74:76], 0x0018) // depth
	binary.BigEndian.PutUint16(b[76:78], 0xffff) // pre_defined = -1
	return b
}

func mdatHeaderSize(payload int64) int {
	if payload+8 > math.MaxUint32 {
		return 16
	}
	return 8
}

func writeMdatHeader(payload int64) []byte {
	if mdatHeaderSize(payload) == 16 {
		b := make([]byte, 16)
		binary.BigEndian.PutUint32(b[0:4], 1)
		copy(b[4:8], "mdat")
		binary.BigEndian.PutUint64(b[8:16], uint64(payload+16))
		return b
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], uint32(payload+8))
	copy(b[4:8], "mdat")
	return b
}

func identityMatrix() [9]int32 {
	return [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
}

func start(w *gomp4.Writer, typ gomp4.BoxType) error {
	_, err := w.StartBox(&gomp4.BoxInfo{Type: typ})
	return err
}

func end(w *gomp4.Writer) error {
	_, err := w.EndBox()
	return err
}

// writeNode opens a box and marshals its payload, leaving it open for children.
func writeNode(w *gomp4.Writer, typ gomp4.BoxType, box gomp4.IImmutableBox) error {
	bi, err := w.StartBox(&gomp4.BoxInfo{Type: typ})
	if err != nil {
		return err
	}
	_, err = gomp4.Marshal(w, box, bi.Context)
	return err
}

func writeLeaf(w *gomp4.Writer, typ gomp4.BoxType, box gomp4.IImmutableBox) error {
	if err := writeNode(w, typ, box); err != nil {
		return err
	}
	return end(w)
}

// seekBuffer is an in-memory io.WriteSeeker for building boxes whose sizes
// are patched after their children are written.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	endPos := s.pos + int64(len(p))
	if endPos > int64(len(s.buf)) {
		s.buf = append(s.buf, make([]byte, endPos-int64(len(s.buf)))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = endPos
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = abs
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte {
	return bytes.Clone(s.buf)
}
