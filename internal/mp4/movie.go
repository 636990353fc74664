package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"

	"github.com/smazurov/hudrender/internal/media"
)

// visualSampleEntrySize is the fixed part of a VisualSampleEntry payload
// before its child boxes.
const visualSampleEntrySize = 78

var handlerVideo = [4]byte{'v', 'i', 'd', 'e'}

// sample is one entry of a resolved sample table, in decode order.
type sample struct {
	offset   int64
	size     int64
	dts      int64
	ctsDelta int64
	duration int64
	key      bool
}

// videoTrack is the first video track of a movie with its samples resolved
// to absolute file offsets.
type videoTrack struct {
	id        uint32
	timescale uint32
	config    media.DecoderConfig
	entryType gomp4.BoxType
	samples   []sample
	minOffset []int64 // minOffset[i] is the lowest offset among samples[i:]
}

// trackBoxes collects the boxes of one trak while walking moov.
type trackBoxes struct {
	id        uint32
	handler   [4]byte
	hasHdlr   bool
	timescale uint32
	entryType gomp4.BoxType
	entry     []byte
	hasEntry  bool
	stsz      *gomp4.Stsz
	stco      []uint64
	stsc      *gomp4.Stsc
	stts      *gomp4.Stts
	ctts      *gomp4.Ctts
	stss      *gomp4.Stss
}

// parseMovie walks a complete moov box and resolves the first video track.
func parseMovie(moov []byte) (*videoTrack, error) {
	var (
		tracks []*trackBoxes
		cur    *trackBoxes
		inStsd bool
	)

	_, err := gomp4.ReadBoxStructure(bytes.NewReader(moov), func(h *gomp4.ReadHandle) (interface{}, error) {
		typ := h.BoxInfo.Type

		if inStsd {
			if cur != nil && !cur.hasEntry {
				var buf bytes.Buffer
				if _, err := h.ReadData(&buf); err != nil {
					return nil, err
				}
				cur.entryType = typ
				cur.entry = buf.Bytes()
				cur.hasEntry = true
			}
			return nil, nil
		}

		switch typ {
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl():
			return h.Expand()
		case gomp4.BoxTypeTrak():
			cur = &trackBoxes{}
			tracks = append(tracks, cur)
			return h.Expand()
		case gomp4.BoxTypeStsd():
			inStsd = true
			defer func() { inStsd = false }()
			return h.Expand()
		}

		if cur == nil {
			return nil, nil
		}

		switch typ {
		case gomp4.BoxTypeTkhd(), gomp4.BoxTypeHdlr(), gomp4.BoxTypeMdhd(),
			gomp4.BoxTypeStsz(), gomp4.BoxTypeStco(), gomp4.BoxTypeCo64(),
			gomp4.BoxTypeStsc(), gomp4.BoxTypeStts(), gomp4.BoxTypeCtts(), gomp4.BoxTypeStss():
		default:
			return nil, nil
		}

		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		switch b := box.(type) {
		case *gomp4.Tkhd:
			cur.id = b.TrackID
		case *gomp4.Hdlr:
			// minf may carry a data handler; the media handler comes first.
			if !cur.hasHdlr {
				cur.handler = b.HandlerType
				cur.hasHdlr = true
			}
		case *gomp4.Mdhd:
			cur.timescale = b.Timescale
		case *gomp4.Stsz:
			cur.stsz = b
		case *gomp4.Stco:
			cur.stco = make([]uint64, len(b.ChunkOffset))
			for i, off := range b.ChunkOffset {
				cur.stco[i] = uint64(off)
			}
		case *gomp4.Co64:
			cur.stco = b.ChunkOffset
		case *gomp4.Stsc:
			cur.stsc = b
		case *gomp4.Stts:
			cur.stts = b
		case *gomp4.Ctts:
			cur.ctts = b
		case *gomp4.Stss:
			cur.stss = b
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: parse moov: %v", ErrCorruptData, err)
	}

	for _, tb := range tracks {
		if tb.hasHdlr && tb.handler == handlerVideo {
			return resolveTrack(tb)
		}
	}
	return nil, fmt.Errorf("%w: no video track", ErrContainer)
}

func resolveTrack(tb *trackBoxes) (*videoTrack, error) {
	if !tb.hasEntry {
		return nil, fmt.Errorf("%w: video track has no sample description", ErrContainer)
	}
	kind, ok := sampleEntries[tb.entryType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sample entry %q", ErrContainer, tb.entryType.String())
	}
	if tb.timescale == 0 {
		return nil, fmt.Errorf("%w: zero media timescale", ErrCorruptData)
	}

	width, height, extra, err := parseVisualEntry(tb.entry, kind.config)
	if err != nil {
		return nil, err
	}

	samples, err := buildSamples(tb)
	if err != nil {
		return nil, err
	}

	return &videoTrack{
		id:        tb.id,
		timescale: tb.timescale,
		entryType: tb.entryType,
		config: media.DecoderConfig{
			Codec:       kind.codec,
			CodedWidth:  width,
			CodedHeight: height,
			ExtraData:   extra,
		},
		samples:   samples,
		minOffset: suffixMinOffsets(samples),
	}, nil
}

func suffixMinOffsets(samples []sample) []int64 {
	out := make([]int64, len(samples))
	for i := len(samples) - 1; i >= 0; i-- {
		out[i] = samples[i].offset
		if i+1 < len(samples) && out[i+1] < out[i] {
			out[i] = out[i+1]
		}
	}
	return out
}

// parseVisualEntry reads geometry from a VisualSampleEntry payload and returns
// the payload of its decoder configuration child, untouched.
func parseVisualEntry(entry []byte, configType gomp4.BoxType) (width, height int, extra []byte, err error) {
	if len(entry) < visualSampleEntrySize {
		return 0, 0, nil, fmt.Errorf("%w: short visual sample entry (%d bytes)", ErrCorruptData, len(entry))
	}
	width = int(binary.BigEndian.Uint16(entry[24:26]))
	height = int(binary.BigEndian.Uint16(entry[26:28]))

	if configType == noConfig {
		return width, height, nil, nil
	}

	children := bytes.NewReader(entry[visualSampleEntrySize:])
	for children.Len() > 0 {
		bi, err := gomp4.ReadBoxInfo(children)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("%w: sample entry child: %v", ErrCorruptData, err)
		}
		payload := int64(bi.Size - bi.HeaderSize)
		if bi.Type != configType {
			if _, err := children.Seek(payload, io.SeekCurrent); err != nil {
				return 0, 0, nil, fmt.Errorf("%w: sample entry child: %v", ErrCorruptData, err)
			}
			continue
		}
		extra = make([]byte, payload)
		if _, err := io.ReadFull(children, extra); err != nil {
			return 0, 0, nil, fmt.Errorf("%w: truncated %s: %v", ErrCorruptData, configType.String(), err)
		}
		return width, height, extra, nil
	}
	return width, height, nil, nil
}

// buildSamples expands the sample tables into per-sample offsets and times.
func buildSamples(tb *trackBoxes) ([]sample, error) {
	if tb.stsz == nil || tb.stsc == nil || tb.stts == nil || tb.stco == nil {
		return nil, fmt.Errorf("%w: incomplete sample table", ErrCorruptData)
	}

	count := int(tb.stsz.SampleCount)
	if tb.stsz.SampleSize == 0 && len(tb.stsz.EntrySize) < count {
		return nil, fmt.Errorf("%w: stsz has %d sizes for %d samples", ErrCorruptData, len(tb.stsz.EntrySize), count)
	}
	samples := make([]sample, count)
	for i := range samples {
		if tb.stsz.SampleSize != 0 {
			samples[i].size = int64(tb.stsz.SampleSize)
		} else {
			samples[i].size = int64(tb.stsz.EntrySize[i])
		}
	}

	// Offsets from stsc runs over stco chunks.
	entries := tb.stsc.Entries
	idx := 0
	for e, entry := range entries {
		if entry.FirstChunk == 0 {
			return nil, fmt.Errorf("%w: stsc first chunk is zero", ErrCorruptData)
		}
		last := uint32(len(tb.stco))
		if e+1 < len(entries) {
			last = entries[e+1].FirstChunk - 1
		}
		for chunk := entry.FirstChunk; chunk <= last && idx < count; chunk++ {
			if int(chunk) > len(tb.stco) {
				return nil, fmt.Errorf("%w: stsc references chunk %d of %d", ErrCorruptData, chunk, len(tb.stco))
			}
			offset := int64(tb.stco[chunk-1])
			for s := uint32(0); s < entry.SamplesPerChunk && idx < count; s++ {
				samples[idx].offset = offset
				offset += samples[idx].size
				idx++
			}
		}
	}
	if idx != count {
		return nil, fmt.Errorf("%w: chunk table covers %d of %d samples", ErrCorruptData, idx, count)
	}

	// Decode times from stts.
	idx = 0
	var dts int64
	for _, entry := range tb.stts.Entries {
		for n := uint32(0); n < entry.SampleCount && idx < count; n++ {
			samples[idx].dts = dts
			samples[idx].duration = int64(entry.SampleDelta)
			dts += int64(entry.SampleDelta)
			idx++
		}
	}
	if idx != count {
		return nil, fmt.Errorf("%w: stts covers %d of %d samples", ErrCorruptData, idx, count)
	}

	if tb.ctts != nil {
		idx = 0
		for _, entry := range tb.ctts.Entries {
			offset := int64(entry.SampleOffsetV0)
			if tb.ctts.GetVersion() == 1 {
				offset = int64(entry.SampleOffsetV1)
			}
			for n := uint32(0); n < entry.SampleCount && idx < count; n++ {
				samples[idx].ctsDelta = offset
				idx++
			}
		}
	}

	if tb.stss == nil {
		for i := range samples {
			samples[i].key = true
		}
	} else {
		for _, num := range tb.stss.SampleNumber {
			if num == 0 || int(num) > count {
				return nil, fmt.Errorf("%w: stss references sample %d of %d", ErrCorruptData, num, count)
			}
			samples[num-1].key = true
		}
	}

	return samples, nil
}

// toMicros converts a media-timescale value to microseconds.
func toMicros(v int64, timescale uint32) int64 {
	return v * 1_000_000 / int64(timescale)
}

// chunk converts a resolved sample and its bytes into an EncodedChunk.
func (t *videoTrack) chunk(s sample, data []byte) media.EncodedChunk {
	kind := media.DeltaChunk
	if s.key {
		kind = media.KeyChunk
	}
	return media.EncodedChunk{
		Kind:      kind,
		Timestamp: toMicros(s.dts+s.ctsDelta, t.timescale),
		Duration:  toMicros(s.duration, t.timescale),
		Data:      data,
	}
}
