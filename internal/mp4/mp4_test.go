package mp4

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/hudrender/internal/media"
)

type collected struct {
	configs  []media.DecoderConfig
	chunks   []media.EncodedChunk
	complete int
}

func (c *collected) handlers() Handlers {
	return Handlers{
		OnConfig: func(cfg media.DecoderConfig) error {
			c.configs = append(c.configs, cfg)
			return nil
		},
		OnChunk: func(ch media.EncodedChunk) error {
			if len(c.configs) == 0 {
				return errors.New("chunk before config")
			}
			c.chunks = append(c.chunks, ch)
			return nil
		},
		OnComplete: func() error {
			c.complete++
			return nil
		},
	}
}

var testExtra = []byte{0x01, 0x42, 0xc0, 0x1f, 0xff, 0xe1, 0x00, 0x04, 0x67, 0x42, 0xc0, 0x1f, 0x01, 0x00, 0x02, 0x68, 0xce}

func testChunks() []media.EncodedOutputChunk {
	return []media.EncodedOutputChunk{
		{Key: true, Timestamp: 5000, Duration: 33333, Data: []byte("frame-zero")},
		{Timestamp: 38333, Duration: 33333, Data: []byte("frame-one!!")},
		{Timestamp: 71667, Duration: 33333, Data: []byte("f2")},
		{Key: true, Timestamp: 105000, Duration: 33333, Data: []byte("frame-three-key")},
	}
}

func writeTestFile(t *testing.T, codec string, extra []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := NewMuxer(path, MuxerOptions{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}
	if err := m.SetMetadata(media.OutputMetadata{Codec: codec, Width: 320, Height: 240, ExtraData: extra}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	for _, c := range testChunks() {
		if err := m.AddChunk(c); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return path
}

func checkRoundTrip(t *testing.T, c *collected, extra []byte) {
	t.Helper()
	if len(c.configs) != 1 {
		t.Fatalf("OnConfig called %d times, want 1", len(c.configs))
	}
	cfg := c.configs[0]
	if cfg.CodedWidth != 320 || cfg.CodedHeight != 240 {
		t.Errorf("geometry = %dx%d, want 320x240", cfg.CodedWidth, cfg.CodedHeight)
	}
	if !bytes.Equal(cfg.ExtraData, extra) {
		t.Errorf("extradata = %x, want %x", cfg.ExtraData, extra)
	}
	if c.complete != 1 {
		t.Errorf("OnComplete called %d times, want 1", c.complete)
	}

	want := testChunks()
	if len(c.chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(c.chunks), len(want))
	}
	for i, got := range c.chunks {
		wantTS := want[i].Timestamp - want[0].Timestamp
		if got.Timestamp != wantTS {
			t.Errorf("chunk %d timestamp = %d, want %d", i, got.Timestamp, wantTS)
		}
		if got.IsKey() != want[i].Key {
			t.Errorf("chunk %d key = %v, want %v", i, got.IsKey(), want[i].Key)
		}
		if !bytes.Equal(got.Data, want[i].Data) {
			t.Errorf("chunk %d data = %q, want %q", i, got.Data, want[i].Data)
		}
	}
	if c.chunks[0].Timestamp != 0 {
		t.Errorf("first timestamp = %d, want 0", c.chunks[0].Timestamp)
	}
}

func TestMuxDemuxRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		codec string
		extra []byte
	}{
		{"avc with avcC", CodecAVC, testExtra},
		{"raw without config", CodecRaw, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := os.ReadFile(writeTestFile(t, tt.codec, tt.extra))
			if err != nil {
				t.Fatal(err)
			}

			var c collected
			d := NewDemuxer(c.handlers())
			if _, err := d.Write(data); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := d.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if c.configs[0].Codec != tt.codec {
				t.Errorf("codec = %q, want %q", c.configs[0].Codec, tt.codec)
			}
			checkRoundTrip(t, &c, tt.extra)
		})
	}
}

func TestDemuxIncrementalFeed(t *testing.T) {
	data, err := os.ReadFile(writeTestFile(t, CodecAVC, testExtra))
	if err != nil {
		t.Fatal(err)
	}

	for _, block := range []int{1, 7, 64} {
		var c collected
		if err := Demux(bytes.NewReader(data), c.handlers(), block); err != nil {
			t.Fatalf("block %d: Demux: %v", block, err)
		}
		checkRoundTrip(t, &c, testExtra)
	}
}

func TestDemuxMdatBeforeMoov(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unused.mp4")
	m, err := NewMuxer(path, MuxerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Discard()
	if err := m.SetMetadata(media.OutputMetadata{Codec: CodecAVC, Width: 320, Height: 240, ExtraData: testExtra}); err != nil {
		t.Fatal(err)
	}
	var payload []byte
	for _, c := range testChunks() {
		if err := m.AddChunk(c); err != nil {
			t.Fatal(err)
		}
		payload = append(payload, c.Data...)
	}

	ftyp, err := buildFtyp()
	if err != nil {
		t.Fatal(err)
	}
	mdat := append(writeMdatHeader(int64(len(payload))), payload...)
	moov, err := m.buildMoov(uint64(len(ftyp) + 8))
	if err != nil {
		t.Fatal(err)
	}
	file := append(append(append([]byte{}, ftyp...), mdat...), moov...)

	var c collected
	if err := Demux(bytes.NewReader(file), c.handlers(), 5); err != nil {
		t.Fatalf("Demux: %v", err)
	}
	checkRoundTrip(t, &c, testExtra)
}

func TestDemuxErrors(t *testing.T) {
	valid, err := os.ReadFile(writeTestFile(t, CodecAVC, testExtra))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty input", nil, ErrContainer},
		{"no moov", writeMdatHeader(4), ErrContainer},
		{"truncated samples", valid[:len(valid)-3], ErrCorruptData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c collected
			d := NewDemuxer(c.handlers())
			_, werr := d.Write(tt.data)
			err := d.Close()
			if werr != nil {
				err = werr
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if c.complete != 0 {
				t.Error("OnComplete must not fire on error")
			}
		})
	}
}

func TestDemuxHandlerErrorAborts(t *testing.T) {
	data, err := os.ReadFile(writeTestFile(t, CodecAVC, testExtra))
	if err != nil {
		t.Fatal(err)
	}
	stop := errors.New("stop")
	seen := 0
	d := NewDemuxer(Handlers{
		OnChunk: func(media.EncodedChunk) error {
			seen++
			if seen == 2 {
				return stop
			}
			return nil
		},
	})
	if _, err := d.Write(data); !errors.Is(err, stop) {
		t.Fatalf("Write error = %v, want stop", err)
	}
	if !errors.Is(d.Close(), stop) {
		t.Error("Close should report the handler error")
	}
	if seen != 2 {
		t.Errorf("handler saw %d chunks, want 2", seen)
	}
}

func TestMuxerRejectsNonIncreasingTimestamps(t *testing.T) {
	m, err := NewMuxer(filepath.Join(t.TempDir(), "x.mp4"), MuxerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Discard()

	if err := m.AddChunk(media.EncodedOutputChunk{Timestamp: 100, Data: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	for _, ts := range []int64{100, 50} {
		if err := m.AddChunk(media.EncodedOutputChunk{Timestamp: ts, Data: []byte{1}}); !errors.Is(err, ErrTimestampOrder) {
			t.Errorf("timestamp %d: error = %v, want ErrTimestampOrder", ts, err)
		}
	}
}

func TestMuxerDiscardLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cancelled.mp4")
	m, err := NewMuxer(path, MuxerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetMetadata(media.OutputMetadata{Codec: CodecRaw, Width: 2, Height: 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddChunk(media.EncodedOutputChunk{Key: true, Data: []byte{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if err := m.Discard(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("directory not empty after Discard: %v", entries)
	}
	if err := m.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("Finalize after Discard = %v, want ErrFinalized", err)
	}
}

func TestMuxerFinalizeWithoutSamples(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMuxer(filepath.Join(dir, "empty.mp4"), MuxerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetMetadata(media.OutputMetadata{Codec: CodecRaw, Width: 2, Height: 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.Finalize(); !errors.Is(err, ErrContainer) {
		t.Errorf("Finalize error = %v, want ErrContainer", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed Finalize left files behind: %v", entries)
	}
}

func TestSetMetadataRejectsUnknownCodec(t *testing.T) {
	m, err := NewMuxer(filepath.Join(t.TempDir(), "x.mp4"), MuxerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Discard()
	if err := m.SetMetadata(media.OutputMetadata{Codec: "mjpeg"}); !errors.Is(err, ErrContainer) {
		t.Errorf("error = %v, want ErrContainer", err)
	}
}

func TestProbe(t *testing.T) {
	f, err := os.Open(writeTestFile(t, CodecAVC, testExtra))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	info, err := Probe(f)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !info.FastStart {
		t.Error("muxer output should be fast-start")
	}
	if info.Video.Codec != CodecAVC || info.Video.Width != 320 || info.Video.Height != 240 {
		t.Errorf("video = %+v", info.Video)
	}
	if info.Video.Samples != 4 || info.Video.KeyFrames != 2 {
		t.Errorf("samples/keys = %d/%d, want 4/2", info.Video.Samples, info.Video.KeyFrames)
	}
	if info.Video.ExtraData != len(testExtra) {
		t.Errorf("extradata bytes = %d, want %d", info.Video.ExtraData, len(testExtra))
	}
}
