package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/codec/raw"
	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/hud"
	"github.com/smazurov/hudrender/internal/media"
	"github.com/smazurov/hudrender/internal/mp4"
	"github.com/smazurov/hudrender/internal/overlay"
)

const (
	testWidth  = 64
	testHeight = 48
	testFPS    = 30.0
)

// stubRenderer returns no overlay and can cancel the run at a given call.
type stubRenderer struct {
	sync     bool
	calls    int
	cancelAt int
	cancel   context.CancelFunc
}

func (r *stubRenderer) Synchronous() bool { return r.sync }

func (r *stubRenderer) Render(ctx context.Context, _ hud.State, _ float64) (*image.RGBA, error) {
	r.calls++
	if r.cancel != nil && r.calls == r.cancelAt {
		r.cancel()
	}
	return nil, ctx.Err()
}

// silentBackend decodes raw input but never emits a frame.
type silentBackend struct{}

func (silentBackend) Name() string          { return "silent" }
func (silentBackend) Hardware() bool        { return false }
func (silentBackend) Available() bool       { return true }
func (silentBackend) Decodes(c string) bool { return c == raw.Codec }
func (silentBackend) Encodes(string) bool   { return false }

func (silentBackend) NewDecoder(string, *media.Pool) (codec.DecoderPrimitive, error) {
	return silentDecoder{}, nil
}

func (silentBackend) NewEncoder(c string) (codec.EncoderPrimitive, error) {
	return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedCodec, c)
}

type silentDecoder struct{}

func (silentDecoder) Configure(media.DecoderConfig) error              { return nil }
func (silentDecoder) Decode(media.EncodedChunk, codec.FrameSink) error { return nil }
func (silentDecoder) Flush(codec.FrameSink) error                      { return nil }
func (silentDecoder) Close() error                                     { return nil }

func rawRegistry() *codec.Registry {
	return codec.NewRegistry(raw.NewBackend())
}

// writeSource writes an n-frame raw MP4 whose frame k is solid red k*10.
func writeSource(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.mp4")
	mux, err := mp4.NewMuxer(path, mp4.MuxerOptions{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}
	enc := codec.NewFrameEncoder(rawRegistry(), func(c media.EncodedOutputChunk, meta *media.OutputMetadata) error {
		if meta != nil {
			if err := mux.SetMetadata(*meta); err != nil {
				return err
			}
		}
		return mux.AddChunk(c)
	})
	if err := enc.Configure(codec.EncoderConfig{Codec: raw.Codec, Width: testWidth, Height: testHeight, FrameRate: testFPS}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for k := 0; k < n; k++ {
		f := media.NewCompositeFrame(testWidth, testHeight, hud.FrameTimestampUs(k, testFPS))
		for p := 0; p < len(f.Pix); p += 4 {
			f.Pix[p] = byte(k * 10)
			f.Pix[p+3] = 0xff
		}
		if err := enc.Encode(f, false); err != nil {
			t.Fatalf("Encode %d: %v", k, err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	enc.Close()
	if err := mux.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return path
}

type decodedOutput struct {
	timestamps []int64
	// corner is the red value of the bottom-right pixel of each frame.
	corner []byte
}

func readOutput(t *testing.T, path string) decodedOutput {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var out decodedOutput
	dec := codec.NewFrameDecoder(rawRegistry(), media.NewPool(0), func(frame *media.RawFrame) error {
		defer frame.Release()
		img := frame.Image()
		out.corner = append(out.corner, img.RGBAAt(testWidth-1, testHeight-1).R)
		return nil
	})
	defer dec.Close()

	err = mp4.Demux(f, mp4.Handlers{
		OnConfig: dec.Configure,
		OnChunk: func(c media.EncodedChunk) error {
			out.timestamps = append(out.timestamps, c.Timestamp)
			return dec.Decode(c)
		},
		OnComplete: dec.Flush,
	}, 0)
	if err != nil {
		t.Fatalf("demux output: %v", err)
	}
	return out
}

func newJob(t *testing.T, input string, durationMs int64, r overlay.Renderer) Job {
	t.Helper()
	return Job{
		Input:      input,
		DurationMs: durationMs,
		FPS:        testFPS,
		Codec:      raw.Codec,
		Overlay:    r,
		Compositor: compositor.Options{Backend: compositor.BackendSoftware},
		Output:     filepath.Join(t.TempDir(), "out.mp4"),
	}
}

func run(t *testing.T, job Job) (*Result, *media.Pool, error) {
	t.Helper()
	o, err := New(job, Options{Registry: rawRegistry()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	return res, o.Pool(), err
}

func checkTimestamps(t *testing.T, ts []int64) {
	t.Helper()
	if len(ts) == 0 {
		t.Fatal("no output timestamps")
	}
	if ts[0] != 0 {
		t.Errorf("first timestamp = %d, want 0", ts[0])
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			t.Errorf("timestamp %d = %d, not after %d", i, ts[i], ts[i-1])
		}
	}
}

func TestFrameCountConservation(t *testing.T) {
	tests := []struct {
		name       string
		source     int
		durationMs int64
		sync       bool
		wantFrames int
		wantFreeze int
		wantCorner []byte
	}{
		{"short source sync", 3, 200, true, 6, 3, []byte{0, 10, 20, 20, 20, 20}},
		{"short source buffered", 3, 200, false, 6, 3, []byte{0, 10, 20, 20, 20, 20}},
		{"long source sync", 10, 120, true, 4, 0, []byte{0, 10, 20, 30}},
		{"long source buffered", 10, 120, false, 4, 0, []byte{0, 10, 20, 30}},
		{"exact source buffered", 5, 150, false, 5, 0, []byte{0, 10, 20, 30, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t, writeSource(t, tt.source), tt.durationMs, &stubRenderer{sync: tt.sync})
			res, pool, err := run(t, job)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Frames != tt.wantFrames || res.FreezeFrames != tt.wantFreeze {
				t.Errorf("frames/freeze = %d/%d, want %d/%d", res.Frames, res.FreezeFrames, tt.wantFrames, tt.wantFreeze)
			}
			if pool.Outstanding() != 0 {
				t.Errorf("outstanding frames = %d, want 0", pool.Outstanding())
			}

			out := readOutput(t, job.Output)
			if len(out.timestamps) != tt.wantFrames {
				t.Fatalf("output has %d frames, want %d", len(out.timestamps), tt.wantFrames)
			}
			checkTimestamps(t, out.timestamps)
			for i, want := range tt.wantCorner {
				if out.corner[i] != want {
					t.Errorf("frame %d red = %d, want %d", i, out.corner[i], want)
				}
			}
		})
	}
}

func TestRunModes(t *testing.T) {
	input := writeSource(t, 4)

	res, _, err := run(t, newJob(t, input, 100, &stubRenderer{sync: true}))
	if err != nil {
		t.Fatalf("Run sync: %v", err)
	}
	if res.Mode != ModeSynchronous || res.Compositor != "software" {
		t.Errorf("sync result = %+v", res)
	}

	res, _, err = run(t, newJob(t, input, 100, &stubRenderer{}))
	if err != nil {
		t.Fatalf("Run buffered: %v", err)
	}
	if res.Mode != ModeBuffered {
		t.Errorf("mode = %q, want %q", res.Mode, ModeBuffered)
	}
}

func TestRasterOverlayIsComposited(t *testing.T) {
	r, err := overlay.NewRaster(testWidth, testHeight, overlay.PresetCrosshair)
	if err != nil {
		t.Fatal(err)
	}
	job := newJob(t, writeSource(t, 2), 60, r)
	job.Log = &hud.Log{Events: []hud.InputEvent{
		{Timestamp: 0, Type: hud.EventMouseMove, X: testWidth - 1, Y: testHeight - 1},
	}}

	res, pool, err := run(t, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Frames != 2 || pool.Outstanding() != 0 {
		t.Fatalf("frames = %d, outstanding = %d", res.Frames, pool.Outstanding())
	}
	out := readOutput(t, job.Output)
	// The crosshair's centre dot covers the corner pixel in every frame.
	for i, red := range out.corner {
		if red == byte(i*10) {
			t.Errorf("frame %d corner still shows video red %d", i, red)
		}
	}
}

func TestCaptureOverlayRunsBuffered(t *testing.T) {
	r, err := overlay.NewRaster(testWidth, testHeight, overlay.PresetFull)
	if err != nil {
		t.Fatal(err)
	}
	capture := overlay.NewCapture(overlay.NewLoopbackSurface(r, time.Millisecond),
		overlay.CaptureOptions{SettleFrames: 1, Timeout: time.Second})

	job := newJob(t, writeSource(t, 3), 100, capture)
	job.BufferFrames = 2
	res, pool, err := run(t, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Mode != ModeBuffered || res.Frames != 3 || res.CaptureFailures != 0 {
		t.Errorf("result = %+v", res)
	}
	if pool.Outstanding() != 0 {
		t.Errorf("outstanding frames = %d, want 0", pool.Outstanding())
	}
}

// flakySurface fails the capture of every second pushed state.
type flakySurface struct {
	overlay.Surface
	pushes int
}

func (s *flakySurface) Push(ctx context.Context, state hud.State) error {
	s.pushes++
	return s.Surface.Push(ctx, state)
}

func (s *flakySurface) Capture(ctx context.Context) (*image.RGBA, error) {
	if s.pushes%2 == 0 {
		return nil, errors.New("surface lost")
	}
	return s.Surface.Capture(ctx)
}

func TestCaptureFailureRendersVideoOnly(t *testing.T) {
	r, err := overlay.NewRaster(testWidth, testHeight, overlay.PresetCrosshair)
	if err != nil {
		t.Fatal(err)
	}
	surface := &flakySurface{Surface: overlay.NewLoopbackSurface(r, time.Millisecond)}
	capture := overlay.NewCapture(surface, overlay.CaptureOptions{SettleFrames: 1, Timeout: time.Second})

	job := newJob(t, writeSource(t, 4), 130, capture)
	job.Log = &hud.Log{Events: []hud.InputEvent{
		{Timestamp: 0, Type: hud.EventMouseMove, X: testWidth - 1, Y: testHeight - 1},
	}}
	res, pool, err := run(t, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Frames != 4 || res.CaptureFailures != 2 {
		t.Fatalf("frames/capture failures = %d/%d, want 4/2", res.Frames, res.CaptureFailures)
	}
	if pool.Outstanding() != 0 {
		t.Errorf("outstanding frames = %d, want 0", pool.Outstanding())
	}

	out := readOutput(t, job.Output)
	if len(out.corner) != 4 {
		t.Fatalf("output has %d frames, want 4", len(out.corner))
	}
	checkTimestamps(t, out.timestamps)
	for i, red := range out.corner {
		video := byte(i * 10)
		if failed := i%2 == 1; failed && red != video {
			t.Errorf("frame %d red = %d, want bare video %d", i, red, video)
		} else if !failed && red == video {
			t.Errorf("frame %d corner shows no overlay", i)
		}
	}
}

func TestProgressReportsEveryFrame(t *testing.T) {
	var done []int
	job := newJob(t, writeSource(t, 2), 100, &stubRenderer{sync: true})
	job.Progress = func(d, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		done = append(done, d)
	}
	if _, _, err := run(t, job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(done) != 3 || done[0] != 1 || done[2] != 3 {
		t.Errorf("progress = %v, want [1 2 3]", done)
	}
}

func TestCancellationLeavesNoOutput(t *testing.T) {
	for _, sync := range []bool{true, false} {
		t.Run(fmt.Sprintf("sync=%v", sync), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			job := newJob(t, writeSource(t, 8), 1000, &stubRenderer{sync: sync, cancelAt: 3, cancel: cancel})
			o, err := New(job, Options{Registry: rawRegistry()})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = o.Run(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("error = %v, want context.Canceled", err)
			}
			if Code(err) != ErrCodeCancelled {
				t.Errorf("code = %q, want %q", Code(err), ErrCodeCancelled)
			}
			if _, err := os.Stat(job.Output); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("output exists after cancel: %v", err)
			}
			entries, _ := os.ReadDir(filepath.Dir(job.Output))
			if len(entries) != 0 {
				t.Errorf("output dir holds %d leftover files", len(entries))
			}
			if o.Pool().Outstanding() != 0 {
				t.Errorf("outstanding frames = %d, want 0", o.Pool().Outstanding())
			}
		})
	}
}

func TestStarvation(t *testing.T) {
	for _, sync := range []bool{true, false} {
		t.Run(fmt.Sprintf("sync=%v", sync), func(t *testing.T) {
			job := newJob(t, writeSource(t, 2), 100, &stubRenderer{sync: sync})
			reg := codec.NewRegistry(silentBackend{}, raw.NewBackend())
			o, err := New(job, Options{Registry: reg})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = o.Run(context.Background())
			if !errors.Is(err, ErrStarvation) || Code(err) != ErrCodeStarvation {
				t.Fatalf("error = %v, want starvation", err)
			}
			if _, err := os.Stat(job.Output); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("output exists after starvation: %v", err)
			}
		})
	}
}

func TestPNGZipOutput(t *testing.T) {
	job := newJob(t, writeSource(t, 2), 100, &stubRenderer{})
	job.Format = FormatPNGZip
	job.Output = filepath.Join(filepath.Dir(job.Output), "frames.zip")

	res, pool, err := run(t, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Frames != 3 || pool.Outstanding() != 0 {
		t.Fatalf("frames = %d, outstanding = %d", res.Frames, pool.Outstanding())
	}

	zr, err := zip.OpenReader(job.Output)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 3 {
		t.Fatalf("archive holds %d entries, want 3", len(zr.File))
	}
	for i, zf := range zr.File {
		if want := fmt.Sprintf("frame_%06d.png", i); zf.Name != want {
			t.Errorf("entry %d = %q, want %q", i, zf.Name, want)
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open %s: %v", zf.Name, err)
		}
		img, err := png.Decode(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("decode %s: %v", zf.Name, err)
		}
		if b := img.Bounds(); b.Dx() != testWidth || b.Dy() != testHeight {
			t.Errorf("%s size = %v", zf.Name, b)
		}
		r, _, _, a := img.At(0, 0).RGBA()
		wantRed := uint32(min(i, 1) * 10)
		if r>>8 != wantRed || a>>8 != 0xff {
			t.Errorf("%s pixel = r%d a%d, want r%d a255", zf.Name, r>>8, a>>8, wantRed)
		}
	}
}

func TestOutputGeometryOverride(t *testing.T) {
	job := newJob(t, writeSource(t, 1), 30, &stubRenderer{sync: true})
	job.Width, job.Height = 32, 24
	if _, _, err := run(t, job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f, err := os.Open(job.Output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var cfg media.DecoderConfig
	err = mp4.Demux(f, mp4.Handlers{
		OnConfig: func(c media.DecoderConfig) error {
			cfg = c
			return nil
		},
		OnChunk: func(media.EncodedChunk) error { return nil },
	}, 0)
	if err != nil {
		t.Fatalf("demux output: %v", err)
	}
	if cfg.CodedWidth != 32 || cfg.CodedHeight != 24 {
		t.Errorf("output size = %dx%d, want 32x24", cfg.CodedWidth, cfg.CodedHeight)
	}
}

func TestUnsupportedOutputCodec(t *testing.T) {
	job := newJob(t, writeSource(t, 1), 30, &stubRenderer{sync: true})
	job.Codec = mp4.CodecVP9
	_, _, err := run(t, job)
	if Code(err) != ErrCodeUnsupportedCodec || !errors.Is(err, codec.ErrUnsupportedCodec) {
		t.Fatalf("error = %v, want unsupported codec", err)
	}
	if _, err := os.Stat(job.Output); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output exists: %v", err)
	}
}

func TestMissingInput(t *testing.T) {
	job := newJob(t, filepath.Join(t.TempDir(), "missing.mp4"), 30, &stubRenderer{sync: true})
	_, _, err := run(t, job)
	if Code(err) != ErrCodeContainer {
		t.Fatalf("error = %v, want %s", err, ErrCodeContainer)
	}
}

func TestNotAnMP4(t *testing.T) {
	input := filepath.Join(t.TempDir(), "junk.mp4")
	if err := os.WriteFile(input, []byte("definitely not an mp4 file"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := run(t, newJob(t, input, 30, &stubRenderer{sync: true}))
	if !errors.Is(err, mp4.ErrContainer) && !errors.Is(err, mp4.ErrCorruptData) {
		t.Fatalf("error = %v, want container or corrupt data", err)
	}
}

func TestJobValidation(t *testing.T) {
	valid := Job{Input: "in.mp4", Output: "out.mp4", FPS: 30, DurationMs: 1000, Overlay: &stubRenderer{}}
	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{"no input", func(j *Job) { j.Input = "" }},
		{"no output", func(j *Job) { j.Output = "" }},
		{"zero fps", func(j *Job) { j.FPS = 0 }},
		{"negative duration", func(j *Job) { j.DurationMs = -1 }},
		{"negative width", func(j *Job) { j.Width = -2 }},
		{"no overlay", func(j *Job) { j.Overlay = nil }},
		{"nan fps", func(j *Job) { j.FPS = math.NaN() }},
		{"fps too high", func(j *Job) { j.FPS = MaxFPS + 1 }},
		{"too many frames", func(j *Job) { j.DurationMs = 1 << 50 }},
		{"width too large", func(j *Job) { j.Width = MaxDimension + 1 }},
		{"height too large", func(j *Job) { j.Height = MaxDimension + 1 }},
		{"bad format", func(j *Job) { j.Format = "gif" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			_, err := New(job, Options{})
			if Code(err) != ErrCodeInvalidJob {
				t.Errorf("error = %v, want %s", err, ErrCodeInvalidJob)
			}
		})
	}

	if _, err := New(valid, Options{}); err != nil {
		t.Errorf("valid job rejected: %v", err)
	}
}

func TestCheckGeometry(t *testing.T) {
	tests := []struct {
		w, h int
		ok   bool
	}{
		{1, 1, true},
		{MaxDimension, MaxDimension, true},
		{0, 10, false},
		{10, -1, false},
		{MaxDimension + 1, 10, false},
		{10, 1 << 30, false},
	}
	for _, tt := range tests {
		err := CheckGeometry(tt.w, tt.h)
		if tt.ok && err != nil {
			t.Errorf("CheckGeometry(%d, %d) = %v", tt.w, tt.h, err)
		}
		if !tt.ok && Code(err) != ErrCodeInvalidJob {
			t.Errorf("CheckGeometry(%d, %d) = %v, want %s", tt.w, tt.h, err, ErrCodeInvalidJob)
		}
	}
}

func TestClampBuffer(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultBufferFrames},
		{-1, DefaultBufferFrames},
		{1, MinBufferFrames},
		{5, 5},
		{100, MaxBufferFrames},
	}
	for _, tt := range tests {
		if got := clampBuffer(tt.in); got != tt.want {
			t.Errorf("clampBuffer(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRunTwice(t *testing.T) {
	job := newJob(t, writeSource(t, 1), 30, &stubRenderer{sync: true})
	o, err := New(job, Options{Registry: rawRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := o.Run(context.Background()); Code(err) != ErrCodeInternal {
		t.Errorf("second Run error = %v, want %s", err, ErrCodeInternal)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, ErrCodeCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrCodeCancelled},
		{ErrStarvation, ErrCodeStarvation},
		{fmt.Errorf("x: %w", codec.ErrUnsupportedCodec), ErrCodeUnsupportedCodec},
		{compositor.ErrCompositorInit, ErrCodeCompositorInit},
		{mp4.ErrContainer, ErrCodeContainer},
		{mp4.ErrCorruptData, ErrCodeCorruptData},
		{codec.ErrDecode, ErrCodeDecode},
		{codec.ErrEncode, ErrCodeEncode},
		{mp4.ErrTimestampOrder, ErrCodeEncode},
		{errors.New("boom"), ErrCodeInternal},
		{newError(ErrCodeOutput, "kept", nil), ErrCodeOutput},
	}
	for _, tt := range tests {
		if got := classify("op", tt.err); got.Code != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got.Code, tt.want)
		}
	}
	if classify("op", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
