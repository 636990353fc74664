package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/smazurov/hudrender/internal/media"
)

// pngZipSink writes every composite as frame_NNNNNN.png into a ZIP archive.
// The archive is built in a temp file next to the output and renamed over it
// on finish.
type pngZipSink struct {
	path    string
	tmp     *os.File
	buf     *bufio.Writer
	zw      *zip.Writer
	enc     png.Encoder
	fps     float64
	frames  int
	started time.Time
	done    bool
}

func newPNGZipSink(path, tempDir string, fps float64) (*pngZipSink, error) {
	dir := tempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return nil, newError(ErrCodeOutput, "create output", err)
	}
	buf := bufio.NewWriterSize(tmp, 1<<20)
	return &pngZipSink{
		path:    path,
		tmp:     tmp,
		buf:     buf,
		zw:      zip.NewWriter(buf),
		enc:     png.Encoder{CompressionLevel: png.BestSpeed},
		fps:     fps,
		started: time.Now(),
	}, nil
}

func (s *pngZipSink) write(ctx context.Context, frame *media.CompositeFrame, _ bool) error {
	defer frame.Release()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.done {
		return newError(ErrCodeOutput, "write after finish", nil)
	}

	hdr := &zip.FileHeader{
		Name:     fmt.Sprintf("frame_%06d.png", s.frames),
		Method:   zip.Store,
		Modified: s.started.Add(time.Duration(frame.Timestamp) * time.Microsecond),
	}
	w, err := s.zw.CreateHeader(hdr)
	if err != nil {
		return newError(ErrCodeOutput, "add archive entry", err)
	}
	if err := s.enc.Encode(w, frame.Image()); err != nil {
		return newError(ErrCodeEncode, fmt.Sprintf("encode frame %d", s.frames), err)
	}
	s.frames++
	return nil
}

func (s *pngZipSink) finish() error {
	if s.done {
		return nil
	}
	s.done = true

	s.zw.SetComment(fmt.Sprintf("hudrender frames=%d fps=%g", s.frames, s.fps))
	err := s.zw.Close()
	if err == nil {
		err = s.buf.Flush()
	}
	if err == nil {
		err = s.tmp.Sync()
	}
	if cerr := s.tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(s.tmp.Name(), s.path)
	}
	if err != nil {
		_ = os.Remove(s.tmp.Name())
		return newError(ErrCodeOutput, "finalize archive", err)
	}
	return nil
}

func (s *pngZipSink) discard() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.tmp.Close()
	if rerr := os.Remove(s.tmp.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	return err
}

func (s *pngZipSink) name() string { return string(FormatPNGZip) }

func (s *pngZipSink) backend() string { return "png" }
