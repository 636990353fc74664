package media

import (
	"image"
	"sync"
	"sync/atomic"
)

// PixelFormat identifies the memory layout of a raw frame.
type PixelFormat int

// Supported pixel formats. Compositors operate on RGBA only; codec backends
// convert at their boundary.
const (
	PixelFormatRGBA PixelFormat = iota
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the storage size of one pixel.
func (p PixelFormat) BytesPerPixel() int {
	return 4
}

type frameBuffer struct {
	pix  []byte
	refs atomic.Int32
	pool *Pool
}

// RawFrame is a handle onto a decoded picture. A handle must be released
// exactly once; further Release calls on the same handle are no-ops.
type RawFrame struct {
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp int64

	buf      *frameBuffer
	released atomic.Bool
}

// Data returns the pixel bytes, or nil once this handle has been released.
// The slice is shared with every clone and must be treated as read-only.
func (f *RawFrame) Data() []byte {
	if f == nil || f.released.Load() {
		return nil
	}
	return f.buf.pix
}

// Stride returns the row length in bytes.
func (f *RawFrame) Stride() int {
	return f.Width * f.Format.BytesPerPixel()
}

// Image returns an RGBA view over the frame's pixels, or nil once released.
func (f *RawFrame) Image() *image.RGBA {
	pix := f.Data()
	if pix == nil {
		return nil
	}
	return &image.RGBA{
		Pix:    pix,
		Stride: f.Stride(),
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Clone returns a new handle sharing the same buffer. Cloning a released
// handle returns nil.
func (f *RawFrame) Clone() *RawFrame {
	if f == nil || f.released.Load() {
		return nil
	}
	f.buf.refs.Add(1)
	if f.buf.pool != nil {
		f.buf.pool.acquired.Add(1)
	}
	return &RawFrame{
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		buf:       f.buf,
	}
}

// Release drops this handle. The buffer is recycled when no handles remain.
func (f *RawFrame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	pool := f.buf.pool
	if pool != nil {
		pool.released.Add(1)
	}
	if f.buf.refs.Add(-1) == 0 && pool != nil {
		pool.recycle(f.buf.pix)
	}
}

// Released reports whether this handle has been released.
func (f *RawFrame) Released() bool {
	return f.released.Load()
}

// Pool allocates frame buffers and counts handle acquisitions and releases.
// The zero value is not usable; call NewPool.
type Pool struct {
	mu    sync.Mutex
	free  map[int][][]byte
	limit int

	acquired atomic.Int64
	released atomic.Int64
}

// NewPool creates a pool retaining at most limit idle buffers per size.
func NewPool(limit int) *Pool {
	if limit < 0 {
		limit = 0
	}
	return &Pool{
		free:  make(map[int][][]byte),
		limit: limit,
	}
}

// NewFrame acquires a zeroed RGBA frame.
func (p *Pool) NewFrame(width, height int, timestamp int64) *RawFrame {
	size := width * height * PixelFormatRGBA.BytesPerPixel()
	pix := p.take(size)
	return p.wrap(pix, width, height, timestamp)
}

// Wrap adopts an existing RGBA buffer as a new frame. The pool takes
// ownership of pix.
func (p *Pool) Wrap(pix []byte, width, height int, timestamp int64) *RawFrame {
	return p.wrap(pix, width, height, timestamp)
}

func (p *Pool) wrap(pix []byte, width, height int, timestamp int64) *RawFrame {
	buf := &frameBuffer{pix: pix, pool: p}
	buf.refs.Store(1)
	p.acquired.Add(1)
	return &RawFrame{
		Width:     width,
		Height:    height,
		Format:    PixelFormatRGBA,
		Timestamp: timestamp,
		buf:       buf,
	}
}

func (p *Pool) take(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.free[size]
	if n := len(list); n > 0 {
		pix := list[n-1]
		p.free[size] = list[:n-1]
		clear(pix)
		return pix
	}
	return make([]byte, size)
}

func (p *Pool) recycle(pix []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := len(pix)
	if len(p.free[size]) < p.limit {
		p.free[size] = append(p.free[size], pix)
	}
}

// Acquired returns the number of handles handed out (allocations plus clones).
func (p *Pool) Acquired() int64 {
	return p.acquired.Load()
}

// Released returns the number of handles released.
func (p *Pool) Released() int64 {
	return p.released.Load()
}

// Outstanding returns the number of live handles.
func (p *Pool) Outstanding() int64 {
	return p.acquired.Load() - p.released.Load()
}

// Idle returns the number of buffers waiting for reuse.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, list := range p.free {
		n += len(list)
	}
	return n
}
