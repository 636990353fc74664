package media

import "testing"

func TestCloneSharesBufferAndCountsHandles(t *testing.T) {
	pool := NewPool(4)

	f := pool.NewFrame(4, 2, 1000)
	if len(f.Data()) != 4*2*4 {
		t.Fatalf("data length = %d, want 32", len(f.Data()))
	}
	f.Data()[0] = 42

	c := f.Clone()
	if c.Data()[0] != 42 {
		t.Error("clone should share pixels with the original")
	}
	if c.Timestamp != 1000 || c.Width != 4 || c.Height != 2 {
		t.Errorf("clone metadata = %+v", c)
	}
	if pool.Outstanding() != 2 {
		t.Errorf("Outstanding = %d, want 2", pool.Outstanding())
	}

	f.Release()
	if f.Data() != nil {
		t.Error("released handle should return nil data")
	}
	if c.Data() == nil {
		t.Fatal("clone should survive release of the original")
	}
	if pool.Idle() != 0 {
		t.Error("buffer recycled while a clone is still live")
	}

	c.Release()
	if pool.Outstanding() != 0 {
		t.Errorf("Outstanding = %d, want 0", pool.Outstanding())
	}
	if pool.Idle() != 1 {
		t.Errorf("Idle = %d, want 1", pool.Idle())
	}
}

func TestReleaseIsIdempotentPerHandle(t *testing.T) {
	pool := NewPool(1)
	f := pool.NewFrame(2, 2, 0)
	c := f.Clone()

	f.Release()
	f.Release()
	f.Release()

	if pool.Released() != 1 {
		t.Errorf("Released = %d, want 1", pool.Released())
	}
	if c.Data() == nil {
		t.Error("repeated release of one handle must not free the shared buffer")
	}
	c.Release()
	if pool.Outstanding() != 0 {
		t.Errorf("Outstanding = %d, want 0", pool.Outstanding())
	}
}

func TestCloneOfReleasedHandleIsNil(t *testing.T) {
	pool := NewPool(0)
	f := pool.NewFrame(1, 1, 0)
	f.Release()

	if c := f.Clone(); c != nil {
		t.Errorf("Clone after Release = %v, want nil", c)
	}
	if pool.Acquired() != 1 {
		t.Errorf("Acquired = %d, want 1", pool.Acquired())
	}
}

func TestRecycledBufferIsZeroed(t *testing.T) {
	pool := NewPool(2)
	f := pool.NewFrame(2, 1, 0)
	for i := range f.Data() {
		f.Data()[i] = 0xff
	}
	f.Release()

	g := pool.NewFrame(2, 1, 0)
	defer g.Release()
	for i, b := range g.Data() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
	if pool.Idle() != 0 {
		t.Errorf("Idle = %d, want 0 after reuse", pool.Idle())
	}
}

func TestImageView(t *testing.T) {
	pool := NewPool(0)
	f := pool.NewFrame(3, 2, 0)
	img := f.Image()
	if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 || img.Stride != 12 {
		t.Errorf("image geometry = %v stride %d", img.Bounds(), img.Stride)
	}
	f.Release()
	if f.Image() != nil {
		t.Error("Image after Release should be nil")
	}
}
