package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Device errors.
var (
	ErrDeviceUnavailable = errors.New("gpu device unavailable")
	ErrDeviceLost        = errors.New("gpu device lost")
)

// DefaultTileSize is the edge length of one dispatch tile in pixels.
const DefaultTileSize = 64

// DeviceConfig configures a Device.
type DeviceConfig struct {
	// Workers bounds concurrently executing tiles. Zero uses GOMAXPROCS.
	Workers int
	// TileSize is the dispatch tile edge in pixels. Zero uses DefaultTileSize.
	TileSize int
	// Disabled makes device creation fail, forcing software compositing.
	Disabled bool
}

// Device executes shader kernels over image tiles. It is shared by every
// GPU compositor in the process and must be torn down explicitly.
type Device struct {
	mu       sync.Mutex
	workers  int
	tileSize int
	users    int
	lost     bool
}

var (
	sharedMu     sync.Mutex
	sharedDevice *Device
)

// NewDevice creates a standalone device.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.Disabled {
		return nil, ErrDeviceUnavailable
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	tile := cfg.TileSize
	if tile <= 0 {
		tile = DefaultTileSize
	}
	return &Device{workers: workers, tileSize: tile}, nil
}

// AcquireDevice returns the process-wide device, creating it with cfg on
// first use. Later calls return the same device until it is torn down.
func AcquireDevice(cfg DeviceConfig) (*Device, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedDevice != nil && !sharedDevice.Lost() {
		return sharedDevice, nil
	}
	d, err := NewDevice(cfg)
	if err != nil {
		return nil, err
	}
	sharedDevice = d
	return d, nil
}

// Workers returns the tile concurrency.
func (d *Device) Workers() int { return d.workers }

// Users returns the number of compositors holding the device.
func (d *Device) Users() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users
}

// Lost reports whether the device was torn down.
func (d *Device) Lost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// Teardown invalidates the device. Pending and future dispatches fail with
// ErrDeviceLost. Calling Teardown twice is a no-op.
func (d *Device) Teardown() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()

	sharedMu.Lock()
	if sharedDevice == d {
		sharedDevice = nil
	}
	sharedMu.Unlock()
}

func (d *Device) retain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return ErrDeviceLost
	}
	d.users++
	return nil
}

func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users > 0 {
		d.users--
	}
}

// Dispatch runs kernel once per tile covering a width x height grid and
// waits for all tiles.
func (d *Device) Dispatch(ctx context.Context, width, height int, kernel func(tile image.Rectangle)) error {
	if d.Lost() {
		return ErrDeviceLost
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for y := 0; y < height; y += d.tileSize {
		for x := 0; x < width; x += d.tileSize {
			tile := image.Rect(x, y, min(x+d.tileSize, width), min(y+d.tileSize, height))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if d.Lost() {
					return ErrDeviceLost
				}
				kernel(tile)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatch %dx%d: %w", width, height, err)
	}
	return nil
}
