package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/hudrender/internal/hud"
	"github.com/smazurov/hudrender/internal/version"
)

// HTTPSurface drives an external headless renderer over HTTP:
//
//	PUT  {base}/state            JSON overlay state
//	POST {base}/settle?frames=N  returns once N frames were drawn
//	GET  {base}/capture          PNG of the current surface
type HTTPSurface struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSurface creates a surface client. A nil client gets a default with
// a 10 second timeout; per-call deadlines come from the context.
func NewHTTPSurface(baseURL string, client *http.Client) *HTTPSurface {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSurface{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Push sends the state to the surface.
func (s *HTTPSurface) Push(ctx context.Context, state hud.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal overlay state: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/state", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, nil)
}

// WaitRendered asks the surface to report back after settleFrames frames.
func (s *HTTPSurface) WaitRendered(ctx context.Context, settleFrames int) error {
	url := s.baseURL + "/settle?frames=" + strconv.Itoa(settleFrames)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return s.do(req, nil)
}

// Capture downloads the current surface as PNG.
func (s *HTTPSurface) Capture(ctx context.Context) (*image.RGBA, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/capture", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/png")

	var img *image.RGBA
	err = s.do(req, func(body io.Reader) error {
		var decodeErr error
		img, decodeErr = decodePNG(body)
		return decodeErr
	})
	return img, err
}

func (s *HTTPSurface) do(req *http.Request, read func(io.Reader) error) error {
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("surface %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("surface %s %s, status: %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if read == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return read(resp.Body)
}

func decodePNG(r io.Reader) (*image.RGBA, error) {
	src, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode surface capture: %w", err)
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return dst, nil
}
