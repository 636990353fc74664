package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/hudrender/internal/hud"
)

// WSSurface drives an external renderer over a single WebSocket. Requests
// are JSON text messages {"op": "state"|"settle"|"capture", ...}; state and
// settle are acknowledged with {"ok": true} or {"ok": false, "error": "..."},
// capture is answered with one binary PNG message.
type WSSurface struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type wsRequest struct {
	Op     string     `json:"op"`
	State  *hud.State `json:"state,omitempty"`
	Frames int        `json:"frames,omitempty"`
}

type wsAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DialWSSurface connects to a WebSocket surface at url (ws:// or wss://).
func DialWSSurface(ctx context.Context, url string, header http.Header) (*WSSurface, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial surface %s: %w", url, err)
	}
	return &WSSurface{conn: conn}, nil
}

// Push sends the state and waits for the acknowledgement.
func (s *WSSurface) Push(ctx context.Context, state hud.State) error {
	return s.request(ctx, wsRequest{Op: "state", State: &state}, nil)
}

// WaitRendered asks the surface to acknowledge after settleFrames frames.
func (s *WSSurface) WaitRendered(ctx context.Context, settleFrames int) error {
	return s.request(ctx, wsRequest{Op: "settle", Frames: settleFrames}, nil)
}

// Capture requests the current surface as PNG.
func (s *WSSurface) Capture(ctx context.Context) (*image.RGBA, error) {
	var img *image.RGBA
	err := s.request(ctx, wsRequest{Op: "capture"}, func(data []byte) error {
		var decodeErr error
		img, decodeErr = decodePNG(bytes.NewReader(data))
		return decodeErr
	})
	return img, err
}

// Close closes the connection.
func (s *WSSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *WSSurface) request(ctx context.Context, req wsRequest, onBinary func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
		defer func() {
			_ = s.conn.SetWriteDeadline(time.Time{})
			_ = s.conn.SetReadDeadline(time.Time{})
		}()
	}

	// Unblock a pending read when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := s.conn.WriteJSON(req); err != nil {
		return s.wrap(ctx, req.Op, err)
	}

	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		return s.wrap(ctx, req.Op, err)
	}

	if kind == websocket.BinaryMessage {
		if onBinary == nil {
			return fmt.Errorf("surface %s: unexpected binary reply", req.Op)
		}
		return onBinary(data)
	}

	var ack wsAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("surface %s: decode reply: %w", req.Op, err)
	}
	if !ack.OK {
		return fmt.Errorf("surface %s: %s", req.Op, ack.Error)
	}
	if onBinary != nil {
		return fmt.Errorf("surface %s: expected binary reply", req.Op)
	}
	return nil
}

func (s *WSSurface) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("surface %s: %w", op, errors.Join(ctxErr, err))
	}
	return fmt.Errorf("surface %s: %w", op, err)
}
