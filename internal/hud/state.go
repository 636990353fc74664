package hud

import "maps"

// Mouse is the cursor position and button bitmask.
type Mouse struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Buttons uint8   `json:"buttons"`
}

// Target is one tracked on-screen target.
type Target struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Locked bool    `json:"locked"`
}

// State is the overlay description for one instant.
type State struct {
	Mouse   Mouse             `json:"mouse"`
	Targets map[string]Target `json:"targets,omitempty"`
	Custom  Scenario          `json:"custom"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Targets = maps.Clone(s.Targets)
	out.Custom = s.Custom.Clone()
	return out
}

// InputEvent is one recorded raw input event. Timestamps are milliseconds.
type InputEvent struct {
	Timestamp int64   `json:"timestamp"`
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Buttons   uint8   `json:"buttons"`
	Key       string  `json:"key,omitempty"`
}

// Input event types that carry a cursor position.
const (
	EventMouseMove = "mousemove"
	EventMouseDown = "mousedown"
	EventMouseUp   = "mouseup"
	EventMouseDrag = "mousedrag"
	EventKeyDown   = "keydown"
	EventKeyUp     = "keyup"
)

// IsMouse reports whether the event positions the cursor.
func (e InputEvent) IsMouse() bool {
	switch e.Type {
	case EventMouseMove, EventMouseDown, EventMouseUp, EventMouseDrag:
		return true
	default:
		return false
	}
}

// Snapshot is a recorded overlay state at a millisecond timestamp.
type Snapshot struct {
	Timestamp int64 `json:"timestamp"`
	State     State `json:"state"`
}
