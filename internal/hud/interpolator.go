package hud

import (
	"math"
	"slices"
	"sort"
)

// Interpolator answers "what did the overlay look like at t" over two
// immutable logs captured at construction. It is safe for concurrent use.
type Interpolator struct {
	snapshots []Snapshot
	mouse     []InputEvent
}

// NewInterpolator copies both logs and stable-sorts them by timestamp, so
// entries sharing a timestamp keep their recorded order and the last one wins.
func NewInterpolator(events []InputEvent, snapshots []Snapshot) *Interpolator {
	snaps := make([]Snapshot, len(snapshots))
	for i, s := range snapshots {
		snaps[i] = Snapshot{Timestamp: s.Timestamp, State: s.State.Clone()}
	}
	slices.SortStableFunc(snaps, func(a, b Snapshot) int {
		return cmpInt64(a.Timestamp, b.Timestamp)
	})

	var mouse []InputEvent
	for _, e := range events {
		if e.IsMouse() {
			mouse = append(mouse, e)
		}
	}
	slices.SortStableFunc(mouse, func(a, b InputEvent) int {
		return cmpInt64(a.Timestamp, b.Timestamp)
	})

	return &Interpolator{snapshots: snaps, mouse: mouse}
}

// StateAt returns the overlay state at tMs milliseconds.
func (ip *Interpolator) StateAt(tMs float64) State {
	// First snapshot strictly after t; the one before it is the latest at or before t.
	i := sort.Search(len(ip.snapshots), func(i int) bool {
		return float64(ip.snapshots[i].Timestamp) > tMs
	})
	if i > 0 {
		return ip.snapshots[i-1].State.Clone()
	}

	return State{Mouse: ip.mouseAt(tMs), Custom: NoScenario()}
}

func (ip *Interpolator) mouseAt(tMs float64) Mouse {
	n := len(ip.mouse)
	if n == 0 {
		return Mouse{}
	}

	after := sort.Search(n, func(i int) bool {
		return float64(ip.mouse[i].Timestamp) > tMs
	})
	switch {
	case after == 0:
		return mouseOf(ip.mouse[0])
	case after == n:
		return mouseOf(ip.mouse[n-1])
	}

	a, b := ip.mouse[after-1], ip.mouse[after]
	frac := (tMs - float64(a.Timestamp)) / float64(b.Timestamp-a.Timestamp)
	return Mouse{
		X:       a.X + (b.X-a.X)*frac,
		Y:       a.Y + (b.Y-a.Y)*frac,
		Buttons: a.Buttons,
	}
}

// FrameStates returns one state per output frame, frame i sampled at
// i*1000/fps milliseconds.
func (ip *Interpolator) FrameStates(fps float64, durationMs int64) []State {
	n := FrameCount(fps, durationMs)
	states := make([]State, n)
	for i := range states {
		states[i] = ip.StateAt(FrameTimeMs(i, fps))
	}
	return states
}

// Len returns the number of snapshots and mouse events held.
func (ip *Interpolator) Len() (snapshots, mouseEvents int) {
	return len(ip.snapshots), len(ip.mouse)
}

// FrameCount is the number of output frames for a duration:
// ceil(durationMs * fps / 1000).
func FrameCount(fps float64, durationMs int64) int {
	if fps <= 0 || durationMs <= 0 {
		return 0
	}
	return int(math.Ceil(float64(durationMs) * fps / 1000))
}

// FrameTimeMs is the presentation time of frame i in milliseconds.
func FrameTimeMs(i int, fps float64) float64 {
	return float64(i) * 1000 / fps
}

// FrameTimestampUs is the presentation time of frame i in whole microseconds.
func FrameTimestampUs(i int, fps float64) int64 {
	return int64(math.Round(float64(i) * 1e6 / fps))
}

func mouseOf(e InputEvent) Mouse {
	return Mouse{X: e.X, Y: e.Y, Buttons: e.Buttons}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
