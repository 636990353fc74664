// Package hud models overlay state and computes it per output frame from two
// sparse recorded logs: raw input events and overlay-state snapshots.
//
// Snapshots are step functions: the latest snapshot at or before t wins and is
// returned verbatim. Without a preceding snapshot the mouse position is
// linearly interpolated between the bracketing mouse events.
package hud
