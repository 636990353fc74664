// Package pipeline renders a HUD onto every frame of a video.
//
// An Orchestrator demuxes and decodes the input, samples the overlay state
// for each output frame, renders and composites the overlay and hands the
// result to a sink (MP4 or a ZIP of PNG frames). Synchronous renderers run
// the whole chain on one goroutine; asynchronous renderers get a bounded
// decode buffer filled by a producer goroutine.
//
// The output always has exactly FrameCount(fps, duration) frames. A source
// that runs short repeats its last frame; a source that runs long is cut.
package pipeline
