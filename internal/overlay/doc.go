// Package overlay turns an overlay state into a transparent RGBA image for one
// output frame.
//
// Two renderers are provided. Raster draws the HUD in process and is
// deterministic and synchronous. Capture drives an external Surface (push
// state, wait for it to settle, grab pixels) and is asynchronous: failures are
// recorded and reported as "no overlay" rather than aborting the render.
package overlay
