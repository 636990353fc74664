// Package codec wraps stateful decode and encode primitives in the
// FrameDecoder and FrameEncoder state machines and selects a backend for a
// codec through a Registry.
//
// A backend supplies primitives for the codecs it supports. Registries order
// backends hardware first, then by registration order, and fall back to the
// next backend when a primitive rejects its configuration. The raw backend
// (package raw) is always available; the libav backend (package libav) is
// compiled in with the "libav" build tag.
package codec
