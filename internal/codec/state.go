package codec

// State represents the lifecycle state of a FrameDecoder or FrameEncoder.
type State string

// Codec states.
const (
	StateUnconfigured State = "unconfigured" // No primitive selected
	StateConfigured   State = "configured"   // Primitive ready, nothing in flight
	StateDecoding     State = "decoding"     // Chunks submitted since configure or flush
	StateEncoding     State = "encoding"     // Frames submitted since configure or flush
	StateFlushing     State = "flushing"     // Draining buffered output
	StateClosed       State = "closed"       // Primitive released
)
