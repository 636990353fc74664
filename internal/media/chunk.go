package media

// ChunkKind distinguishes independently decodable chunks from deltas.
type ChunkKind int

// Chunk kinds.
const (
	KeyChunk ChunkKind = iota
	DeltaChunk
)

func (k ChunkKind) String() string {
	if k == KeyChunk {
		return "key"
	}
	return "delta"
}

// EncodedChunk is one access unit read from the input container.
// Timestamps are in microseconds. Chunks are immutable once emitted.
type EncodedChunk struct {
	Kind      ChunkKind
	Timestamp int64
	Duration  int64
	Data      []byte
}

// IsKey reports whether the chunk is a keyframe.
func (c EncodedChunk) IsKey() bool {
	return c.Kind == KeyChunk
}

// DecoderConfig describes the input video track. It is delivered once,
// before the first chunk.
type DecoderConfig struct {
	Codec       string `json:"codec"`
	CodedWidth  int    `json:"coded_width"`
	CodedHeight int    `json:"coded_height"`
	ExtraData   []byte `json:"extra_data,omitempty"`
}

// EncodedOutputChunk is one access unit produced by a frame encoder.
type EncodedOutputChunk struct {
	Key       bool
	Timestamp int64
	Duration  int64
	Data      []byte
}

// OutputMetadata echoes the encoder configuration for the muxer's track header.
type OutputMetadata struct {
	Codec     string
	Width     int
	Height    int
	ExtraData []byte
}
