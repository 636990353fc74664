package pipeline

import (
	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/codec/libav"
	"github.com/smazurov/hudrender/internal/codec/raw"
	"github.com/smazurov/hudrender/internal/mp4"
)

// DefaultRegistry returns a registry with every codec backend compiled into
// this binary.
func DefaultRegistry() *codec.Registry {
	r := codec.NewRegistry(raw.NewBackend())
	libav.Register(r)
	return r
}

// DefaultCodec is the output codec used when a job names none: H.264 when
// libav is compiled in, otherwise the raw codec.
func DefaultCodec() string {
	if libav.Enabled() {
		return mp4.CodecAVC
	}
	return raw.Codec
}
