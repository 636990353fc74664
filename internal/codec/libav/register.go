// Package libav provides codec backends on FFmpeg's libavcodec through
// go-astiav. It is compiled in with the "libav" build tag; without the tag
// Register adds nothing and the raw backend serves alone.
//
// Two backends are registered: "libav-hw" tries hardware encoders
// (nvenc, qsv, vaapi, v4l2m2m, rkmpp) and "libav" uses software codecs.
package libav

import "github.com/smazurov/hudrender/internal/codec"

// Register adds the libav backends to r when compiled in.
func Register(r *codec.Registry) {
	register(r)
}

// Enabled reports whether the libav backends are compiled in.
func Enabled() bool {
	return enabled
}
