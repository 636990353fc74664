package mp4

import gomp4 "github.com/abema/go-mp4"

// Codec identifiers shared with the codec registry.
const (
	CodecAVC  = "avc"
	CodecHEVC = "hevc"
	CodecVP8  = "vp8"
	CodecVP9  = "vp9"
	CodecAV1  = "av1"
	CodecRaw  = "raw"
)

type sampleEntryKind struct {
	codec  string
	config gomp4.BoxType
}

var noConfig = gomp4.BoxType{}

// sampleEntries maps visual sample entry types to codec ids and the child box
// that carries their decoder configuration.
var sampleEntries = map[gomp4.BoxType]sampleEntryKind{
	gomp4.StrToBoxType("avc1"): {CodecAVC, gomp4.StrToBoxType("avcC")},
	gomp4.StrToBoxType("avc3"): {CodecAVC, gomp4.StrToBoxType("avcC")},
	gomp4.StrToBoxType("hvc1"): {CodecHEVC, gomp4.StrToBoxType("hvcC")},
	gomp4.StrToBoxType("hev1"): {CodecHEVC, gomp4.StrToBoxType("hvcC")},
	gomp4.StrToBoxType("vp08"): {CodecVP8, gomp4.StrToBoxType("vpcC")},
	gomp4.StrToBoxType("vp09"): {CodecVP9, gomp4.StrToBoxType("vpcC")},
	gomp4.StrToBoxType("av01"): {CodecAV1, gomp4.StrToBoxType("av1C")},
	gomp4.StrToBoxType("raw "): {CodecRaw, noConfig},
}

// entryForCodec returns the sample entry and configuration box types written
// for a codec id.
func entryForCodec(codec string) (entry, config gomp4.BoxType, ok bool) {
	switch codec {
	case CodecAVC:
		return gomp4.StrToBoxType("avc1"), gomp4.StrToBoxType("avcC"), true
	case CodecHEVC:
		return gomp4.StrToBoxType("hvc1"), gomp4.StrToBoxType("hvcC"), true
	case CodecVP8:
		return gomp4.StrToBoxType("vp08"), gomp4.StrToBoxType("vpcC"), true
	case CodecVP9:
		return gomp4.StrToBoxType("vp09"), gomp4.StrToBoxType("vpcC"), true
	case CodecAV1:
		return gomp4.StrToBoxType("av01"), gomp4.StrToBoxType("av1C"), true
	case CodecRaw:
		return gomp4.StrToBoxType("raw "), noConfig, true
	default:
		return gomp4.BoxType{}, gomp4.BoxType{}, false
	}
}
