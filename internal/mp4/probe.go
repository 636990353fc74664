package mp4

import (
	"fmt"
	"io"
	"time"

	gomp4 "github.com/abema/go-mp4"
)

// TrackInfo summarizes one track of a probed file.
type TrackInfo struct {
	ID        uint32        `json:"id"`
	Timescale uint32        `json:"timescale"`
	Duration  time.Duration `json:"duration"`
	Samples   int           `json:"samples"`
	Codec     string        `json:"codec"`
}

// Info summarizes a probed file and its decodable video track.
type Info struct {
	MajorBrand string        `json:"major_brand"`
	FastStart  bool          `json:"fast_start"`
	Duration   time.Duration `json:"duration"`
	Tracks     []TrackInfo   `json:"tracks"`
	Video      VideoInfo     `json:"video"`
}

// VideoInfo describes the track the demuxer would select.
type VideoInfo struct {
	TrackID   uint32  `json:"track_id"`
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Timescale uint32  `json:"timescale"`
	Samples   int     `json:"samples"`
	KeyFrames int     `json:"key_frames"`
	ExtraData int     `json:"extra_data_bytes"`
	FrameRate float64 `json:"frame_rate"`
}

// Probe reads the container structure of r without decoding samples.
func Probe(r io.ReadSeeker) (*Info, error) {
	pi, err := gomp4.Probe(r)
	if err != nil {
		return nil, fmt.Errorf("%w: probe: %v", ErrContainer, err)
	}

	info := &Info{
		MajorBrand: string(pi.MajorBrand[:]),
		FastStart:  pi.FastStart,
	}
	if pi.Timescale != 0 {
		info.Duration = time.Duration(pi.Duration) * time.Second / time.Duration(pi.Timescale)
	}
	for _, t := range pi.Tracks {
		ti := TrackInfo{
			ID:        t.TrackID,
			Timescale: t.Timescale,
			Samples:   len(t.Samples),
			Codec:     probeCodecName(t.Codec),
		}
		if t.Timescale != 0 {
			ti.Duration = time.Duration(t.Duration) * time.Second / time.Duration(t.Timescale)
		}
		info.Tracks = append(info.Tracks, ti)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	boxes, err := gomp4.ExtractBox(r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov()})
	if err != nil {
		return nil, fmt.Errorf("%w: locate moov: %v", ErrContainer, err)
	}
	if len(boxes) == 0 {
		return nil, fmt.Errorf("%w: no moov box", ErrContainer)
	}
	moov := make([]byte, boxes[0].Size)
	if _, err := r.Seek(int64(boxes[0].Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek moov: %w", err)
	}
	if _, err := io.ReadFull(r, moov); err != nil {
		return nil, fmt.Errorf("%w: read moov: %v", ErrCorruptData, err)
	}

	track, err := parseMovie(moov)
	if err != nil {
		return nil, err
	}
	info.Video = VideoInfo{
		TrackID:   track.id,
		Codec:     track.config.Codec,
		Width:     track.config.CodedWidth,
		Height:    track.config.CodedHeight,
		Timescale: track.timescale,
		Samples:   len(track.samples),
		ExtraData: len(track.config.ExtraData),
	}
	var total int64
	for _, s := range track.samples {
		if s.key {
			info.Video.KeyFrames++
		}
		total += s.duration
	}
	if total > 0 {
		info.Video.FrameRate = float64(len(track.samples)) * float64(track.timescale) / float64(total)
	}
	return info, nil
}

func probeCodecName(c gomp4.Codec) string {
	switch c {
	case gomp4.CodecAVC1:
		return CodecAVC
	case gomp4.CodecMP4A:
		return "mp4a"
	default:
		return "unknown"
	}
}
