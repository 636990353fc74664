package mp4

import "errors"

var (
	// ErrContainer reports input that is not a usable ISO-BMFF file,
	// such as a missing moov box or no video track.
	ErrContainer = errors.New("container error")

	// ErrCorruptData reports box or sample data that failed to parse.
	ErrCorruptData = errors.New("corrupt data")

	// ErrTimestampOrder reports a muxer input that is not strictly increasing.
	ErrTimestampOrder = errors.New("timestamps not strictly increasing")

	// ErrFinalized reports use of a muxer after Finalize or Discard.
	ErrFinalized = errors.New("muxer already finalized")
)
