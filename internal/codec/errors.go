package codec

import "errors"

var (
	// ErrUnsupportedCodec reports that no backend accepted a configuration.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrInvalidState reports a call that is not valid in the current state.
	ErrInvalidState = errors.New("invalid codec state")

	// ErrDecode reports a chunk the decode primitive could not decode.
	ErrDecode = errors.New("decode error")

	// ErrEncode reports a frame the encode primitive rejected.
	ErrEncode = errors.New("encode error")
)
