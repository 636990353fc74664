package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/mp4"
)

// ErrStarvation reports a source that produced no frame at all.
var ErrStarvation = errors.New("source produced no frames")

// Error codes for pipeline failures.
const (
	ErrCodeInvalidJob       = "INVALID_JOB"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeStarvation       = "STARVATION"
	ErrCodeContainer        = "CONTAINER"
	ErrCodeCorruptData      = "CORRUPT_DATA"
	ErrCodeUnsupportedCodec = "UNSUPPORTED_CODEC"
	ErrCodeDecode           = "DECODE_FAILED"
	ErrCodeEncode           = "ENCODE_FAILED"
	ErrCodeCompositorInit   = "COMPOSITOR_INIT"
	ErrCodeOutput           = "OUTPUT_FAILED"
	ErrCodeInternal         = "INTERNAL"
)

// Error is the single terminal error of a pipeline run.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// classify wraps err in an *Error whose code reflects its taxonomy. Errors
// that already are *Error pass through.
func classify(message string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeCancelled
	case errors.Is(err, ErrStarvation):
		code = ErrCodeStarvation
	case errors.Is(err, codec.ErrUnsupportedCodec):
		code = ErrCodeUnsupportedCodec
	case errors.Is(err, compositor.ErrCompositorInit):
		code = ErrCodeCompositorInit
	case errors.Is(err, mp4.ErrContainer):
		code = ErrCodeContainer
	case errors.Is(err, mp4.ErrCorruptData):
		code = ErrCodeCorruptData
	case errors.Is(err, codec.ErrDecode):
		code = ErrCodeDecode
	case errors.Is(err, codec.ErrEncode), errors.Is(err, mp4.ErrTimestampOrder):
		code = ErrCodeEncode
	}
	return newError(code, message, err)
}

// Code returns the pipeline error code of err, or "" if err is not a
// pipeline error.
func Code(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
