package jobs

import "fmt"

// Error represents a job manager error.
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

// Error codes.
const (
	ErrCodeNotFound       = "JOB_NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotComplete    = "JOB_NOT_COMPLETE"
	ErrCodeFinished       = "JOB_FINISHED"
	ErrCodeShuttingDown   = "SHUTTING_DOWN"
)

// NewError creates a new job error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
