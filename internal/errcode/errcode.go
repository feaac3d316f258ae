package errcode

import (
	"errors"
	"fmt"
)

const (
	CodeValidation         = "VALIDATION"
	CodeInvalidURL         = "INVALID_URL"
	CodeUnknownTab         = "UNKNOWN_TAB"
	CodeLastTab            = "LAST_TAB"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeCaptureTimeout     = "CAPTURE_TIMEOUT"
	CodeCDPError           = "CDP_ERROR"
	CodeSnapshotNotFound   = "SNAPSHOT_NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// New builds a CodedError. Cause may be nil.
func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	coded := AsCoded(err)
	return coded != nil && coded.Code == code
}

// AsCoded unwraps err to a CodedError, or nil.
func AsCoded(err error) *CodedError {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}
