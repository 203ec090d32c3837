// Package exception provides the error type shared by every stage of the emissions pipeline.
// Errors are classified by Kind so that the job history and the logs can tell an unreachable
// store apart from a failed verification.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies a BatchError.
type Kind int

const (
	// KindUnknown is the zero value, used for errors that were never classified.
	KindUnknown Kind = iota
	// KindIO covers an unreachable store and remote files that are missing or unreadable.
	KindIO
	// KindDataQuality covers verification counts that should be zero but are not.
	KindDataQuality
	// KindQuery covers SQL syntax errors and schema mismatches, including missing input tables.
	KindQuery
	// KindConfig covers invalid configuration values.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindDataQuality:
		return "DATA_QUALITY"
	case KindQuery:
		return "QUERY"
	case KindConfig:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// BatchError is the error returned by tasklets and infrastructure components.
// It holds the module where the error occurred, its kind, a message and the wrapped cause.
type BatchError struct {
	// Module indicates where the error occurred (e.g., "loader", "cleaner", "store", "config").
	Module string
	// Kind classifies the failure.
	Kind Kind
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
// module: The module where the error occurred.
// kind: The classification of the error.
// message: The error message.
// originalErr: The original error to wrap, may be nil.
func NewBatchError(module string, kind Kind, message string, originalErr error) *BatchError {
	return &BatchError{
		Module:      module,
		Kind:        kind,
		Message:     message,
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a new BatchError using a format string.
// If the last argument is an error, it is extracted as the wrapped cause
// and the remaining arguments are used for fmt.Sprintf.
//
// Example:
// NewBatchErrorf("loader", KindIO, "failed to fetch %s", url, err)
// -> message: "failed to fetch <url>", originalErr: err
func NewBatchErrorf(module string, kind Kind, format string, a ...interface{}) *BatchError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return &BatchError{
		Module:      module,
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// KindOf returns the Kind of the outermost BatchError in err's chain.
// It returns KindUnknown when err is nil or carries no BatchError.
func KindOf(err error) Kind {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsKind reports whether any BatchError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var be *BatchError
		if !errors.As(err, &be) {
			return false
		}
		if be.Kind == kind {
			return true
		}
		err = be.OriginalErr
	}
	return false
}

// ExtractErrorMessage returns the message of the outermost BatchError,
// or err.Error() for any other error.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
