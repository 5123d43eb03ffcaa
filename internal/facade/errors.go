package facade

import (
	"errors"
	"fmt"
)

// nativeError is a failure reported by the engine. The diagnostic is kept
// verbatim; the facade never retries.
type nativeError struct {
	op  string
	err error
}

func (e nativeError) Error() string { return e.op + ": " + e.err.Error() }
func (e nativeError) Unwrap() error { return e.err }

// IsNativeFailure reports whether err is a failure returned by the engine.
func IsNativeFailure(err error) bool {
	var ne nativeError
	return errors.As(err, &ne)
}

// FatalFault is returned when a native call panicked. The mesh handle the
// call was operating on is invalid afterwards.
type FatalFault struct {
	Op    string
	Value any
	Stack []byte
}

func (e *FatalFault) Error() string {
	return fmt.Sprintf("fatal native fault in %s: %v", e.Op, e.Value)
}

// IsFatalFault reports whether err is a FatalFault.
func IsFatalFault(err error) bool {
	var ff *FatalFault
	return errors.As(err, &ff)
}

// handleInvalidError is returned for calls on a poisoned or closed handle.
type handleInvalidError struct{ reason string }

func (e handleInvalidError) Error() string { return "mesh handle invalid: " + e.reason }

// IsHandleInvalid reports whether err was caused by using a poisoned or
// closed mesh handle.
func IsHandleInvalid(err error) bool {
	var he handleInvalidError
	return errors.As(err, &he)
}

var (
	errPoisoned = handleInvalidError{reason: "a previous native call faulted"}
	errClosed   = handleInvalidError{reason: "closed"}
)
