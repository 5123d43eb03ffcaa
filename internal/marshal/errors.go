package marshal

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a validation failure.
type Kind string

const (
	KindTypeMismatch  Kind = "type_mismatch"
	KindRankMismatch  Kind = "rank_mismatch"
	KindShapeMismatch Kind = "shape_mismatch"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindInvalidData   Kind = "invalid_data"
)

// Error is returned for any input rejected before it reaches the engine.
// The caller can always fix the inputs and try again.
type Error struct {
	Kind   Kind
	Arg    string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[validate] ")
	b.WriteString(string(e.Kind))
	if e.Arg != "" {
		b.WriteString(" at ")
		b.WriteString(e.Arg)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// IsValidation reports whether err is (or wraps) a marshaling validation error.
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// KindOf returns the validation kind of err, or "" if err is not a validation error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, arg, format string, args ...any) *Error {
	return &Error{Kind: kind, Arg: arg, Detail: fmt.Sprintf(format, args...)}
}

// Errorf builds a validation error for checks made outside this package,
// such as argument ranges that depend on a mesh.
func Errorf(kind Kind, arg, format string, args ...any) error {
	return newError(kind, arg, format, args...)
}
