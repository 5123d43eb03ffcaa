package parallel

import (
	"errors"
	"fmt"
)

// ConfigError is returned for a pool configuration that cannot be applied.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "pool configuration: " + e.Reason }

// ErrAlreadyConfigured is returned when a different configuration is requested
// after the pool has been built.
var ErrAlreadyConfigured = &ConfigError{Reason: "pool already built with different parameters"}

// ErrPoolClosed is returned by Run after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// ErrPinUnsupported is reported per thread when the platform cannot pin threads.
var ErrPinUnsupported = errors.New("thread pinning not supported on this platform")

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a configuration error,
// including ErrAlreadyConfigured.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// PinError is a single thread's failure to pin to its requested core.
type PinError struct {
	Thread int
	Core   int
	Err    error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("pin thread %d to core %d: %v", e.Thread, e.Core, e.Err)
}

func (e *PinError) Unwrap() error { return e.Err }

// TaskPanic is the value re-raised on the submitting goroutine when a pool
// task panics. Stack is the worker's stack at the point of the panic.
type TaskPanic struct {
	Value any
	Stack []byte
}

func (p *TaskPanic) Error() string { return fmt.Sprintf("panic in pool task: %v", p.Value) }
