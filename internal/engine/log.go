package engine

import (
	"fmt"
	"sync/atomic"
)

// Level is the engine's log severity, ordered from most to least verbose.
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int8(l))
}

// Record is one engine log event.
type Record struct {
	Level   Level
	Target  string
	Message string
}

// Sink receives records synchronously on the emitting goroutine.
type Sink func(Record)

var sink atomic.Pointer[Sink]

// SetLogSink installs s as the destination for engine records. A nil s
// discards them.
func SetLogSink(s Sink) {
	if s == nil {
		sink.Store(nil)
		return
	}
	sink.Store(&s)
}

// Emit forwards one record to the installed sink, if any.
func Emit(level Level, target, msg string) {
	if s := sink.Load(); s != nil {
		(*s)(Record{Level: level, Target: target, Message: msg})
	}
}

func logf(level Level, target, format string, args ...any) {
	if sink.Load() == nil {
		return
	}
	Emit(level, target, fmt.Sprintf(format, args...))
}
