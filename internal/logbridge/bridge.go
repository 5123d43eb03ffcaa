// Package logbridge forwards engine log records into a zerolog logger.
//
// Install subscribes once per process; later calls are ignored so a second
// host cannot steal the stream. Records are written synchronously on the
// goroutine that emitted them. When that goroutine is a pool worker and the
// sink is slow, wrap the sink writer with NonBlocking so the worker never
// waits on I/O.
package logbridge

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"go.uber.org/multierr"

	"meshd/internal/engine"
)

var (
	once      sync.Once
	installed atomic.Bool

	mu      sync.Mutex
	writers []diode.Writer
)

// Install routes engine records to host. It reports whether this call did
// the installation.
func Install(host zerolog.Logger) bool {
	did := false
	once.Do(func() {
		engine.SetLogSink(Forwarder(host))
		installed.Store(true)
		did = true
	})
	return did
}

// Installed reports whether Install has run.
func Installed() bool { return installed.Load() }

// Forwarder returns the sink Install uses. The record target becomes the
// "target" field; the message is passed through unchanged.
func Forwarder(host zerolog.Logger) engine.Sink {
	return func(r engine.Record) {
		host.WithLevel(Level(r.Level)).Str("target", r.Target).Msg(r.Message)
	}
}

// Level maps an engine level onto zerolog. The mapping is one-to-one and
// order preserving.
func Level(l engine.Level) zerolog.Level {
	switch l {
	case engine.LevelTrace:
		return zerolog.TraceLevel
	case engine.LevelDebug:
		return zerolog.DebugLevel
	case engine.LevelInfo:
		return zerolog.InfoLevel
	case engine.LevelWarn:
		return zerolog.WarnLevel
	case engine.LevelError:
		return zerolog.ErrorLevel
	}
	if l < engine.LevelTrace {
		return zerolog.TraceLevel
	}
	return zerolog.ErrorLevel
}

// NonBlocking wraps w in a lock-free ring buffer of size entries drained by
// a background goroutine. When the ring is full, the oldest entries are
// dropped and the count is reported on stderr. Shutdown drains and closes
// every writer created here.
func NonBlocking(w io.Writer, size int) io.Writer {
	if size <= 0 {
		size = 1000
	}
	dw := diode.NewWriter(w, size, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logbridge: dropped %d log messages\n", missed)
	})
	mu.Lock()
	writers = append(writers, dw)
	mu.Unlock()
	return dw
}

// Shutdown flushes and closes the writers created by NonBlocking.
func Shutdown() error {
	mu.Lock()
	ws := writers
	writers = nil
	mu.Unlock()
	var err error
	for _, w := range ws {
		err = multierr.Append(err, w.Close())
	}
	return err
}
