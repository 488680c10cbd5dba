package gcheap

import (
	"io"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is this module's structured logger type, aliasing the teacher's
// generic logiface.Logger instantiated over izerolog's zerolog-backed
// Event. Call sites use the same builder chain the teacher's own tests use:
// logger.Info().Field("reason", reason).Log("gc cycle complete").
type Logger = logiface.Logger[*izerolog.Event]

// NewZerologLogger constructs a Logger writing JSON records to w via
// zerolog, at the given minimum level.
func NewZerologLogger(w io.Writer, level logiface.Level) *Logger {
	return izerolog.L.New(
		izerolog.L.WithZerolog(zerolog.New(w)),
		izerolog.L.WithLevel(level),
	)
}

// discardLogger is used when Config.Logger is nil, so every call site can
// unconditionally hold a non-nil *Logger.
func discardLogger() *Logger {
	return izerolog.L.New(izerolog.L.WithZerolog(zerolog.New(io.Discard)))
}
