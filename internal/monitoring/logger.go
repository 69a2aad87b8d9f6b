package monitoring

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// Logf is the package-level diagnostic logger. It defaults to the zerolog
// console logger but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	l := base.Load()
	l.Info().Msg(fmt.Sprintf(format, v...))
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput points the structured logger at w and restores Logf to it.
func SetOutput(w io.Writer) {
	l := zerolog.New(w).With().Timestamp().Logger()
	base.Store(&l)
	Logf = defaultLogf
}

// SetLevel filters the structured logger. Unknown names are rejected.
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	l := base.Load().Level(lvl)
	base.Store(&l)
	return nil
}

// Logger returns the structured logger used for request and event logs.
func Logger() *zerolog.Logger {
	return base.Load()
}
