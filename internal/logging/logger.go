// Package logging wraps zerolog for the CLI and the library packages.
// Library code takes a *Logger and falls back to Nop when given nil.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rescale/rescale-drive/internal/events"
)

// Output modes accepted by NewLogger.
const (
	ModeCLI  = "cli"
	ModeJSON = "json"
	ModeNop  = "nop"
)

const consoleTimeFormat = "15:04:05"

type Logger struct {
	zlog   zerolog.Logger
	mode   string
	bus    *events.EventBus
	output io.Writer
}

// NewLogger writes to stderr, so stdout stays free for listings and
// previews. ModeCLI formats lines for people, ModeJSON leaves them as
// zerolog JSON. When bus is non-nil, warnings and errors are also
// published as LogEvents.
func NewLogger(mode string, bus *events.EventBus) *Logger {
	l := &Logger{mode: mode, bus: bus}
	if mode == ModeNop {
		l.output = io.Discard
		l.zlog = zerolog.Nop()
		return l
	}
	l.SetOutput(os.Stderr)
	return l
}

func NewDefaultCLILogger() *Logger {
	return NewLogger(ModeCLI, nil)
}

// Nop discards everything.
func Nop() *Logger {
	return NewLogger(ModeNop, nil)
}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// SetOutput redirects the logger, e.g. above a progress bar. The writer is
// wrapped in a console formatter unless the logger is in JSON mode.
func (l *Logger) SetOutput(w io.Writer) {
	if l.mode == ModeNop {
		return
	}
	if l.mode != ModeJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	l.output = w

	zl := zerolog.New(w).With().Timestamp().Logger()
	if l.bus != nil {
		zl = zl.Hook(mirrorHook{bus: l.bus})
	}
	l.zlog = zl
}

// Output is the writer currently in use, console wrapper included.
func (l *Logger) Output() io.Writer {
	return l.output
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

type mirrorHook struct {
	bus *events.EventBus
}

func (h mirrorHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		h.bus.PublishLog(events.WarnLevel, msg, "", nil)
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		h.bus.PublishLog(events.ErrorLevel, msg, "", nil)
	}
}

func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat})
}
