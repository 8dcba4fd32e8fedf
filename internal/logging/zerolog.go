package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts zerolog to the Logger interface. Output is a
// human-readable timestamped line per event, which is what the sync run
// expects from its log sink.
type ZerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger builds a console-style logger writing to w. When debug is
// false, Debug events are dropped.
func NewZerologLogger(w io.Writer, debug bool) *ZerologLogger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}
	return &ZerologLogger{l: zerolog.New(cw).Level(level).With().Timestamp().Logger()}
}

func (z *ZerologLogger) Debug(msg string, args ...any) { z.l.Debug().Fields(args).Msg(msg) }
func (z *ZerologLogger) Info(msg string, args ...any)  { z.l.Info().Fields(args).Msg(msg) }
func (z *ZerologLogger) Warn(msg string, args ...any)  { z.l.Warn().Fields(args).Msg(msg) }
func (z *ZerologLogger) Error(msg string, args ...any) { z.l.Error().Fields(args).Msg(msg) }

func (z *ZerologLogger) With(args ...any) Logger {
	return &ZerologLogger{l: z.l.With().Fields(args).Logger()}
}

func init() {
	zerolog.DurationFieldUnit = time.Second
}
