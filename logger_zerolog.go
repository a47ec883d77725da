package libim

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger adapts a zerolog.Logger to the logging surface used across the package.
func NewZerologLogger(l zerolog.Logger) logger {
	return zerologLogger{l: l}
}

// NewConsoleLogger writes human readable records to w at the given level.
func NewConsoleLogger(w io.Writer, level zerolog.Level) logger {
	return NewZerologLogger(
		zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
			Level(level).
			With().
			Timestamp().
			Logger(),
	)
}

// NoopLogger discards everything.
func NoopLogger() logger {
	return NewZerologLogger(zerolog.Nop())
}

func (z zerologLogger) WithField(key string, value any) logger {
	return zerologLogger{l: z.l.With().Interface(key, value).Logger()}
}

func (z zerologLogger) Debug(args ...any) { z.l.Debug().Msg(fmt.Sprint(args...)) }
func (z zerologLogger) Debugf(format string, args ...any) {
	z.l.Debug().Msgf(format, args...)
}
func (z zerologLogger) Debugln(args ...any) { z.l.Debug().Msg(sprintln(args...)) }
func (z zerologLogger) Info(args ...any)    { z.l.Info().Msg(fmt.Sprint(args...)) }
func (z zerologLogger) Infof(format string, args ...any) {
	z.l.Info().Msgf(format, args...)
}
func (z zerologLogger) Infoln(args ...any) { z.l.Info().Msg(sprintln(args...)) }
func (z zerologLogger) Warn(args ...any)   { z.l.Warn().Msg(fmt.Sprint(args...)) }
func (z zerologLogger) Warnf(format string, args ...any) {
	z.l.Warn().Msgf(format, args...)
}
func (z zerologLogger) Warnln(args ...any) { z.l.Warn().Msg(sprintln(args...)) }
func (z zerologLogger) Error(args ...any)  { z.l.Error().Msg(fmt.Sprint(args...)) }
func (z zerologLogger) Errorf(format string, args ...any) {
	z.l.Error().Msgf(format, args...)
}
func (z zerologLogger) Errorln(args ...any) { z.l.Error().Msg(sprintln(args...)) }

func sprintln(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
