package rlog

import (
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levels = []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

func (l Level) MarshalText() (text []byte, err error) {
	return []byte(l), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	v := Level(text)
	if !slices.Contains(levels, v) {
		return fmt.Errorf("valid values: %v", levels)
	}
	*l = v
	return nil
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var logger atomic.Pointer[zerolog.Logger]

func init() {
	SetLevel(LevelInfo)
}

// SetLevel replaces the package logger with one that writes messages of the passed
// level and above to stderr.
func SetLevel(level Level) {
	l := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}).
		Level(level.zerolog()).
		With().
		Timestamp().
		Logger()

	logger.Store(&l)
}

// GetLevel returns the current minimal level.
func GetLevel() Level {
	switch logger.Load().GetLevel() {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return LevelDebug
	case zerolog.WarnLevel:
		return LevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(v ...any)                 { logger.Load().Debug().Msg(fmt.Sprint(v...)) }
func Debugf(format string, v ...any) { logger.Load().Debug().Msgf(format, v...) }

func Info(v ...any)                 { logger.Load().Info().Msg(fmt.Sprint(v...)) }
func Infof(format string, v ...any) { logger.Load().Info().Msgf(format, v...) }

func Warn(v ...any)                 { logger.Load().Warn().Msg(fmt.Sprint(v...)) }
func Warnf(format string, v ...any) { logger.Load().Warn().Msgf(format, v...) }

func Error(v ...any)                 { logger.Load().Error().Msg(fmt.Sprint(v...)) }
func Errorf(format string, v ...any) { logger.Load().Error().Msgf(format, v...) }
