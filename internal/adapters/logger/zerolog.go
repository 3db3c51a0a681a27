package logger

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZeroLogger implements the ports.Logger interface using zerolog, emitting
// structured JSON suitable for log shippers and the ML analysis side.
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger creates a JSON logger at the given level writing to w
// (os.Stderr when w is nil).
func NewZeroLogger(level LogLevel, w io.Writer) *ZeroLogger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &ZeroLogger{logger: zl}
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func withFields(ev *zerolog.Event, fields []map[string]interface{}) *zerolog.Event {
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	return ev
}

// Debug logs a message at Debug level.
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	withFields(l.logger.Debug(), fields).Msg(msg)
}

// Info logs a message at Info level.
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	withFields(l.logger.Info(), fields).Msg(msg)
}

// Warn logs a message at Warning level.
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	withFields(l.logger.Warn(), fields).Msg(msg)
}

// Error logs an error message at Error level.
func (l *ZeroLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	withFields(l.logger.Error().Err(err), fields).Msg(msg)
}
