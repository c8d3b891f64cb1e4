package asyncredis

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/bordbe/async-redis/iface"
)

type (
	// Logger is an interface to the logger the client writes to.
	Logger = iface.Logger

	zerologLogger struct {
		logger zerolog.Logger
	}

	nilLogger struct{}
)

// NewDefaultLogger creates a logger writing INFO and above to stderr.
func NewDefaultLogger() Logger {
	return NewZerologLogger(
		zerolog.New(os.Stderr).
			Level(zerolog.InfoLevel).
			With().
			Timestamp().
			Str("component", "asyncredis").
			Logger(),
	)
}

// NewZerologLogger adapts an existing zerolog logger.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

// NewNilLogger creates a logger that discards every message.
func NewNilLogger() Logger {
	return &nilLogger{}
}

func (l *zerologLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *zerologLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *nilLogger) Debugf(format string, args ...interface{})   {}
func (l *nilLogger) Infof(format string, args ...interface{})    {}
func (l *nilLogger) Warningf(format string, args ...interface{}) {}
func (l *nilLogger) Errorf(format string, args ...interface{})   {}
