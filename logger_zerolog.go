package socialauth

import (
	"fmt"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger adapts a zerolog logger to Logger.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger.With().Str("component", "socialauth").Logger()}
}

func (z *zerologLogger) Debug(format string, args ...any) {
	z.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (z *zerologLogger) Info(format string, args ...any) {
	z.logger.Info().Msg(fmt.Sprintf(format, args...))
}

func (z *zerologLogger) Error(format string, args ...any) {
	z.logger.Error().Msg(fmt.Sprintf(format, args...))
}
