package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func Init(level string, pretty bool) {
	// Parse log level
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stderr
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(output).
		With().
		Timestamp().
		Logger()
}

func Get() *zerolog.Logger {
	return &log
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func WithTask(taskID int) zerolog.Logger {
	return log.With().Int("task_id", taskID).Logger()
}

func WithSession(sessionID string) zerolog.Logger {
	return log.With().Str("session_id", sessionID).Logger()
}

// Convenience methods
func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
