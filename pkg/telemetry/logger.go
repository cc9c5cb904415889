package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the field helpers uvfleet instrumentation
// leans on (run, minion, user, tool).
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

// NewLogger builds a logger from the configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	writer, err := logWriter(cfg.Output)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	builder := zerolog.New(writer).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		builder = builder.Caller()
	}
	return &Logger{zlog: builder.Logger()}, nil
}

// logWriter resolves the configured output to a writer. Anything other
// than stdout or stderr is treated as a file path and appended to.
func logWriter(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	}
}

// Zerolog exposes the underlying zerolog logger for packages that take
// one directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// NewComponentLogger returns a child logger tagged with a component name.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// WithContext stores the logger in the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context, falling back to a
// plain stdout logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

// WithField returns a logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithRunID tags entries with a run id.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithMinionID tags entries with the managed machine's id.
func (l *Logger) WithMinionID(minionID string) *Logger {
	return l.WithField("minion_id", minionID)
}

// WithUser tags entries with the managed user.
func (l *Logger) WithUser(user string) *Logger {
	return l.WithField("user", user)
}

// WithTool tags entries with a tool and its version spec.
func (l *Logger) WithTool(name, versionSpec string) *Logger {
	return &Logger{zlog: l.zlog.With().
		Str("tool", name).
		Str("version_spec", versionSpec).
		Logger()}
}

// WithError attaches an error to subsequent entries.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

// Info logs at info level.
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

// Error logs at error level.
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
