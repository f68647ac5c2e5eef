package runnable

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/xerrors"
)

// NewLogger builds the process logger. GO_LOG sets the level, and debug
// switches the JSON handler for a text one.
func NewLogger(debug bool) (*slog.Logger, error) {
	return newLogger(os.Stderr, os.Getenv("GO_LOG"), debug)
}

func newLogger(w io.Writer, level string, debug bool) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	}
	if debug {
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
}
