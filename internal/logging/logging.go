package logging

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type contextKeyLogger struct{}

const (
	FormatJSON = "json"
	FormatText = "text"
)

func init() {
	logrus.SetFormatter(newFormatter(FormatJSON))
}

// Configure sets the global level and output format. Empty arguments fall
// back to LOG_LEVEL and LOG_FORMAT, then to info and json.
func Configure(level, format string) error {
	if err := loadLevel(level); err != nil {
		return err
	}
	return loadFormat(format)
}

func loadLevel(logLevel string) error {
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel == "" {
		logLevel = logrus.InfoLevel.String()
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		allLevels := make([]string, 0, len(logrus.AllLevels))
		for _, l := range logrus.AllLevels {
			allLevels = append(allLevels, l.String())
		}
		logrus.SetLevel(logrus.InfoLevel)
		return fmt.Errorf("invalid log level '%s', must be one of [%s]", logLevel, strings.Join(allLevels, ", "))
	}
	logrus.SetLevel(level)
	return nil
}

func loadFormat(format string) error {
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if format == "" {
		format = FormatJSON
	}
	f := newFormatter(format)
	if f == nil {
		logrus.SetFormatter(newFormatter(FormatJSON))
		return fmt.Errorf("invalid log format '%s', must be one of [%s, %s]", format, FormatJSON, FormatText)
	}
	logrus.SetFormatter(f)
	return nil
}

func newFormatter(format string) logrus.Formatter {
	switch format {
	case FormatJSON:
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	case FormatText:
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano}
	default:
		return nil
	}
}

func FromRequest(r *http.Request) logrus.FieldLogger {
	return FromContext(r.Context())
}

func FromContext(ctx context.Context) logrus.FieldLogger {
	if l := ctx.Value(contextKeyLogger{}); l != nil {
		if logger, ok := l.(logrus.FieldLogger); ok {
			return logger
		}
	}
	return logrus.StandardLogger()
}

func IntoRequest(r *http.Request, logger logrus.FieldLogger) *http.Request {
	return r.WithContext(IntoContext(r.Context(), logger))
}

func IntoContext(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, contextKeyLogger{}, logger)
}
