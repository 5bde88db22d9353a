// Package observability provides structured logging for tvinput.
package observability

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/tvinput/internal/config"
)

// LevelTrace is below debug and is used for per-event engine and worker
// logging.
const LevelTrace = slog.Level(-8)

// redactedValue replaces sensitive values in log output.
const redactedValue = "[REDACTED]"

// sensitiveFields are attribute keys whose values are always redacted.
var sensitiveFields = []string{
	"password", "Password", "passwd",
	"secret", "Secret",
	"token", "Token",
	"apikey", "ApiKey", "api_key",
	"credential", "Credential",
	"authorization", "Authorization",
	"cookie", "Cookie",
}

// sensitiveQueryParam matches credential-like query parameters inside URLs,
// including feed locators with |Header=Value suffixes.
var sensitiveQueryParam = regexp.MustCompile(`(?i)([?&](?:password|passwd|pwd|token|apikey|api_key|secret|credential)=)[^&|\s"]*`)

// NewLoggerWithWriter builds the application logger writing to w. Sensitive
// attributes are redacted and levels below debug print as TRACE.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	redact := newRedactor()

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if cfg.TimeFormat != "" {
						if t, ok := a.Value.Any().(time.Time); ok {
							return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
						}
					}
					return a
				case slog.LevelKey:
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				case slog.MessageKey, slog.SourceKey:
					return a
				}
			}
			return redact(groups, a)
		},
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newRedactor builds the attribute redactor: credential query parameters
// inside string values are masked in place, then masq drops sensitive
// fields entirely.
func newRedactor() func(groups []string, a slog.Attr) slog.Attr {
	opts := []masq.Option{masq.WithRedactMessage(redactedValue)}
	for _, name := range sensitiveFields {
		opts = append(opts, masq.WithFieldName(name))
	}
	// Header maps logged from locators use X- prefixed auth headers
	opts = append(opts, masq.WithFieldPrefix("X-Auth"))
	filter := masq.New(opts...)

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() == slog.KindString {
			if v := a.Value.String(); sensitiveQueryParam.MatchString(v) {
				a = slog.String(a.Key, sensitiveQueryParam.ReplaceAllString(v, "${1}"+redactedValue))
			}
		}
		return filter(groups, a)
	}
}

var levels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// parseLevel maps a configured level name to a slog.Level. Unknown names
// mean info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[level]; ok {
		return l
	}
	return slog.LevelInfo
}

// WithRequestID tags the logger with an HTTP request ID.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithCorrelationID tags the logger with the ID of a background run.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(slog.String("correlation_id", correlationID))
}

// WithApp tags the logger with the application name and version.
func WithApp(logger *slog.Logger, name, version string) *slog.Logger {
	return logger.With(slog.String("app", name), slog.String("version", version))
}

// WithComponent tags the logger with the subsystem writing through it.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation tags the logger with a one-off operation name.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError attaches err. A nil err leaves the logger unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start of an operation and returns a
// function that logs its completion or failure. errPtr is read when the
// returned function runs, so errors assigned later are reported.
//
// Usage:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "full_sync", &err)
//	defer done()
//	err = doSomething()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
		} else {
			logger.InfoContext(ctx, "operation completed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
			)
		}
	}
}
