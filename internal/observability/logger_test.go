package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvinput/internal/config"
)

func newTestLogger(level, format string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: format}, &buf), &buf
}

func TestNewLogger_Formats(t *testing.T) {
	logger, buf := newTestLogger("info", "json")
	logger.Info("tuned", slog.String("channel_uri", "content://tvinput/channel/7"))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "tuned", parsed["msg"])
	assert.Equal(t, "content://tvinput/channel/7", parsed["channel_uri"])

	logger, buf = newTestLogger("info", "text")
	logger.Info("tuned", slog.String("state", "resolving"))
	assert.Contains(t, buf.String(), "state=resolving")

	logger, buf = newTestLogger("info", "yaml")
	logger.Info("fallback format")
	assert.True(t, json.Valid(buf.Bytes()), "unknown formats fall back to JSON")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"trace", LevelTrace, true},
		{"debug", LevelTrace, false},
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"error", slog.LevelWarn, false},
		{"error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.configLevel+"/"+tt.logLevel.String(), func(t *testing.T) {
			logger, buf := newTestLogger(tt.configLevel, "json")
			logger.Log(context.Background(), tt.logLevel, "probe")
			if tt.shouldLog {
				assert.Contains(t, buf.String(), "probe")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	logger, buf := newTestLogger("trace", "json")
	logger.Log(context.Background(), LevelTrace, "worker task ran")

	assert.Contains(t, buf.String(), `"level":"TRACE"`)
	assert.NotContains(t, buf.String(), "DEBUG-4")
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", TimeFormat: time.DateOnly}
	NewLoggerWithWriter(cfg, &buf).Info("dated")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	_, err := time.Parse(time.DateOnly, parsed["time"].(string))
	assert.NoError(t, err)
}

func TestNewLogger_AddSource(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", AddSource: true}
	NewLoggerWithWriter(cfg, &buf).Info("with source")
	assert.Contains(t, buf.String(), `"source"`)
}

func TestWithHelpers(t *testing.T) {
	logger, buf := newTestLogger("info", "json")

	enriched := WithError(
		WithOperation(
			WithComponent(
				WithApp(logger, "tvinput", "1.2.3"),
				"session",
			),
			"tune",
		),
		errors.New("directory unavailable"),
	)
	enriched.Info("chained")

	out := buf.String()
	assert.Contains(t, out, `"app":"tvinput"`)
	assert.Contains(t, out, `"version":"1.2.3"`)
	assert.Contains(t, out, `"component":"session"`)
	assert.Contains(t, out, `"operation":"tune"`)
	assert.Contains(t, out, `"error":"directory unavailable"`)

	assert.Same(t, logger, WithError(logger, nil))
}

func TestWithRequestAndCorrelationID(t *testing.T) {
	logger, buf := newTestLogger("info", "json")
	WithCorrelationID(WithRequestID(logger, "req-1"), "sync-9").Info("ids")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"correlation_id":"sync-9"`)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, slog.Default(), LoggerFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(ctx))

	logger, _ := newTestLogger("info", "json")
	ctx = ContextWithLogger(ctx, logger)
	ctx = ContextWithRequestID(ctx, "req-2")
	ctx = ContextWithCorrelationID(ctx, "sync-3")

	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Equal(t, "req-2", RequestIDFromContext(ctx))
	assert.Equal(t, "sync-3", CorrelationIDFromContext(ctx))
}

func TestTimedOperationWithError(t *testing.T) {
	logger, buf := newTestLogger("info", "json")

	var err error
	done := TimedOperationWithError(context.Background(), logger, "full_sync", &err)
	done()
	assert.Contains(t, buf.String(), "operation completed")

	buf.Reset()
	done = TimedOperationWithError(context.Background(), logger, "full_sync", &err)
	err = errors.New("feed returned 503")
	done()
	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), "feed returned 503")
}

func TestSensitiveFieldRedaction(t *testing.T) {
	for _, field := range []string{"password", "Password", "token", "api_key", "ApiKey", "credential", "Authorization"} {
		t.Run(field, func(t *testing.T) {
			logger, buf := newTestLogger("info", "json")
			logger.Info("fetch", slog.String(field, "s3cr3t-value"))

			assert.NotContains(t, buf.String(), "s3cr3t-value")
			assert.Contains(t, buf.String(), redactedValue)
		})
	}
}

func TestSensitiveFieldRedaction_Group(t *testing.T) {
	logger, buf := newTestLogger("info", "json")
	logger.Info("feed",
		slog.Group("auth",
			slog.String("username", "viewer"),
			slog.String("password", "hunter2"),
		),
	)

	assert.Contains(t, buf.String(), "viewer")
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestURLParameterRedaction(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		secret    string
		paramName string
	}{
		{"xtream style playlist", "http://example.com/get.php?username=viewer&password=hunter2&type=m3u_plus", "hunter2", "password"},
		{"token", "http://cdn.example.com/live/51.m3u8?token=abc123xyz", "abc123xyz", "token"},
		{"upper case", "http://example.com/api?PASSWORD=MySecret&user=test", "MySecret", "PASSWORD"},
		{"locator with headers", "http://example.com/51.ts?apikey=ak_1|User-Agent=VLC", "ak_1", "apikey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger("info", "json")
			logger.Info("fetching feed", slog.String("url", tt.url))

			out := buf.String()
			assert.NotContains(t, out, tt.secret)
			assert.Contains(t, out, tt.paramName+"="+redactedValue)
		})
	}
}

func TestURLParameterRedaction_PreservesNonSensitiveURL(t *testing.T) {
	logger, buf := newTestLogger("info", "json")
	logger.Info("fetching feed", slog.String("url", "http://example.com/guide.xml?username=john&days=2"))

	assert.Contains(t, buf.String(), "username=john")
	assert.Contains(t, buf.String(), "days=2")
	assert.NotContains(t, buf.String(), redactedValue)
}
