package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		shouldRedact bool
	}{
		{"api_key is redacted", "api_key", "secret123", true},
		{"password is redacted", "password", "mysecret", true},
		{"access_token is redacted", "access_token", "eyJhbGciOi", true},
		{"refresh_token is redacted", "refresh_token", "rt-value", true},
		{"refreshToken is redacted", "refreshToken", "rt-value", true},
		{"authorization is redacted", "authorization", "Bearer xyz", true},
		{"signing_key is redacted", "signing_key", "hs256-key", true},
		{"set-cookie is redacted", "set-cookie", "sid=abc", true},
		{"access_fp not redacted", "access_fp", "fp:1a2b3c4d", false},
		{"path not redacted", "path", "/api/profile", false},
		{"classification not redacted", "classification", "SoftAuthExpiry", false},
		{"error not redacted", "error", "something failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := observability.NewRedactingHandler(&buf, nil)
			logger := slog.New(handler)

			logger.Info("test", tt.key, tt.value)
			output := buf.String()

			if tt.shouldRedact {
				assert.Contains(t, output, "[REDACTED]", "expected %s to be redacted", tt.key)
				assert.NotContains(t, output, tt.value, "expected actual value to not appear for %s", tt.key)
			} else {
				assert.Contains(t, output, tt.value, "expected %s value to appear", tt.key)
				assert.NotContains(t, output, "[REDACTED]", "expected %s to not be redacted", tt.key)
			}
		})
	}
}

func TestRedactingHandler_TokenLogsFingerprint(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(observability.NewRedactingHandler(&buf, nil))
	tok := domain.Token("very-secret-access-token")

	logger.Info("rotated", "access_fp", tok)

	assert.NotContains(t, buf.String(), "very-secret-access-token")
	assert.Contains(t, buf.String(), "fp:"+tok.Fingerprint())
}

func TestRedactingHandler_AddsTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(observability.NewRedactingHandler(&buf, nil)).With("component", "test")

	logger.InfoContext(ctx, "with span")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, "test", record["component"])
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("writes service context to output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.InitLogger(observability.LogConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "sessionctl",
			Environment: "test",
			Output:      &buf,
		})

		logger.Info("hello")

		assert.Contains(t, buf.String(), `"service":"sessionctl"`)
		assert.Contains(t, buf.String(), `"environment":"test"`)
	})

	t.Run("respects log level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.InitLogger(observability.LogConfig{
			Level:  "error",
			Format: "text",
			Output: &buf,
		})

		logger.Info("dropped")
		logger.Error("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, observability.ParseLevel(tt.in))
		})
	}
}
