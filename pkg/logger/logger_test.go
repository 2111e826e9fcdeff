package logger

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskingHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewTextHandler(&buf, nil)))

	log.With(slog.String("token", "123:abc")).Info("hello",
		slog.String("dsn", "postgres://u:p@db/x"),
		slog.String("response_text", "I felt calm today"),
		slog.Group("req", slog.String("password", "hunter2")),
		slog.String("user_id", "42"),
	)

	out := buf.String()
	assert.NotContains(t, out, "123:abc")
	assert.NotContains(t, out, "u:p@db")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "felt calm")
	assert.Contains(t, out, "response_text=\"[17 chars]\"")
	assert.Contains(t, out, "user_id=42")
}

func TestMaskingHandler_KeySuffix(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewTextHandler(&buf, nil)))

	log.Info("config", slog.String("bot_token", "123:abc"), slog.String("tokens", "7"))

	assert.NotContains(t, buf.String(), "123:abc")
	assert.Contains(t, buf.String(), "tokens=7")
}

func TestMaskingHandler_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithCorrelationID(context.Background(), "corr-1")
	log.InfoContext(ctx, "tick")

	assert.Contains(t, buf.String(), "correlation_id=corr-1")
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationHeader, "given")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "given", seen)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
