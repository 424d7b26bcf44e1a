package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	err := errors.New("boom")

	tests := []struct {
		name string
		args []any
		want []zap.Field
	}{
		{name: "empty", args: nil, want: nil},
		{name: "pair", args: []any{"order_id", "cs_123"}, want: []zap.Field{zap.String("order_id", "cs_123")}},
		{name: "lone error", args: []any{err}, want: []zap.Field{zap.Error(err)}},
		{name: "duration", args: []any{"delay", 5 * time.Second}, want: []zap.Field{zap.Duration("delay", 5*time.Second)}},
		{name: "unpaired", args: []any{"a", 1, "dangling"}, want: []zap.Field{zap.Int("a", 1), zap.Any("arg#2", "dangling")}},
		{name: "client secret redacted", args: []any{"client_secret", "s3cr3t"}, want: []zap.Field{zap.String("client_secret", redacted)}},
		{name: "bearer token redacted", args: []any{"access_token", "eyJ..."}, want: []zap.Field{zap.String("access_token", redacted)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toFields(tt.args...))
		})
	}
}

func TestLoggerWritesStructuredEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core)).WithName("ppsr").WithValues("order_id", "cs_1")

	l.Info("search submitted", "search_number", "S-1", "authorization", "Bearer abc")
	l.Error(errors.New("nope"), "download failed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ppsr", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "cs_1", ctx["order_id"])
	assert.Equal(t, "S-1", ctx["search_number"])
	assert.Equal(t, redacted, ctx["authorization"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "nope", entries[1].ContextMap()["error"])
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, NewOptions().Validate())

	err := (&Options{Level: "loud", Format: "xml"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
	assert.Contains(t, err.Error(), `log format "xml"`)

	_, err = New(&Options{Level: "info", Format: "yaml"})
	assert.Error(t, err)
}

func TestInitKeepsPreviousLoggerOnError(t *testing.T) {
	before := Std()
	require.Error(t, Init(&Options{Level: "nope", Format: "json"}))
	assert.Same(t, before, Std())
}
