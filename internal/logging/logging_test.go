package logging

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	customerrors "github.com/actual-software/chat-relay/internal/errors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json info", level: "info", format: FormatJSON},
		{name: "console debug", level: "debug", format: FormatConsole},
		{name: "default format", level: "warn"},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New("chat-test", tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestWithError(t *testing.T) {
	assert.Empty(t, WithError(nil))

	plain := fieldMap(WithError(errors.New("boom")))
	assert.Equal(t, "boom", plain["error"])
	assert.NotContains(t, plain, "error_type")

	typed := fieldMap(WithError(customerrors.NewProtocolError("unknown flag").
		WithComponent("router").
		WithOperation("route").
		WithContext("flag", 6)))
	assert.Equal(t, "PROTOCOL", typed["error_type"])
	assert.Equal(t, "router", typed["component"])
	assert.Equal(t, "route", typed["operation"])
	assert.NotContains(t, typed, "stack_trace")

	fatal := fieldMap(WithError(customerrors.NewFatalError("send", errors.New("reset"))))
	assert.Contains(t, fatal, "stack_trace")
}

func TestLogError_LevelByType(t *testing.T) {
	tests := []struct {
		err   error
		level zapcore.Level
	}{
		{err: customerrors.New(customerrors.TypePeerClosed, "gone"), level: zapcore.InfoLevel},
		{err: customerrors.NewProtocolError("bad"), level: zapcore.WarnLevel},
		{err: customerrors.New(customerrors.TypeValidation, "bad"), level: zapcore.WarnLevel},
		{err: customerrors.NewFatalError("send", nil), level: zapcore.ErrorLevel},
		{err: errors.New("plain"), level: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		core, logs := observer.New(zapcore.DebugLevel)
		LogError(zap.New(core), "failure", tt.err, zap.Int("fd", 4))

		entries := logs.All()
		require.Len(t, entries, 1)
		assert.Equal(t, tt.level, entries[0].Level, tt.err.Error())
		assert.Equal(t, int64(4), entries[0].ContextMap()["fd"])
	}
}

func TestNewConnID(t *testing.T) {
	a, b := NewConnID(), NewConnID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func fieldMap(fields []zap.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	return enc.Fields
}
