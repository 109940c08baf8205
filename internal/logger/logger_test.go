package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Modes(t *testing.T) {
	l, err := New("production", "info")
	require.NoError(t, err)
	assert.NotNil(t, l.SugaredLogger)

	l, err = New("dev", "")
	require.NoError(t, err)
	assert.NotNil(t, l.SugaredLogger)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("dev", "loud")
	assert.Error(t, err)
}

func TestWith_RedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("component", "llm").Info("client ready", "api_key", "abc123", "model", "gemini")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "gemini", fields["model"])
	assert.Equal(t, "llm", fields["component"])
}

func TestNop_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Error("ignored", "key", "value")
	})
}
