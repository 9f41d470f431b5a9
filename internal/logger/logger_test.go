package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New(LevelDebug)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(LevelInfo)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestNewNone(t *testing.T) {
	l, err := New(LevelNone)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewInvalid(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)
	assert.Panics(t, func() { Must("loud") })
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "warn")
	l := FromEnv()
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	t.Setenv(EnvLevel, "bogus")
	assert.False(t, FromEnv().Core().Enabled(zapcore.ErrorLevel))
}
