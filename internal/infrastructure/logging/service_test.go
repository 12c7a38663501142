package logging

import (
	"testing"

	"github.com/ecolens-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewService_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		svc, err := NewService(config.LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.NotNil(t, svc.Logger())
	}
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	s.Info("ignored")
	s.Warn("ignored")
	s.Error("ignored")
	assert.NoError(t, s.Sync())
	assert.NotNil(t, s.Logger())
}

func TestNamed_AddsComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(zap.New(core)).Named("otp")
	s.Info("hello")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, "otp", entry.ContextMap()["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}
