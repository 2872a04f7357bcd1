package logging

import (
	"path/filepath"
	"testing"

	"github.com/septivank/pawtelligent-feeder/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerFromConfig_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeder.log")

	logger, err := NewLoggerFromConfig("test", config.LogConfig{
		Level:      "debug",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	require.NoError(t, err)

	logger.Info("hello", zap.String("k", "v"))
	_ = logger.Sync()

	assert.FileExists(t, path)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerFromConfig_BadLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLoggerFromConfig("test", config.LogConfig{Level: "loud"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
