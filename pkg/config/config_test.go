package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, ":7850", c.ListenAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, uint32(80), c.WindowCols)
	assert.Equal(t, uint32(24), c.WindowRows)
	assert.Empty(t, c.MountDir)
	assert.False(t, c.Bridge)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptymux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "127.0.0.1:9000"
log_level: debug
window_cols: 132
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", c.ListenAddr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, uint32(132), c.WindowCols)
	// Untouched keys keep their defaults.
	assert.Equal(t, uint32(24), c.WindowRows)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/ptymux.yaml")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	c := Default()
	c.LogLevel = "warn"
	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	c.LogLevel = "shouting"
	_, err = c.NewLogger()
	assert.Error(t, err)
}

func TestNewLoggerAt(t *testing.T) {
	logger := NewLoggerAt(logrus.DebugLevel)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.FullTimestamp)
}
