// Package config holds the ptymux service configuration, loadable
// from a YAML file with struct-tag defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the websocket service bind address.
	ListenAddr string `yaml:"listen_addr" default:":7850"`

	// LogLevel is a logrus level name (debug, info, warn, error...).
	LogLevel string `yaml:"log_level" default:"info"`

	// WindowCols/WindowRows seed the window size before any control
	// client sets one.
	WindowCols uint32 `yaml:"window_cols" default:"80"`
	WindowRows uint32 `yaml:"window_rows" default:"24"`

	// MountDir, when set, mounts the client filesystem there.
	MountDir string `yaml:"mount_dir"`

	// Bridge, when set, attaches the server side to a fresh OS
	// pseudo-terminal and logs its device path.
	Bridge bool `yaml:"bridge"`
}

// Default returns a Config populated from the default tags.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}

// NewLogger creates a logger configured from LogLevel.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return NewLoggerAt(level), nil
}

// NewLoggerAt builds the service logger at the given level. All CLI
// entry points share this constructor so the format stays uniform.
func NewLoggerAt(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
