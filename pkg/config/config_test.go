package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "S1", cfg.Device.NamePrefix)
	assert.Equal(t, uint16(128), cfg.Device.MaxMTU)
	assert.Equal(t, 1069, cfg.Device.RingCapacity)
	assert.Equal(t, 15*time.Millisecond, cfg.Link.ConnInterval)
	assert.Equal(t, 20*time.Millisecond, cfg.Link.AdvInterval)
	assert.Equal(t, uint16(3), cfg.Link.SlaveLatency)
	assert.Equal(t, 2*time.Second, cfg.Link.SupervisionTimeout)
	assert.Equal(t, 1, cfg.Link.HVNQueueDepth)
	assert.Equal(t, 4096, cfg.Terminal.ReadCap)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
device:
  name_prefix: S1
  max_mtu: 64
link:
  hvn_queue_depth: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint16(64), cfg.Device.MaxMTU)
	assert.Equal(t, 4, cfg.Link.HVNQueueDepth)

	// Untouched fields keep their defaults.
	assert.Equal(t, 1069, cfg.Device.RingCapacity)
	assert.Equal(t, 15*time.Millisecond, cfg.Link.ConnInterval)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Default()
			cfg.LogLevel = tt.level

			logger, err := cfg.NewLogger()
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestNewLoggerBadLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "chatty"
	_, err := cfg.NewLogger()
	assert.Error(t, err)
}
