package config

import (
	"strings"
	"testing"
	"time"

	"github.com/msel-source/mefwriter/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNilReaderReturnsDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Session.RootDir)
	assert.Equal(t, "session", cfg.Session.SessionName)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "127.0.0.1:6060", cfg.Debug.ListenAddress)
}

func TestLoadParsesYAML(t *testing.T) {
	yamlDoc := `
session:
  root_dir: /data/recordings
  session_name: patient42
  gmt_offset_hours: -5
  anonymize: true
channels:
  - channel_name: eeg1
    sampling_frequency_hz: 1000
    seconds_per_block: 1
    compression: zstd
logging:
  level: debug
  output: stdout
`
	cfg, err := Load(strings.NewReader(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "/data/recordings", cfg.Session.RootDir)
	assert.Equal(t, "patient42", cfg.Session.SessionName)
	assert.Equal(t, -5, cfg.Session.GMTOffsetHours)
	assert.True(t, cfg.Session.Anonymize)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "eeg1", cfg.Channels[0].ChannelName)
	assert.Equal(t, core.CompressionZSTD, cfg.Channels[0].Compression.CompressionType())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEmptyDocumentReturnsDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Session.RootDir)
}

func TestLoadFileMissingFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/path/to/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "session", cfg.Session.SessionName)
}

func TestCompressionBackendCompressionType(t *testing.T) {
	assert.Equal(t, core.CompressionNone, CompressionBackend("").CompressionType())
	assert.Equal(t, core.CompressionNone, CompressionBackend("none").CompressionType())
	assert.Equal(t, core.CompressionSnappy, CompressionSnappy.CompressionType())
	assert.Equal(t, core.CompressionLZ4, CompressionLZ4.CompressionType())
	assert.Equal(t, core.CompressionZSTD, CompressionZstd.CompressionType())
	assert.Equal(t, core.CompressionNone, CompressionBackend("bogus").CompressionType())
}

func TestParseDurationEmptyReturnsDefault(t *testing.T) {
	got := ParseDuration("", 5*time.Second, nil)
	assert.Equal(t, 5*time.Second, got)
}

func TestParseDurationValid(t *testing.T) {
	got := ParseDuration("30s", 5*time.Second, nil)
	assert.Equal(t, 30*time.Second, got)
}

func TestParseDurationInvalidReturnsDefault(t *testing.T) {
	got := ParseDuration("not-a-duration", 5*time.Second, nil)
	assert.Equal(t, 5*time.Second, got)
}
