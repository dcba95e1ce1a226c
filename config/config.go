package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/msel-source/mefwriter/core"
	"gopkg.in/yaml.v3"
)

// SessionConfig describes the session directory a set of channels are
// written into and the process-global values every channel in it shares.
type SessionConfig struct {
	RootDir         string `yaml:"root_dir"`
	SessionName     string `yaml:"session_name"`
	GMTOffsetHours  int    `yaml:"gmt_offset_hours"`
	Anonymize       bool   `yaml:"anonymize"`
	AnnotationsPath string `yaml:"annotations_path"`
	// LockTimeout overrides how long a segment or annotation writer waits
	// on a contended writer lock (sys.AcquireWriterLock) before giving up.
	// Parsed with ParseDuration; an empty or invalid value keeps
	// sys.DefaultLockTimeout.
	LockTimeout string `yaml:"lock_timeout"`
}

// CompressionBackend selects the entropy stage plugged into the RED
// codec for a channel.
type CompressionBackend string

const (
	CompressionNone   CompressionBackend = "none"
	CompressionSnappy CompressionBackend = "snappy"
	CompressionLZ4    CompressionBackend = "lz4"
	CompressionZstd   CompressionBackend = "zstd"
)

// CompressionType maps the YAML backend name to the core.CompressionType
// compressors.New dispatches on, defaulting to CompressionNone for an
// empty or unrecognized value.
func (b CompressionBackend) CompressionType() core.CompressionType {
	switch b {
	case CompressionSnappy:
		return core.CompressionSnappy
	case CompressionLZ4:
		return core.CompressionLZ4
	case CompressionZstd:
		return core.CompressionZSTD
	default:
		return core.CompressionNone
	}
}

// PasswordConfig carries the level-1/level-2 passwords for a channel, if
// any. Both empty means the channel is unencrypted.
type PasswordConfig struct {
	Level1 string `yaml:"level_1"`
	Level2 string `yaml:"level_2"`
}

// ChannelConfig holds everything initialize needs to start a channel
// writer, mirroring the "configuration recognized by initialize" table.
type ChannelConfig struct {
	ChannelName               string             `yaml:"channel_name"`
	AnonymizedName            string             `yaml:"anonymized_name"`
	InputPath                 string             `yaml:"input_path"`
	SamplingFrequencyHz       float64            `yaml:"sampling_frequency_hz"`
	SecondsPerBlock           float64            `yaml:"seconds_per_block"`
	BlockIntervalMicroseconds int64              `yaml:"block_interval_microseconds"`
	SecondsPerSegment         float64            `yaml:"seconds_per_segment"`
	BitShiftFlag              bool               `yaml:"bit_shift_flag"`
	LowFrequencyFilterHz      float64            `yaml:"low_frequency_filter_hz"`
	HighFrequencyFilterHz     float64            `yaml:"high_frequency_filter_hz"`
	NotchFilterHz             float64            `yaml:"notch_filter_hz"`
	ACLineFrequencyHz         float64            `yaml:"ac_line_frequency_hz"`
	UnitsConversionFactor     float64            `yaml:"units_conversion_factor"`
	Compression               CompressionBackend `yaml:"compression"`
	Password                  PasswordConfig     `yaml:"password"`
}

// LoggingConfig controls the slog handler the CLI builds at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// TracingConfig controls the optional OTLP/HTTP exporter the CLI wires
// into channel, annotation and manifest writers.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DebugConfig controls the optional statsviz live-metrics endpoint.
type DebugConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Config is the top-level CLI configuration document.
type Config struct {
	Session  SessionConfig   `yaml:"session"`
	Channels []ChannelConfig `yaml:"channels"`
	Logging  LoggingConfig   `yaml:"logging"`
	Tracing  TracingConfig   `yaml:"tracing"`
	Debug    DebugConfig     `yaml:"debug"`
}

// ParseDuration parses a duration string, returning def if the string is
// empty or invalid. Logs a warning on an invalid (but non-empty) string.
func ParseDuration(s string, def time.Duration, logger *slog.Logger) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid duration, using default", "input", s, "default", def.String(), "error", err)
		}
		return def
	}
	return d
}

// Load reads a Config from r, starting from sane defaults so a mostly
// empty YAML document still produces a runnable configuration.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Session: SessionConfig{
			RootDir:     ".",
			SessionName: "session",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Debug: DebugConfig{
			ListenAddress: "127.0.0.1:6060",
		},
	}

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a Config from the YAML file at path, falling back to
// defaults if the file does not exist.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}
