// Package config loads the xcoder session runtime's static configuration,
// grounded on the teacher's pkg/config: a Config struct decoded via
// mapstructure/yaml, loaded through spf13/viper from a YAML file over the
// defaults, with environment overrides for keys the file sets (see Load).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the xcoder session runtime's static configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (XCODER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`

	// KeepAliveTimeout is the default per-session keep-alive timeout
	// (heartbeat period is this value / 3, SPEC_FULL.md §4.5).
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"`

	Retry  RetryConfig  `mapstructure:"retry" yaml:"retry"`
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`

	// DiagDumpDir names a directory for diagnostic dumps. It is loaded and
	// saved with the rest of the config; no package reads it, and no dump is
	// written whatever its value.
	DiagDumpDir string `mapstructure:"diag_dump_dir" yaml:"diag_dump_dir,omitempty"`

	// Transport selects which transport.DeviceTransport implementation the
	// CLI/host process wires up: "nvme" for a real block device, "fake" for
	// internal/testdevice.
	Transport string `mapstructure:"transport" yaml:"transport"`
}

// RetryConfig holds the retry caps and backoff intervals for every bounded
// loop named in SPEC_FULL.md §4.7/§4.8.
type RetryConfig struct {
	WriteBufBackoff    time.Duration `mapstructure:"write_buf_backoff" yaml:"write_buf_backoff"`
	WriteBufMaxRetries int           `mapstructure:"write_buf_max_retries" yaml:"write_buf_max_retries"`
	ReadPollInterval   time.Duration `mapstructure:"read_poll_interval" yaml:"read_poll_interval"`
	ReadRetryBudget    int           `mapstructure:"read_retry_budget" yaml:"read_retry_budget"`
	CloseMaxRetries    int           `mapstructure:"close_max_retries" yaml:"close_max_retries"`
	CloseRetryInterval time.Duration `mapstructure:"close_retry_interval" yaml:"close_retry_interval"`
}

// BufferConfig holds the buffer-pool sizing defaults.
type BufferConfig struct {
	DefaultPoolSize int `mapstructure:"default_pool_size" yaml:"default_pool_size"`
}

// LoggingConfig controls logging behavior, identical in shape to the
// teacher's LoggingConfig.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Validate checks the loaded configuration for internally-consistent
// values. Hand-written rather than struct-tag-driven (go-playground/
// validator dropped, see DESIGN.md): the field set is small and every rule
// here is a single range comparison.
func Validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("config: invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid logging.format %q", cfg.Logging.Format)
	}
	if cfg.KeepAliveTimeout <= 0 {
		return fmt.Errorf("config: keep_alive_timeout must be positive")
	}
	if cfg.Retry.WriteBufMaxRetries <= 0 {
		return fmt.Errorf("config: retry.write_buf_max_retries must be positive")
	}
	if cfg.Retry.CloseMaxRetries <= 0 {
		return fmt.Errorf("config: retry.close_max_retries must be positive")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("config: metrics.port out of range")
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("config: tracing.sample_rate must be within [0,1]")
	}
	return nil
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Logging:          LoggingConfig{Level: "INFO", Format: "text", Output: "stderr"},
		Metrics:          MetricsConfig{Enabled: false, Port: 9090},
		Tracing:          TracingConfig{Enabled: false, Endpoint: "localhost:4317", Insecure: true, SampleRate: 1.0},
		KeepAliveTimeout: 3 * time.Second,
		Retry: RetryConfig{
			WriteBufBackoff:    100 * time.Microsecond,
			WriteBufMaxRetries: 2000,
			ReadPollInterval:   200 * time.Microsecond,
			ReadRetryBudget:    50,
			CloseMaxRetries:    10,
			CloseRetryInterval: 500 * time.Millisecond,
		},
		Buffer:    BufferConfig{DefaultPoolSize: 1 << 22},
		Transport: "nvme",
	}
}

// Load reads the YAML file at configPath (or config.yaml in the default
// config directory when configPath is empty) over Default(). XCODER_-prefixed
// environment variables override only keys the file itself sets. When no
// file is found Load returns Default() and reads no environment variables.
// Load has no CLI-flag layer: its viper instance is created per call and is
// not reachable by the caller.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return Default(), nil
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path in YAML, matching the teacher's SaveConfig.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("XCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xcoder")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "xcoder")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}
