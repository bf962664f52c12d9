package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/burrowq/burrow/pkg/errors"
)

// Backend names accepted by the backend field
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config is the full server configuration
type Config struct {
	DataDir            string `mapstructure:"data_dir" yaml:"data_dir"`
	Backend            string `mapstructure:"backend" yaml:"backend"`
	ListenAddr         string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel           string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON            bool   `mapstructure:"log_json" yaml:"log_json"`
	LockTimeoutSeconds int    `mapstructure:"lock_timeout_seconds" yaml:"lock_timeout_seconds"`
	SessionTTLMinutes  int    `mapstructure:"session_ttl_minutes" yaml:"session_ttl_minutes"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:            "./data",
		Backend:            BackendBolt,
		ListenAddr:         ":8484",
		LogLevel:           "info",
		LogJSON:            false,
		LockTimeoutSeconds: 5,
		SessionTTLMinutes:  60,
	}
}

// Load reads configuration from an optional file path plus BURROW_*
// environment variables layered over the defaults. An empty path looks
// for burrow.yaml in the working directory and is not an error when
// missing.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("backend", def.Backend)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_json", def.LogJSON)
	v.SetDefault("lock_timeout_seconds", def.LockTimeoutSeconds)
	v.SetDefault("session_ttl_minutes", def.SessionTTLMinutes)

	v.SetEnvPrefix("BURROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.KindValidation, err, "failed to read config file")
		}
	} else {
		v.SetConfigName("burrow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(errors.KindValidation, err, "failed to read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field values
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendBolt, BackendMemory:
	default:
		return errors.Validationf("backend must be one of %s, %s, %s; got %q",
			BackendFile, BackendBolt, BackendMemory, c.Backend).WithField("backend", "invalid choice")
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return errors.Validationf("data_dir is required for the %s backend", c.Backend).
			WithField("data_dir", "required")
	}
	if c.LockTimeoutSeconds < 1 {
		return errors.Validationf("lock_timeout_seconds must be >= 1, got %d", c.LockTimeoutSeconds).
			WithField("lock_timeout_seconds", "out of range")
	}
	if c.SessionTTLMinutes < 1 {
		return errors.Validationf("session_ttl_minutes must be >= 1, got %d", c.SessionTTLMinutes).
			WithField("session_ttl_minutes", "out of range")
	}
	return nil
}

// Render emits the configuration as YAML, used by `burrow init`
func (c *Config) Render() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}
