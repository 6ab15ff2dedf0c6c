package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/retry"
)

// EnvPrefix prefixes every environment override, e.g. TOOLMESH_RETRY_MAX_RETRIES.
const EnvPrefix = "TOOLMESH"

// Config stores all configuration of a toolmesh runtime.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Retry    retry.Config   `mapstructure:"retry"`
	Client   ClientConfig   `mapstructure:"client"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Provider ProviderConfig `mapstructure:"provider"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ClientConfig stores LLM client settings.
type ClientConfig struct {
	Strict      bool `mapstructure:"strict"`        // malformed inline calls trigger a retry
	OneToolOnly bool `mapstructure:"one_tool_only"` // accept at most one call per turn
}

// RuntimeConfig stores tool runtime settings.
type RuntimeConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	Timeout     time.Duration `mapstructure:"timeout"` // per tool call; 0 disables
}

// ProviderConfig selects and tunes the chat model.
type ProviderConfig struct {
	Name        string  `mapstructure:"name"` // "openai" or "anthropic"
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	APIKey      string  `mapstructure:"api_key"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"` // "json" or "text"
	AddSource bool   `mapstructure:"add_source"`
}

// Load reads configuration from path, or from ./toolmesh.yaml when path is
// empty. A missing default file is not an error; defaults and environment
// overrides still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("toolmesh")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// retry.max_retries becomes TOOLMESH_RETRY_MAX_RETRIES
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Retry:    retry.DefaultConfig(),
		Runtime:  RuntimeConfig{MaxParallel: 8},
		Provider: ProviderConfig{Name: "openai", Temperature: 0.7, MaxTokens: 4096},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("retry.enabled", d.Retry.Enabled)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.timeout", d.Retry.Timeout)

	v.SetDefault("client.strict", d.Client.Strict)
	v.SetDefault("client.one_tool_only", d.Client.OneToolOnly)

	v.SetDefault("runtime.max_parallel", d.Runtime.MaxParallel)
	v.SetDefault("runtime.timeout", d.Runtime.Timeout)

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.temperature", d.Provider.Temperature)
	v.SetDefault("provider.max_tokens", d.Provider.MaxTokens)
	v.SetDefault("provider.api_key", d.Provider.APIKey)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.add_source", d.Logging.AddSource)
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Runtime.MaxParallel < 0 {
		return fmt.Errorf("runtime.max_parallel must not be negative, got %d", c.Runtime.MaxParallel)
	}
	switch c.Provider.Name {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("provider.name must be openai or anthropic, got %q", c.Provider.Name)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// RetryConfig returns the retry policy settings.
func (c *Config) RetryConfig() retry.Config { return c.Retry }

// LoggerConfig converts the logging section for logging.NewLogger. An
// unknown level falls back to info.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}
	return &logging.LoggerConfig{
		Level:       level,
		Format:      c.Logging.Format,
		Output:      os.Stderr,
		AddSource:   c.Logging.AddSource,
		Component:   "toolmesh",
		CustomAttrs: map[string]any{},
	}
}
