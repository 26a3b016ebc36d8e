// Package config loads and validates the simulator's configuration from a
// YAML file plus environment variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/sectorsim/tradesim/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	API        APIConfig        `mapstructure:"api"`
	LLM        LLMConfig        `mapstructure:"llm"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Store      StoreConfig      `mapstructure:"store"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Sectors    SectorsConfig    `mapstructure:"sectors"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// APIConfig contains REST API settings. Port is overridable by the PORT
// env var.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the host:port the gin server should bind to.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig contains the LLM adapter settings. Enabled is overridable by
// the LLM_ENABLED env var; when false the deterministic
// HOLD-fallback adapter is used unconditionally.
type LLMConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Gateway       string  `mapstructure:"gateway"`
	Endpoint      string  `mapstructure:"endpoint"`
	PrimaryModel  string  `mapstructure:"primary_model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	TimeoutMS     int     `mapstructure:"timeout_ms"`
}

// NATSConfig contains the embedded message-bus settings.
type NATSConfig struct {
	Embedded bool `mapstructure:"embedded"`
	Port     int  `mapstructure:"port"`
}

// RedisConfig contains the optional price-tick cache settings. A zero-value
// Host means "no Redis" and the simulator falls back to the in-memory ring.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	DB   int    `mapstructure:"db"`
}

// Addr returns the host:port for the Redis client, or "" when unconfigured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig contains the JSON persistence store settings.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// SchedulerConfig contains the simulation scheduler settings.
type SchedulerConfig struct {
	TickIntervalMS      int `mapstructure:"tick_interval_ms"`
	RoundsPerDiscussion int `mapstructure:"rounds_per_discussion"`
}

// SectorsConfig contains defaults applied to newly created sectors.
type SectorsConfig struct {
	DefaultVolatility float64 `mapstructure:"default_volatility"`
	PriceRingCapacity int     `mapstructure:"price_ring_capacity"`
}

// MonitoringConfig contains the metrics server settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from configPath (or ./configs/config.yaml, then
// ./config.yaml) and environment variables, applying defaults for anything
// absent from both.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADESIM")
	// PORT and LLM_ENABLED are conventionally unprefixed.
	v.BindEnv("api.port", "PORT")
	v.BindEnv("llm.enabled", "LLM_ENABLED")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradesim")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", APIServerPort)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.gateway", "bifrost")
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("llm.timeout_ms", 10_000)

	v.SetDefault("nats.embedded", true)
	v.SetDefault("nats.port", -1) // -1 asks nats-server to pick a random free port

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.data_dir", "./data")

	v.SetDefault("scheduler.tick_interval_ms", 1000)
	v.SetDefault("scheduler.rounds_per_discussion", 2)

	v.SetDefault("sectors.default_volatility", 0.3)
	v.SetDefault("sectors.price_ring_capacity", 50)

	v.SetDefault("monitoring.prometheus_port", MetricsServerPort)
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate checks cross-field invariants Load can't express as defaults.
func (c *Config) Validate() error {
	if c.API.Port <= 0 {
		return domain.ValidationError("api.port", "must be positive")
	}
	if c.Scheduler.TickIntervalMS <= 0 {
		return domain.ValidationError("scheduler.tick_interval_ms", "must be positive")
	}
	if c.Scheduler.RoundsPerDiscussion <= 0 {
		return domain.ValidationError("scheduler.rounds_per_discussion", "must be positive")
	}
	if c.Sectors.DefaultVolatility < 0 || c.Sectors.DefaultVolatility > 1 {
		return domain.ValidationError("sectors.default_volatility", "must be within [0,1]")
	}
	return nil
}
