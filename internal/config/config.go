package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Bot        BotConfig        `mapstructure:"bot"`
	Models     ModelsConfig     `mapstructure:"models"`
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type BotConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

// ModelsConfig describes the OpenAI-compatible completion endpoint and the
// model behind each capability tier.
type ModelsConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Tiers       TierModels    `mapstructure:"tiers"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

type TierModels struct {
	Nano string `mapstructure:"nano"`
	Mini string `mapstructure:"mini"`
	Full string `mapstructure:"full"`
}

// AssistantConfig carries the engine knobs: loop bounds, history window,
// and the tier-selection heuristic inputs.
type AssistantConfig struct {
	SystemPrompt        string        `mapstructure:"system_prompt"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	MaxHistoryMessages  int           `mapstructure:"max_history_messages"`
	HistoryTurns        int           `mapstructure:"history_turns"`
	ComplexityThreshold int           `mapstructure:"complexity_threshold"`
	Keywords            []string      `mapstructure:"keywords"`
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	VendorLimits        TierLimits    `mapstructure:"vendor_limits"`
	GuestLimits         TierLimits    `mapstructure:"guest_limits"`
}

// TierLimits are per-day ceilings for one subject class.
type TierLimits struct {
	Nano int `mapstructure:"nano"`
	Mini int `mapstructure:"mini"`
	Full int `mapstructure:"full"`
}

type StorageConfig struct {
	Threads ThreadsConfig `mapstructure:"threads"`
	Counter CounterConfig `mapstructure:"counter"`
}

type ThreadsConfig struct {
	Driver   string         `mapstructure:"driver"` // "postgres" or "memory"
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type CounterConfig struct {
	Driver string      `mapstructure:"driver"` // "redis" or "memory"
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PlatformConfig points the built-in tools at the platform's internal API.
type PlatformConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Directory       string   `mapstructure:"directory"`
	Languages       []string `mapstructure:"languages"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides for secrets and endpoints
	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("models.base_url", "MODELS_BASE_URL")
	viper.BindEnv("models.api_key", "MODELS_API_KEY")
	viper.BindEnv("platform.base_url", "PLATFORM_BASE_URL")
	viper.BindEnv("platform.api_key", "PLATFORM_API_KEY")
	viper.BindEnv("storage.counter.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.counter.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.counter.redis.db", "REDIS_DB")
	viper.BindEnv("storage.threads.postgres.host", "POSTGRES_HOST")
	viper.BindEnv("storage.threads.postgres.password", "POSTGRES_PASSWORD")

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 120*time.Second)
	viper.SetDefault("bot.update_timeout", 60)
	viper.SetDefault("models.max_tokens", 1024)
	viper.SetDefault("models.temperature", 0.7)
	viper.SetDefault("models.timeout", 30*time.Second)
	viper.SetDefault("models.max_retries", 3)
	viper.SetDefault("assistant.max_iterations", 5)
	viper.SetDefault("assistant.max_history_messages", 20)
	viper.SetDefault("assistant.history_turns", 10)
	viper.SetDefault("assistant.complexity_threshold", 600)
	viper.SetDefault("assistant.tool_timeout", 15*time.Second)
	viper.SetDefault("assistant.vendor_limits.full", 30)
	viper.SetDefault("assistant.vendor_limits.mini", 200)
	viper.SetDefault("assistant.vendor_limits.nano", 1000)
	viper.SetDefault("assistant.guest_limits.full", 0)
	viper.SetDefault("assistant.guest_limits.mini", 20)
	viper.SetDefault("assistant.guest_limits.nano", 100)
	viper.SetDefault("storage.threads.driver", "postgres")
	viper.SetDefault("storage.threads.postgres.port", 5432)
	viper.SetDefault("storage.threads.postgres.sslmode", "disable")
	viper.SetDefault("storage.counter.driver", "redis")
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_minute", 20)
	viper.SetDefault("rate_limit.burst", 5)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("monitoring.metrics.path", "/metrics")
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.directory", "configs/i18n")
	viper.SetDefault("i18n.languages", []string{"en", "es"})
}

// Limit returns the daily ceiling for a tier and subject class.
func (l TierLimits) Limit(tier string) int {
	switch tier {
	case "full":
		return l.Full
	case "mini":
		return l.Mini
	case "nano":
		return l.Nano
	}
	return 0
}

func validateConfig(cfg *Config) error {
	if cfg.Models.BaseURL == "" {
		return fmt.Errorf("models base_url is required")
	}
	if cfg.Models.Tiers.Nano == "" || cfg.Models.Tiers.Mini == "" || cfg.Models.Tiers.Full == "" {
		return fmt.Errorf("all three model tiers must be configured")
	}
	if cfg.Bot.Enabled && cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required when the bot channel is enabled")
	}
	if cfg.Assistant.MaxIterations <= 0 {
		return fmt.Errorf("assistant max_iterations must be positive")
	}
	return nil
}
