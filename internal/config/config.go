package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/repricer/internal/models"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete application configuration
type Config struct {
	Market   MarketConfig   `mapstructure:"market"`
	Repricer RepricerConfig `mapstructure:"repricer"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MarketConfig holds marketplace API configuration
type MarketConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Currency     string        `mapstructure:"currency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	RequestPause time.Duration `mapstructure:"request_pause"`
}

// RepricerConfig holds repricing behavior configuration
type RepricerConfig struct {
	CheckInterval     int           `mapstructure:"check_interval"` // seconds
	AutoConfirm       bool          `mapstructure:"auto_confirm"`
	SubmitMaxAttempts int           `mapstructure:"submit_max_attempts"`
	SubmitRetryDelay  time.Duration `mapstructure:"submit_retry_delay"`
	KeepAlive         bool          `mapstructure:"keep_alive"`
	Floors            []FloorConfig `mapstructure:"floors"`
}

// FloorConfig is one configured minimum price. Floors are a list rather
// than a map because viper lowercases map keys and splits them on dots.
type FloorConfig struct {
	HashName string `mapstructure:"hash_name"`
	MinPrice string `mapstructure:"min_price"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// EmailConfig holds SMTP notification configuration
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	SMTPUser string   `mapstructure:"smtp_user"`
	SMTPPass string   `mapstructure:"smtp_pass"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// RedisConfig holds the shared API rate limiter configuration
type RedisConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Addr         string  `mapstructure:"addr"`
	Password     string  `mapstructure:"password"`
	DB           int     `mapstructure:"db"`
	Key          string  `mapstructure:"key"`
	Rate         float64 `mapstructure:"rate"`
	Burst        int     `mapstructure:"burst"`
	SetPriceCost float64 `mapstructure:"set_price_cost"` // tokens per set-price request
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// REPRICER_MARKET_API_KEY overrides market.api_key, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("REPRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default for its environment override to be seen.
func setDefaults(v *viper.Viper) {
	// Market defaults
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.base_url", "https://market.csgo.com/api/v2")
	v.SetDefault("market.currency", "USD")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.retry_delay", "10s")
	v.SetDefault("market.request_pause", "500ms")

	// Repricer defaults
	v.SetDefault("repricer.check_interval", 30)
	v.SetDefault("repricer.auto_confirm", true)
	v.SetDefault("repricer.submit_max_attempts", 3)
	v.SetDefault("repricer.submit_retry_delay", "10s")
	v.SetDefault("repricer.keep_alive", false)

	v.SetDefault("storage.db_path", "./data/repricer.db")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.smtp_user", "")
	v.SetDefault("email.smtp_pass", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "repricer:api")
	v.SetDefault("redis.rate", 5.0)
	v.SetDefault("redis.burst", 5)
	v.SetDefault("redis.set_price_cost", 1.0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":2112")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Market config
	if strings.TrimSpace(c.Market.APIKey) == "" {
		return invalid("market.api_key is required")
	}
	if c.Market.BaseURL == "" {
		return invalid("market.base_url is required")
	}
	if c.Market.Currency == "" {
		return invalid("market.currency is required")
	}
	if c.Market.Timeout <= 0 {
		return invalid("market.timeout must be positive")
	}
	if c.Market.MaxRetries < 1 {
		return invalid("market.max_retries must be at least 1")
	}
	if c.Market.RetryDelay < 0 {
		return invalid("market.retry_delay must not be negative")
	}
	if c.Market.RequestPause < 0 {
		return invalid("market.request_pause must not be negative")
	}

	// Validate Repricer config
	if c.Repricer.CheckInterval < 1 {
		return invalid("repricer.check_interval must be at least 1 second")
	}
	if c.Repricer.SubmitMaxAttempts < 1 {
		return invalid("repricer.submit_max_attempts must be at least 1")
	}
	if c.Repricer.SubmitRetryDelay < 0 {
		return invalid("repricer.submit_retry_delay must not be negative")
	}
	if _, err := c.Floors(); err != nil {
		return err
	}

	if c.Storage.DBPath == "" {
		return invalid("storage.db_path is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return invalid("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return invalid("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return invalid("telegram.max_retries must be at least 1")
		}
	}

	if c.Email.Enabled {
		if c.Email.SMTPHost == "" || c.Email.SMTPPort <= 0 {
			return invalid("email.smtp_host and email.smtp_port are required when email is enabled")
		}
		if c.Email.From == "" || len(c.Email.To) == 0 {
			return invalid("email.from and email.to are required when email is enabled")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" || c.Redis.Key == "" {
			return invalid("redis.addr and redis.key are required when redis is enabled")
		}
		if c.Redis.Rate <= 0 || c.Redis.Burst < 1 {
			return invalid("redis.rate must be positive and redis.burst at least 1")
		}
		if c.Redis.SetPriceCost <= 0 || c.Redis.SetPriceCost > float64(c.Redis.Burst) {
			return invalid("redis.set_price_cost must be positive and not above redis.burst")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return invalid("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return invalid("logging.format must be one of: json, text")
	}

	return nil
}

// Interval returns the check interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Repricer.CheckInterval) * time.Second
}

// Floors parses the configured floors keyed by market hash name.
func (c *Config) Floors() (map[string]models.Price, error) {
	floors := make(map[string]models.Price, len(c.Repricer.Floors))
	for i, f := range c.Repricer.Floors {
		name := strings.TrimSpace(f.HashName)
		if name == "" {
			return nil, invalid("repricer.floors[%d].hash_name is required", i)
		}
		price, err := models.ParsePrice(f.MinPrice)
		if err != nil || price <= 0 {
			return nil, invalid("repricer.floors[%d].min_price %q must be a positive price", i, f.MinPrice)
		}
		if _, dup := floors[name]; dup {
			return nil, invalid("repricer.floors: duplicate entry for %q", name)
		}
		floors[name] = price
	}
	return floors, nil
}
