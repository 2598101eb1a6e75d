// Package config holds the runtime configuration for the service, loaded
// from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration. Durations accept Go syntax
// ("15m", "168h").
type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"3000"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	OTP   OTPConfig
	Token TokenConfig
	Rate  RateConfig

	TelegramBotURL  string        `env:"TELEGRAM_BOT_URL" envDefault:"https://t.me/echonote_bot"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"5s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// OTPConfig tunes the one-time-code challenge.
type OTPConfig struct {
	Digits      int           `env:"OTP_DIGITS" envDefault:"6"`
	TTL         time.Duration `env:"OTP_TTL" envDefault:"5m"`
	MaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
}

// TokenConfig tunes access and refresh token issuance. The two secrets must
// differ so that compromise of one token class does not compromise the other.
type TokenConfig struct {
	AccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"echonote"`
}

// RateConfig tunes the request throttle and ban escalation.
type RateConfig struct {
	DefaultLimit int           `env:"RATE_DEFAULT_LIMIT" envDefault:"100"`
	Window       time.Duration `env:"RATE_WINDOW" envDefault:"60s"`
	ViolationTTL time.Duration `env:"RATE_VIOLATION_TTL" envDefault:"24h"`
	BanThreshold int           `env:"RATE_BAN_THRESHOLD" envDefault:"10"`
	BanDuration  time.Duration `env:"RATE_BAN_DURATION" envDefault:"1h"`
}

// Load reads all configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would start an insecure or broken
// service.
func (c *Config) Validate() error {
	if c.Token.AccessSecret == "" || c.Token.RefreshSecret == "" {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.Token.AccessSecret == c.Token.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("config: OTP digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.MaxAttempts <= 0 {
		return errors.New("config: OTP TTL and max attempts must be positive")
	}
	if c.Rate.DefaultLimit <= 0 || c.Rate.Window <= 0 {
		return errors.New("config: rate limit and window must be positive")
	}
	if c.Rate.BanThreshold <= 0 || c.Rate.BanDuration <= 0 {
		return errors.New("config: ban threshold and duration must be positive")
	}
	return nil
}
