// Package config содержит логику чтения конфигурации сервиса photocredit.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/photocredit/internal/logger"
)

// Config содержит параметры конфигурации сервиса photocredit.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	PaymentSecretKey string `env:"PAYMENT_SECRET_KEY"`

	PaymentAPIURL        string        `env:"PAYMENT_API_URL" envDefault:"https://api.stripe.com"`
	PaymentWebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	Environment          string        `env:"APP_ENV" envDefault:"development"`
	AppName              string        `env:"APP_NAME" envDefault:"photocredit"`
	AppBaseURL           string        `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	RedisURL             string        `env:"REDIS_URL"`
	CatalogCacheTTL      time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSecretKey := cfg.PaymentSecretKey

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentSecretKey, "k", "", "payment gateway secret key")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSecretKey != "" {
		cfg.PaymentSecretKey = envSecretKey
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	switch c.Environment {
	case logger.EnvProduction, logger.EnvDevelopment, logger.EnvTest:
	default:
		return fmt.Errorf("invalid APP_ENV %q", c.Environment)
	}
	if c.AppName == "" {
		return fmt.Errorf("APP_NAME must not be empty")
	}
	if c.CatalogCacheTTL < 0 {
		return fmt.Errorf("CATALOG_CACHE_TTL must not be negative")
	}
	return nil
}
