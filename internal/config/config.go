// Package config содержит логику чтения конфигурации сервиса Prizeversity.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса Prizeversity.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	AuthSecret    string        `env:"AUTH_SECRET"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"`
	SiphonWindow  time.Duration `env:"SIPHON_WINDOW"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения; .env подхватывается, если он есть.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envSweepInterval := cfg.SweepInterval
	envSiphonWindow := cfg.SiphonWindow

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.DurationVar(&cfg.SweepInterval, "i", time.Minute, "siphon expiry sweep interval")
	flag.DurationVar(&cfg.SiphonWindow, "w", 72*time.Hour, "default siphon voting window")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}
	if envSiphonWindow != 0 {
		cfg.SiphonWindow = envSiphonWindow
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SiphonWindow <= 0 {
		cfg.SiphonWindow = 72 * time.Hour
	}

	return cfg, nil
}
