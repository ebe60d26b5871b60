// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required outside development")

type Config struct {
	Port          int           `env:"PORT" envDefault:"8080"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	JWTSecret     string        `env:"JWT_SECRET"`
	RatingMatch   int           `env:"RATING_MATCH_THRESHOLD" envDefault:"200"`
	DefaultRating int           `env:"DEFAULT_RATING" envDefault:"1200"`
	NATSURL       string        `env:"NATS_URL"`
	RoomTTL       time.Duration `env:"ROOM_TTL" envDefault:"10m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	AppEnv        string        `env:"APP_ENV" envDefault:"production"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
}

func (c Config) Development() bool { return c.AppEnv == "development" }

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Load reads an optional .env file, then the process environment.
func Load(files ...string) (Config, error) {
	// a missing .env is normal in containers
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" && !c.Development() {
		return ErrMissingSecret
	}
	if c.RatingMatch <= 0 {
		return fmt.Errorf("RATING_MATCH_THRESHOLD must be positive, got %d", c.RatingMatch)
	}
	if c.RoomTTL <= 0 || c.SweepInterval <= 0 {
		return errors.New("ROOM_TTL and SWEEP_INTERVAL must be positive")
	}
	return nil
}
