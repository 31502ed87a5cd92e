// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every knob the service reads at startup.
//
// Defaults are tuned for local development so the service starts without any
// environment at all.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// PublicOrigin is the origin encoded into every QR verification URL.
	PublicOrigin string `env:"PUBLIC_ORIGIN" envDefault:"http://localhost:8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"anchorevents"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	AuthBaseURL    string `env:"AUTH_BASE_URL" envDefault:"http://localhost:9091"`
	PaymentBaseURL string `env:"PAYMENT_BASE_URL" envDefault:"http://localhost:9092"`
	TicketBaseURL  string `env:"TICKET_BASE_URL" envDefault:"http://localhost:9093"`

	// TeardownGrace is how long completed checkout state lingers before the
	// persisted keys are cleared, so concurrent readers are not racing a
	// deletion.
	TeardownGrace time.Duration `env:"TEARDOWN_GRACE" envDefault:"1s"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN builds a libpq-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
