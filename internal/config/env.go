package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerEnv holds process settings for al serve.
type ServerEnv struct {
	Addr                   string        `env:"AUDITLINE_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath               string        `env:"AUDITLINE_BASE_PATH" envDefault:"/v0"`
	JWTSecret              string        `env:"AUDITLINE_JWT_SECRET"`
	AllowLegacyActorHeader bool          `env:"AUDITLINE_ALLOW_LEGACY_ACTOR_HEADER"`
	WebhookInterval        time.Duration `env:"AUDITLINE_WEBHOOK_INTERVAL" envDefault:"2s"`
	OTelEndpoint           string        `env:"AUDITLINE_OTEL_ENDPOINT"`
	OTelEnabled            bool          `env:"AUDITLINE_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServerEnv parses ServerEnv from the process environment.
func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := ParseEnv(&cfg); err != nil {
		return ServerEnv{}, err
	}
	if cfg.WebhookInterval <= 0 {
		return ServerEnv{}, fmt.Errorf("AUDITLINE_WEBHOOK_INTERVAL must be positive")
	}
	return cfg, nil
}
