package config

import (
	"encoding/base64"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is populated from the environment, optionally seeded from a
// .env file. All timeouts are server-owned; clients never supply them.
type Config struct {
	ServerAddr     string   `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	DatabaseDSN    string   `envconfig:"DATABASE_DSN"`
	SigningSecret  string   `envconfig:"SIGNING_SECRET"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	PushWebhookURL string   `envconfig:"PUSH_WEBHOOK_URL"`

	SigningKey []byte `ignored:"true"`
}

// Load reads .env (when present) and the process environment, then
// validates and decodes the signing key.
func Load() (*Config, error) {
	// missing .env is fine, the environment may be set directly
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("chatwire", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	return New(cfg)
}

// New validates a populated Config.
func New(cfg Config) (*Config, error) {
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := base64.StdEncoding.DecodeString(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	cfg.SigningKey = signingKey

	return &cfg, nil
}
