package main

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/wozniakbe/player-optout/internal/store"
	"github.com/wozniakbe/player-optout/internal/telemetry"
)

type Config struct {
	ServerPort      string     `env:"SERVER_PORT" envDefault:"8080"`
	JWTSecret       string     `env:"JWT_SECRET,notEmpty"`
	JWTIssuer       string     `env:"JWT_ISSUER"`
	HostSubject     string     `env:"HOST_SUBJECT" envDefault:"game-server"`
	CORSAllowOrigin string     `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`
	LogLevel        slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	DevBypassAuth   bool       `env:"DEV_BYPASS_AUTH"`

	MaxPlayers int `env:"MAX_PLAYERS" envDefault:"100"`
	Workers    int `env:"WORKERS" envDefault:"4"`
	QueueSize  int `env:"QUEUE_SIZE" envDefault:"1024"`

	Telemetry telemetry.Config
	Store     store.Config `envPrefix:"DB_"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxPlayers <= 0 {
		return Config{}, fmt.Errorf("MAX_PLAYERS must be positive, got: %d", cfg.MaxPlayers)
	}
	return cfg, nil
}
