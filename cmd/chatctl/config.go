package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config mirrors the relay settings chatctl needs to reach the same store
// and sign tokens the relay accepts.
type Config struct {
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"WARN"`
	StoreDriver    string        `envconfig:"STORE_DRIVER" default:"badger"`
	BadgerFilepath string        `envconfig:"BADGER_FILEPATH" default:"./data/relay"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	JWTIssuer      string        `envconfig:"JWT_ISSUER" default:"chat-relay"`
	TokenDuration  time.Duration `envconfig:"TOKEN_DURATION" default:"24h"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
