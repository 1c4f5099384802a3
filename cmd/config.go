package main

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger" validate:"oneof=badger postgres"`
	DatabaseURL    string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/relay" validate:"required_if=StoreDriver badger"`

	JWTSecret     string        `env:"JWT_SECRET,required=true" validate:"min=16"`
	JWTIssuer     string        `env:"JWT_ISSUER,default=chat-relay"`
	TokenDuration time.Duration `env:"TOKEN_DURATION,default=24h"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=4000" validate:"min=1"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongTimeout          time.Duration `env:"PONG_TIMEOUT,default=60s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s" validate:"gt=0"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=50" validate:"min=1,max=500"`

	CensoredWordsPath string `env:"CENSORED_WORDS_PATH"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`
	AllowedOrigins    string `env:"ALLOWED_ORIGINS"`
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}
