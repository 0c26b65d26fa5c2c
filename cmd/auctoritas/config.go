package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// processConfig is read from the environment, after an optional .env file.
type processConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL     string        `env:"AUCTORITAS_DATABASE_URL"`
	DBMaxConns      int32         `env:"AUCTORITAS_DB_MAX_CONNS" envDefault:"20"`
	DBLockTimeout   time.Duration `env:"AUCTORITAS_DB_LOCK_TIMEOUT" envDefault:"2s"`
	RedisAddr       string        `env:"AUCTORITAS_REDIS_ADDR"`
	RedisPassword   string        `env:"AUCTORITAS_REDIS_PASSWORD"`
	AMQPURL         string        `env:"AUCTORITAS_AMQP_URL"`
	AMQPExchange    string        `env:"AUCTORITAS_AMQP_EXCHANGE" envDefault:"auctoritas.events"`
	TenantsFile     string        `env:"AUCTORITAS_TENANTS_FILE" envDefault:"tenants.yaml"`
	PrivateKeyFile  string        `env:"AUCTORITAS_JWT_PRIVATE_KEY_FILE"`
	KeyID           string        `env:"AUCTORITAS_JWT_KEY_ID"`
	Issuer          string        `env:"AUCTORITAS_JWT_ISSUER" envDefault:"auctoritas"`
	SecretActiveKey string        `env:"AUCTORITAS_SECRET_ACTIVE_KEY"`
	SecretKeys      []string      `env:"AUCTORITAS_SECRET_KEYS" envSeparator:","`
	MetricsAddr     string        `env:"AUCTORITAS_METRICS_ADDR" envDefault:":9464"`
	SweepInterval   time.Duration `env:"AUCTORITAS_SWEEP_INTERVAL" envDefault:"5m"`
}

// loadProcessConfig reads envFile when it exists and parses the environment.
func loadProcessConfig(envFile string) (processConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return processConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg processConfig
	if err := env.Parse(&cfg); err != nil {
		return processConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c processConfig) requireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("AUCTORITAS_DATABASE_URL is required")
	}
	return nil
}
