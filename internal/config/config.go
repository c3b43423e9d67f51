// Package config reads the process configuration from the environment, with
// an optional .env file loaded first.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Remote store backends.
const (
	StoreMemory   = "memory"
	StoreNATS     = "nats"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string
	HTTPAddr string

	Store    string
	SeedFile string

	NATSURL     string
	NATSBucket  string
	DatabaseURL string

	StatePath        string
	BootstrapTimeout time.Duration
}

// Load never fails on a missing remote endpoint: that surfaces as a bootstrap
// error at login. Only malformed values are rejected here.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:         firstNonEmpty(os.Getenv("PEDDY_ENV"), "prod"),
		HTTPAddr:    firstNonEmpty(os.Getenv("PEDDY_HTTP_ADDR"), ":8080"),
		Store:       strings.ToLower(firstNonEmpty(os.Getenv("PEDDY_STORE"), StoreMemory)),
		SeedFile:    os.Getenv("PEDDY_SEED_FILE"),
		NATSURL:     os.Getenv("NATS_URL"),
		NATSBucket:  firstNonEmpty(os.Getenv("NATS_BUCKET"), "peddy"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StatePath:   firstNonEmpty(os.Getenv("PEDDY_STATE_PATH"), "peddy-local.db"),
	}

	timeout, err := getEnvAsDuration("PEDDY_BOOTSTRAP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.BootstrapTimeout = timeout

	switch cfg.Store {
	case StoreMemory, StoreNATS, StorePostgres:
	default:
		return nil, fmt.Errorf("PEDDY_STORE: unknown backend %q (want memory, nats or postgres)", cfg.Store)
	}
	return cfg, nil
}

// Endpoint is the remote address for the selected backend, empty when unset.
// The memory backend has no remote endpoint and reports "memory".
func (c *Config) Endpoint() string {
	switch c.Store {
	case StoreNATS:
		return c.NATSURL
	case StorePostgres:
		return c.DatabaseURL
	default:
		return StoreMemory
	}
}

func (c *Config) Dev() bool { return c.Env == "dev" }

func firstNonEmpty(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func getEnvAsDuration(key string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return d, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func (c *Config) Redacted() string {
	db := "[set]"
	if c.DatabaseURL == "" {
		db = "[empty]"
	}
	return fmt.Sprintf(
		"env=%s addr=%s store=%s seed=%q natsURL=%q bucket=%s databaseURL=%s state=%q bootstrapTimeout=%s",
		c.Env, c.HTTPAddr, c.Store, c.SeedFile, c.NATSURL, c.NATSBucket, db, c.StatePath, c.BootstrapTimeout,
	)
}
