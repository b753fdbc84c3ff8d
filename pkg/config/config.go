// Package config loads the service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// Config is the service configuration. The env tag names the variable each
// field is read from; validation errors report those names.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" validate:"required"`

	StripeAPIKey        string        `env:"STRIPE_API_KEY" validate:"required"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	WebhookTolerance    time.Duration `env:"WEBHOOK_TOLERANCE" validate:"gt=0"`

	// Per client IP. Stripe delivers from a handful of addresses, so the
	// limit has to absorb a whole burst of events.
	WebhookRateLimit  int           `env:"WEBHOOK_RATE_LIMIT" validate:"min=1"`
	WebhookRateWindow time.Duration `env:"WEBHOOK_RATE_WINDOW" validate:"gt=0"`

	Store            string `env:"STORE" validate:"oneof=memory postgres redis firestore"`
	DatabaseURL      string `env:"DATABASE_URL" validate:"required_if=Store postgres"`
	RedisAddr        string `env:"REDIS_ADDR" validate:"required_if=Store redis"`
	FirestoreProject string `env:"FIRESTORE_PROJECT" validate:"required_if=Store firestore"`

	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT" validate:"gt=0"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" validate:"gt=0"`
	InstrumentTimeout time.Duration `env:"INSTRUMENT_TIMEOUT" validate:"gt=0"`

	// SweepInterval of zero disables the periodic sweep.
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" validate:"gte=0"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" validate:"min=1,max=64"`

	LogLevel         string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat        string `env:"LOG_FORMAT" validate:"oneof=json console"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" validate:"required"`

	// OperatorToken protects the operator API when set.
	OperatorToken string `env:"OPERATOR_TOKEN"`
}

// Load reads the configuration. Variables from the process environment take
// precedence over the given .env files; missing files are skipped.
func Load(envFiles ...string) (*Config, error) {
	fileEnv := make(map[string]string)
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fileEnv[k]; !ok {
				fileEnv[k] = v
			}
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

// FromLookup builds and validates a Config from lookup.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}
	cfg := &Config{
		HTTPAddr:            r.str("HTTP_ADDR", ":8080"),
		StripeAPIKey:        r.str("STRIPE_API_KEY", ""),
		StripeWebhookSecret: r.str("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance:    r.duration("WEBHOOK_TOLERANCE", 5*time.Minute),
		WebhookRateLimit:    r.integer("WEBHOOK_RATE_LIMIT", 1000),
		WebhookRateWindow:   r.duration("WEBHOOK_RATE_WINDOW", time.Minute),
		Store:               strings.ToLower(r.str("STORE", StorePostgres)),
		DatabaseURL:         r.str("DATABASE_URL", ""),
		RedisAddr:           r.str("REDIS_ADDR", ""),
		FirestoreProject:    r.str("FIRESTORE_PROJECT", ""),
		ProviderTimeout:     r.duration("PROVIDER_TIMEOUT", 10*time.Second),
		StoreTimeout:        r.duration("STORE_TIMEOUT", 5*time.Second),
		InstrumentTimeout:   r.duration("INSTRUMENT_TIMEOUT", 3*time.Second),
		SweepInterval:       r.duration("SWEEP_INTERVAL", 0),
		SweepConcurrency:    r.integer("SWEEP_CONCURRENCY", 4),
		LogLevel:            strings.ToLower(r.str("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(r.str("LOG_FORMAT", "json")),
		MetricsNamespace:    r.str("METRICS_NAMESPACE", "subsync"),
		OperatorToken:       r.str("OPERATOR_TOKEN", ""),
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}
