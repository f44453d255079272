// Package config provides configuration loading using koanf.
// Precedence: environment variables, then compiled defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/session-gateway/internal/domain"
)

// Config holds all configuration for the gateway CLI and the development
// backend.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment" validate:"oneof=local dev prod"`

	Log        LogConfig        `koanf:"log"`
	Backend    BackendConfig    `koanf:"backend"`
	Session    SessionConfig    `koanf:"session"`
	Store      StoreConfig      `koanf:"store"`
	Events     EventsConfig     `koanf:"events"`
	DevBackend DevBackendConfig `koanf:"devbackend"`

	// Infrastructure configurations
	Redis    RedisConfig    `koanf:"redis"`
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	AWS      AWSConfig      `koanf:"aws"`

	OTEL OTELConfig `koanf:"otel"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// BackendConfig describes the API the gateway talks to.
type BackendConfig struct {
	BaseURL string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// SessionConfig holds the backend auth contract.
type SessionConfig struct {
	RefreshPath      string        `koanf:"refresh_path" validate:"startswith=/"`
	LoginPath        string        `koanf:"login_path" validate:"startswith=/"`
	RefreshTimeout   time.Duration `koanf:"refresh_timeout" validate:"gt=0"`
	HardFailureCodes []string      `koanf:"hard_failure_codes" validate:"min=1,dive,required"`
	EnvelopePath     string        `koanf:"envelope_path" validate:"required"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Kind      string        `koanf:"kind" validate:"oneof=memory file redis dynamodb"`
	FilePath  string        `koanf:"file_path"` // Empty uses the user config dir
	Profile   string        `koanf:"profile" validate:"required"`
	KeyPrefix string        `koanf:"key_prefix"`
	Table     string        `koanf:"table"`
	TTL       time.Duration `koanf:"ttl" validate:"gt=0"`
}

// EventsConfig controls publishing of logout events.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Topic   string `koanf:"topic" validate:"required"`
}

// DevBackendConfig holds the development backend configuration.
type DevBackendConfig struct {
	HTTPPort   int           `koanf:"http_port" validate:"gt=0,lt=65536"`
	SigningKey string        `koanf:"signing_key" validate:"min=16"`
	AccessTTL  time.Duration `koanf:"access_ttl" validate:"gt=0"`
	RefreshTTL time.Duration `koanf:"refresh_ttl" validate:"gtfield=AccessTTL"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout  time.Duration `koanf:"timeout"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

const defaultSigningKey = "local-dev-signing-key-not-secret"

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8090",
			Timeout: domain.BackendTimeout,
		},
		Session: SessionConfig{
			RefreshPath:      domain.RefreshPath,
			LoginPath:        domain.LoginPath,
			RefreshTimeout:   domain.RefreshTimeout,
			HardFailureCodes: []string{domain.SessionRevokedCode},
			EnvelopePath:     domain.EnvelopePath,
		},
		Store: StoreConfig{
			Kind:      string(domain.StoreKindFile),
			Profile:   "default",
			KeyPrefix: "session:credentials:",
			Table:     "session_credentials",
			TTL:       domain.CredentialTTL,
		},
		Events: EventsConfig{
			Topic: "session.logout",
		},
		DevBackend: DevBackendConfig{
			HTTPPort:   8090,
			SigningKey: defaultSigningKey,
			AccessTTL:  domain.AccessTokenLifetime,
			RefreshTTL: domain.RefreshTokenLifetime,
		},
		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		OTEL: OTELConfig{
			ServiceName: "session-gateway",
		},
	}
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{
	"session.hard_failure_codes": true,
}

// envKey maps an environment variable name to a config key. Only the first
// underscore separates the section, so BACKEND_BASE_URL becomes
// backend.base_url.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(s), "_", ".", 1)
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Struct constraints are checked with validator, then keys that are only
// required in some setups (store backend, events, production).
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		key = envKey(key)
		if listKeys[key] {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return key, out
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateStruct(cfg); err != nil {
		return nil, err
	}
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their koanf key so errors name the
// setting a user has to change.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("koanf")
	})
	return v
}

// validateStruct reports the first failing field.
func validateStruct(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		return fmt.Errorf("%w: %s (%s)", domain.ErrConfigInvalid, key, fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
}

// validateRequired checks configuration that is only required in some
// setups.
func validateRequired(cfg *Config) error {
	switch domain.StoreKind(cfg.Store.Kind) {
	case domain.StoreKindRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
	case domain.StoreKindDynamoDB:
		if cfg.Store.Table == "" {
			return fmt.Errorf("%w: store.table", domain.ErrConfigRequired)
		}
	}

	if cfg.Events.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}

	// In local environment, everything else has sensible defaults
	if cfg.IsLocal() {
		return nil
	}

	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("%w: backend.base_url", domain.ErrConfigRequired)
	}
	if cfg.IsProd() && cfg.DevBackend.SigningKey == defaultSigningKey {
		return fmt.Errorf("%w: devbackend.signing_key", domain.ErrConfigRequired)
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
