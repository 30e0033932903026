// Package config loads service and CLI settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	BackendURL           string        `mapstructure:"BACKEND_URL"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	Token                string        `mapstructure:"TOKEN"`
	StaffID              string        `mapstructure:"STAFF_ID"`
	FetchTimeout         time.Duration `mapstructure:"FETCH_TIMEOUT"`
	ViewWaitTimeout      time.Duration `mapstructure:"VIEW_WAIT_TIMEOUT"`
	KafkaBrokers         []string      `mapstructure:"KAFKA_BROKERS"`
	NotificationsEnabled bool          `mapstructure:"NOTIFICATIONS_ENABLED"`
	OTLPEndpoint         string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate      float64       `mapstructure:"TRACE_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "BACKEND_URL",
	"JWT_SECRET", "TOKEN", "STAFF_ID", "FETCH_TIMEOUT", "VIEW_WAIT_TIMEOUT",
	"KAFKA_BROKERS", "NOTIFICATIONS_ENABLED", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
}

// Load reads settings. Nothing is required here; each binary validates
// what it needs with ValidateServer or ValidateClient.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("BACKEND_URL", "http://localhost:8080")
	v.SetDefault("FETCH_TIMEOUT", "10s")
	v.SetDefault("VIEW_WAIT_TIMEOUT", "15s")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("NOTIFICATIONS_ENABLED", false)
	v.SetDefault("TRACE_SAMPLE_RATE", 0.1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	// a missing .env is fine; an unreadable or malformed one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	for i, b := range cfg.KafkaBrokers {
		cfg.KafkaBrokers[i] = strings.TrimSpace(b)
	}

	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", cfg.FetchTimeout)
	}
	if cfg.ViewWaitTimeout <= 0 {
		return nil, fmt.Errorf("VIEW_WAIT_TIMEOUT must be positive, got %s", cfg.ViewWaitTimeout)
	}
	if cfg.TraceSampleRate < 0 || cfg.TraceSampleRate > 1 {
		return nil, fmt.Errorf("TRACE_SAMPLE_RATE must be within [0,1], got %v", cfg.TraceSampleRate)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ValidateServer checks the settings visit-api needs.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.NotificationsEnabled && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when NOTIFICATIONS_ENABLED is true"))
	}
	return errors.Join(errs...)
}

// ValidateClient checks the settings visitctl needs: a backend and either
// a bearer token or a secret and staff id to issue one.
func (c *Config) ValidateClient() error {
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.Token == "" && (c.JWTSecret == "" || c.StaffID == "") {
		return errors.New("TOKEN, or JWT_SECRET with STAFF_ID, is required")
	}
	return nil
}
