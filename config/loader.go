// Package config loads the AI Request Core's configuration: provider
// endpoints/credentials, dynamic-timeout and fallback-restoration tuning,
// and ambient server/logging/telemetry settings.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables. Env var names
// are the flat names the spec recognizes (PRIMARY_TEXT_API,
// SECONDARY_API_KEY, DYNAMIC_TIMEOUT_ENABLED, ...) rather than a
// prefix+section concatenation, since the configuration surface is flat.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a jakeyflowd process.
type Config struct {
	Primary   PrimaryConfig   `yaml:"primary"`
	Secondary SecondaryConfig `yaml:"secondary"`
	Timeout   TimeoutConfig   `yaml:"timeout"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PrimaryConfig configures the Pollinations-shaped provider client.
type PrimaryConfig struct {
	TextAPI         string        `yaml:"text_api" env:"PRIMARY_TEXT_API"`
	APIToken        string        `yaml:"api_token" env:"PRIMARY_API_TOKEN"`
	TextTimeout     time.Duration `yaml:"text_timeout" env:"PRIMARY_TEXT_TIMEOUT"`
	HealthTimeout   time.Duration `yaml:"health_timeout" env:"PRIMARY_HEALTH_TIMEOUT"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min" env:"PRIMARY_RATE_LIMIT_PER_MIN"`
	DefaultModel    string        `yaml:"default_model" env:"PRIMARY_DEFAULT_MODEL"`
}

// SecondaryConfig configures the OpenRouter-shaped provider client.
type SecondaryConfig struct {
	APIURL          string        `yaml:"api_url" env:"SECONDARY_API_URL"`
	APIKey          string        `yaml:"api_key" env:"SECONDARY_API_KEY"`
	TextTimeout     time.Duration `yaml:"text_timeout" env:"SECONDARY_TEXT_TIMEOUT"`
	HealthTimeout   time.Duration `yaml:"health_timeout" env:"SECONDARY_HEALTH_TIMEOUT"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min" env:"SECONDARY_RATE_LIMIT_PER_MIN"`
	DefaultModel    string        `yaml:"default_model" env:"SECONDARY_DEFAULT_MODEL"`
	SiteURL         string        `yaml:"site_url" env:"SECONDARY_SITE_URL"`
	AppName         string        `yaml:"app_name" env:"SECONDARY_APP_NAME"`
	Enabled         bool          `yaml:"enabled" env:"SECONDARY_ENABLED"`

	// FreeTierDailyLimit / CreditedDailyLimit are intrinsic to the
	// secondary provider's behaviour and are never overridable by
	// configuration; they are fixed here rather than tagged with an env
	// key.
	FreeTierDailyLimit  int `yaml:"-"`
	CreditedDailyLimit  int `yaml:"-"`
}

// TimeoutConfig tunes the Backoff/Timeout Controller.
type TimeoutConfig struct {
	DynamicEnabled     bool          `yaml:"dynamic_enabled" env:"DYNAMIC_TIMEOUT_ENABLED"`
	DynamicMin         time.Duration `yaml:"dynamic_min" env:"DYNAMIC_TIMEOUT_MIN"`
	DynamicMax         time.Duration `yaml:"dynamic_max" env:"DYNAMIC_TIMEOUT_MAX"`
	HistorySize        int           `yaml:"history_size" env:"TIMEOUT_HISTORY_SIZE"`
	MonitoringEnabled  bool          `yaml:"monitoring_enabled" env:"TIMEOUT_MONITORING_ENABLED"`
}

// FallbackConfig tunes the router's restoration scheduler.
type FallbackConfig struct {
	RestoreEnabled        bool          `yaml:"restore_enabled" env:"FALLBACK_RESTORE_ENABLED"`
	RestoreTimeoutSeconds time.Duration `yaml:"restore_timeout_seconds" env:"FALLBACK_RESTORE_TIMEOUT_SECONDS"`
}

// ServerConfig configures the reference HTTP surface (cmd/jakeyflowd).
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort        int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout        time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	APIKeys            []string      `yaml:"api_keys" env:"API_KEYS"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64       `yaml:"rate_limit_rps" env:"SERVER_RATE_LIMIT_RPS"`
	RateLimitBurst     int           `yaml:"rate_limit_burst" env:"SERVER_RATE_LIMIT_BURST"`

	// AdminJWTSecret signs and verifies bearer tokens for the /debug/*
	// introspection surface. Empty disables the admin surface entirely
	// rather than serving it unauthenticated.
	AdminJWTSecret string `yaml:"admin_jwt_secret" env:"ADMIN_JWT_SECRET"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LOG_LEVEL"`
	Format           string   `yaml:"format" env:"LOG_FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"LOG_OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"LOG_ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"LOG_ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the optional OTel wiring.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"TELEMETRY_ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"TELEMETRY_OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"TELEMETRY_SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"TELEMETRY_SAMPLE_RATE"`
}

// Loader loads a Config with defaults → YAML file → env var precedence.
type Loader struct {
	configPath string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{validators: make([]func(*Config) error, 0)}
}

// WithConfigPath sets an optional YAML overlay path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithValidator adds a configuration validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv walks Config's fields by the flat `env` struct tag and
// overrides whatever is set in the process environment.
func loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem())
}

func setFieldsFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envKey := fieldType.Tag.Get("env")
		if envKey == "" || envKey == "-" {
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(n)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and env vars only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Primary.TextAPI == "" {
		errs = append(errs, "PRIMARY_TEXT_API must be set")
	}
	if c.Secondary.Enabled && c.Secondary.APIKey == "" {
		errs = append(errs, "SECONDARY_API_KEY must be set when secondary is enabled")
	}
	if c.Timeout.DynamicEnabled && c.Timeout.DynamicMin >= c.Timeout.DynamicMax {
		errs = append(errs, "DYNAMIC_TIMEOUT_MIN must be less than DYNAMIC_TIMEOUT_MAX")
	}
	if c.Timeout.HistorySize <= 0 {
		errs = append(errs, "TIMEOUT_HISTORY_SIZE must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
