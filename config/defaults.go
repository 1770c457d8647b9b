package config

import "time"

// Free-tier daily limits are intrinsic to the secondary provider's
// behaviour and are never overridable by configuration.
const (
	defaultFreeTierDailyLimit = 50
	defaultCreditedDailyLimit = 1000
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Primary:   DefaultPrimaryConfig(),
		Secondary: DefaultSecondaryConfig(),
		Timeout:   DefaultTimeoutConfig(),
		Fallback:  DefaultFallbackConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultPrimaryConfig returns the default primary-provider configuration.
func DefaultPrimaryConfig() PrimaryConfig {
	return PrimaryConfig{
		TextAPI:         "https://text.pollinations.ai",
		TextTimeout:     30 * time.Second,
		HealthTimeout:   5 * time.Second,
		RateLimitPerMin: 60,
		DefaultModel:    "openai",
	}
}

// DefaultSecondaryConfig returns the default secondary-provider configuration.
func DefaultSecondaryConfig() SecondaryConfig {
	return SecondaryConfig{
		APIURL:             "https://openrouter.ai/api/v1",
		TextTimeout:        60 * time.Second,
		HealthTimeout:      5 * time.Second,
		RateLimitPerMin:    20,
		DefaultModel:       "deepseek/deepseek-chat",
		AppName:            "jakeyflow",
		Enabled:            true,
		FreeTierDailyLimit: defaultFreeTierDailyLimit,
		CreditedDailyLimit: defaultCreditedDailyLimit,
	}
}

// DefaultTimeoutConfig returns the default Backoff/Timeout Controller configuration.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		DynamicEnabled:    true,
		DynamicMin:        5 * time.Second,
		DynamicMax:        120 * time.Second,
		HistorySize:       20,
		MonitoringEnabled: true,
	}
}

// DefaultFallbackConfig returns the default router restoration configuration.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		RestoreEnabled:        true,
		RestoreTimeoutSeconds: 60 * time.Second,
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "jakeyflow-core",
		SampleRate:   0.1,
	}
}
