// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"net"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config holds the proxy process configuration, loaded from the
// environment. All values are immutable after process start; in
// particular the idle-timeout policy applies uniformly to every
// connection pair for the life of the process.
type Config struct {
	// Data plane
	ListenAddress  string        `env:"PROXY_LISTEN_ADDRESS"      envDefault:"0.0.0.0:8815"`
	BackendAddress string        `env:"PROXY_BACKEND_ADDRESS"     envDefault:"localhost:8816"`
	ConnectTimeout time.Duration `env:"PROXY_CONNECT_TIMEOUT"     envDefault:"10s"`
	BufferSize     int           `env:"PROXY_BUFFER_SIZE"         envDefault:"32768"`

	// Idle-timeout policy. Zero disables the watchdog entirely; the
	// documented default of 300s mirrors common cloud appliance settings.
	IdleTimeout       time.Duration `env:"PROXY_IDLE_TIMEOUT"        envDefault:"300s"`
	IdleCheckInterval time.Duration `env:"PROXY_IDLE_CHECK_INTERVAL" envDefault:"0s"`

	// Health probe rule
	PingMethod string `env:"PROXY_PING_METHOD" envDefault:"GET"`
	PingPath   string `env:"PROXY_PING_PATH"   envDefault:"/ping"`
	PingBody   string `env:"PROXY_PING_BODY"   envDefault:"PONG"`

	// Accept rate limiting (per client address); zero capacity disables it
	RateLimitCapacity int64 `env:"PROXY_RATE_LIMIT_CAPACITY" envDefault:"0"`
	RateLimitRefill   int64 `env:"PROXY_RATE_LIMIT_REFILL"   envDefault:"10"`

	// Backend dial circuit breaker
	BreakerMaxFailures  int           `env:"PROXY_BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"PROXY_BREAKER_RESET_TIMEOUT" envDefault:"30s"`

	// Observability
	MetricsPort int    `env:"PROXY_METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"PROXY_HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"PROXY_LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"PROXY_LOG_FORMAT"   envDefault:"json"`

	// Shutdown
	ShutdownTimeout time.Duration `env:"PROXY_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads the configuration from the environment, with an optional
// .env file, and validates it.
func Load() (*Config, error) {
	// .env file is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListenAddress, validation.Required, validation.By(validateHostPort)),
		validation.Field(&c.BackendAddress, validation.Required, validation.By(validateHostPort)),
		validation.Field(&c.ConnectTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.BufferSize, validation.Required, validation.Min(1)),
		validation.Field(&c.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.IdleCheckInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.PingMethod, validation.Required, validation.In("GET", "HEAD", "POST")),
		validation.Field(&c.PingPath, validation.Required, validation.By(validatePath)),
		validation.Field(&c.RateLimitCapacity, validation.Min(int64(0))),
		validation.Field(&c.MetricsPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.HealthPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.LogLevel, validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
		validation.Field(&c.LogFormat, validation.Required,
			validation.In(LogFormatJSON, LogFormatText)),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Second)),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if len(path) == 0 || path[0] != '/' {
		return validation.NewError("validation_invalid_path", "must start with /")
	}
	return nil
}
