// Package config loads application settings from environment variables,
// applies defaults and validates everything on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is zero so progress streams stay open.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to every route except progress streams.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL settings. Without a URL, postgres
// destinations and run history are unavailable.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// History records every finished run in import_runs.
	History bool `env:"DB_HISTORY" default:"true"`
}

// ImportConfig holds import run settings.
type ImportConfig struct {
	// JobsDir holds the *.yaml job definitions.
	JobsDir string `env:"IMPORT_JOBS_DIR" default:"jobs"`

	// UploadDir is where uploaded files wait for their run. Empty means the
	// system temp directory.
	UploadDir string `env:"IMPORT_UPLOAD_DIR"`

	MaxFileSize       int64         `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`
	MaxConcurrentRuns int           `env:"IMPORT_MAX_CONCURRENT_RUNS" envAlt:"UPLOAD_MAX_CONCURRENT" default:"5"`
	MaxWaitTime       time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// MaxConcurrentWrites bounds writer calls across all runs; 0 is
	// unbounded.
	MaxConcurrentWrites int `env:"IMPORT_MAX_CONCURRENT_WRITES" default:"0"`

	Timeout   time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`
	ResultTTL time.Duration `env:"IMPORT_RESULT_TTL" default:"15m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
