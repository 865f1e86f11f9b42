// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	SQLite   SQLiteConfig
	Upload   UploadConfig
	Import   ImportConfig
	Progress ProgressConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Webhook  WebhookConfig

	// File holds settings loaded from the optional YAML file.
	File FileConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 5m for large uploads)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-upload requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StoreConfig selects the catalog and progress backends.
type StoreConfig struct {
	// Driver is the catalog store: postgres or sqlite (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// ProgressDriver is the progress store: postgres, sqlite or memory.
	// Empty means the same as Driver.
	ProgressDriver string `env:"PROGRESS_STORE_DRIVER"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required when a postgres driver is used)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate creates tables and indexes on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// SQLiteConfig holds embedded database settings.
type SQLiteConfig struct {
	// Path is the database file, or :memory: (default: catalog.db)
	Path string `env:"SQLITE_PATH" default:"catalog.db"`

	// BusyTimeout is how long a writer waits on a locked database (default: 5s)
	BusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" default:"5s"`
}

// UploadConfig holds upload admission settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 500MiB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"524288000"`

	// MaxConcurrent is the maximum number of jobs being parsed at once (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a job slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single import job (default: 2h)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"2h"`

	// SpoolDir is where uploads are buffered while a job runs (default: OS temp dir)
	SpoolDir string `env:"UPLOAD_SPOOL_DIR"`
}

// ImportConfig holds pipeline tuning.
type ImportConfig struct {
	// Strategy is the default reconciliation strategy: chunked or preload (default: chunked)
	Strategy string `env:"IMPORT_STRATEGY" default:"chunked"`

	// ChunkSize is the number of rows per dispatched chunk (default: 100).
	// It also bounds cancellation latency: a worker notices a cancel at most
	// one chunk later.
	ChunkSize int `env:"IMPORT_CHUNK_SIZE" default:"100"`

	// BatchSize is the number of buffered writes per preload flush (default: 1000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"1000"`

	// Workers is the number of concurrent chunk workers (default: 4)
	Workers int `env:"IMPORT_WORKERS" default:"4"`

	// QueueSize is the number of chunks buffered ahead of the workers (default: 64)
	QueueSize int `env:"IMPORT_QUEUE_SIZE" default:"64"`

	// MaxRetries is how often a failing chunk is retried (default: 3)
	MaxRetries int `env:"IMPORT_MAX_RETRIES" default:"3"`

	// RetryBackoff is the first retry delay, doubled per attempt (default: 10s)
	RetryBackoff time.Duration `env:"IMPORT_RETRY_BACKOFF" default:"10s"`

	// RetryMaxBackoff caps the retry delay (default: 2m)
	RetryMaxBackoff time.Duration `env:"IMPORT_RETRY_MAX_BACKOFF" default:"2m"`

	// ProgressInterval is how many rows the preload strategy handles between
	// progress writes (default: 100)
	ProgressInterval int `env:"IMPORT_PROGRESS_INTERVAL" default:"100"`

	// SourceEncoding is the default charset label of uploaded files (default: utf-8)
	SourceEncoding string `env:"IMPORT_SOURCE_ENCODING" default:"utf-8"`

	// SkipIncomplete drops rows with a blank name or SKU instead of failing them (default: false)
	SkipIncomplete bool `env:"IMPORT_SKIP_INCOMPLETE" default:"false"`
}

// ProgressConfig holds progress record settings.
type ProgressConfig struct {
	// TTL is how long a job record lives after its last write (default: 1h)
	TTL time.Duration `env:"PROGRESS_TTL" default:"1h"`

	// SweepInterval is how often expired records are purged (default: 5m)
	SweepInterval time.Duration `env:"PROGRESS_SWEEP_INTERVAL" default:"5m"`

	// ErrorTail is the number of errors kept on a job record (default: 20)
	ErrorTail int `env:"PROGRESS_ERROR_TAIL" default:"20"`

	// RunningErrorTail is the number of errors kept while a preload job runs (default: 10)
	RunningErrorTail int `env:"PROGRESS_RUNNING_ERROR_TAIL" default:"10"`

	// ChunkErrorTail is the number of errors a chunk reports (default: 5)
	ChunkErrorTail int `env:"PROGRESS_CHUNK_ERROR_TAIL" default:"5"`
}

// RateLimitConfig holds per-IP request throttling settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File additionally writes JSON logs to this path when set
	File string `env:"LOG_FILE"`
}

// WebhookConfig holds outbound notification settings.
type WebhookConfig struct {
	// Timeout is the per-delivery HTTP timeout (default: 10s)
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" default:"10s"`

	// Concurrency is the number of deliveries in flight per event (default: 8)
	Concurrency int `env:"WEBHOOK_CONCURRENCY" default:"8"`

	// RatePerSecond paces deliveries across all subscribers (default: 50)
	RatePerSecond float64 `env:"WEBHOOK_RATE_PER_SECOND" default:"50"`

	// ConfigFile is the YAML file with column keywords and webhook subscribers
	ConfigFile string `env:"IMPORT_CONFIG_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// ProgressStoreDriver returns the effective progress store driver.
func (c *StoreConfig) ProgressStoreDriver() string {
	if c.ProgressDriver == "" {
		return c.Driver
	}
	return c.ProgressDriver
}

// UsesPostgres reports whether any store needs DATABASE_URL.
func (c *StoreConfig) UsesPostgres() bool {
	return c.Driver == DriverPostgres || c.ProgressStoreDriver() == DriverPostgres
}

// UsesSQLite reports whether any store needs the SQLite file.
func (c *StoreConfig) UsesSQLite() bool {
	return c.Driver == DriverSQLite || c.ProgressStoreDriver() == DriverSQLite
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
