// Package config loads the pipeline configuration from environment variables,
// applies defaults and validates everything on startup so misconfiguration
// fails fast.
package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Ingest   IngestConfig
	Pipeline PipelineConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds the sink connection. Either URL or the individual
// parts (User, Host, Name at minimum) must be set.
type DatabaseConfig struct {
	// URL is a full PostgreSQL connection string; it wins over the parts.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST" default:"localhost"`
	Port     int    `env:"DB_PORT" default:"5432"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig describes the drop directory.
type IngestConfig struct {
	// Dir is the flat directory source files land in (required)
	Dir string `env:"INGEST_DIR" required:"true"`

	// Label is the suffix of canonical names: {date}_{label}.{ext}
	Label string `env:"INGEST_LABEL" default:"extract"`

	// DateFormat is the Go layout of the date prefix (default: 20060102)
	DateFormat string `env:"INGEST_DATE_FORMAT" default:"20060102"`

	// ParquetMirror writes a parquet copy next to each resolved latest file
	ParquetMirror bool `env:"INGEST_PARQUET_MIRROR" default:"false"`

	// LatestFormats are the extensions considered when selecting the latest file
	LatestFormats []string `env:"INGEST_LATEST_FORMATS" default:"xlsx"`

	// AllFormats are the extensions merged when selecting all files
	AllFormats []string `env:"INGEST_ALL_FORMATS" default:"xlsx,parquet"`

	// WatchDebounce is how long the directory must be quiet before a watch run
	WatchDebounce time.Duration `env:"INGEST_WATCH_DEBOUNCE" default:"500ms"`
}

// PipelineConfig holds the default job and run limits.
type PipelineConfig struct {
	Dataset   string `env:"PIPELINE_DATASET" default:"prop_extract"`
	Mode      string `env:"PIPELINE_MODE" default:"replace"`
	Selection string `env:"PIPELINE_SELECTION" default:"latest"`

	// BatchSize is rows per INSERT in dedup mode (default: 500)
	BatchSize int `env:"PIPELINE_BATCH_SIZE" default:"500"`

	// Schedule is a cron spec for the schedule command, e.g. "0 6 * * *"
	Schedule string `env:"PIPELINE_SCHEDULE"`

	// SchemaFile is an optional YAML file adding or overriding datasets
	SchemaFile string `env:"PIPELINE_SCHEMA_FILE"`

	// MissingMarkers are cell values treated as missing, compared case-insensitively
	MissingMarkers []string `env:"PIPELINE_MISSING_MARKERS" default:"n/a,na"`

	// RunTimeout bounds a single run; 0 disables it (default: 30m)
	RunTimeout time.Duration `env:"PIPELINE_RUN_TIMEOUT" default:"30m"`

	// MaxWaitTime is how long a run waits for the one before it (default: 5s)
	MaxWaitTime time.Duration `env:"PIPELINE_MAX_WAIT_TIME" default:"5s"`
}

// ServerConfig holds status API settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default since POST /api/runs waits for the run
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP and X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys guard POST /api/runs; empty leaves it open
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConnString returns URL when set, otherwise a postgres:// URL built from
// the individual parts.
func (c *DatabaseConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}
