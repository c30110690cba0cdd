package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/pipeline"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database
	if c.Database.URL == "" && (c.Database.User == "" || c.Database.Host == "" || c.Database.Name == "") {
		errs = append(errs, "DATABASE_URL or DB_USER, DB_HOST and DB_NAME are required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT (%d) must be 1-65535", c.Database.Port))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	// Ingest
	if c.Ingest.Label == "" || strings.ContainsAny(c.Ingest.Label, `/\`) {
		errs = append(errs, fmt.Sprintf("INGEST_LABEL (%q) must be a non-empty file name part", c.Ingest.Label))
	}
	if d := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC); d.Format(c.Ingest.DateFormat) == c.Ingest.DateFormat {
		errs = append(errs, fmt.Sprintf("INGEST_DATE_FORMAT (%q) is not a Go date layout", c.Ingest.DateFormat))
	}
	if _, err := ingest.ParseFormats(c.Ingest.LatestFormats); err != nil || len(c.Ingest.LatestFormats) == 0 {
		errs = append(errs, fmt.Sprintf("INGEST_LATEST_FORMATS (%v) must list xlsx, parquet or csv", c.Ingest.LatestFormats))
	}
	if _, err := ingest.ParseFormats(c.Ingest.AllFormats); err != nil || len(c.Ingest.AllFormats) == 0 {
		errs = append(errs, fmt.Sprintf("INGEST_ALL_FORMATS (%v) must list xlsx, parquet or csv", c.Ingest.AllFormats))
	}
	if c.Ingest.WatchDebounce <= 0 {
		errs = append(errs, "INGEST_WATCH_DEBOUNCE must be positive")
	}

	// Pipeline
	if c.Pipeline.Dataset == "" {
		errs = append(errs, "PIPELINE_DATASET is required")
	}
	if _, err := pipeline.ParseMode(c.Pipeline.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("PIPELINE_MODE (%q) must be one of: replace, append, dedup", c.Pipeline.Mode))
	}
	if _, err := ingest.ParseSelection(c.Pipeline.Selection); err != nil {
		errs = append(errs, fmt.Sprintf("PIPELINE_SELECTION (%q) must be one of: latest, all", c.Pipeline.Selection))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, "PIPELINE_BATCH_SIZE must be positive")
	}
	if c.Pipeline.Schedule != "" {
		if _, err := cron.ParseStandard(c.Pipeline.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("PIPELINE_SCHEDULE (%q): %v", c.Pipeline.Schedule, err))
		}
	}
	if c.Pipeline.RunTimeout < 0 {
		errs = append(errs, "PIPELINE_RUN_TIMEOUT must be non-negative")
	}
	if c.Pipeline.MaxWaitTime <= 0 {
		errs = append(errs, "PIPELINE_MAX_WAIT_TIME must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ResolverOptions converts the ingest section into resolver options.
func (c *Config) ResolverOptions() (ingest.Options, error) {
	latest, err := ingest.ParseFormats(c.Ingest.LatestFormats)
	if err != nil {
		return ingest.Options{}, fmt.Errorf("latest formats: %w", err)
	}
	all, err := ingest.ParseFormats(c.Ingest.AllFormats)
	if err != nil {
		return ingest.Options{}, fmt.Errorf("all formats: %w", err)
	}
	return ingest.Options{
		Dir:           c.Ingest.Dir,
		Label:         c.Ingest.Label,
		DateFormat:    c.Ingest.DateFormat,
		LatestFormats: latest,
		AllFormats:    all,
		ParquetMirror: c.Ingest.ParquetMirror,
	}, nil
}

// DefaultJob is the job described by the pipeline section.
func (c *Config) DefaultJob() (pipeline.Job, error) {
	mode, err := pipeline.ParseMode(c.Pipeline.Mode)
	if err != nil {
		return pipeline.Job{}, err
	}
	sel, err := ingest.ParseSelection(c.Pipeline.Selection)
	if err != nil {
		return pipeline.Job{}, err
	}
	return pipeline.Job{Dataset: c.Pipeline.Dataset, Mode: mode, Selection: sel}, nil
}

// String returns a safe string representation of the config for logging.
// The password and any credentials in DATABASE_URL are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {Conn: %s, MaxConns: %d, MinConns: %d}, ",
		maskConn(c.Database.ConnString()), c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Ingest: {Dir: %q, Label: %q, ParquetMirror: %v}, ",
		c.Ingest.Dir, c.Ingest.Label, c.Ingest.ParquetMirror)
	fmt.Fprintf(&b, "Pipeline: {Dataset: %q, Mode: %q, Selection: %q, Schedule: %q}, ",
		c.Pipeline.Dataset, c.Pipeline.Mode, c.Pipeline.Selection, c.Pipeline.Schedule)
	fmt.Fprintf(&b, "Server: {Addr: %q, APIKeys: %d}, ", c.Server.Addr(), len(c.Server.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func maskConn(conn string) string {
	u, err := url.Parse(conn)
	if err != nil || u.Scheme == "" {
		return "[MASKED]"
	}
	return u.Redacted()
}
