package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/agentlens/agentlens/internal/shared/paths"
)

// Config holds all engine and viewer configuration.
// Every field can be set through an AGENTLENS_* environment variable or a
// YAML file passed to LoadFile.
type Config struct {
	// DBPath locates the embedded trace store. Empty selects ~/.agentlens/traces.db.
	DBPath string `envconfig:"AGENTLENS_DB_PATH" yaml:"db_path"`

	Capture   CaptureConfig   `yaml:"capture"`
	Writer    WriterConfig    `yaml:"writer"`
	Engine    EngineConfig    `yaml:"engine"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LogConfig       `yaml:"logging"`
}

// CaptureConfig bounds input/output snapshot capture.
type CaptureConfig struct {
	Disabled bool `envconfig:"AGENTLENS_CAPTURE_DISABLED" default:"false" yaml:"disabled"`
	MaxBytes int  `envconfig:"AGENTLENS_CAPTURE_MAX_BYTES" default:"65536" yaml:"max_bytes"`
	MaxDepth int  `envconfig:"AGENTLENS_CAPTURE_MAX_DEPTH" default:"8" yaml:"max_depth"`
}

// WriterConfig tunes the persistence writer.
type WriterConfig struct {
	QueueSize     int           `envconfig:"AGENTLENS_QUEUE_SIZE" default:"4096" yaml:"queue_size"`
	BatchSize     int           `envconfig:"AGENTLENS_BATCH_SIZE" default:"64" yaml:"batch_size"`
	FlushInterval time.Duration `envconfig:"AGENTLENS_FLUSH_INTERVAL" default:"250ms" yaml:"flush_interval"`
	MaxRetries    int           `envconfig:"AGENTLENS_WRITE_RETRIES" default:"3" yaml:"max_retries"`
	RetryBackoff  time.Duration `envconfig:"AGENTLENS_RETRY_BACKOFF" default:"50ms" yaml:"retry_backoff"`
}

// EngineConfig bounds in-memory tracking state.
type EngineConfig struct {
	// StackLimit caps span nesting per execution context. Deeper pushes are
	// refused and flagged as corruption rather than growing without bound.
	StackLimit int `envconfig:"AGENTLENS_STACK_LIMIT" default:"512" yaml:"stack_limit"`
}

// ServerConfig holds viewer HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"AGENTLENS_HOST" default:"127.0.0.1" yaml:"host"`
	Port string `envconfig:"AGENTLENS_PORT" default:"8000" yaml:"port"`
}

// RateLimitConfig holds viewer rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"AGENTLENS_RATE_LIMIT_RPS" default:"100" yaml:"rps"`
	Burst             int  `envconfig:"AGENTLENS_RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"AGENTLENS_RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"AGENTLENS_LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"AGENTLENS_LOG_DEV" default:"false" yaml:"development"`
	File        string `envconfig:"AGENTLENS_LOG_FILE" yaml:"file"`
	MaxSizeMB   int    `envconfig:"AGENTLENS_LOG_MAX_SIZE_MB" default:"50" yaml:"max_size_mb"`
	MaxBackups  int    `envconfig:"AGENTLENS_LOG_MAX_BACKUPS" default:"3" yaml:"max_backups"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads configuration from environment, then overlays a YAML file.
// Keys present in the file take precedence over environment variables; keys
// absent from the file keep their environment or default values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(paths.Expand(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Capture: CaptureConfig{
			MaxBytes: 65536,
			MaxDepth: 8,
		},
		Writer: WriterConfig{
			QueueSize:     4096,
			BatchSize:     64,
			FlushInterval: 250 * time.Millisecond,
			MaxRetries:    3,
			RetryBackoff:  50 * time.Millisecond,
		},
		Engine: EngineConfig{
			StackLimit: 512,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8000",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Logging: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
	cfg.normalize()
	return cfg
}

// normalize fills derived values after loading.
func (c *Config) normalize() {
	if c.DBPath == "" {
		c.DBPath = paths.DefaultDB()
	} else {
		c.DBPath = paths.Expand(c.DBPath)
	}
	if c.Logging.File != "" {
		c.Logging.File = paths.Expand(c.Logging.File)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.Writer.QueueSize <= 0 {
		return fmt.Errorf("writer queue size must be positive, got %d", c.Writer.QueueSize)
	}
	if c.Writer.BatchSize <= 0 {
		return fmt.Errorf("writer batch size must be positive, got %d", c.Writer.BatchSize)
	}
	if c.Writer.FlushInterval <= 0 {
		return fmt.Errorf("writer flush interval must be positive, got %s", c.Writer.FlushInterval)
	}
	if c.Writer.MaxRetries < 0 {
		return fmt.Errorf("writer retries must not be negative, got %d", c.Writer.MaxRetries)
	}
	if c.Engine.StackLimit <= 0 {
		return fmt.Errorf("stack limit must be positive, got %d", c.Engine.StackLimit)
	}
	if c.Capture.MaxBytes <= 0 && !c.Capture.Disabled {
		return fmt.Errorf("capture max bytes must be positive, got %d", c.Capture.MaxBytes)
	}
	return nil
}
