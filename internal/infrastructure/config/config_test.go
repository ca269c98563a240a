package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, 65536, cfg.Capture.MaxBytes)
	assert.Equal(t, 8, cfg.Capture.MaxDepth)
	assert.Equal(t, 4096, cfg.Writer.QueueSize)
	assert.Equal(t, 64, cfg.Writer.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Writer.FlushInterval)
	assert.Equal(t, 512, cfg.Engine.StackLimit)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AGENTLENS_DB_PATH", "/tmp/env-traces.db")
	t.Setenv("AGENTLENS_BATCH_SIZE", "7")
	t.Setenv("AGENTLENS_FLUSH_INTERVAL", "1s")
	t.Setenv("AGENTLENS_CAPTURE_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env-traces.db", cfg.DBPath)
	assert.Equal(t, 7, cfg.Writer.BatchSize)
	assert.Equal(t, time.Second, cfg.Writer.FlushInterval)
	assert.True(t, cfg.Capture.Disabled)

	// Untouched keys keep defaults
	assert.Equal(t, 4096, cfg.Writer.QueueSize)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agentlens.yaml")

	content := `
db_path: /tmp/file-traces.db
writer:
  batch_size: 10
  flush_interval: 500ms
server:
  port: "9000"
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	cfg, err := LoadFile(file)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/file-traces.db", cfg.DBPath)
	assert.Equal(t, 10, cfg.Writer.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Writer.FlushInterval)
	assert.Equal(t, "9000", cfg.Server.Port)

	// Keys absent from the file keep their defaults
	assert.Equal(t, 512, cfg.Engine.StackLimit)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("AGENTLENS_BATCH_SIZE", "5")

	dir := t.TempDir()
	file := filepath.Join(dir, "agentlens.yaml")
	require.NoError(t, os.WriteFile(file, []byte("writer:\n  batch_size: 99\n"), 0o600))

	cfg, err := LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Writer.BatchSize)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/agentlens.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"zero queue", func(c *Config) { c.Writer.QueueSize = 0 }, true},
		{"zero batch", func(c *Config) { c.Writer.BatchSize = 0 }, true},
		{"zero flush interval", func(c *Config) { c.Writer.FlushInterval = 0 }, true},
		{"negative retries", func(c *Config) { c.Writer.MaxRetries = -1 }, true},
		{"zero stack limit", func(c *Config) { c.Engine.StackLimit = 0 }, true},
		{"zero capture bytes", func(c *Config) { c.Capture.MaxBytes = 0 }, true},
		{"zero capture bytes while disabled", func(c *Config) {
			c.Capture.MaxBytes = 0
			c.Capture.Disabled = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultDBPathUnderHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in test environment")
	}

	cfg := Default()
	assert.Contains(t, cfg.DBPath, home)
	assert.Contains(t, cfg.DBPath, ".agentlens")
}
