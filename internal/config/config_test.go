package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
[workspace]
id = "11111111-2222-3333-4444-555555555555"
shared_key = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
offering = "government"
log_type = "AppEvents"
max_message_size = 1000000
naming_strategy = "camelCase"
use_utc = true

[buffer]
batch_size = 500
batch_timeout = "2s"
max_retries = 4

[source]
log_root_path = "/var/log/myapp"
scan_interval = "10s"
min_workers = 1
max_workers = 4

[logging]
level = "debug"
pretty = true
`)

	cfg, err := Load(path)
	assert.NoError(t, err)

	assert.Equal(t, "11111111-2222-3333-4444-555555555555", cfg.Workspace.ID)
	assert.Equal(t, "government", cfg.Workspace.Offering)
	assert.Equal(t, "AppEvents", cfg.Workspace.LogType)
	assert.Equal(t, 1000000, cfg.Workspace.MaxMessageSize)
	assert.Equal(t, "camelCase", cfg.Workspace.NamingStrategy)
	assert.True(t, cfg.Workspace.UseUTC)

	assert.Equal(t, 500, cfg.Buffer.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Buffer.BatchTimeout)
	assert.Equal(t, 4, cfg.Buffer.MaxRetries)

	assert.Equal(t, "/var/log/myapp", cfg.Source.LogRootPath)
	assert.Equal(t, 10*time.Second, cfg.Source.ScanInterval)
	assert.Equal(t, 1, cfg.Source.MinWorkers)
	assert.Equal(t, 4, cfg.Source.MaxWorkers)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
[workspace]
id = "ws"
shared_key = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
`)

	cfg, err := Load(path)
	assert.NoError(t, err)

	assert.Equal(t, "commercial", cfg.Workspace.Offering)
	assert.Equal(t, 30_000_000, cfg.Workspace.MaxMessageSize)
	assert.Equal(t, 1000, cfg.Buffer.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Buffer.BatchTimeout)
	assert.Equal(t, 50, cfg.Source.QueueSize)
	assert.Equal(t, 2, cfg.Source.MinWorkers)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingCredentials(t *testing.T) {
	path := writeConfig(t, `
[workspace]
id = "ws"
`)

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingWorkspace)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestLoad_InvalidWorkerBounds(t *testing.T) {
	path := writeConfig(t, `
[workspace]
id = "ws"
shared_key = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

[source]
min_workers = 5
max_workers = 2
`)

	_, err := Load(path)
	assert.Error(t, err)
}
