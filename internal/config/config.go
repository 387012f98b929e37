package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var ErrMissingWorkspace = errors.New("workspace id and shared key are required")

// Config is the full agent configuration, loaded once at startup and
// read-only afterwards.
type Config struct {
	Workspace WorkspaceConfig `koanf:"workspace"`
	Buffer    BufferConfig    `koanf:"buffer"`
	Source    SourceConfig    `koanf:"source"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// WorkspaceConfig selects the Log Analytics destination and how events are
// projected for it.
type WorkspaceConfig struct {
	ID             string `koanf:"id"`
	SharedKey      string `koanf:"shared_key"` // base64
	Offering       string `koanf:"offering"`   // commercial or government
	LogType        string `koanf:"log_type"`
	MaxMessageSize int    `koanf:"max_message_size"`
	NamingStrategy string `koanf:"naming_strategy"`
	UseUTC         bool   `koanf:"use_utc"`
}

type BufferConfig struct {
	BatchSize    int           `koanf:"batch_size"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
	MaxRetries   int           `koanf:"max_retries"`
}

// SourceConfig controls the file-tailing daemon that feeds the pipeline.
type SourceConfig struct {
	LogRootPath        string        `koanf:"log_root_path"`
	ScanInterval       time.Duration `koanf:"scan_interval"`
	MinWorkers         int           `koanf:"min_workers"`
	MaxWorkers         int           `koanf:"max_workers"`
	QueueSize          int           `koanf:"queue_size"`
	FileBufferSize     int           `koanf:"file_buffer_size"`
	ScaleUpThreshold   float64       `koanf:"scale_up_threshold"`
	ScaleDownThreshold float64       `koanf:"scale_down_threshold"`
	ScaleCheckInterval time.Duration `koanf:"scale_check_interval"`
	FileIdleTimeout    time.Duration `koanf:"file_idle_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

func defaults() Config {
	return Config{
		Workspace: WorkspaceConfig{
			Offering:       "commercial",
			LogType:        "DiagnosticsLog",
			MaxMessageSize: 30_000_000,
			NamingStrategy: "default",
			UseUTC:         true,
		},
		Buffer: BufferConfig{
			BatchSize:    1000,
			BatchTimeout: 5 * time.Second,
			MaxRetries:   3,
		},
		Source: SourceConfig{
			LogRootPath:        "/var/log/app",
			ScanInterval:       30 * time.Second,
			MinWorkers:         2,
			MaxWorkers:         10,
			QueueSize:          50,
			FileBufferSize:     1000,
			ScaleUpThreshold:   0.9,
			ScaleDownThreshold: 0.3,
			ScaleCheckInterval: 15 * time.Second,
			FileIdleTimeout:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML config file at path on top of the built-in defaults.
// Destination credentials have no defaults and must come from the file;
// everything destination-specific beyond presence is validated by the sink
// constructor so a bad offering or naming strategy still fails at startup.
func Load(path string) (Config, error) {
	cfg := defaults()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.Workspace.ID == "" || cfg.Workspace.SharedKey == "" {
		return cfg, ErrMissingWorkspace
	}
	if cfg.Source.MinWorkers < 1 || cfg.Source.MaxWorkers < cfg.Source.MinWorkers {
		return cfg, fmt.Errorf("invalid worker bounds: min=%d max=%d", cfg.Source.MinWorkers, cfg.Source.MaxWorkers)
	}

	return cfg, nil
}
