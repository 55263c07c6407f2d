package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "250ms"/"2s" style values in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models taskline.yml. It is built once in cmd and handed to the
// engine and server by value; nothing reads it from package state.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Workspace string `yaml:"workspace"`
	Sync      struct {
		MaxRetries  int      `yaml:"max_retries"`
		BackoffBase Duration `yaml:"backoff_base"`
	} `yaml:"sync"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Server.Addr = "127.0.0.1:8080"
	c.Server.BasePath = "/v0"
	c.Workspace = "."
	c.Sync.MaxRetries = 3
	c.Sync.BackoffBase = Duration(time.Second)
	return &c
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// Load reads taskline.yml from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	return FromYAML(data, workspace)
}

// FromYAML parses config bytes, applying defaults for absent fields.
func FromYAML(data []byte, workspace string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse taskline.yml: %w", err)
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0")
	}
	if c.Sync.BackoffBase < 0 {
		return fmt.Errorf("sync.backoff_base must be >= 0")
	}
	return nil
}
