// Package config loads the service configuration from YAML with defaults
// applied for every omitted field.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dbsentinel/piiscan/internal/database"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JobStoreConfig selects the job durability backend.
type JobStoreConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// AuditConfig configures the optional audit trail backends.
type AuditConfig struct {
	Backends struct {
		Postgres []struct {
			ConnStr string `yaml:"connection_string"`
		} `yaml:"postgres"`
	} `yaml:"backends"`
}

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Logging     LoggingConfig               `yaml:"logging"`
	Connections map[string]*database.Config `yaml:"connections"`
	Sampling    scan.SamplingConfig         `yaml:"sampling"`
	Detection   scan.DetectionConfig        `yaml:"detection"`
	Qi          scan.QiConfig               `yaml:"qi"`
	Ner         scan.NerConfig              `yaml:"ner"`
	JobStore    JobStoreConfig              `yaml:"jobstore"`
	Audit       AuditConfig                 `yaml:"audit"`
}

// Default returns the configuration with every field at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sampling:  scan.DefaultSamplingConfig(),
		Detection: scan.DefaultDetectionConfig(),
		Qi:        scan.DefaultQiConfig(),
		Ner:       scan.DefaultNerConfig(),
		JobStore: JobStoreConfig{
			Backend: "memory",
		},
	}
}

// Load reads the YAML file at path over the defaults: omitted fields keep
// their default values, present fields override them.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for id, conn := range cfg.Connections {
		if conn == nil {
			conn = database.DefaultConfig()
			cfg.Connections[id] = conn
		}
		conn.ApplyDefaults()
		conn.LoadFromEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.JobStore.Backend {
	case "memory":
	case "redis":
		if c.JobStore.RedisAddr == "" {
			return fmt.Errorf("jobstore backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown jobstore backend %q", c.JobStore.Backend)
	}

	if err := c.Sampling.Validate(); err != nil {
		return fmt.Errorf("sampling config: %w", err)
	}
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection config: %w", err)
	}
	if err := c.Qi.Validate(); err != nil {
		return fmt.Errorf("qi config: %w", err)
	}
	for id, conn := range c.Connections {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("connection %q: %w", id, err)
		}
	}
	return nil
}
