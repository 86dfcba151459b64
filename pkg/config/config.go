// Package config loads gateway configuration from YAML.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Store backend names.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	AutoReply AutoReplyConfig `yaml:"autoreply"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`

	// RequireAuth gates the API behind a bearer token or API key.
	RequireAuth bool `yaml:"require_auth"`
}

// StoreConfig selects and configures the credential store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // "file", "postgres"
	File     FileConfig     `yaml:"file"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// FileConfig configures the filesystem backend.
type FileConfig struct {
	Dir string `yaml:"dir"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// EngineConfig selects the automation-engine driver.
type EngineConfig struct {
	Driver   string         `yaml:"driver"`
	Settings map[string]any `yaml:"settings"`
}

// DispatchConfig configures outbound dispatch.
type DispatchConfig struct {
	MaxFetchBytes int64 `yaml:"max_fetch_bytes"`
}

// AutoReplyConfig configures the default-response behavior.
type AutoReplyConfig struct {
	Fallback     string            `yaml:"fallback"`
	ReplyToKnown bool              `yaml:"reply_to_known"`
	Responses    map[string]string `yaml:"responses"`
}

// Load reads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: file
// store under ./sessions and the loopback engine.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults applies default values to the config.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":3000"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendFile
	}
	if cfg.Store.File.Dir == "" {
		cfg.Store.File.Dir = "./sessions"
	}
	if cfg.Store.Postgres.MaxOpenConns == 0 {
		cfg.Store.Postgres.MaxOpenConns = 25
	}
	if cfg.Engine.Driver == "" {
		cfg.Engine.Driver = "loopback"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
