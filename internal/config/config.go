// Package config loads bomrel settings from defaults, a config file,
// BOMREL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Keys shared by the config file, the environment (BOMREL_<KEY>) and the
// CLI flags bound to them.
const (
	KeyDatabase        = "db"
	KeyBackend         = "backend"
	KeyFormat          = "format"
	KeyLogLevel        = "log_level"
	KeyLogPretty       = "log_pretty"
	KeyMaxSubtreeNodes = "max_subtree_nodes"
	KeyIDStyle         = "id_style"
)

// Backends and id styles.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"

	IDStyleUUID     = "uuid"
	IDStyleSequence = "sequence"
)

// Config holds the runtime configuration.
type Config struct {
	// Database is the SQLite file or the Badger directory.
	Database string `mapstructure:"db"`
	Backend  string `mapstructure:"backend"`

	// Format is the CLI output format: text or json.
	Format string `mapstructure:"format"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	MaxSubtreeNodes int `mapstructure:"max_subtree_nodes"`

	// IDStyle picks generated node ids: uuid (UUIDv7) or sequence (n1, n2, ...).
	IDStyle string `mapstructure:"id_style"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BOMREL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDatabase, "bomrel.db")
	v.SetDefault(KeyBackend, BackendSQLite)
	v.SetDefault(KeyFormat, "text")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogPretty, false)
	v.SetDefault(KeyMaxSubtreeNodes, 10000)
	v.SetDefault(KeyIDStyle, IDStyleUUID)
	return v
}

// Load reads file into v when file is non-empty, then decodes and validates
// the merged settings. A named file that cannot be read is an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and negative limits.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("invalid backend %q: must be %s or %s", c.Backend, BackendSQLite, BackendBadger)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q: must be text or json", c.Format)
	}
	switch c.IDStyle {
	case IDStyleUUID, IDStyleSequence:
	default:
		return fmt.Errorf("invalid id_style %q: must be %s or %s", c.IDStyle, IDStyleUUID, IDStyleSequence)
	}
	if c.MaxSubtreeNodes < 0 {
		return fmt.Errorf("max_subtree_nodes must not be negative, got %d", c.MaxSubtreeNodes)
	}
	if c.Database == "" {
		return fmt.Errorf("db must not be empty")
	}
	return nil
}
