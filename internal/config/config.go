// Package config loads Satchel's runtime configuration: defaults, then an
// optional config file, then SATCHEL_* environment variables, each layer
// overriding the last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir holds the local database and session file.
	DataDir string `mapstructure:"data_dir"`

	// Remote backend connection.
	RemoteEndpoint string `mapstructure:"remote_endpoint"`
	RemoteDatabase string `mapstructure:"remote_database"`
	RemoteAPIKey   string `mapstructure:"remote_api_key"`

	// Sync daemon behavior.
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// Connectivity probe.
	ProbeAddr     string        `mapstructure:"probe_addr"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// LogFile receives daemon logs (rotated). Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`
}

// DBPath returns the local database file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "satchel.db")
}

// SessionPath returns the session file path.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// Load resolves the configuration. A .env file next to the config file is
// loaded first if present (ignored if it does not exist); cfgFile may be
// empty, in which case only defaults and environment apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("data_dir", filepath.Join(home, ".satchel"))
	v.SetDefault("remote_endpoint", "https://api.satchel.app")
	v.SetDefault("remote_database", "satchel")
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("flush_interval", 5*time.Second)
	v.SetDefault("probe_addr", "1.1.1.1:443")
	v.SetDefault("probe_interval", 30*time.Second)

	// Keys without a meaningful default still need registering so
	// environment-only values reach Unmarshal.
	v.SetDefault("remote_api_key", "")
	v.SetDefault("log_file", "")

	if cfgFile != "" {
		dotEnv := filepath.Join(filepath.Dir(cfgFile), ".env")
		if _, err := os.Stat(dotEnv); err == nil {
			if err := godotenv.Load(dotEnv); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", dotEnv, err)
			}
		}

		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SATCHEL")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
