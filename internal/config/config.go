// Package config loads the relay service configuration from a YAML
// file and the environment.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the relay service.
type Config struct {
	Addr string `mapstructure:"addr"`

	Store struct {
		// Backend selects the persistence backend: memory, file,
		// sqlite, postgres or redis.
		Backend string `mapstructure:"backend"`
		// Dir is the data directory for the file backend. The
		// postgres and redis backends also use it for run logs.
		Dir string `mapstructure:"dir"`
		// DSN is the sqlite file path or the postgres connection
		// string, depending on the backend.
		DSN         string `mapstructure:"dsn"`
		RedisAddr   string `mapstructure:"redis_addr"`
		RedisPrefix string `mapstructure:"redis_prefix"`
	} `mapstructure:"store"`

	Sender struct {
		BaseURL    string   `mapstructure:"base_url"`
		Token      string   `mapstructure:"token"`
		Recipients []string `mapstructure:"recipients"`
		// TestRecipient receives test-send dispatches. Falls back to
		// the first regular recipient when empty.
		TestRecipient string `mapstructure:"test_recipient"`
	} `mapstructure:"sender"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load reads the configuration from the given file (optional) and the
// environment. Environment variables use the RELAY_ prefix with dots
// replaced by underscores, e.g. RELAY_SENDER_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "data")
	v.SetDefault("store.redis_prefix", "relay:")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; env and defaults
		// still apply. An explicit path must exist.
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	return &cfg, nil
}
