// Package config loads the module configuration from YAML and NPLUSONE_
// environment variables.
package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/logs"
	"github.com/ammar0144/nplusone/pkg/redis"
	"github.com/ammar0144/nplusone/pkg/stats"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. NPLUSONE_DATABASE_DRIVER
const EnvPrefix = "NPLUSONE"

// Config is the configuration of the whole module
type Config struct {
	Database db.Config    `json:"database" yaml:"database"`
	Redis    redis.Config `json:"redis" yaml:"redis"`
	Log      logs.Config  `json:"log" yaml:"log"`
	Stats    stats.Config `json:"stats" yaml:"stats"`

	// PlanCacheSize is the number of compiled fetch plans kept. Zero disables the cache.
	PlanCacheSize int `json:"plan_cache_size" yaml:"plan_cache_size"`
}

// Default returns an embedded SQLite store in the working directory, Redis
// disabled and N+1 detection on
func Default() *Config {
	return &Config{
		Database:      *db.DefaultConfig("nplusone.db"),
		Redis:         *redis.DefaultConfig(),
		Log:           logs.DefaultConfig(),
		Stats:         stats.DefaultConfig(),
		PlanCacheSize: 128,
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if c.PlanCacheSize < 0 {
		return fmt.Errorf("plan_cache_size cannot be negative")
	}
	if c.Stats.Publish && !c.Redis.Enabled {
		return fmt.Errorf("stats: publish requires redis to be enabled")
	}
	return nil
}

// Load reads path over the defaults, then applies NPLUSONE_ environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// every key must be known to viper for AutomaticEnv to see it
	base, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
