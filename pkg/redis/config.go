package redis

import (
	"fmt"
	"time"
)

// Config holds the connection settings of the Redis report store
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Redis Connection
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Values larger than CompressThreshold bytes are gzipped. Zero disables compression.
	CompressThreshold int `json:"compress_threshold" yaml:"compress_threshold"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// DefaultConfig returns a disabled Redis configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:           false,
		Host:              "localhost",
		Port:              6379,
		Database:          0,
		PoolSize:          4,
		MinIdleConns:      1,
		MaxConnAge:        time.Hour,
		PoolTimeout:       time.Second * 4,
		IdleTimeout:       time.Minute * 5,
		ReadTimeout:       time.Second * 3,
		WriteTimeout:      time.Second * 3,
		DialTimeout:       time.Second * 5,
		CompressThreshold: 1024 * 16,
	}
}

// Validate checks if the Redis configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if the store is disabled
	}

	if c.IsClusterMode() {
		if c.PoolSize < 1 {
			return fmt.Errorf("pool_size must be at least 1")
		}
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("redis host is required when enabled")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("redis port must be between 1 and 65535")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	if c.CompressThreshold < 0 {
		return fmt.Errorf("compress_threshold cannot be negative")
	}

	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled && len(c.Cluster.Addresses) > 0
}
