package db

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Supported store dialects
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds store connection configuration
type Config struct {
	// Dialect: "mysql" or "sqlite"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite Settings
	Path string `json:"path" yaml:"path"` // database file, ":memory:" is rejected (one connection per session)

	// MySQL Connection Settings
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Database  string `json:"database" yaml:"database"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	Collation string `json:"collation" yaml:"collation"` // Default: utf8mb4_unicode_ci
	TimeZone  string `json:"timezone" yaml:"timezone"`   // Default: UTC

	// Connection Pool Settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Statement Settings
	QueryTimeout       time.Duration `json:"query_timeout" yaml:"query_timeout"` // 0 disables the per-statement deadline
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`
	LogLevel           string        `json:"log_level" yaml:"log_level"` // silent, error, warn, info

	// SSL Configuration (MySQL only)
	SSL SSLConfig `json:"ssl" yaml:"ssl"`
}

// SSLConfig holds TLS configuration for MySQL
type SSLConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify"`
	ServerName string `json:"server_name" yaml:"server_name"`
}

// Manager owns the connection pool shared by all sessions
type Manager struct {
	config   *Config
	db       *gorm.DB
	log      *zap.Logger
	observer StatementObserver
}
