package redis

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stored values carry a one byte header telling whether the payload is gzipped
const (
	valueRaw  byte = 'r'
	valueGzip byte = 'z'
)

// Manager manages Redis connections and capped report lists
type Manager struct {
	config        *Config
	client        redis.UniversalClient
	clusterClient *redis.ClusterClient
	metrics       *Metrics
}

// NewManager creates a new Redis manager
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := &Manager{
		config:  config,
		metrics: NewMetrics(),
	}

	// Initialize Redis client based on configuration
	manager.initializeClient()
	return manager, nil
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() {
	if !m.config.Enabled {
		return // Skip initialization if the store is disabled
	}

	if m.config.IsClusterMode() {
		m.clusterClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		m.client = m.clusterClient
		return
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:            m.config.GetAddr(),
		Password:        m.config.Password,
		DB:              m.config.Database,
		PoolSize:        m.config.PoolSize,
		MinIdleConns:    m.config.MinIdleConns,
		ConnMaxLifetime: m.config.MaxConnAge,
		PoolTimeout:     m.config.PoolTimeout,
		ConnMaxIdleTime: m.config.IdleTimeout,
		ReadTimeout:     m.config.ReadTimeout,
		WriteTimeout:    m.config.WriteTimeout,
		DialTimeout:     m.config.DialTimeout,
	})
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Enabled reports whether the store is configured
func (m *Manager) Enabled() bool {
	return m.config.Enabled
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection
// Returns nil if the store is disabled (not an error condition)
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}

	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that the store is enabled and client is initialized
func (m *Manager) checkClient(key string) error {
	if !m.config.Enabled {
		return ErrStoreDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

// PushCapped prepends value to the list at key, keeps the newest max entries
// and refreshes the key's TTL. A max of zero keeps every entry; a ttl of zero
// never expires the list.
func (m *Manager) PushCapped(ctx context.Context, key string, value []byte, max int64, ttl time.Duration) error {
	if err := m.checkClient(key); err != nil {
		return err
	}

	encoded, err := m.encode(value)
	if err != nil {
		m.metrics.RecordError()
		return err
	}

	start := time.Now()
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, key, encoded)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, max-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	m.metrics.RecordPush(time.Since(start))
	if err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis push error: %w", err)
	}
	return nil
}

// Range returns the entries of the list at key between start and stop
// (inclusive, newest first). A missing key yields an empty slice.
func (m *Manager) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := m.checkClient(key); err != nil {
		return nil, err
	}

	begin := time.Now()
	values, err := m.client.LRange(ctx, key, start, stop).Result()
	m.metrics.RecordRange(time.Since(begin))
	if err != nil {
		m.metrics.RecordError()
		return nil, fmt.Errorf("redis range error: %w", err)
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		decoded, err := m.decode([]byte(v))
		if err != nil {
			m.metrics.RecordError()
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// Len returns the length of the list at key
func (m *Manager) Len(ctx context.Context, key string) (int64, error) {
	if err := m.checkClient(key); err != nil {
		return 0, err
	}
	n, err := m.client.LLen(ctx, key).Result()
	if err != nil {
		m.metrics.RecordError()
		return 0, fmt.Errorf("redis llen error: %w", err)
	}
	return n, nil
}

// Delete removes a key
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.checkClient(key); err != nil {
		return err
	}
	m.metrics.RecordDelete()
	return m.client.Del(ctx, key).Err()
}

// TTL returns the remaining time to live of key
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := m.checkClient(key); err != nil {
		return 0, err
	}
	return m.client.TTL(ctx, key).Result()
}

// GetMetrics returns a snapshot of the manager's metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets the manager's metrics
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}

func (m *Manager) encode(value []byte) ([]byte, error) {
	threshold := m.config.CompressThreshold
	if threshold <= 0 || len(value) <= threshold {
		return append([]byte{valueRaw}, value...), nil
	}

	compressed, err := compressData(value)
	if err != nil {
		return nil, fmt.Errorf("failed to compress value: %w", err)
	}
	if len(compressed) >= len(value) {
		return append([]byte{valueRaw}, value...), nil
	}
	m.metrics.RecordCompression(uint64(len(value) - len(compressed)))
	return append([]byte{valueGzip}, compressed...), nil
}

func (m *Manager) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, ErrCorruptValue
	}
	switch stored[0] {
	case valueRaw:
		return stored[1:], nil
	case valueGzip:
		data, err := decompressData(stored[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown header %q", ErrCorruptValue, stored[0])
	}
}

// compressData compresses data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressData decompresses gzip data
func decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
