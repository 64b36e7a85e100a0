package redis

import "errors"

// Sentinel errors for Redis operations
var (
	// ErrStoreDisabled is returned when attempting operations on a disabled store
	ErrStoreDisabled = errors.New("redis store is disabled")

	// ErrClientNotInitialized is returned when the Redis client is nil
	ErrClientNotInitialized = errors.New("redis client not initialized")

	// ErrConnectionFailed is returned when Redis connection cannot be established
	ErrConnectionFailed = errors.New("redis connection failed")

	// ErrInvalidKey is returned for empty keys
	ErrInvalidKey = errors.New("invalid redis key")

	// ErrCorruptValue is returned when a stored value cannot be decoded
	ErrCorruptValue = errors.New("corrupt stored value")
)

// IsStoreDisabled checks if an error is ErrStoreDisabled
func IsStoreDisabled(err error) bool {
	return errors.Is(err, ErrStoreDisabled)
}

// IsConnectionFailed checks if an error is ErrConnectionFailed
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
