package redis

import (
	"sync/atomic"
	"time"
)

// Metrics tracks report store operations
type Metrics struct {
	// Operation counters
	pushOperations   atomic.Uint64
	rangeOperations  atomic.Uint64
	deleteOperations atomic.Uint64
	errors           atomic.Uint64

	// Timing metrics (in nanoseconds)
	totalPushLatency  atomic.Uint64
	totalRangeLatency atomic.Uint64

	compressionSaves atomic.Uint64 // Bytes saved via compression
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordPush records a push operation with latency
func (m *Metrics) RecordPush(duration time.Duration) {
	m.pushOperations.Add(1)
	m.totalPushLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordRange records a range read with latency
func (m *Metrics) RecordRange(duration time.Duration) {
	m.rangeOperations.Add(1)
	m.totalRangeLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordDelete increments the delete counter
func (m *Metrics) RecordDelete() {
	m.deleteOperations.Add(1)
}

// RecordError increments the error counter
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// RecordCompression records bytes saved via compression
func (m *Metrics) RecordCompression(bytesSaved uint64) {
	m.compressionSaves.Add(bytesSaved)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	pushOps := m.pushOperations.Load()
	rangeOps := m.rangeOperations.Load()

	var avgPush, avgRange time.Duration
	if pushOps > 0 {
		avgPush = time.Duration(m.totalPushLatency.Load() / pushOps)
	}
	if rangeOps > 0 {
		avgRange = time.Duration(m.totalRangeLatency.Load() / rangeOps)
	}

	return MetricsSnapshot{
		PushOperations:        pushOps,
		RangeOperations:       rangeOps,
		DeleteOperations:      m.deleteOperations.Load(),
		Errors:                m.errors.Load(),
		AvgPushLatency:        avgPush,
		AvgRangeLatency:       avgRange,
		CompressionBytesSaved: m.compressionSaves.Load(),
	}
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	m.pushOperations.Store(0)
	m.rangeOperations.Store(0)
	m.deleteOperations.Store(0)
	m.errors.Store(0)
	m.totalPushLatency.Store(0)
	m.totalRangeLatency.Store(0)
	m.compressionSaves.Store(0)
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	PushOperations   uint64
	RangeOperations  uint64
	DeleteOperations uint64
	Errors           uint64

	AvgPushLatency  time.Duration
	AvgRangeLatency time.Duration

	CompressionBytesSaved uint64
}
