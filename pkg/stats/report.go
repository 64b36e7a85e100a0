package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ammar0144/nplusone/pkg/redis"
	"github.com/vmihailenco/msgpack/v5"
)

// Report summarizes one finished session
type Report struct {
	SessionID  string    `msgpack:"session_id"`
	StartedAt  time.Time `msgpack:"started_at"`
	FinishedAt time.Time `msgpack:"finished_at"`
	Selects    int       `msgpack:"selects"`
	Inserts    int       `msgpack:"inserts"`
	Updates    int       `msgpack:"updates"`
	Deletes    int       `msgpack:"deletes"`
	Failures   int       `msgpack:"failures"`
	ElapsedNs  int64     `msgpack:"elapsed_ns"`
	Suspects   []Suspect `msgpack:"suspects"`
}

// Marshal encodes the report with msgpack
func (r Report) Marshal() ([]byte, error) {
	return msgpack.Marshal(r)
}

// UnmarshalReport decodes a msgpack report
func UnmarshalReport(data []byte) (Report, error) {
	var r Report
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return r, nil
}

// Sink receives finished session reports
type Sink interface {
	Publish(ctx context.Context, r Report) error
}

// RedisSink keeps the latest reports in a capped Redis list
type RedisSink struct {
	manager *redis.Manager
	key     string
	max     int64
	ttl     time.Duration
}

// NewRedisSink creates a sink writing to the list named by cfg.ReportKey
func NewRedisSink(manager *redis.Manager, cfg Config) *RedisSink {
	return &RedisSink{manager: manager, key: cfg.ReportKey, max: cfg.MaxReports, ttl: cfg.ReportTTL}
}

// Publish pushes the encoded report
func (s *RedisSink) Publish(ctx context.Context, r Report) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return s.manager.PushCapped(ctx, s.key, data, s.max, s.ttl)
}

// Latest returns up to n reports, newest first
func (s *RedisSink) Latest(ctx context.Context, n int) ([]Report, error) {
	if n <= 0 {
		return nil, nil
	}
	values, err := s.manager.Range(ctx, s.key, 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(values))
	for _, v := range values {
		r, err := UnmarshalReport(v)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}
