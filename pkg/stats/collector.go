package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Config controls statistics collection
type Config struct {
	// SuspectThreshold is how many times one SELECT may repeat in a session before
	// it is flagged as an N+1 suspect. Zero disables detection.
	SuspectThreshold int `json:"suspect_threshold" yaml:"suspect_threshold"`

	// Publish sends a report to the sink when a session finishes
	Publish    bool          `json:"publish" yaml:"publish"`
	ReportKey  string        `json:"report_key" yaml:"report_key"`
	MaxReports int64         `json:"max_reports" yaml:"max_reports"`
	ReportTTL  time.Duration `json:"report_ttl" yaml:"report_ttl"`
}

// DefaultConfig returns the default statistics configuration
func DefaultConfig() Config {
	return Config{
		SuspectThreshold: 3,
		ReportKey:        "nplusone:reports",
		MaxReports:       100,
		ReportTTL:        24 * time.Hour,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SuspectThreshold < 0 {
		return fmt.Errorf("suspect_threshold cannot be negative")
	}
	if c.Publish && c.ReportKey == "" {
		return fmt.Errorf("report_key is required when publishing")
	}
	if c.MaxReports < 0 {
		return fmt.Errorf("max_reports cannot be negative")
	}
	return nil
}

// Snapshot is a point-in-time view of one session's statements
type Snapshot struct {
	Selects  int
	Inserts  int
	Updates  int
	Deletes  int
	Others   int
	Failures int
	Elapsed  time.Duration
	Suspects []Suspect
}

// Total returns the number of statements of every kind
func (s Snapshot) Total() int {
	return s.Selects + s.Inserts + s.Updates + s.Deletes + s.Others
}

// Suspect is a SELECT repeated often enough to look like an N+1 traversal
type Suspect struct {
	Fingerprint string `msgpack:"fingerprint"`
	SQL         string `msgpack:"sql"`
	Count       int    `msgpack:"count"`
}

type fingerprintEntry struct {
	sql   string
	count int
}

// Collector records the statements of one session. It implements
// db.StatementObserver.
type Collector struct {
	mu        sync.Mutex
	sessionID string
	threshold int
	metrics   *Metrics
	log       *zap.Logger

	started  time.Time
	counts   map[db.StatementKind]int
	failures int
	elapsed  time.Duration
	selects  map[uint64]*fingerprintEntry
}

// NewCollector creates a standalone collector. Sessions normally get theirs
// from a Hub.
func NewCollector(sessionID string, threshold int, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		sessionID: sessionID,
		threshold: threshold,
		log:       log,
		started:   time.Now(),
		counts:    make(map[db.StatementKind]int),
		selects:   make(map[uint64]*fingerprintEntry),
	}
}

// SessionID returns the id of the observed session
func (c *Collector) SessionID() string {
	return c.sessionID
}

// ObserveStatement records one statement
func (c *Collector) ObserveStatement(_ context.Context, stmt db.Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[stmt.Kind]++
	c.elapsed += stmt.Elapsed
	if stmt.Err != nil {
		c.failures++
	}
	if c.metrics != nil {
		c.metrics.observe(stmt)
	}

	if stmt.Kind != db.KindSelect || c.threshold == 0 {
		return
	}
	fp := xxhash.Sum64String(stmt.SQL)
	entry, ok := c.selects[fp]
	if !ok {
		entry = &fingerprintEntry{sql: stmt.SQL}
		c.selects[fp] = entry
	}
	entry.count++
	if entry.count == c.threshold {
		if c.metrics != nil {
			c.metrics.suspects.Inc()
		}
		c.log.Warn("possible N+1 query: same SELECT repeated in one session",
			zap.String("session", c.sessionID),
			zap.String("fingerprint", fmt.Sprintf("%016x", fp)),
			zap.Int("count", entry.count),
			zap.String("sql", stmt.SQL),
		)
	}
}

// Snapshot returns the statistics so far
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Selects:  c.counts[db.KindSelect],
		Inserts:  c.counts[db.KindInsert],
		Updates:  c.counts[db.KindUpdate],
		Deletes:  c.counts[db.KindDelete],
		Others:   c.counts[db.KindOther],
		Failures: c.failures,
		Elapsed:  c.elapsed,
	}
	if c.threshold > 0 {
		for fp, e := range c.selects {
			if e.count >= c.threshold {
				s.Suspects = append(s.Suspects, Suspect{Fingerprint: fmt.Sprintf("%016x", fp), SQL: e.sql, Count: e.count})
			}
		}
	}
	sort.Slice(s.Suspects, func(i, j int) bool {
		if s.Suspects[i].Count != s.Suspects[j].Count {
			return s.Suspects[i].Count > s.Suspects[j].Count
		}
		return s.Suspects[i].SQL < s.Suspects[j].SQL
	})
	return s
}

// Reset clears the counters. The session start time is kept.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[db.StatementKind]int)
	c.selects = make(map[uint64]*fingerprintEntry)
	c.failures = 0
	c.elapsed = 0
}

// Report builds the session report
func (c *Collector) Report() Report {
	snap := c.Snapshot()
	return Report{
		SessionID:  c.sessionID,
		StartedAt:  c.started.UTC(),
		FinishedAt: time.Now().UTC(),
		Selects:    snap.Selects,
		Inserts:    snap.Inserts,
		Updates:    snap.Updates,
		Deletes:    snap.Deletes,
		Failures:   snap.Failures,
		ElapsedNs:  int64(snap.Elapsed),
		Suspects:   snap.Suspects,
	}
}
