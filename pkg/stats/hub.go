package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Option customizes a Hub
type Option func(*Hub)

// WithMetrics exports every collector's statements through m
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithSink sets where finished session reports go
func WithSink(s Sink) Option {
	return func(h *Hub) {
		h.sink = s
	}
}

// WithLogger sets the logger handed to collectors
func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// Hub creates per-session collectors and publishes their reports
type Hub struct {
	cfg     Config
	metrics *Metrics
	sink    Sink
	log     *zap.Logger
}

// NewHub creates a hub
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stats config: %w", err)
	}
	h := &Hub{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// NewCollector creates the collector of one session
func (h *Hub) NewCollector(sessionID string) *Collector {
	c := NewCollector(sessionID, h.cfg.SuspectThreshold, h.log)
	c.metrics = h.metrics
	return c
}

// Finish closes out a session. The report is published when enabled; a publish
// failure is logged and returned but never affects the session.
func (h *Hub) Finish(ctx context.Context, c *Collector) error {
	if h.metrics != nil {
		h.metrics.sessions.Inc()
	}
	report := c.Report()
	h.log.Debug("session finished",
		zap.String("session", report.SessionID),
		zap.Int("selects", report.Selects),
		zap.Int("inserts", report.Inserts),
		zap.Int("updates", report.Updates),
		zap.Int("suspects", len(report.Suspects)),
	)

	if !h.cfg.Publish || h.sink == nil {
		return nil
	}
	if err := h.sink.Publish(ctx, report); err != nil {
		h.log.Warn("failed to publish session report", zap.String("session", report.SessionID), zap.Error(err))
		return err
	}
	return nil
}
