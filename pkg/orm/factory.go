package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/fetch"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/ammar0144/nplusone/pkg/stats"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FactoryOption customizes a SessionFactory
type FactoryOption func(*SessionFactory)

// WithLogger sets the logger used by sessions
func WithLogger(log *zap.Logger) FactoryOption {
	return func(f *SessionFactory) {
		if log != nil {
			f.log = log
		}
	}
}

// WithResolver shares an existing resolver instead of creating one
func WithResolver(r *fetch.Resolver) FactoryOption {
	return func(f *SessionFactory) {
		f.resolver = r
	}
}

// WithStats attaches a statistics hub; every session gets its own collector
func WithStats(h *stats.Hub) FactoryOption {
	return func(f *SessionFactory) {
		f.hub = h
	}
}

// SessionFactory opens sessions over one store and one frozen registry. It is
// safe for concurrent use.
type SessionFactory struct {
	manager  *db.Manager
	registry *metadata.Registry
	resolver *fetch.Resolver
	hub      *stats.Hub
	log      *zap.Logger

	insertOrder []string
}

// NewSessionFactory freezes the registry and prepares the shared resolver
func NewSessionFactory(manager *db.Manager, registry *metadata.Registry, opts ...FactoryOption) (*SessionFactory, error) {
	if manager == nil || registry == nil {
		return nil, fmt.Errorf("manager and registry are required")
	}
	f := &SessionFactory{manager: manager, registry: registry, log: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}

	registry.Freeze()
	order, err := registry.InsertOrder()
	if err != nil {
		return nil, err
	}
	f.insertOrder = order

	if f.resolver == nil {
		r, err := fetch.NewResolver(registry, fetch.WithLogger(f.log))
		if err != nil {
			return nil, err
		}
		f.resolver = r
	}
	return f, nil
}

// Registry returns the factory's metadata registry
func (f *SessionFactory) Registry() *metadata.Registry {
	return f.registry
}

// Resolver returns the shared fetch-plan resolver
func (f *SessionFactory) Resolver() *fetch.Resolver {
	return f.resolver
}

// Open starts a session holding one pooled connection until Close
func (f *SessionFactory) Open(ctx context.Context) (*Session, error) {
	id := uuid.NewString()

	var collector *stats.Collector
	if f.hub != nil {
		collector = f.hub.NewCollector(id)
	} else {
		collector = stats.NewCollector(id, 0, f.log)
	}

	conn, err := f.manager.Checkout(ctx, collector)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id,
		factory:   f,
		conn:      conn,
		collector: collector,
		log:       f.log.With(zap.String("session", id)),
		epoch:     1,
	}
	s.reset()
	s.log.Debug("session opened")
	return s, nil
}
