// Package nplusone is a small ORM that shows the N+1 query problem and three
// ways to avoid it: an inline join fetch, a named entity graph and an ad-hoc
// attribute-path graph.
//
// Open wires the store, the metadata registry, the fetch-plan resolver and the
// statement statistics into a session factory:
//
//	store, err := nplusone.Open(ctx, nplusone.DefaultConfig())
//	s, err := store.OpenSession(ctx)
//	owners, err := nplusone.NewOwnerRepository(s).FindAllWithPets(ctx)
package nplusone

import (
	"context"
	"errors"
	"fmt"

	"github.com/ammar0144/nplusone/pkg/config"
	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/fetch"
	"github.com/ammar0144/nplusone/pkg/logs"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/ammar0144/nplusone/pkg/model"
	"github.com/ammar0144/nplusone/pkg/orm"
	"github.com/ammar0144/nplusone/pkg/redis"
	"github.com/ammar0144/nplusone/pkg/repository"
	"github.com/ammar0144/nplusone/pkg/stats"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config represents the module configuration
type Config = config.Config

// Entity types
type (
	Owner = model.Owner
	Pet   = model.Pet
)

// Session types
type (
	Session          = orm.Session
	SessionFactory   = orm.SessionFactory
	OwnerRepository  = repository.OwnerRepository
	PetRepository    = repository.PetRepository
	StatsSnapshot    = stats.Snapshot
	SessionReport    = stats.Report
	Query            = fetch.Query
	PlanState        = fetch.State
	DatabaseConfig   = db.Config
	RedisConfig      = redis.Config
	MetadataRegistry = metadata.Registry
)

// Errors callers are expected to check with errors.Is
var (
	ErrDetachedAccess      = orm.ErrDetachedAccess
	ErrSessionClosed       = orm.ErrSessionClosed
	ErrSessionFailed       = orm.ErrSessionFailed
	ErrTransientReference  = orm.ErrTransientReference
	ErrNotFound            = orm.ErrNotFound
	ErrConstraintViolation = db.ErrConstraintViolation
	ErrQueryTimeout        = db.ErrQueryTimeout
	ErrUnsafePagination    = fetch.ErrUnsafePagination
	ErrCartesianFetch      = fetch.ErrCartesianFetch
	ErrPlanImmutable       = fetch.ErrPlanImmutable
	ErrMetadataMissing     = metadata.ErrMetadataMissing
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML file with NPLUSONE_ environment overrides
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// NewOwnerRepository creates an owner repository bound to s
func NewOwnerRepository(s *Session) *OwnerRepository {
	return repository.NewOwnerRepository(s)
}

// NewPetRepository creates a pet repository bound to s
func NewPetRepository(s *Session) *PetRepository {
	return repository.NewPetRepository(s)
}

// Option customizes Open
type Option func(*options)

type options struct {
	log        *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger replaces the logger built from Config.Log
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer registers the statement metrics with reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Store owns the connection pool, the optional Redis report store and the
// session factory
type Store struct {
	factory  *orm.SessionFactory
	manager  *db.Manager
	redis    *redis.Manager
	sink     *stats.RedisSink
	metrics  *prometheus.Registry
	log      *zap.Logger
	resolver *fetch.Resolver
}

// Open validates cfg, opens the store, creates the owner and pet tables when
// missing and prepares the session factory
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		log, err := logs.New("nplusone", cfg.Log)
		if err != nil {
			return nil, err
		}
		o.log = log
	}
	st := &Store{log: o.log}
	if o.registerer == nil {
		st.metrics = prometheus.NewRegistry()
		o.registerer = st.metrics
	}

	metrics, err := stats.NewMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	st.manager, err = db.NewManager(&cfg.Database, db.WithLogger(o.log.Named("db")))
	if err != nil {
		return nil, err
	}
	if err := st.manager.CreateSchema(ctx, model.Records()...); err != nil {
		st.Close()
		return nil, err
	}

	registry, err := model.NewRegistry()
	if err != nil {
		st.Close()
		return nil, err
	}
	st.resolver, err = fetch.NewResolver(registry, fetch.WithLogger(o.log.Named("fetch")), fetch.WithCacheSize(cfg.PlanCacheSize))
	if err != nil {
		st.Close()
		return nil, err
	}

	hubOpts := []stats.Option{stats.WithMetrics(metrics), stats.WithLogger(o.log.Named("stats"))}
	if cfg.Redis.Enabled {
		st.redis, err = redis.NewManager(&cfg.Redis)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := st.redis.Ping(ctx); err != nil {
			st.Close()
			return nil, err
		}
		st.sink = stats.NewRedisSink(st.redis, cfg.Stats)
		hubOpts = append(hubOpts, stats.WithSink(st.sink))
	}
	hub, err := stats.NewHub(cfg.Stats, hubOpts...)
	if err != nil {
		st.Close()
		return nil, err
	}

	st.factory, err = orm.NewSessionFactory(st.manager, registry,
		orm.WithLogger(o.log.Named("orm")),
		orm.WithResolver(st.resolver),
		orm.WithStats(hub),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	o.log.Info("store ready",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("reports", st.sink != nil),
		zap.Int("plan_cache_size", cfg.PlanCacheSize),
	)
	return st, nil
}

// OpenSession starts a session holding one pooled connection until Close
func (st *Store) OpenSession(ctx context.Context) (*Session, error) {
	return st.factory.Open(ctx)
}

// Factory returns the session factory
func (st *Store) Factory() *SessionFactory {
	return st.factory
}

// Metrics returns the private metrics registry, or nil when Open was given a
// registerer
func (st *Store) Metrics() *prometheus.Registry {
	return st.metrics
}

// CachedPlans returns the number of compiled fetch plans held by the resolver
func (st *Store) CachedPlans() int {
	return st.resolver.CachedPlans()
}

// Reports returns up to n published session reports, newest first. It fails
// with redis.ErrStoreDisabled when Redis is not configured.
func (st *Store) Reports(ctx context.Context, n int) ([]SessionReport, error) {
	if st.sink == nil {
		return nil, redis.ErrStoreDisabled
	}
	return st.sink.Latest(ctx, n)
}

// Close releases the Redis client and the connection pool
func (st *Store) Close() error {
	var errs []error
	if st.redis != nil {
		errs = append(errs, st.redis.Close())
	}
	if st.manager != nil {
		errs = append(errs, st.manager.Close())
	}
	_ = st.log.Sync()
	return errors.Join(errs...)
}
