package orm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/ammar0144/nplusone/pkg/stats"
	"go.uber.org/zap"
)

// Session is a unit of work with its own identity map and one pooled
// connection. It is not safe for concurrent use.
//
// Entities are transient until saved and flushed, managed while the session
// holds them, and detached after Clear or Close. Proxies handed out by a session
// fail with ErrDetachedAccess once their entity is detached.
type Session struct {
	mu        sync.Mutex
	id        string
	factory   *SessionFactory
	conn      *db.Conn
	collector *stats.Collector
	log       *zap.Logger

	epoch   uint64
	closed  bool
	failure error

	managed   map[Key]Entity
	snapshots map[Key][]interface{}
	inserts   []Entity
	scheduled map[Entity]bool
}

func (s *Session) reset() {
	s.managed = make(map[Key]Entity)
	s.snapshots = make(map[Key][]interface{})
	s.inserts = nil
	s.scheduled = make(map[Entity]bool)
}

// ID returns the session's unique id
func (s *Session) ID() string {
	return s.id
}

// Registry returns the metadata registry of the session's factory
func (s *Session) Registry() *metadata.Registry {
	return s.factory.registry
}

// Stats returns the statements issued so far
func (s *Session) Stats() stats.Snapshot {
	return s.collector.Snapshot()
}

// ResetStats clears the statement counters
func (s *Session) ResetStats() {
	s.collector.Reset()
}

// Err returns the recorded failure, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Lookup returns the managed instance for (entity, id) without touching the store
func (s *Session) Lookup(entity string, id int64) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.managed[Key{Entity: entity, ID: id}]
	return e, ok
}

// IsManaged reports whether e is the instance the identity map holds for its key
func (s *Session) IsManaged(e Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isNil(e) || e.PrimaryKey() == 0 {
		return false
	}
	return s.managed[keyOf(e)] == e
}

// Find returns the entity with the given id, from the identity map when present
func (s *Session) Find(ctx context.Context, entity string, id int64) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if e, ok := s.managed[Key{Entity: entity, ID: id}]; ok {
		return e, nil
	}
	if err := s.flushLocked(ctx); err != nil {
		return nil, err
	}

	plan, err := s.factory.resolver.EntityLoad(entity, id)
	if err != nil {
		return nil, err
	}
	found, err := s.executeLocked(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Key{Entity: entity, ID: id})
	}
	return found[0], nil
}

// Put makes an entity with a known id managed without scheduling an insert.
// Its current state becomes the baseline for dirty checking.
func (s *Session) Put(e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		return err
	}
	desc, err := s.descriptor(e)
	if err != nil {
		return err
	}
	if e.PrimaryKey() == 0 {
		return fmt.Errorf("cannot put transient %s", desc.Name)
	}
	key := keyOf(e)
	if existing, ok := s.managed[key]; ok {
		if existing != e {
			return fmt.Errorf("%w: %s", ErrIdentityConflict, key)
		}
		return nil
	}
	s.managed[key] = e
	s.snapshots[key] = rowValues(e, desc)
	return nil
}

// Save schedules a transient entity for insertion at the next flush. An entity
// with an id that is not managed yet becomes managed and is written at flush.
func (s *Session) Save(e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(e)
}

// SaveAll saves every entity in order
func (s *Session) SaveAll(entities ...Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		if err := s.saveLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) saveLocked(e Entity) error {
	if err := s.open(); err != nil {
		return err
	}
	if _, err := s.descriptor(e); err != nil {
		return err
	}

	if e.PrimaryKey() == 0 {
		if !s.scheduled[e] {
			s.scheduled[e] = true
			s.inserts = append(s.inserts, e)
		}
		return nil
	}

	key := keyOf(e)
	if existing, ok := s.managed[key]; ok {
		if existing != e {
			return fmt.Errorf("%w: %s", ErrIdentityConflict, key)
		}
		return nil
	}
	// no baseline: the next flush writes it
	s.managed[key] = e
	return nil
}

// Flush writes pending inserts and updates in one transaction
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	return s.flushLocked(ctx)
}

// Clear detaches every managed entity, discards pending writes, invalidates
// outstanding proxies and resets the recorded failure
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.failure = nil
	s.reset()
	s.log.Debug("session cleared", zap.Uint64("epoch", s.epoch))
}

// Close flushes pending writes, returns the connection to the pool and detaches
// every entity. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var err error
	if s.failure == nil {
		err = s.flushLocked(ctx)
	}
	if releaseErr := s.conn.Release(); err == nil {
		err = releaseErr
	}

	s.closed = true
	s.epoch++
	s.reset()

	if s.factory.hub != nil {
		// the report is best effort
		_ = s.factory.hub.Finish(ctx, s.collector)
	}
	s.log.Debug("session closed")
	return err
}

// open fails on a closed session
func (s *Session) open() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// usable fails on a closed or failed session
func (s *Session) usable() error {
	if err := s.open(); err != nil {
		return err
	}
	if s.failure != nil {
		return fmt.Errorf("%w: %v", ErrSessionFailed, s.failure)
	}
	return nil
}

// record keeps the first store or materialization failure. Timeouts leave the
// session usable.
func (s *Session) record(err error) {
	if err == nil || errors.Is(err, ErrQueryTimeout) || s.failure != nil {
		return
	}
	s.failure = err
	s.log.Error("session failed", zap.Error(err))
}

func (s *Session) descriptor(e Entity) (*metadata.Entity, error) {
	if isNil(e) {
		return nil, fmt.Errorf("nil entity")
	}
	return s.factory.registry.Entity(e.EntityName())
}

// checkProxy verifies a proxy still belongs to the live session
// attached reports ErrDetachedAccess unless a proxy stamped with owner and
// epoch still belongs to the open session s
func (s *Session) attached(owner *Session, epoch uint64) error {
	if s == nil {
		return ErrDetachedAccess
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s || s.closed || epoch != s.epoch {
		return ErrDetachedAccess
	}
	return nil
}

func (s *Session) checkProxy(owner *Session, epoch uint64) error {
	if owner != s || s.closed || epoch != s.epoch {
		return ErrDetachedAccess
	}
	return s.usable()
}
