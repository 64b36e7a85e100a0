package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/nplusone/pkg/metadata"
)

// collectionProxy is the session's untyped view of a Collection
type collectionProxy interface {
	IsInitialized() bool
	lazyState() (*Session, uint64, Entity, *metadata.Association)
	makeLazy(s *Session, owner Entity, a *metadata.Association)
	fill(items []Entity) error
	members() []Entity
}

// Collection is the to-many side of an association.
//
// The zero value is an initialized, empty collection. Collections loaded by a
// session start uninitialized; Size, Items and Contains load them on first use.
type Collection[T Entity] struct {
	items []T

	lazy    bool
	session *Session
	epoch   uint64
	owner   Entity
	assoc   *metadata.Association
	queued  []T
}

// IsInitialized reports whether the items are in memory. It never loads.
func (c *Collection[T]) IsInitialized() bool {
	return !c.lazy
}

// Size returns the number of items, loading the collection if needed
func (c *Collection[T]) Size(ctx context.Context) (int, error) {
	if err := c.ensure(ctx); err != nil {
		return 0, err
	}
	return len(c.items), nil
}

// Items returns a copy of the items, loading the collection if needed
func (c *Collection[T]) Items(ctx context.Context) ([]T, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	return append([]T(nil), c.items...), nil
}

// Contains reports whether item is a member by identity
func (c *Collection[T]) Contains(ctx context.Context, item T) (bool, error) {
	if err := c.ensure(ctx); err != nil {
		return false, err
	}
	for _, x := range c.items {
		if Entity(x) == Entity(item) {
			return true, nil
		}
	}
	return false, nil
}

// Add appends items. On an uninitialized collection they are queued and
// appended once it loads; a detached one refuses them with ErrDetachedAccess.
func (c *Collection[T]) Add(items ...T) error {
	if c.lazy {
		if err := c.session.attached(c.session, c.epoch); err != nil {
			return err
		}
		c.queued = append(c.queued, items...)
		return nil
	}
	c.items = append(c.items, items...)
	return nil
}

// Set replaces the items and marks the collection initialized
func (c *Collection[T]) Set(items []T) {
	c.items = append([]T(nil), items...)
	c.queued = nil
	c.lazy = false
}

func (c *Collection[T]) ensure(ctx context.Context) error {
	if !c.lazy {
		return nil
	}
	return c.session.initializeCollection(ctx, c)
}

func (c *Collection[T]) lazyState() (*Session, uint64, Entity, *metadata.Association) {
	return c.session, c.epoch, c.owner, c.assoc
}

func (c *Collection[T]) makeLazy(s *Session, owner Entity, a *metadata.Association) {
	c.items = nil
	c.queued = nil
	c.lazy = true
	c.session = s
	c.epoch = s.epoch
	c.owner = owner
	c.assoc = a
}

// fill initializes the collection with loaded items followed by queued additions
func (c *Collection[T]) fill(items []Entity) error {
	loaded := make([]T, 0, len(items)+len(c.queued))
	for _, e := range items {
		t, ok := e.(T)
		if !ok {
			return fmt.Errorf("collection of %T cannot hold %T", *new(T), e)
		}
		loaded = append(loaded, t)
	}
	for _, q := range c.queued {
		if !containsEntity(items, q) {
			loaded = append(loaded, q)
		}
	}
	c.items = loaded
	c.queued = nil
	c.lazy = false
	return nil
}

func (c *Collection[T]) members() []Entity {
	out := make([]Entity, 0, len(c.items)+len(c.queued))
	for _, x := range c.items {
		out = append(out, x)
	}
	for _, x := range c.queued {
		out = append(out, x)
	}
	return out
}

func containsEntity(list []Entity, e Entity) bool {
	for _, x := range list {
		if x == Entity(e) {
			return true
		}
	}
	return false
}
