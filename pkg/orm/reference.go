package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/nplusone/pkg/metadata"
)

// referenceProxy is the session's untyped view of a Reference
type referenceProxy interface {
	IsInitialized() bool
	ID() int64
	entity() Entity
	lazyState() (*Session, uint64, Entity, *metadata.Association)
	makeLazy(s *Session, source Entity, a *metadata.Association, id int64)
	resolve(e Entity) error
}

// Reference is the to-one side of an association.
//
// The zero value is an initialized, absent reference. References loaded by a
// session may start uninitialized, holding only the target id.
type Reference[T Entity] struct {
	target T
	set    bool

	lazy    bool
	id      int64
	session *Session
	epoch   uint64
	source  Entity
	assoc   *metadata.Association
}

// IsInitialized reports whether the target is in memory. It never loads.
func (r *Reference[T]) IsInitialized() bool {
	return !r.lazy
}

// ID returns the target id, 0 when absent or transient. It never loads.
func (r *Reference[T]) ID() int64 {
	if r.lazy {
		return r.id
	}
	if !r.set {
		return 0
	}
	return r.target.PrimaryKey()
}

// Get returns the target, loading it if needed. ok is false when absent.
func (r *Reference[T]) Get(ctx context.Context) (target T, ok bool, err error) {
	if r.lazy {
		if err := r.session.initializeReference(ctx, r); err != nil {
			return target, false, err
		}
	}
	return r.target, r.set, nil
}

// Set points the reference at target. A nil target clears it.
func (r *Reference[T]) Set(target T) {
	r.lazy = false
	r.id = 0
	if isNil(target) {
		var zero T
		r.target, r.set = zero, false
		return
	}
	r.target, r.set = target, true
}

// Clear removes the target
func (r *Reference[T]) Clear() {
	var zero T
	r.Set(zero)
}

func (r *Reference[T]) entity() Entity {
	if r.lazy || !r.set {
		return nil
	}
	return r.target
}

func (r *Reference[T]) lazyState() (*Session, uint64, Entity, *metadata.Association) {
	return r.session, r.epoch, r.source, r.assoc
}

func (r *Reference[T]) makeLazy(s *Session, source Entity, a *metadata.Association, id int64) {
	var zero T
	r.target, r.set = zero, false
	r.lazy = true
	r.id = id
	r.session = s
	r.epoch = s.epoch
	r.source = source
	r.assoc = a
}

func (r *Reference[T]) resolve(e Entity) error {
	if isNil(e) {
		r.Clear()
		return nil
	}
	t, ok := e.(T)
	if !ok {
		return fmt.Errorf("reference to %T cannot hold %T", *new(T), e)
	}
	r.Set(t)
	return nil
}
