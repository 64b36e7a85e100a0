package orm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/fetch"
	"github.com/ammar0144/nplusone/pkg/metadata"
)

// Query runs q and returns the distinct root entities in row order. Pending
// writes are flushed first. args bind the Param placeholders of q.
func (s *Session) Query(ctx context.Context, q fetch.Query, args ...interface{}) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	plan, err := s.factory.resolver.Resolve(q)
	if err != nil {
		return nil, err
	}
	return s.runLocked(ctx, plan, args)
}

// QueryText parses and runs an object query such as
// "SELECT o FROM Owner o LEFT JOIN FETCH o.pets"
func (s *Session) QueryText(ctx context.Context, text string, args ...interface{}) ([]Entity, error) {
	q, err := fetch.ParseQuery(text)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, q, args...)
}

// Count returns the number of rows of entity matching where. Pending writes are
// flushed first; nothing is materialized.
func (s *Session) Count(ctx context.Context, entity string, where ...fetch.Condition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return 0, err
	}
	desc, err := s.factory.registry.Entity(entity)
	if err != nil {
		return 0, err
	}
	b := db.NewBuilder(desc.Table)
	for _, c := range where {
		if !c.Operator.Valid() || c.Operator == db.In {
			return 0, fmt.Errorf("%w: operator %q", fetch.ErrInvalidQuery, c.Operator)
		}
		if !desc.HasColumn(c.Column) {
			return 0, fmt.Errorf("%w: column %q on %s", metadata.ErrMetadataMissing, c.Column, desc.Name)
		}
		if _, ok := c.Value.(fetch.Param); ok {
			return 0, fmt.Errorf("%w: unbound parameter on %s", fetch.ErrInvalidQuery, c.Column)
		}
		b.Where(c.Column, c.Operator, c.Value)
	}
	query, args := b.BuildCount()

	if err := s.flushLocked(ctx); err != nil {
		return 0, err
	}
	var n int64
	err = s.conn.Query(ctx, query, args, func(r *sql.Rows) error {
		if r.Next() {
			return r.Scan(&n)
		}
		return nil
	})
	if err != nil {
		s.record(err)
		return 0, err
	}
	return n, nil
}

func (s *Session) runLocked(ctx context.Context, plan *fetch.Plan, args []interface{}) ([]Entity, error) {
	if len(args) > 0 || plan.State() == fetch.StateBuilt {
		if err := plan.Bind(args...); err != nil {
			return nil, err
		}
	}
	if err := s.flushLocked(ctx); err != nil {
		return nil, err
	}
	return s.executeLocked(ctx, plan)
}

// executeLocked runs a bound plan, materializes its rows and then initializes
// eager associations of the entities it created
func (s *Session) executeLocked(ctx context.Context, plan *fetch.Plan) ([]Entity, error) {
	if err := plan.MarkExecuted(); err != nil {
		return nil, err
	}

	var rows [][]interface{}
	err := s.conn.Query(ctx, plan.SQL(), plan.Args(), func(r *sql.Rows) error {
		for r.Next() {
			values := make([]interface{}, plan.Columns())
			targets := make([]interface{}, len(values))
			for i := range values {
				targets[i] = &values[i]
			}
			if err := r.Scan(targets...); err != nil {
				return err
			}
			rows = append(rows, values)
		}
		return nil
	})
	if err != nil {
		s.record(err)
		return nil, err
	}

	m := newMaterializer(s, plan)
	roots, err := m.run(rows)
	if err != nil {
		err = fmt.Errorf("materialize %s: %w", plan.Query().Root, err)
		s.record(err)
		return nil, err
	}
	if err := plan.MarkMaterialized(); err != nil {
		return nil, err
	}

	if err := s.initializeEagerLocked(ctx, m.created); err != nil {
		return nil, err
	}
	return roots, nil
}

// initializeEagerLocked loads associations declared eager that the plan left
// deferred, one secondary select each
func (s *Session) initializeEagerLocked(ctx context.Context, created []Entity) error {
	for _, e := range created {
		desc, err := s.descriptor(e)
		if err != nil {
			return err
		}
		for _, a := range desc.Associations {
			if a.Fetch != metadata.Eager {
				continue
			}
			switch p := e.Association(a.Name).(type) {
			case collectionProxy:
				if !p.IsInitialized() {
					if err := s.loadCollectionLocked(ctx, p); err != nil {
						return err
					}
				}
			case referenceProxy:
				if !p.IsInitialized() {
					if err := s.loadReferenceLocked(ctx, p); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// initializeCollection loads an uninitialized collection proxy
func (s *Session) initializeCollection(ctx context.Context, c collectionProxy) error {
	if s == nil {
		return ErrDetachedAccess
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, epoch, _, _ := c.lazyState()
	if err := s.checkProxy(owner, epoch); err != nil {
		return err
	}
	if c.IsInitialized() {
		return nil
	}
	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	return s.loadCollectionLocked(ctx, c)
}

func (s *Session) loadCollectionLocked(ctx context.Context, c collectionProxy) error {
	_, _, parent, a := c.lazyState()
	plan, err := s.factory.resolver.AssociationLoad(a, parent.PrimaryKey(), 0)
	if err != nil {
		return err
	}
	items, err := s.executeLocked(ctx, plan)
	if err != nil {
		return err
	}
	if err := c.fill(items); err != nil {
		s.record(err)
		return err
	}
	if a.Inverse != "" {
		for _, child := range items {
			if err := resolveBackReference(child, a.Inverse, parent); err != nil {
				s.record(err)
				return err
			}
		}
	}
	return nil
}

// initializeReference loads an uninitialized reference proxy, from the identity
// map when the target is already managed
func (s *Session) initializeReference(ctx context.Context, r referenceProxy) error {
	if s == nil {
		return ErrDetachedAccess
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, epoch, _, _ := r.lazyState()
	if err := s.checkProxy(owner, epoch); err != nil {
		return err
	}
	if r.IsInitialized() {
		return nil
	}
	return s.loadReferenceLocked(ctx, r)
}

func (s *Session) loadReferenceLocked(ctx context.Context, r referenceProxy) error {
	_, _, source, a := r.lazyState()

	if a.Owning {
		if target, ok := s.managed[Key{Entity: a.Target, ID: r.ID()}]; ok {
			return r.resolve(target)
		}
	}
	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	plan, err := s.factory.resolver.AssociationLoad(a, source.PrimaryKey(), r.ID())
	if err != nil {
		return err
	}
	found, err := s.executeLocked(ctx, plan)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return r.resolve(nil)
	}
	return r.resolve(found[0])
}

// resolveBackReference points child's uninitialized inverse reference at parent
// when its foreign key already names parent
func resolveBackReference(child Entity, inverse string, parent Entity) error {
	ref, ok := child.Association(inverse).(referenceProxy)
	if !ok || ref.IsInitialized() || ref.ID() != parent.PrimaryKey() {
		return nil
	}
	return ref.resolve(parent)
}

// Find loads the entity of type T with the given id
func Find[T Entity](ctx context.Context, s *Session, id int64) (T, error) {
	var zero T
	e, err := s.Find(ctx, EntityNameOf[T](), id)
	if err != nil {
		return zero, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("identity map holds %T for %T", e, zero)
	}
	return t, nil
}

// QueryAs runs q and returns the roots as T
func QueryAs[T Entity](ctx context.Context, s *Session, q fetch.Query, args ...interface{}) ([]T, error) {
	found, err := s.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return cast[T](found)
}

// QueryTextAs parses and runs an object query and returns the roots as T
func QueryTextAs[T Entity](ctx context.Context, s *Session, text string, args ...interface{}) ([]T, error) {
	found, err := s.QueryText(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	return cast[T](found)
}

func cast[T Entity](found []Entity) ([]T, error) {
	out := make([]T, 0, len(found))
	for _, e := range found {
		t, ok := e.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("query returned %T, want %T", e, zero)
		}
		out = append(out, t)
	}
	return out, nil
}

// EntityNameOf returns the entity name of T, which must be a pointer type
func EntityNameOf[T Entity]() string {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return ""
	}
	if typ.Kind() == reflect.Ptr {
		return reflect.New(typ.Elem()).Interface().(Entity).EntityName()
	}
	return zero.EntityName()
}
