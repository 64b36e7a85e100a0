package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/fetch"
	"github.com/ammar0144/nplusone/pkg/orm"
)

// GenericRepository provides session-bound reads and writes for one entity type.
// Fetch, WithGraph, Order, Limit and Offset shape the next read without changing
// the receiver.
type GenericRepository[T Entity] struct {
	session *orm.Session
	entity  string

	paths  []string
	graph  string
	order  []fetch.Order
	limit  int
	offset int
}

// NewGenericRepository creates a repository over session. It panics when T is
// not registered with the session's registry.
func NewGenericRepository[T Entity](session *orm.Session) Repository[T] {
	if session == nil {
		panic("repository requires a session")
	}
	return &GenericRepository[T]{
		session: session,
		entity:  entityName[T](session),
	}
}

// Session returns the session the repository is bound to
func (r *GenericRepository[T]) Session() *orm.Session {
	return r.session
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// FindByID returns the entity with the given id, from the identity map when
// already managed. A missing row fails with orm.ErrNotFound.
func (r *GenericRepository[T]) FindByID(ctx context.Context, id int64) (T, error) {
	var zero T
	if id <= 0 {
		return zero, fmt.Errorf("invalid id %d", id)
	}
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("context cancelled before operation: %w", err)
	}
	return orm.Find[T](ctx, r.session, id)
}

// FindAll returns every entity, shaped by the repository's fetch directive and
// ordering
func (r *GenericRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before operation: %w", err)
	}
	return orm.QueryAs[T](ctx, r.session, r.query())
}

// FindWhere returns the entities whose column satisfies op against value
func (r *GenericRepository[T]) FindWhere(ctx context.Context, column string, op db.Operator, value interface{}) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before operation: %w", err)
	}
	q := r.query()
	q.Where = []fetch.Condition{{Column: column, Operator: op, Value: value}}
	return orm.QueryAs[T](ctx, r.session, q)
}

// First returns the first entity matching the condition in the repository's
// order. ok is false when nothing matches.
func (r *GenericRepository[T]) First(ctx context.Context, column string, op db.Operator, value interface{}) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, fmt.Errorf("context cancelled before operation: %w", err)
	}
	q := r.query()
	q.Where = []fetch.Condition{{Column: column, Operator: op, Value: value}}
	q.Limit = 1
	found, err := orm.QueryAs[T](ctx, r.session, q)
	if err != nil {
		return zero, false, err
	}
	if len(found) == 0 {
		return zero, false, nil
	}
	return found[0], true, nil
}

// Count returns the number of stored entities, including pending inserts
func (r *GenericRepository[T]) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled before operation: %w", err)
	}
	return r.session.Count(ctx, r.entity)
}

// Exists checks if an entity with the given id is stored, without loading it
func (r *GenericRepository[T]) Exists(ctx context.Context, id int64) (bool, error) {
	if _, ok := r.session.Lookup(r.entity, id); ok {
		return true, nil
	}
	desc, err := r.session.Registry().Entity(r.entity)
	if err != nil {
		return false, err
	}
	n, err := r.session.Count(ctx, r.entity, fetch.Condition{Column: desc.IDColumn, Operator: db.Equal, Value: id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query runs an object query over T. The repository's graph, fetch paths,
// ordering and paging are applied on top of the text.
func (r *GenericRepository[T]) Query(ctx context.Context, text string, args ...interface{}) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before operation: %w", err)
	}
	q, err := fetch.ParseQuery(text)
	if err != nil {
		return nil, err
	}
	if q.Root != r.entity {
		return nil, fmt.Errorf("%w: query selects %s, repository holds %s", fetch.ErrInvalidQuery, q.Root, r.entity)
	}
	if r.graph != "" {
		q.Graph = r.graph
	}
	q.AttributePaths = append(q.AttributePaths, r.paths...)
	q.OrderBy = append(q.OrderBy, r.order...)
	if r.limit > 0 {
		q.Limit = r.limit
	}
	if r.offset > 0 {
		q.Offset = r.offset
	}
	return orm.QueryAs[T](ctx, r.session, q, args...)
}

func (r *GenericRepository[T]) query() fetch.Query {
	return fetch.Query{
		Root:           r.entity,
		Graph:          r.graph,
		AttributePaths: append([]string(nil), r.paths...),
		OrderBy:        append([]fetch.Order(nil), r.order...),
		Limit:          r.limit,
		Offset:         r.offset,
	}
}

// ============================================================================
// QUERY SHAPING METHODS - Chainable
// ============================================================================

// Fetch adds attribute paths to load with the roots (returns new repository instance)
func (r *GenericRepository[T]) Fetch(paths ...string) Repository[T] {
	newRepo := *r
	newRepo.paths = append(append([]string(nil), r.paths...), paths...)
	return &newRepo
}

// WithGraph loads the roots with a named graph
func (r *GenericRepository[T]) WithGraph(name string) Repository[T] {
	newRepo := *r
	newRepo.graph = name
	return &newRepo
}

// Order specifies ordering on one of T's own columns
func (r *GenericRepository[T]) Order(column string, desc bool) Repository[T] {
	newRepo := *r
	newRepo.order = append(append([]fetch.Order(nil), r.order...), fetch.Order{Column: column, Desc: desc})
	return &newRepo
}

// Limit specifies limit
func (r *GenericRepository[T]) Limit(limit int) Repository[T] {
	if limit < 0 {
		limit = 0 // Normalize negative values to 0
	}
	newRepo := *r
	newRepo.limit = limit
	return &newRepo
}

// Offset specifies offset
func (r *GenericRepository[T]) Offset(offset int) Repository[T] {
	if offset < 0 {
		offset = 0
	}
	newRepo := *r
	newRepo.offset = offset
	return &newRepo
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Save schedules entity for insertion, or registers an entity with a known id
func (r *GenericRepository[T]) Save(entity T) error {
	return r.session.Save(entity)
}

// SaveAll saves entities in order
func (r *GenericRepository[T]) SaveAll(entities ...T) error {
	all := make([]orm.Entity, 0, len(entities))
	for _, e := range entities {
		all = append(all, e)
	}
	return r.session.SaveAll(all...)
}

// Flush writes pending inserts and updates
func (r *GenericRepository[T]) Flush(ctx context.Context) error {
	return r.session.Flush(ctx)
}
