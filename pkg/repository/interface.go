package repository

import (
	"context"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/orm"
)

// Repository defines the generic repository interface. A repository is bound to
// one session; every entity it returns is managed by that session.
type Repository[T Entity] interface {
	// Queries (flush pending writes first)
	FindByID(ctx context.Context, id int64) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	FindWhere(ctx context.Context, column string, op db.Operator, value interface{}) ([]T, error)
	First(ctx context.Context, column string, op db.Operator, value interface{}) (T, bool, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Query(ctx context.Context, text string, args ...interface{}) ([]T, error)

	// Fetch directive and paging (chainable, each call returns a new repository)
	Fetch(paths ...string) Repository[T]
	WithGraph(name string) Repository[T]
	Order(column string, desc bool) Repository[T]
	Limit(limit int) Repository[T]
	Offset(offset int) Repository[T]

	// Commands (written at the next flush)
	Save(entity T) error
	SaveAll(entities ...T) error
	Flush(ctx context.Context) error

	Session() *orm.Session
}
