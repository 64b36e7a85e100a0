package repository

import (
	"fmt"

	"github.com/ammar0144/nplusone/pkg/orm"
)

// Entity is the constraint for repository element types. T must be a pointer to
// a struct whose entity name is registered with the session's registry.
type Entity interface {
	orm.Entity
}

// entityName returns the registered name of T. It panics when T is not registered.
func entityName[T Entity](s *orm.Session) string {
	name := orm.EntityNameOf[T]()
	if name == "" {
		panic(fmt.Sprintf("entity type %T returned an empty EntityName(), Entity interface not properly implemented", *new(T)))
	}
	if _, err := s.Registry().Entity(name); err != nil {
		panic(fmt.Sprintf("entity type %T is not registered: %v", *new(T), err))
	}
	return name
}
