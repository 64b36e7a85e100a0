package metadata

import "fmt"

// Cardinality of an association
type Cardinality int

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToOne
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// ToMany reports whether the target side is a collection
func (c Cardinality) ToMany() bool {
	return c == OneToMany || c == ManyToMany
}

// FetchMode is the default loading strategy of an association
type FetchMode int

const (
	Lazy FetchMode = iota
	Eager
)

func (m FetchMode) String() string {
	if m == Eager {
		return "eager"
	}
	return "lazy"
}

// Association describes one side of a relationship between two entities
type Association struct {
	Name        string      // attribute name on the source entity, e.g. "pets"
	Source      string      // owning entity name, filled by Register
	Target      string      // target entity name, e.g. "Pet"
	Cardinality Cardinality // relationship shape seen from Source
	Inverse     string      // attribute name on Target pointing back, empty if unidirectional

	// JoinColumn is the foreign key column. When Owning is true it lives on the
	// Source table (many-to-one, owning one-to-one), otherwise on the Target table.
	JoinColumn string
	Owning     bool

	Fetch  FetchMode
	Graphs []string // named graphs that include this association
}

// Entity describes a mapped entity type
type Entity struct {
	Name         string
	Table        string
	IDColumn     string
	Columns      []string // scalar columns, excluding the id and foreign keys
	Associations []*Association

	// New returns a fresh zero instance of the entity. The ORM layer asserts the
	// result to its own entity interface.
	New func() any
}

// Association returns the named association or nil
func (e *Entity) Association(name string) *Association {
	for _, a := range e.Associations {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ForeignKeys returns the owning associations in declaration order. Their join
// columns are part of the entity's own row.
func (e *Entity) ForeignKeys() []*Association {
	var fks []*Association
	for _, a := range e.Associations {
		if a.Owning {
			fks = append(fks, a)
		}
	}
	return fks
}

// HasColumn reports whether column belongs to the entity's own row
func (e *Entity) HasColumn(column string) bool {
	if column == e.IDColumn {
		return true
	}
	for _, c := range e.Columns {
		if c == column {
			return true
		}
	}
	for _, a := range e.ForeignKeys() {
		if a.JoinColumn == column {
			return true
		}
	}
	return false
}

func (e *Entity) validate() error {
	if e.Name == "" || e.Table == "" {
		return fmt.Errorf("%w: entity name and table are required", ErrInvalidDescriptor)
	}
	if e.IDColumn == "" {
		e.IDColumn = "id"
	}
	if e.New == nil {
		return fmt.Errorf("%w: entity %s has no constructor", ErrInvalidDescriptor, e.Name)
	}
	seen := make(map[string]bool)
	for _, a := range e.Associations {
		if a.Name == "" || a.Target == "" {
			return fmt.Errorf("%w: entity %s has an unnamed association", ErrInvalidDescriptor, e.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate association %s.%s", ErrInvalidDescriptor, e.Name, a.Name)
		}
		seen[a.Name] = true
		switch a.Cardinality {
		case OneToMany:
			if a.Owning {
				return fmt.Errorf("%w: one-to-many %s.%s cannot own its join column", ErrInvalidDescriptor, e.Name, a.Name)
			}
		case ManyToOne:
			if !a.Owning {
				return fmt.Errorf("%w: many-to-one %s.%s must own its join column", ErrInvalidDescriptor, e.Name, a.Name)
			}
		}
		if a.Cardinality != ManyToMany && a.JoinColumn == "" {
			return fmt.Errorf("%w: association %s.%s has no join column", ErrInvalidDescriptor, e.Name, a.Name)
		}
		a.Source = e.Name
	}
	return nil
}
