package fetch

import (
	"fmt"
	"strings"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/metadata"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of compiled plans kept per resolver
const DefaultCacheSize = 128

// Option customizes a Resolver
type Option func(*Resolver)

// WithLogger sets the resolver's logger
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithCacheSize sets the plan cache size. Zero disables caching.
func WithCacheSize(size int) Option {
	return func(r *Resolver) {
		r.cacheSize = size
	}
}

// Resolver compiles queries with fetch directives into executable plans
type Resolver struct {
	registry  *metadata.Registry
	log       *zap.Logger
	cacheSize int
	cache     *lru.Cache[uint64, *Plan]
}

// NewResolver creates a resolver over a registry
func NewResolver(registry *metadata.Registry, opts ...Option) (*Resolver, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	r := &Resolver{registry: registry, log: zap.NewNop(), cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheSize > 0 {
		cache, err := lru.New[uint64, *Plan](r.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create plan cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Registry returns the metadata registry the resolver compiles against
func (r *Resolver) Registry() *metadata.Registry {
	return r.registry
}

// Resolve compiles q into a plan. The plan is Bound when every condition carries
// a value, Built when it has Param placeholders left to Bind.
func (r *Resolver) Resolve(q Query) (*Plan, error) {
	key := q.fingerprint()
	if r.cache != nil {
		if compiled, ok := r.cache.Get(key); ok {
			return compiled.clone(q), nil
		}
	}

	compiled, err := r.build(q)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(key, compiled)
	}
	r.log.Debug("fetch plan compiled",
		zap.String("root", q.Root),
		zap.Int("nodes", len(compiled.nodes)),
		zap.String("sql", compiled.sql),
	)
	return compiled.clone(q), nil
}

// ResolveText parses and compiles query text
func (r *Resolver) ResolveText(text string) (*Plan, error) {
	q, err := ParseQuery(text)
	if err != nil {
		return nil, err
	}
	return r.Resolve(q)
}

// CachedPlans returns the number of compiled plans in the cache
func (r *Resolver) CachedPlans() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}

// EntityLoad compiles the lookup of one entity by id
func (r *Resolver) EntityLoad(entity string, id int64) (*Plan, error) {
	e, err := r.registry.Entity(entity)
	if err != nil {
		return nil, err
	}
	return r.Resolve(Query{
		Root:  entity,
		Where: []Condition{{Column: e.IDColumn, Operator: db.Equal, Value: id}},
	})
}

// AssociationLoad compiles the secondary select that initializes association a
// of the entity with id sourceID. fk is the source row's join column value and
// is only used for owning associations.
func (r *Resolver) AssociationLoad(a *metadata.Association, sourceID, fk int64) (*Plan, error) {
	if a.Cardinality == metadata.ManyToMany {
		return nil, fmt.Errorf("%w: %s.%s is many-to-many", ErrUnsupportedAssociation, a.Source, a.Name)
	}
	if a.Owning {
		return r.EntityLoad(a.Target, fk)
	}
	return r.Resolve(Query{
		Root:  a.Target,
		Where: []Condition{{Column: a.JoinColumn, Operator: db.Equal, Value: sourceID}},
	})
}

// build compiles q without consulting the cache
func (r *Resolver) build(q Query) (*Plan, error) {
	rootEntity, err := r.registry.Entity(q.Root)
	if err != nil {
		return nil, err
	}

	p := &Plan{query: q}
	p.root = r.newNode(p, rootEntity, nil, nil, "", SourceRoot)

	var graphPaths []string
	if q.Graph != "" {
		if graphPaths, err = r.registry.Graph(q.Root, q.Graph); err != nil {
			return nil, err
		}
	}
	if err := r.joinPaths(p, q.JoinFetch, SourceJoinFetch); err != nil {
		return nil, err
	}
	if err := r.joinPaths(p, graphPaths, SourceGraph); err != nil {
		return nil, err
	}
	if err := r.joinPaths(p, q.AttributePaths, SourceAttributePath); err != nil {
		return nil, err
	}

	if (q.Limit > 0 || q.Offset > 0) && p.toMany {
		return nil, fmt.Errorf("%w: LIMIT %d OFFSET %d on %s", ErrUnsafePagination, q.Limit, q.Offset, q.Root)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}

	b := db.NewBuilder(rootEntity.Table + " " + p.root.Alias)

	var cols []string
	for _, n := range p.nodes {
		n.IDIndex = len(cols)
		cols = append(cols, n.Alias+"."+n.Entity.IDColumn)
		n.ColumnIndex = len(cols)
		for _, c := range n.Entity.Columns {
			cols = append(cols, n.Alias+"."+c)
		}
		n.FKIndex = len(cols)
		for _, fk := range n.ForeignKeys {
			cols = append(cols, n.Alias+"."+fk.JoinColumn)
		}
	}
	p.columns = len(cols)
	b.Select(cols...)

	for _, n := range p.nodes[1:] {
		a := n.Association
		var on string
		if a.Owning {
			on = fmt.Sprintf("%s.%s = %s.%s", n.Alias, n.Entity.IDColumn, n.Parent.Alias, a.JoinColumn)
		} else {
			on = fmt.Sprintf("%s.%s = %s.%s", n.Alias, a.JoinColumn, n.Parent.Alias, n.Parent.Entity.IDColumn)
		}
		b.LeftJoin(n.Entity.Table+" "+n.Alias, on)
	}

	for _, c := range q.Where {
		if !c.Operator.Valid() {
			return nil, fmt.Errorf("%w: operator %q", ErrInvalidQuery, c.Operator)
		}
		if !rootEntity.HasColumn(c.Column) {
			return nil, fmt.Errorf("%w: column %q on %s", metadata.ErrMetadataMissing, c.Column, rootEntity.Name)
		}
		b.Where(p.root.Alias+"."+c.Column, c.Operator, c.Value)
	}

	rootOrdered := false
	for _, o := range q.OrderBy {
		if !rootEntity.HasColumn(o.Column) {
			return nil, fmt.Errorf("%w: column %q on %s", metadata.ErrMetadataMissing, o.Column, rootEntity.Name)
		}
		b.OrderBy(p.root.Alias+"."+o.Column, o.Desc)
		if o.Column == rootEntity.IDColumn {
			rootOrdered = true
		}
	}
	if !rootOrdered {
		b.OrderBy(p.root.Alias+"."+rootEntity.IDColumn, false)
	}
	for _, n := range p.nodes[1:] {
		if n.Association.Cardinality.ToMany() {
			b.OrderBy(n.Alias+"."+n.Entity.IDColumn, false)
		}
	}

	b.Limit(q.Limit).Offset(q.Offset)

	sql, args := b.BuildSelect()
	p.sql = sql
	p.args = args
	return p, nil
}

func (r *Resolver) newNode(p *Plan, e *metadata.Entity, parent *Node, a *metadata.Association, path string, source Source) *Node {
	n := &Node{
		Path:        path,
		Alias:       fmt.Sprintf("t%d", len(p.nodes)),
		Entity:      e,
		Association: a,
		Parent:      parent,
		Source:      source,
		ForeignKeys: e.ForeignKeys(),
	}
	if parent != nil {
		parent.Children = append(parent.Children, n)
	}
	p.nodes = append(p.nodes, n)
	return n
}

// joinPaths adds a node for every segment of every path not already joined
func (r *Resolver) joinPaths(p *Plan, paths []string, source Source) error {
	for _, path := range paths {
		chain, err := r.registry.Resolve(p.root.Entity.Name, path)
		if err != nil {
			return err
		}

		current := p.root
		segments := strings.Split(path, ".")
		for i, a := range chain {
			if child := current.Child(a.Name); child != nil {
				current = child
				continue
			}
			if a.Cardinality == metadata.ManyToMany {
				return fmt.Errorf("%w: %s.%s is many-to-many", ErrUnsupportedAssociation, a.Source, a.Name)
			}
			target, err := r.registry.Entity(a.Target)
			if err != nil {
				return err
			}

			if a.Cardinality.ToMany() {
				// one joined collection per statement, nested or not
				for _, other := range p.nodes[1:] {
					if other.Association.Cardinality.ToMany() {
						return fmt.Errorf("%w: %s and %s", ErrCartesianFetch, other.Path, strings.Join(segments[:i+1], "."))
					}
				}
				p.toMany = true
			}

			current = r.newNode(p, target, current, a, strings.Join(segments[:i+1], "."), source)
		}
	}
	return nil
}
