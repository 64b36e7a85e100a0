package orm

import (
	"fmt"

	"github.com/ammar0144/nplusone/pkg/fetch"
	"github.com/ammar0144/nplusone/pkg/metadata"
)

type slotKey struct {
	owner Key
	assoc string
}

// slot collects the children of one joined collection during an execution
type slot struct {
	proxy collectionProxy
	items []Entity
	seen  map[Key]bool
}

// materializer turns the rows of one plan execution into managed entities.
//
// Rows are read in full before materialization starts, so no other statement
// runs on the session's connection while a cursor is open.
type materializer struct {
	s     *Session
	plan  *fetch.Plan
	index map[*fetch.Node]int

	roots     []Entity
	seenRoots map[Key]bool
	visited   map[Key]bool
	slots     map[slotKey]*slot
	slotOrder []*slot
	created   []Entity
	joinedRef map[referenceProxy]bool
}

func newMaterializer(s *Session, plan *fetch.Plan) *materializer {
	m := &materializer{
		s:         s,
		plan:      plan,
		index:     make(map[*fetch.Node]int, len(plan.Nodes())),
		seenRoots: make(map[Key]bool),
		visited:   make(map[Key]bool),
		slots:     make(map[slotKey]*slot),
		joinedRef: make(map[referenceProxy]bool),
	}
	for i, n := range plan.Nodes() {
		m.index[n] = i
	}
	return m
}

// run materializes every row and returns the distinct roots in first-seen order
func (m *materializer) run(rows [][]interface{}) ([]Entity, error) {
	nodes := m.plan.Nodes()
	for _, row := range rows {
		if len(row) != m.plan.Columns() {
			return nil, fmt.Errorf("row has %d columns, plan expects %d", len(row), m.plan.Columns())
		}
		current := make([]Entity, len(nodes))
		for i, n := range nodes {
			var parent Entity
			if n.Parent != nil {
				parent = current[m.index[n.Parent]]
				if parent == nil {
					continue
				}
			}

			raw := row[n.IDIndex]
			if raw == nil {
				if n.Parent == nil {
					return nil, fmt.Errorf("null id for root %s", n.Entity.Name)
				}
				continue
			}
			id, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("id of %s: %w", n.Entity.Name, err)
			}

			e, err := m.entity(n, id, row)
			if err != nil {
				return nil, err
			}
			current[i] = e

			if n.Parent == nil {
				key := keyOf(e)
				if !m.seenRoots[key] {
					m.seenRoots[key] = true
					m.roots = append(m.roots, e)
				}
				continue
			}
			if err := m.attach(n, parent, e); err != nil {
				return nil, err
			}
		}
	}

	for _, sl := range m.slotOrder {
		if err := sl.proxy.fill(sl.items); err != nil {
			return nil, err
		}
	}
	return m.roots, nil
}

// entity returns the managed instance for the node's row segment, creating and
// installing it on an identity-map miss. Managed state is never overwritten.
func (m *materializer) entity(n *fetch.Node, id int64, row []interface{}) (Entity, error) {
	key := Key{Entity: n.Entity.Name, ID: id}
	if e, ok := m.s.managed[key]; ok {
		if !m.visited[key] {
			m.visited[key] = true
			if err := m.openSlots(n, e, false); err != nil {
				return nil, err
			}
		}
		return e, nil
	}

	obj, ok := n.Entity.New().(Entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotEntity, n.Entity.Name)
	}
	obj.SetPrimaryKey(id)

	targets := obj.Pointers()
	if len(targets) != len(n.Entity.Columns) {
		return nil, fmt.Errorf("%s exposes %d columns, descriptor has %d", n.Entity.Name, len(targets), len(n.Entity.Columns))
	}
	for j, target := range targets {
		if err := assign(target, row[n.ColumnIndex+j]); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", n.Entity.Name, n.Entity.Columns[j], err)
		}
	}

	fkIndex := make(map[string]int, len(n.ForeignKeys))
	for j, fk := range n.ForeignKeys {
		fkIndex[fk.Name] = n.FKIndex + j
	}

	for _, a := range n.Entity.Associations {
		switch p := obj.Association(a.Name).(type) {
		case collectionProxy:
			if !n.Fetched(a.Name) {
				p.makeLazy(m.s, obj, a)
			}
		case referenceProxy:
			if err := m.prepareReference(obj, a, p, row, fkIndex, n.Fetched(a.Name)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%s does not expose association %s", n.Entity.Name, a.Name)
		}
	}
	if err := m.openSlots(n, obj, true); err != nil {
		return nil, err
	}

	m.s.managed[key] = obj
	m.visited[key] = true
	m.created = append(m.created, obj)
	m.s.snapshots[key] = rowValues(obj, n.Entity)
	return obj, nil
}

// prepareReference leaves a reference absent, or lazy on the target id. A joined
// reference is resolved when its row segment is attached.
func (m *materializer) prepareReference(obj Entity, a *metadata.Association, p referenceProxy, row []interface{}, fkIndex map[string]int, joined bool) error {
	if !a.Owning {
		if joined {
			// absent unless a joined row turns up
			m.joinedRef[p] = true
			return p.resolve(nil)
		}
		p.makeLazy(m.s, obj, a, 0)
		return nil
	}
	raw := row[fkIndex[a.Name]]
	if raw == nil {
		return p.resolve(nil)
	}
	fk, err := toInt64(raw)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", a.Source, a.JoinColumn, err)
	}
	p.makeLazy(m.s, obj, a, fk)
	return nil
}

// openSlots starts collecting children for the joined collections of e. On an
// identity-map hit only uninitialized collections are filled.
func (m *materializer) openSlots(n *fetch.Node, e Entity, fresh bool) error {
	for _, child := range n.Children {
		a := child.Association
		if !a.Cardinality.ToMany() {
			continue
		}
		p, ok := e.Association(a.Name).(collectionProxy)
		if !ok {
			return fmt.Errorf("%s does not expose collection %s", n.Entity.Name, a.Name)
		}
		if !fresh && p.IsInitialized() {
			continue
		}
		sl := &slot{proxy: p, seen: make(map[Key]bool)}
		m.slots[slotKey{owner: keyOf(e), assoc: a.Name}] = sl
		m.slotOrder = append(m.slotOrder, sl)
	}
	return nil
}

// attach links a joined child to its parent and points the child's inverse
// reference back at the parent
func (m *materializer) attach(n *fetch.Node, parent, child Entity) error {
	a := n.Association
	if a.Cardinality.ToMany() {
		if sl := m.slots[slotKey{owner: keyOf(parent), assoc: a.Name}]; sl != nil {
			key := keyOf(child)
			if !sl.seen[key] {
				sl.seen[key] = true
				sl.items = append(sl.items, child)
			}
		}
		if a.Inverse != "" {
			return resolveBackReference(child, a.Inverse, parent)
		}
		return nil
	}

	ref, ok := parent.Association(a.Name).(referenceProxy)
	if !ok {
		return fmt.Errorf("%s does not expose reference %s", a.Source, a.Name)
	}
	if m.joinedRef[ref] {
		return ref.resolve(child)
	}
	if ref.IsInitialized() {
		return nil
	}
	if a.Owning && ref.ID() != child.PrimaryKey() {
		return nil
	}
	return ref.resolve(child)
}
