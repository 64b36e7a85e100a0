package fetch

import (
	"fmt"

	"github.com/ammar0144/nplusone/pkg/metadata"
)

// State of a plan execution
type State int

const (
	StateBuilt State = iota
	StateBound
	StateExecuted
	StateMaterialized
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateBound:
		return "bound"
	case StateExecuted:
		return "executed"
	case StateMaterialized:
		return "materialized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source records which directive form contributed a joined path
type Source string

const (
	SourceRoot          Source = "root"
	SourceJoinFetch     Source = "join-fetch"
	SourceGraph         Source = "graph"
	SourceAttributePath Source = "attribute-path"
)

// Node is one entity in the joined row. The root node has no association.
//
// A row of the plan's statement is the concatenation of every node's segment in
// Nodes order: id, scalar columns, then owning foreign keys.
type Node struct {
	Path        string // dotted path from the root, "" for the root
	Alias       string // t0, t1, ...
	Entity      *metadata.Entity
	Association *metadata.Association // association from Parent, nil for the root
	Parent      *Node
	Children    []*Node
	Source      Source

	IDIndex     int
	ColumnIndex int
	FKIndex     int
	ForeignKeys []*metadata.Association
}

// Width is the number of row values the node occupies
func (n *Node) Width() int {
	return 1 + len(n.Entity.Columns) + len(n.ForeignKeys)
}

// Fetched reports whether the named association of this node is joined
func (n *Node) Fetched(name string) bool {
	return n.Child(name) != nil
}

// Child returns the joined child for the named association or nil
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Association.Name == name {
			return c
		}
	}
	return nil
}

// Deferred returns the associations of the node's entity that are not joined
func (n *Node) Deferred() []*metadata.Association {
	var out []*metadata.Association
	for _, a := range n.Entity.Associations {
		if !n.Fetched(a.Name) {
			out = append(out, a)
		}
	}
	return out
}

// Plan is a compiled, executable query with a fixed row shape.
//
// The node tree and SQL are immutable and shared between clones of a cached plan.
// Arguments and state belong to one execution.
type Plan struct {
	query   Query
	root    *Node
	nodes   []*Node
	sql     string
	columns int
	toMany  bool

	args  []interface{}
	state State
}

// Query returns the query the plan was built from
func (p *Plan) Query() Query { return p.query }

// Root returns the root node
func (p *Plan) Root() *Node { return p.root }

// Nodes returns all nodes, parents before children
func (p *Plan) Nodes() []*Node { return p.nodes }

// SQL returns the rendered statement
func (p *Plan) SQL() string { return p.sql }

// Columns returns the number of values in one result row
func (p *Plan) Columns() int { return p.columns }

// JoinsCollection reports whether a to-many association is joined; the root can
// then span several rows
func (p *Plan) JoinsCollection() bool { return p.toMany }

// State returns the execution state
func (p *Plan) State() State { return p.state }

// Args returns the bound arguments
func (p *Plan) Args() []interface{} { return p.args }

// Placeholders returns the number of "?" in the statement
func (p *Plan) Placeholders() int { return len(p.args) }

// Bind replaces the statement arguments. Binding an executed plan resets it to
// Bound so it can run again.
func (p *Plan) Bind(args ...interface{}) error {
	if p.state == StateMaterialized {
		return ErrPlanImmutable
	}
	if len(args) != len(p.args) {
		return fmt.Errorf("%w: plan takes %d arguments, got %d", ErrInvalidQuery, len(p.args), len(args))
	}
	p.args = append([]interface{}(nil), args...)
	p.state = StateBound
	return nil
}

// bindDefaults binds the values carried by the query conditions
func (p *Plan) bindDefaults() {
	for _, a := range p.args {
		if _, unbound := a.(Param); unbound {
			return
		}
	}
	p.state = StateBound
}

// MarkExecuted records that the statement has been sent
func (p *Plan) MarkExecuted() error {
	switch p.state {
	case StateBound:
		p.state = StateExecuted
		return nil
	case StateMaterialized:
		return ErrPlanImmutable
	default:
		return fmt.Errorf("%w: cannot execute a %s plan", ErrPlanState, p.state)
	}
}

// MarkMaterialized records that every row has been turned into entities
func (p *Plan) MarkMaterialized() error {
	if p.state != StateExecuted {
		return fmt.Errorf("%w: cannot materialize a %s plan", ErrPlanState, p.state)
	}
	p.state = StateMaterialized
	return nil
}

// clone returns a fresh execution of the same compiled plan for q, which must
// have the same fingerprint as the plan's query
func (p *Plan) clone(q Query) *Plan {
	c := &Plan{
		query:   q,
		root:    p.root,
		nodes:   p.nodes,
		sql:     p.sql,
		columns: p.columns,
		toMany:  p.toMany,
		args:    q.args(),
	}
	c.bindDefaults()
	return c
}
