package fetch

import (
	"fmt"
	"strings"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/cespare/xxhash/v2"
)

// Param marks a condition value supplied later through Plan.Bind
type Param struct{}

// Condition filters root rows on one of the root entity's own columns
type Condition struct {
	Column   string
	Operator db.Operator
	Value    interface{}
}

// Order sorts on one of the root entity's own columns
type Order struct {
	Column string
	Desc   bool
}

// Query is a selection over a root entity plus its fetch directive.
//
// The directive may combine the three forms. JoinFetch holds paths joined in the
// query text itself; Graph names a graph registered for Root; AttributePaths is
// an ad-hoc graph. A path present in several forms is joined once.
type Query struct {
	Root           string
	JoinFetch      []string
	Graph          string
	AttributePaths []string
	Where          []Condition
	OrderBy        []Order
	Limit          int
	Offset         int
}

// args returns the condition values in the order the builder renders them
func (q Query) args() []interface{} {
	var args []interface{}
	for _, c := range q.Where {
		switch c.Operator {
		case db.IsNull, db.IsNotNull:
		case db.In:
			args = append(args, db.Expand(c.Value)...)
		default:
			args = append(args, c.Value)
		}
	}
	return args
}

// fingerprint hashes the shape of the query. Values are excluded, except for the
// number of values an IN condition binds, which changes the rendered SQL.
func (q Query) fingerprint() uint64 {
	var b strings.Builder
	b.WriteString(q.Root)
	b.WriteString("|jf:")
	b.WriteString(strings.Join(q.JoinFetch, ","))
	b.WriteString("|g:")
	b.WriteString(q.Graph)
	b.WriteString("|ap:")
	b.WriteString(strings.Join(q.AttributePaths, ","))
	b.WriteString("|w:")
	for _, c := range q.Where {
		fmt.Fprintf(&b, "%s %s", c.Column, c.Operator)
		if c.Operator == db.In {
			fmt.Fprintf(&b, "#%d", len(db.Expand(c.Value)))
		}
		b.WriteString(";")
	}
	b.WriteString("|o:")
	for _, o := range q.OrderBy {
		fmt.Fprintf(&b, "%s/%t;", o.Column, o.Desc)
	}
	fmt.Fprintf(&b, "|l:%d|off:%d", q.Limit, q.Offset)
	return xxhash.Sum64String(b.String())
}

// ParseQuery parses the small object query language used by repositories:
//
//	SELECT o FROM Owner o [LEFT [OUTER]] JOIN FETCH o.pets [p] [JOIN FETCH p.owner]
//	    [WHERE o.name = ? [AND o.id > ?]] [ORDER BY o.name [ASC|DESC], ...]
//
// Every JOIN FETCH becomes an outer join. WHERE values are always "?" and are
// supplied through Plan.Bind.
func ParseQuery(text string) (Query, error) {
	p := &parser{tokens: tokenize(text)}
	return p.parse()
}

type parser struct {
	tokens  []string
	pos     int
	aliases map[string]string // alias -> path ("" for root)
}

func tokenize(text string) []string {
	text = strings.ReplaceAll(text, ",", " , ")
	return strings.Fields(text)
}

func (p *parser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *parser) accept(keyword string) bool {
	if strings.EqualFold(p.peek(), keyword) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(keyword string) error {
	if !p.accept(keyword) {
		return fmt.Errorf("%w: expected %s, got %q", ErrInvalidQuery, keyword, p.peek())
	}
	return nil
}

func isKeyword(t string) bool {
	switch strings.ToUpper(t) {
	case "LEFT", "OUTER", "INNER", "JOIN", "FETCH", "WHERE", "ORDER", "BY", "AND", "ASC", "DESC", ",", "":
		return true
	}
	return false
}

func (p *parser) parse() (Query, error) {
	var q Query
	if err := p.expect("SELECT"); err != nil {
		return q, err
	}
	selected := p.next()
	if err := p.expect("FROM"); err != nil {
		return q, err
	}
	q.Root = p.next()
	if q.Root == "" || isKeyword(q.Root) {
		return q, fmt.Errorf("%w: missing root entity", ErrInvalidQuery)
	}
	rootAlias := q.Root
	if t := p.peek(); t != "" && !isKeyword(t) {
		rootAlias = p.next()
	}
	if selected != rootAlias {
		return q, fmt.Errorf("%w: SELECT %s does not name the root alias %s", ErrInvalidQuery, selected, rootAlias)
	}
	p.aliases = map[string]string{rootAlias: ""}

	for {
		p.accept("INNER")
		if p.accept("LEFT") {
			p.accept("OUTER")
		}
		if !p.accept("JOIN") {
			break
		}
		if err := p.expect("FETCH"); err != nil {
			return q, err
		}
		path, err := p.joinPath(p.next())
		if err != nil {
			return q, err
		}
		q.JoinFetch = append(q.JoinFetch, path)
		if t := p.peek(); t != "" && !isKeyword(t) {
			p.aliases[p.next()] = path
		}
	}

	if p.accept("WHERE") {
		for {
			cond, err := p.condition(rootAlias)
			if err != nil {
				return q, err
			}
			q.Where = append(q.Where, cond)
			if !p.accept("AND") {
				break
			}
		}
	}

	if p.accept("ORDER") {
		if err := p.expect("BY"); err != nil {
			return q, err
		}
		for {
			column, err := p.rootColumn(p.next(), rootAlias)
			if err != nil {
				return q, err
			}
			order := Order{Column: column}
			if p.accept("DESC") {
				order.Desc = true
			} else {
				p.accept("ASC")
			}
			q.OrderBy = append(q.OrderBy, order)
			if !p.accept(",") {
				break
			}
		}
	}

	if t := p.peek(); t != "" {
		return q, fmt.Errorf("%w: unexpected %q", ErrInvalidQuery, t)
	}
	return q, nil
}

// joinPath turns "p.toys" into the full path from the root, e.g. "pets.toys"
func (p *parser) joinPath(token string) (string, error) {
	alias, attr, ok := strings.Cut(token, ".")
	if !ok || attr == "" {
		return "", fmt.Errorf("%w: JOIN FETCH needs alias.attribute, got %q", ErrInvalidQuery, token)
	}
	prefix, known := p.aliases[alias]
	if !known {
		return "", fmt.Errorf("%w: unknown alias %q", ErrInvalidQuery, alias)
	}
	if prefix == "" {
		return attr, nil
	}
	return prefix + "." + attr, nil
}

func (p *parser) rootColumn(token, rootAlias string) (string, error) {
	alias, column, ok := strings.Cut(token, ".")
	if !ok || alias != rootAlias || column == "" {
		return "", fmt.Errorf("%w: expected %s.<column>, got %q", ErrInvalidQuery, rootAlias, token)
	}
	return column, nil
}

func (p *parser) condition(rootAlias string) (Condition, error) {
	column, err := p.rootColumn(p.next(), rootAlias)
	if err != nil {
		return Condition{}, err
	}

	if p.accept("IS") {
		if p.accept("NOT") {
			if err := p.expect("NULL"); err != nil {
				return Condition{}, err
			}
			return Condition{Column: column, Operator: db.IsNotNull}, nil
		}
		if err := p.expect("NULL"); err != nil {
			return Condition{}, err
		}
		return Condition{Column: column, Operator: db.IsNull}, nil
	}

	op := db.Operator(strings.ToUpper(p.next()))
	if !op.Valid() || op == db.In {
		return Condition{}, fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, op)
	}
	if err := p.expect("?"); err != nil {
		return Condition{}, err
	}
	return Condition{Column: column, Operator: op, Value: Param{}}, nil
}
