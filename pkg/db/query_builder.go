package db

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SQL rendering for the fetch-plan resolver and the session's unit of work.
//
// SECURITY WARNING:
// Identifiers (tables, aliases, columns, join conditions) are NOT escaped. They
// must come from the metadata registry, never from user input. Values are always
// passed as Condition values or insert/update arguments and rendered as "?".

// Operator is a comparison usable in a WHERE condition
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	In                 Operator = "IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
)

// Valid reports whether the operator is one the builder can render
func (o Operator) Valid() bool {
	switch o {
	case Equal, NotEqual, GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual, Like, In, IsNull, IsNotNull:
		return true
	}
	return false
}

// Unary reports whether the operator takes no value
func (o Operator) Unary() bool {
	return o == IsNull || o == IsNotNull
}

// Condition is one conjunct of a WHERE clause
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

type join struct {
	table string // "pet t1"
	on    string // "t1.owner_id = t0.id"
}

type order struct {
	field string
	desc  bool
}

// Builder renders SELECT, INSERT and UPDATE statements for one table. Every
// WHERE condition is ANDed; joins are always LEFT OUTER so a root without
// children still yields its row.
type Builder struct {
	table   string
	columns []string
	joins   []join
	where   []Condition
	orders  []order
	limit   int
	offset  int
}

// NewBuilder creates a builder. table may carry an alias ("owner t0").
func NewBuilder(table string) *Builder {
	return &Builder{table: table}
}

// Select sets the projected columns; none means "*"
func (b *Builder) Select(cols ...string) *Builder {
	b.columns = cols
	return b
}

// LeftJoin adds a LEFT OUTER JOIN of table on the given condition
func (b *Builder) LeftJoin(table, on string) *Builder {
	b.joins = append(b.joins, join{table: table, on: on})
	return b
}

// Where adds a condition. The value is always parameterized.
func (b *Builder) Where(field string, operator Operator, value interface{}) *Builder {
	b.where = append(b.where, Condition{Field: field, Operator: operator, Value: value})
	return b
}

// OrderBy appends a sort key
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	b.orders = append(b.orders, order{field: field, desc: desc})
	return b
}

// Limit caps the row count. Zero or negative means no cap.
func (b *Builder) Limit(limit int) *Builder {
	b.limit = max(limit, 0)
	return b
}

// Offset skips rows. Negative values are normalized to 0.
func (b *Builder) Offset(offset int) *Builder {
	b.offset = max(offset, 0)
	return b
}

// noLimit stands in for "no limit" when only an offset is requested, since
// SQLite and MySQL both reject OFFSET without LIMIT
const noLimit = 1<<63 - 1

// BuildSelect renders the SELECT statement and its positional arguments
func (b *Builder) BuildSelect() (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	for _, j := range b.joins {
		sb.WriteString(" LEFT OUTER JOIN ")
		sb.WriteString(j.table)
		sb.WriteString(" ON ")
		sb.WriteString(j.on)
	}

	args := b.writeWhere(&sb)

	for i, o := range b.orders {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(o.field)
		if o.desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}

	if b.limit > 0 || b.offset > 0 {
		limit := b.limit
		if limit == 0 {
			limit = noLimit
		}
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	if b.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(b.offset))
	}
	return sb.String(), args
}

// BuildCount renders SELECT COUNT(*) over the table and WHERE conditions,
// ignoring projection, joins, ordering and paging
func (b *Builder) BuildCount() (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(b.table)
	args := b.writeWhere(&sb)
	return sb.String(), args
}

func (b *Builder) writeWhere(sb *strings.Builder) []interface{} {
	var args []interface{}
	for i, c := range b.where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, writeCondition(sb, c)...)
	}
	return args
}

func writeCondition(sb *strings.Builder, c Condition) []interface{} {
	if c.Operator.Unary() {
		sb.WriteString(c.Field + " " + string(c.Operator))
		return nil
	}
	if c.Operator != In {
		sb.WriteString(c.Field + " " + string(c.Operator) + " ?")
		return []interface{}{c.Value}
	}

	values := Expand(c.Value)
	if len(values) == 0 {
		sb.WriteString("1 = 0")
		return nil
	}
	sb.WriteString(c.Field + " IN (" + placeholders(len(values)) + ")")
	return values
}

// Expand returns the values an IN condition binds: the elements of a slice or
// array, a scalar as a one-element list, and nothing for nil
func Expand(value interface{}) []interface{} {
	if value == nil {
		return nil
	}
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return []interface{}{value}
	}
	out := make([]interface{}, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// BuildInsert renders an INSERT of the given columns
func (b *Builder) BuildInsert(columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.table, strings.Join(columns, ", "), placeholders(len(columns)))
}

// BuildUpdate renders an UPDATE keyed on keyColumn. The caller appends the key
// value after the column values.
func (b *Builder) BuildUpdate(columns []string, keyColumn string) string {
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		b.table, strings.Join(columns, " = ?, ")+" = ?", keyColumn)
}
