package recorder

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Op is a comparison operator usable in a query condition.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// ValidOps is the set of recognized condition operators.
var ValidOps = map[Op]bool{OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true}

// Cond filters rows on one column.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// QueryResult is the exact row set matching a query.
type QueryResult struct {
	Schema Schema
	Rows   []Row
}

// Queryable is implemented by backends that support the read path.
type Queryable interface {
	Query(table string, conds []Cond) (*QueryResult, error)
}

// Column returns every value of the named column.
func (q *QueryResult) Column(name string) []any {
	idx := q.Schema.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(q.Rows))
	for i, row := range q.Rows {
		out[i] = row[idx]
	}
	return out
}

// Get returns the named field of row i.
func (q *QueryResult) Get(i int, name string) any {
	idx := q.Schema.Index(name)
	if idx < 0 || i >= len(q.Rows) {
		return nil
	}
	return q.Rows[i][idx]
}

// Match reports whether a row satisfies every condition.
func Match(schema Schema, row Row, conds []Cond) (bool, error) {
	for _, c := range conds {
		idx := schema.Index(c.Column)
		if idx < 0 {
			return false, fmt.Errorf("unknown column %q", c.Column)
		}
		ok, err := compare(row[idx], c.Op, normalize(c.Value))
		if err != nil {
			return false, fmt.Errorf("column %s: %w", c.Column, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// compare evaluates a op b for scalar values.
func compare(a any, op Op, b any) (bool, error) {
	if !ValidOps[op] {
		return false, fmt.Errorf("unknown operator %q", op)
	}
	var c int
	switch x := a.(type) {
	case int:
		switch y := b.(type) {
		case int:
			c = cmpOrdered(x, y)
		case float64:
			c = cmpOrdered(float64(x), y)
		default:
			return false, fmt.Errorf("cannot compare int with %T", b)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			c = cmpOrdered(x, y)
		case int:
			c = cmpOrdered(x, float64(y))
		default:
			return false, fmt.Errorf("cannot compare double with %T", b)
		}
	case float32:
		y, ok := b.(float32)
		if !ok {
			return false, fmt.Errorf("cannot compare float with %T", b)
		}
		c = cmpOrdered(x, y)
	case string:
		y, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string with %T", b)
		}
		c = strings.Compare(x, y)
	case uuid.UUID:
		y, ok := b.(uuid.UUID)
		if !ok {
			return false, fmt.Errorf("cannot compare uuid with %T", b)
		}
		c = strings.Compare(x.String(), y.String())
	case bool:
		y, ok := b.(bool)
		if !ok {
			return false, fmt.Errorf("cannot compare bool with %T", b)
		}
		if op != OpEq && op != OpNe {
			return false, fmt.Errorf("operator %s not defined on bool", op)
		}
		if x == y {
			c = 0
		} else {
			c = 1
		}
	default:
		return false, fmt.Errorf("values of type %T are not comparable", a)
	}
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func cmpOrdered[T int | float32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
