package database

import (
	"fmt"
	"regexp"
	"sort"
)

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
	OpIs  Op = "is"
)

// Filter is one column predicate. For OpIn Value is a []any; for OpIs it is
// nil, true or false.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Order is one sort key.
type Order struct {
	Column     string
	Descending bool
}

// Query selects rows. The zero value matches every row.
type Query struct {
	Filters []Filter
	Orders  []Order
	Limit   int
}

// NewQuery returns an empty query.
func NewQuery() Query {
	return Query{}
}

func (q Query) with(f Filter) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, f)
	return q
}

func (q Query) Eq(column string, value any) Query  { return q.with(Filter{column, OpEq, value}) }
func (q Query) Neq(column string, value any) Query { return q.with(Filter{column, OpNeq, value}) }
func (q Query) Gt(column string, value any) Query  { return q.with(Filter{column, OpGt, value}) }
func (q Query) Gte(column string, value any) Query { return q.with(Filter{column, OpGte, value}) }
func (q Query) Lt(column string, value any) Query  { return q.with(Filter{column, OpLt, value}) }
func (q Query) Lte(column string, value any) Query { return q.with(Filter{column, OpLte, value}) }
func (q Query) Is(column string, value any) Query  { return q.with(Filter{column, OpIs, value}) }

// In matches rows whose column equals any of values.
func (q Query) In(column string, values ...any) Query {
	return q.with(Filter{column, OpIn, values})
}

// OrderBy appends a sort key.
func (q Query) OrderBy(column string, descending bool) Query {
	orders := make([]Order, len(q.Orders), len(q.Orders)+1)
	copy(orders, q.Orders)
	q.Orders = append(orders, Order{Column: column, Descending: descending})
	return q
}

// WithLimit caps the number of rows returned. Zero means no limit.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks identifiers and operators.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := validateIdentifier(f.Column); err != nil {
			return err
		}
		switch f.Op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		case OpIn:
			if _, ok := f.Value.([]any); !ok {
				return fmt.Errorf("%w: in filter on %s needs a list", ErrInvalidQuery, f.Column)
			}
		case OpIs:
			switch f.Value.(type) {
			case nil, bool:
			default:
				return fmt.Errorf("%w: is filter on %s accepts null, true or false", ErrInvalidQuery, f.Column)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, o := range q.Orders {
		if err := validateIdentifier(o.Column); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: bad identifier %q", ErrInvalidQuery, name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
