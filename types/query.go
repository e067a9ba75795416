package types

// Operator is a where-clause comparison operator
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessOrEqual      Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterOrEqual   Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// Valid reports whether the operator is one the stores understand
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual,
		OpIn, OpNotIn, OpArrayContains, OpArrayContainsAny:
		return true
	}
	return false
}

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// WhereClause is a single (field, operator, value) filter
type WhereClause struct {
	Field    string   `json:"field"`
	Operator Operator `json:"op"`
	Value    any      `json:"value"`
}

// OrderClause represents a single ORDER BY clause
type OrderClause struct {
	Field     string    `json:"field"`
	Direction Direction `json:"dir"`
}

// Descending reports whether the clause sorts high to low
func (o OrderClause) Descending() bool {
	return o.Direction == Desc
}

type clauseKind uint8

const (
	clauseNone clauseKind = iota
	clauseSingle
	clauseList
)

// ClauseSet holds either a single clause or a list of clauses. The shape is
// fixed when the set is built; consumers read the resolved Items.
type ClauseSet[T any] struct {
	kind  clauseKind
	items []T
}

// Single builds a set holding exactly one clause
func Single[T any](clause T) ClauseSet[T] {
	return ClauseSet[T]{kind: clauseSingle, items: []T{clause}}
}

// List builds a set from zero or more clauses
func List[T any](clauses ...T) ClauseSet[T] {
	if len(clauses) == 0 {
		return ClauseSet[T]{}
	}
	items := make([]T, len(clauses))
	copy(items, clauses)
	return ClauseSet[T]{kind: clauseList, items: items}
}

// Items returns the resolved clauses in application order
func (s ClauseSet[T]) Items() []T { return s.items }

// Len returns the number of clauses
func (s ClauseSet[T]) Len() int { return len(s.items) }

// IsSingle reports whether the set was built from a single clause
func (s ClauseSet[T]) IsSingle() bool { return s.kind == clauseSingle }

// Append returns a new set with the clause added. A single-clause set
// becomes a list.
func (s ClauseSet[T]) Append(clause T) ClauseSet[T] {
	items := make([]T, 0, len(s.items)+1)
	items = append(items, s.items...)
	items = append(items, clause)
	if len(items) == 1 {
		return ClauseSet[T]{kind: clauseSingle, items: items}
	}
	return ClauseSet[T]{kind: clauseList, items: items}
}

// Cursor is a page marker made of scalar values, one per order clause
type Cursor []any

// Descriptor describes a collection query: filters, sort, cursors and limit.
// Two descriptors are cache-equivalent when their fingerprints are equal.
type Descriptor struct {
	Where   ClauseSet[WhereClause]
	OrderBy ClauseSet[OrderClause]

	// Limit caps the result count; nil means unlimited
	Limit *int

	StartAt    Cursor
	StartAfter Cursor
	EndAt      Cursor
	EndBefore  Cursor

	// CollectionGroup matches every collection sharing the last path segment
	CollectionGroup bool
}
