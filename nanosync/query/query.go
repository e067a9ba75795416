// Package query builds query descriptors and derives their fingerprints.
//
// A fingerprint is the canonical serialization of a descriptor. It is used
// as part of the cache key of a collection query and as the equality test
// that stops a session from resubscribing when it is handed a descriptor that
// is structurally identical to the active one.
package query

import (
	"github.com/arthur-debert/nanosync/types"
)

// Builder assembles a descriptor clause by clause
type Builder struct {
	d types.Descriptor
}

// New starts an empty descriptor
func New() *Builder {
	return &Builder{}
}

// From starts a builder from an existing descriptor
func From(d types.Descriptor) *Builder {
	return &Builder{d: d}
}

// Where adds a filter clause
func (b *Builder) Where(field string, op types.Operator, value any) *Builder {
	b.d.Where = b.d.Where.Append(types.WhereClause{Field: field, Operator: op, Value: value})
	return b
}

// OrderBy adds a sort clause
func (b *Builder) OrderBy(field string, dir types.Direction) *Builder {
	b.d.OrderBy = b.d.OrderBy.Append(types.OrderClause{Field: field, Direction: dir})
	return b
}

// Limit caps the number of results
func (b *Builder) Limit(n int) *Builder {
	b.d.Limit = &n
	return b
}

// StartAt resumes at the given order values, inclusive
func (b *Builder) StartAt(values ...any) *Builder {
	b.d.StartAt = types.Cursor(values)
	return b
}

// StartAfter resumes after the given order values
func (b *Builder) StartAfter(values ...any) *Builder {
	b.d.StartAfter = types.Cursor(values)
	return b
}

// EndAt stops at the given order values, inclusive
func (b *Builder) EndAt(values ...any) *Builder {
	b.d.EndAt = types.Cursor(values)
	return b
}

// EndBefore stops before the given order values
func (b *Builder) EndBefore(values ...any) *Builder {
	b.d.EndBefore = types.Cursor(values)
	return b
}

// CollectionGroup matches every collection with the same id
func (b *Builder) CollectionGroup() *Builder {
	b.d.CollectionGroup = true
	return b
}

// Build returns the descriptor
func (b *Builder) Build() types.Descriptor {
	return b.d
}
