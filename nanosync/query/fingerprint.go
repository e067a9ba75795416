package query

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/types"
)

var (
	// ErrNonScalarCursor is returned when a cursor holds something other than
	// plain scalar values, such as a store snapshot handle
	ErrNonScalarCursor = errors.New("cursor values must be scalars")

	// ErrUnknownOperator is returned for where clauses with an unsupported operator
	ErrUnknownOperator = errors.New("unknown where operator")

	// ErrUnknownDirection is returned for order clauses with an unsupported direction
	ErrUnknownDirection = errors.New("unknown order direction")
)

// canonical is the serialized form. Field order is fixed by the struct and
// encoding/json sorts map keys, so equal descriptors encode to equal bytes.
type canonical struct {
	Where      []canonicalWhere `json:"where,omitempty"`
	OrderBy    []canonicalOrder `json:"orderBy,omitempty"`
	StartAt    []any            `json:"startAt,omitempty"`
	StartAfter []any            `json:"startAfter,omitempty"`
	EndAt      []any            `json:"endAt,omitempty"`
	EndBefore  []any            `json:"endBefore,omitempty"`
	Limit      *int             `json:"limit,omitempty"`
	Group      bool             `json:"group,omitempty"`
}

type canonicalWhere struct {
	Field string `json:"f"`
	Op    string `json:"op"`
	Value any    `json:"v"`
}

type canonicalOrder struct {
	Field string `json:"f"`
	Dir   string `json:"d"`
}

// Fingerprint serializes a descriptor deterministically. Descriptors that are
// equal by value, however they were allocated, produce the same string. A
// single clause and a one element clause list are equivalent.
func Fingerprint(d types.Descriptor) (string, error) {
	c := canonical{Limit: d.Limit, Group: d.CollectionGroup}

	for _, w := range d.Where.Items() {
		if !w.Operator.Valid() {
			return "", fmt.Errorf("%w: %q on field %q", ErrUnknownOperator, w.Operator, w.Field)
		}
		c.Where = append(c.Where, canonicalWhere{Field: w.Field, Op: string(w.Operator), Value: w.Value})
	}

	for _, o := range d.OrderBy.Items() {
		dir := o.Direction
		if dir == "" {
			dir = types.Asc
		}
		if dir != types.Asc && dir != types.Desc {
			return "", fmt.Errorf("%w: %q on field %q", ErrUnknownDirection, o.Direction, o.Field)
		}
		c.OrderBy = append(c.OrderBy, canonicalOrder{Field: o.Field, Dir: string(dir)})
	}

	cursors := []struct {
		name   string
		cursor types.Cursor
		dst    *[]any
	}{
		{"startAt", d.StartAt, &c.StartAt},
		{"startAfter", d.StartAfter, &c.StartAfter},
		{"endAt", d.EndAt, &c.EndAt},
		{"endBefore", d.EndBefore, &c.EndBefore},
	}
	for _, cur := range cursors {
		for i, v := range cur.cursor {
			if err := validation.ValidateSimpleType(v, fmt.Sprintf("%s[%d]", cur.name, i)); err != nil {
				return "", fmt.Errorf("%w: %v", ErrNonScalarCursor, err)
			}
		}
		if len(cur.cursor) > 0 {
			*cur.dst = []any(cur.cursor)
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to serialize query: %w", err)
	}
	return string(data), nil
}

// MustFingerprint is Fingerprint for descriptors known to be valid
func MustFingerprint(d types.Descriptor) string {
	fp, err := Fingerprint(d)
	if err != nil {
		panic(err)
	}
	return fp
}

// Equivalent reports whether two descriptors share a fingerprint
func Equivalent(a, b types.Descriptor) bool {
	fa, errA := Fingerprint(a)
	fb, errB := Fingerprint(b)
	return errA == nil && errB == nil && fa == fb
}
