package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arthur-debert/nanosync/types"
)

// ParseWhere parses a textual filter such as `status==open`,
// `priority >= 2` or `tags array-contains go`. The value is decoded as JSON
// when possible and kept as a string otherwise.
func ParseWhere(expr string) (types.WhereClause, error) {
	// Longest operators first so "<=" is not read as "<"
	operators := []struct {
		op       types.Operator
		searchOp string
	}{
		{types.OpArrayContainsAny, " array-contains-any "},
		{types.OpArrayContains, " array-contains "},
		{types.OpNotIn, " not-in "},
		{types.OpIn, " in "},
		{types.OpEqual, "=="},
		{types.OpNotEqual, "!="},
		{types.OpLessOrEqual, "<="},
		{types.OpGreaterOrEqual, ">="},
		{types.OpLess, "<"},
		{types.OpGreater, ">"},
	}

	lower := strings.ToLower(expr)
	for _, opInfo := range operators {
		idx := strings.Index(lower, opInfo.searchOp)
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		raw := strings.TrimSpace(expr[idx+len(opInfo.searchOp):])
		if field == "" || raw == "" {
			return types.WhereClause{}, fmt.Errorf("incomplete where clause %q", expr)
		}
		return types.WhereClause{Field: field, Operator: opInfo.op, Value: parseValue(raw)}, nil
	}

	return types.WhereClause{}, fmt.Errorf("%w in %q", ErrUnknownOperator, expr)
}

// ParseOrderBy parses `field` or `field:asc|desc`
func ParseOrderBy(expr string) (types.OrderClause, error) {
	field, dir, found := strings.Cut(strings.TrimSpace(expr), ":")
	if field == "" {
		return types.OrderClause{}, fmt.Errorf("empty order clause %q", expr)
	}
	if !found {
		return types.OrderClause{Field: field, Direction: types.Asc}, nil
	}
	switch types.Direction(strings.ToLower(dir)) {
	case types.Asc:
		return types.OrderClause{Field: field, Direction: types.Asc}, nil
	case types.Desc:
		return types.OrderClause{Field: field, Direction: types.Desc}, nil
	default:
		return types.OrderClause{}, fmt.Errorf("%w: %q", ErrUnknownDirection, dir)
	}
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	// Remove quotes from value if present
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return raw[1 : len(raw)-1]
	}
	return raw
}
