package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/normalize"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
)

// Handle marks a position in an ordered query result. It is what the store
// puts in remote.Record.Handle; StartAfterHandle resumes strictly after it.
type Handle struct {
	Path   string
	Values []any
}

// entry is a stored document together with its path
type entry struct {
	path string
	doc  *storedDocument
}

// evaluate runs q over every stored document
func evaluate(docs map[string]*storedDocument, q remote.Query) ([]remote.Record, error) {
	desc := q.Descriptor
	for _, w := range desc.Where.Items() {
		if !w.Operator.Valid() {
			return nil, fmt.Errorf("unsupported operator %q", w.Operator)
		}
	}
	orders := desc.OrderBy.Items()

	var matched []entry
	for path, doc := range docs {
		if !inCollection(path, q.Collection, desc.CollectionGroup) {
			continue
		}
		if !matchesAll(doc.Fields, desc.Where.Items()) {
			continue
		}
		if !hasOrderFields(doc.Fields, orders) {
			continue
		}
		matched = append(matched, entry{path: path, doc: doc})
	}

	sort.Slice(matched, func(i, j int) bool {
		return compareEntries(matched[i], matched[j], orders) < 0
	})

	var out []remote.Record
	for _, e := range matched {
		values := orderValues(e.doc.Fields, orders)
		if h, ok := q.StartAfterHandle.(Handle); ok {
			if compareTuple(values, e.path, h.Values, h.Path, orders) <= 0 {
				continue
			}
		}
		if !withinCursors(values, desc, orders) {
			continue
		}
		out = append(out, e.record(values))
		if desc.Limit != nil && len(out) >= *desc.Limit {
			break
		}
	}
	return out, nil
}

func (e entry) record(values []any) remote.Record {
	_, id, _ := validation.SplitDocumentPath(e.path)
	return remote.Record{
		ID:     id,
		Path:   e.path,
		Fields: cloneFields(e.doc.Fields),
		Exists: true,
		Handle: Handle{Path: e.path, Values: values},
	}
}

// inCollection matches the direct parent, or for group queries any
// collection with the same id
func inCollection(docPath, collection string, group bool) bool {
	parent, _, err := validation.SplitDocumentPath(docPath)
	if err != nil {
		return false
	}
	if !group {
		return parent == collection
	}
	return validation.CollectionID(parent) == validation.CollectionID(collection)
}

func matchesAll(fields map[string]any, where []types.WhereClause) bool {
	for _, w := range where {
		if !matches(fields, w) {
			return false
		}
	}
	return true
}

func matches(fields map[string]any, w types.WhereClause) bool {
	actual, ok := lookup(fields, w.Field)
	if !ok {
		return false
	}
	expected := w.Value

	switch w.Operator {
	case types.OpEqual:
		return compareValues(actual, expected) == 0
	case types.OpNotEqual:
		return compareValues(actual, expected) != 0
	case types.OpLess:
		return orderable(actual, expected) && compareValues(actual, expected) < 0
	case types.OpLessOrEqual:
		return orderable(actual, expected) && compareValues(actual, expected) <= 0
	case types.OpGreater:
		return orderable(actual, expected) && compareValues(actual, expected) > 0
	case types.OpGreaterOrEqual:
		return orderable(actual, expected) && compareValues(actual, expected) >= 0
	case types.OpIn:
		return containsValue(asList(expected), actual)
	case types.OpNotIn:
		return !containsValue(asList(expected), actual)
	case types.OpArrayContains:
		return containsValue(asList(actual), expected)
	case types.OpArrayContainsAny:
		for _, want := range asList(expected) {
			if containsValue(asList(actual), want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookup resolves a dotted field path through nested maps
func lookup(fields map[string]any, field string) (any, bool) {
	if v, ok := fields[field]; ok {
		return v, true
	}
	parts := strings.Split(field, ".")
	var cur any = fields
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func hasOrderFields(fields map[string]any, orders []types.OrderClause) bool {
	for _, o := range orders {
		if _, ok := lookup(fields, o.Field); !ok {
			return false
		}
	}
	return true
}

func orderValues(fields map[string]any, orders []types.OrderClause) []any {
	values := make([]any, len(orders))
	for i, o := range orders {
		values[i], _ = lookup(fields, o.Field)
	}
	return values
}

func compareEntries(a, b entry, orders []types.OrderClause) int {
	return compareTuple(orderValues(a.doc.Fields, orders), a.path, orderValues(b.doc.Fields, orders), b.path, orders)
}

// compareTuple orders by the order fields, then by path ascending
func compareTuple(a []any, aPath string, b []any, bPath string, orders []types.OrderClause) int {
	for i, o := range orders {
		if i >= len(a) || i >= len(b) {
			break
		}
		c := compareValues(a[i], b[i])
		if o.Descending() {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(aPath, bPath)
}

// comparePrefix compares values against a cursor over the cursor's length
func comparePrefix(values []any, cursor types.Cursor, orders []types.OrderClause) int {
	for i, want := range cursor {
		if i >= len(values) || i >= len(orders) {
			break
		}
		c := compareValues(values[i], want)
		if orders[i].Descending() {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func withinCursors(values []any, desc types.Descriptor, orders []types.OrderClause) bool {
	if len(desc.StartAt) > 0 && comparePrefix(values, desc.StartAt, orders) < 0 {
		return false
	}
	if len(desc.StartAfter) > 0 && comparePrefix(values, desc.StartAfter, orders) <= 0 {
		return false
	}
	if len(desc.EndAt) > 0 && comparePrefix(values, desc.EndAt, orders) > 0 {
		return false
	}
	if len(desc.EndBefore) > 0 && comparePrefix(values, desc.EndBefore, orders) >= 0 {
		return false
	}
	return true
}

// Value classes, in sort order
const (
	classNull = iota
	classBool
	classNumber
	classTime
	classString
	classArray
	classMap
	classOther
)

func classify(v any) (int, any) {
	if t, ok := normalize.AsTime(v); ok {
		return classTime, t
	}
	switch val := v.(type) {
	case nil:
		return classNull, nil
	case bool:
		return classBool, val
	case time.Time:
		return classTime, val
	case string:
		return classString, val
	case []any:
		return classArray, val
	case map[string]any:
		return classMap, val
	}
	if f, ok := toFloat(v); ok {
		return classNumber, f
	}
	return classOther, v
}

// orderable reports whether a range comparison between a and b is meaningful
func orderable(a, b any) bool {
	ca, _ := classify(a)
	cb, _ := classify(b)
	return ca == cb && ca != classNull
}

// compareValues totally orders values: first by class, then within a class
func compareValues(a, b any) int {
	ca, va := classify(a)
	cb, vb := classify(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	switch ca {
	case classNull:
		return 0
	case classBool:
		x, y := va.(bool), vb.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case classNumber:
		x, y := va.(float64), vb.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case classTime:
		return va.(time.Time).Compare(vb.(time.Time))
	case classString:
		return strings.Compare(va.(string), vb.(string))
	case classArray:
		x, y := va.([]any), vb.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compareValues(x[i], y[i]); c != 0 {
				return c
			}
		}
		return len(x) - len(y)
	default:
		if reflect.DeepEqual(va, vb) {
			return 0
		}
		return strings.Compare(fmt.Sprint(va), fmt.Sprint(vb))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asList(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return nil
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if compareValues(item, v) == 0 {
			return true
		}
	}
	return false
}
