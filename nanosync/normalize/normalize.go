// Package normalize turns raw store records into canonical documents.
//
// Records arrive as a field map plus metadata (id, existence, pending-write
// flag, store handle). Normalization lifts the metadata into the document
// identity and coerces every timestamp-shaped value, at any depth, into a
// time.Time so cached documents carry native dates.
package normalize

import (
	"encoding/json"
	"math"
	"time"

	"github.com/arthur-debert/nanosync/types"
)

// Meta is the store metadata that accompanies a raw record
type Meta struct {
	ID               string
	Exists           bool
	HasPendingWrites bool
	Handle           types.Handle
}

// Normalize builds a document from a raw field map. The input is never
// modified: nested maps and slices are copied on the way through, so the
// result can be shared between cache entries.
func Normalize(raw map[string]any, meta Meta) *types.Document {
	return &types.Document{
		ID:               meta.ID,
		Exists:           meta.Exists,
		HasPendingWrites: meta.HasPendingWrites,
		Fields:           Fields(raw),
		Handle:           meta.Handle,
	}
}

// NormalizeOwned is Normalize for payloads the caller exclusively owns, such
// as a freshly decoded wire message. Timestamps are replaced in place.
func NormalizeOwned(raw map[string]any, meta Meta) *types.Document {
	if raw == nil {
		raw = map[string]any{}
	}
	coerceInPlace(raw)
	return &types.Document{
		ID:               meta.ID,
		Exists:           meta.Exists,
		HasPendingWrites: meta.HasPendingWrites,
		Fields:           raw,
		Handle:           meta.Handle,
	}
}

// Fields returns a coerced copy of a field map. A nil map yields an empty one.
func Fields(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = Value(v)
	}
	return out
}

// Value coerces a single value, copying containers
func Value(v any) any {
	if t, ok := AsTime(v); ok {
		return t
	}
	switch val := v.(type) {
	case map[string]any:
		return Fields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(item)
		}
		return out
	default:
		return v
	}
}

func coerceInPlace(m map[string]any) {
	for k, v := range m {
		if t, ok := AsTime(v); ok {
			m[k] = t
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			coerceInPlace(val)
		case []any:
			for i, item := range val {
				if t, ok := AsTime(item); ok {
					val[i] = t
				} else if nested, ok := item.(map[string]any); ok {
					coerceInPlace(nested)
				}
			}
		}
	}
}

// timestamp key pairs recognised as encoded instants
var timestampShapes = [][2]string{
	{"seconds", "nanoseconds"},
	{"_seconds", "_nanoseconds"},
}

// AsTime reports whether v is shaped like a timestamp and returns it as a
// time.Time. Recognised shapes are types.Timestamp and maps holding exactly a
// seconds/nanoseconds pair of integral numbers.
func AsTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case types.Timestamp:
		return val.Time(), true
	case *types.Timestamp:
		if val == nil {
			return time.Time{}, false
		}
		return val.Time(), true
	case map[string]any:
		if len(val) != 2 {
			return time.Time{}, false
		}
		for _, shape := range timestampShapes {
			secRaw, okS := val[shape[0]]
			nanoRaw, okN := val[shape[1]]
			if !okS || !okN {
				continue
			}
			sec, okS := toInt64(secRaw)
			nano, okN := toInt64(nanoRaw)
			if okS && okN {
				return time.Unix(sec, nano).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
