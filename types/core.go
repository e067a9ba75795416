package types

import (
	"reflect"
	"time"
)

// Handle is an opaque back-reference to the store snapshot a document was
// read from. Stores hand it out so that a later query can resume after that
// document; the cache never inspects, serializes or compares it.
type Handle interface{}

// Document is the canonical in-memory shape of a remote record
type Document struct {
	ID               string         `json:"id" yaml:"id"`
	Exists           bool           `json:"exists" yaml:"exists"`
	HasPendingWrites bool           `json:"hasPendingWrites" yaml:"hasPendingWrites"`
	Fields           map[string]any `json:"fields" yaml:"fields"`
	Handle           Handle         `json:"-" yaml:"-"`
}

// Get returns a field value. The "id" field resolves to the document
// identity unless the record also stores an explicit "id" field.
func (d *Document) Get(field string) (any, bool) {
	if d == nil {
		return nil, false
	}
	if v, ok := d.Fields[field]; ok {
		return v, true
	}
	if field == "id" {
		return d.ID, true
	}
	return nil, false
}

// Clone returns a copy of the document with its own top-level field map.
// Nested values are shared.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Fields = make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	return &out
}

// Equal compares identity, flags and fields. Handles are ignored.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.ID != other.ID || d.Exists != other.Exists || d.HasPendingWrites != other.HasPendingWrites {
		return false
	}
	if len(d.Fields) != len(other.Fields) {
		return false
	}
	return reflect.DeepEqual(d.Fields, other.Fields)
}

// Timestamp is the two-component seconds/nanoseconds pair remote stores use
// to encode instants.
type Timestamp struct {
	Seconds     int64 `json:"seconds" yaml:"seconds"`
	Nanoseconds int64 `json:"nanoseconds" yaml:"nanoseconds"`
}

// Time converts the pair to a time.Time in UTC
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, t.Nanoseconds).UTC()
}

// TimestampOf splits a time.Time into its seconds/nanoseconds pair
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanoseconds: int64(t.Nanosecond())}
}

// SetOptions configures a document set
type SetOptions struct {
	// Merge shallow-merges the given fields into the existing document
	// instead of replacing it
	Merge bool
}
