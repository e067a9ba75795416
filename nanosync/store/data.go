package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
)

var (
	// ErrAlreadyExists is returned when a create targets an existing document
	ErrAlreadyExists = errors.New("document already exists")

	// ErrReservedField is returned when a write names a field the store
	// keeps for document identity
	ErrReservedField = errors.New("reserved field name")
)

const dataVersion = "1.0"

// storeData is the on-disk layout
type storeData struct {
	Version   string                     `json:"version"`
	Documents map[string]*storedDocument `json:"documents"`
	Metadata  metadata                   `json:"metadata"`
}

type metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// storedDocument is never modified once it is in a documents map; writes
// build a replacement
type storedDocument struct {
	Fields     map[string]any `json:"fields"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

type sentinel string

var (
	// ServerTimestamp is replaced by the commit time when written
	ServerTimestamp any = sentinel("server-timestamp")

	// DeleteField removes the field it is assigned to in merges and updates
	DeleteField any = sentinel("delete-field")
)

// applyWrites returns a new documents map with every write applied and the
// set of touched paths. docs itself is left untouched.
func applyWrites(docs map[string]*storedDocument, writes []remote.Write, now time.Time) (map[string]*storedDocument, map[string]bool, error) {
	next := maps.Clone(docs)
	if next == nil {
		next = make(map[string]*storedDocument)
	}
	touched := make(map[string]bool, len(writes))

	for i, w := range writes {
		if err := validation.ValidateDocumentPath(w.Path); err != nil {
			return nil, nil, fmt.Errorf("write %d: %w", i, err)
		}
		path := validation.CleanPath(w.Path)
		for key := range w.Fields {
			top, _, _ := strings.Cut(key, ".")
			if validation.IsReservedFieldName(top) {
				return nil, nil, fmt.Errorf("write %d (%s): %w: %q", i, path, ErrReservedField, key)
			}
		}
		if err := applyWrite(next, path, w, now); err != nil {
			return nil, nil, fmt.Errorf("write %d (%s): %w", i, path, err)
		}
		touched[path] = true
	}
	return next, touched, nil
}

func applyWrite(docs map[string]*storedDocument, path string, w remote.Write, now time.Time) error {
	current := docs[path]

	switch w.Kind {
	case remote.WriteDelete:
		delete(docs, path)
		return nil

	case remote.WriteCreate:
		if current != nil {
			return ErrAlreadyExists
		}
		fields, err := prepare(w.Fields, now)
		if err != nil {
			return err
		}
		docs[path] = &storedDocument{Fields: fields, CreateTime: now, UpdateTime: now}
		return nil

	case remote.WriteSet:
		if !w.Merge || current == nil {
			fields, err := prepare(w.Fields, now)
			if err != nil {
				return err
			}
			created := now
			if current != nil {
				created = current.CreateTime
			}
			docs[path] = &storedDocument{Fields: fields, CreateTime: created, UpdateTime: now}
			return nil
		}
		return mergeInto(docs, path, current, w.Fields, now, false)

	case remote.WriteUpdate:
		if current == nil {
			return remote.ErrNotFound
		}
		return mergeInto(docs, path, current, w.Fields, now, true)

	default:
		return fmt.Errorf("unknown write kind %d", w.Kind)
	}
}

// mergeInto shallow-merges patch into current. Dotted keys address nested
// maps when dotted is set.
func mergeInto(docs map[string]*storedDocument, path string, current *storedDocument, patch map[string]any, now time.Time, dotted bool) error {
	fields := cloneFields(current.Fields)
	for key, raw := range patch {
		segments := []string{key}
		if dotted && strings.Contains(key, ".") {
			segments = strings.Split(key, ".")
		}
		if raw == DeleteField {
			deletePath(fields, segments)
			continue
		}
		value, err := prepareValue(raw, now)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		setPath(fields, segments, value)
	}
	docs[path] = &storedDocument{Fields: fields, CreateTime: current.CreateTime, UpdateTime: now}
	return nil
}

func setPath(fields map[string]any, segments []string, value any) {
	m := fields
	for _, seg := range segments[:len(segments)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[seg] = child
		}
		m = child
	}
	m[segments[len(segments)-1]] = value
}

func deletePath(fields map[string]any, segments []string) {
	m := fields
	for _, seg := range segments[:len(segments)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			return
		}
		m = child
	}
	delete(m, segments[len(segments)-1])
}

// prepare turns caller fields into stored fields: sentinels resolved, times
// encoded as seconds/nanoseconds pairs, everything in JSON's own types
func prepare(fields map[string]any, now time.Time) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		if raw == DeleteField {
			continue
		}
		v, err := prepareValue(raw, now)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func prepareValue(v any, now time.Time) (any, error) {
	v = resolveSentinels(v, now)
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveSentinels(v any, now time.Time) any {
	switch val := v.(type) {
	case sentinel:
		if v == ServerTimestamp {
			return types.TimestampOf(now)
		}
		return nil
	case time.Time:
		return types.TimestampOf(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return types.TimestampOf(*val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolveSentinels(item, now)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveSentinels(item, now)
		}
		return out
	default:
		return v
	}
}

// cloneFields deep-copies stored fields, which only hold JSON types
func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
