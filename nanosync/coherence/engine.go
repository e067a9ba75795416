// Package coherence pushes document-level changes into every cached
// collection result that holds the changed document.
//
// A mutation at users/alice is fanned out to the collection entries the
// index lists for "users". Entries that do not contain alice keep their
// exact pointer so nothing downstream sees a spurious change; entries that
// do get a new container in which only alice's element is new.
package coherence

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/index"
	"github.com/arthur-debert/nanosync/nanosync/normalize"
	"github.com/arthur-debert/nanosync/types"
)

// Kind is the kind of document mutation
type Kind int

const (
	Set Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Set:
		return "set"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Mutation describes a change to one document
type Mutation struct {
	Kind Kind
	Data map[string]any

	// Merge makes a Set shallow-merge instead of replace
	Merge bool
}

// Option configures a single propagation
type Option func(*options)

type options struct {
	idField string
}

// WithIDField matches cached documents on the named field instead of the
// document id
func WithIDField(name string) Option {
	return func(o *options) {
		o.idField = name
	}
}

// Engine applies mutations to the cache
type Engine struct {
	cache  *cache.Client
	index  *index.CollectionIndex
	logger *slog.Logger
}

// New creates an engine over a cache and its collection index
func New(c *cache.Client, ix *index.CollectionIndex, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: c, index: ix, logger: logger}
}

// Propagate applies m to the document entry at path and to every registered
// collection entry containing the document, atomically. path must be a
// document path; anything else fails before the cache is touched.
func (e *Engine) Propagate(path string, m Mutation, opts ...Option) error {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return fmt.Errorf("cannot propagate %s: %w", m.Kind, err)
	}
	return e.cache.Atomic(func(tx *cache.Tx) error {
		return e.Apply(tx, path, m, opts...)
	})
}

// Apply is Propagate for callers already inside cache.Atomic
func (e *Engine) Apply(tx *cache.Tx, path string, m Mutation, opts ...Option) error {
	parent, docID, err := validation.SplitDocumentPath(path)
	if err != nil {
		return fmt.Errorf("cannot propagate %s: %w", m.Kind, err)
	}

	o := options{idField: "id"}
	for _, opt := range opts {
		opt(&o)
	}

	data := normalize.Fields(m.Data)
	e.applyDocument(tx, validation.CleanPath(path), docID, m, data)

	patched := 0
	keys := e.index.Keys(parent)
	for _, key := range keys {
		if e.applyCollection(tx, key, docID, m, data, o.idField) {
			patched++
		}
	}

	e.logger.Debug("propagated mutation",
		"path", path,
		"kind", m.Kind.String(),
		"collections", len(keys),
		"patched", patched)
	return nil
}

func (e *Engine) applyDocument(tx *cache.Tx, path, docID string, m Mutation, data map[string]any) {
	key := types.DocumentKey(path)

	if m.Kind == Delete {
		tx.Set(key, (*types.Document)(nil))
		return
	}

	var current *types.Document
	if v, ok := tx.Get(key); ok {
		current, _ = v.(*types.Document)
	}

	if current == nil {
		// Nothing cached to merge an update into
		if m.Kind == Update {
			return
		}
		tx.Set(key, &types.Document{ID: docID, Exists: true, Fields: data})
		return
	}

	tx.Set(key, mutate(current, m, data))
}

func (e *Engine) applyCollection(tx *cache.Tx, key types.Key, docID string, m Mutation, data map[string]any, idField string) bool {
	v, ok := tx.Get(key)
	if !ok {
		return false
	}

	switch value := v.(type) {
	case *types.CollectionValue:
		if value == nil {
			return false
		}
		docs, changed := patchDocs(value.Docs, docID, m, data, idField)
		if !changed {
			return false
		}
		tx.Set(key, &types.CollectionValue{Docs: docs, HasNextPage: value.HasNextPage})
		return true

	case *types.PagedValue:
		if value == nil {
			return false
		}
		var pages [][]*types.Document
		for i, page := range value.Pages {
			docs, changed := patchDocs(page, docID, m, data, idField)
			if !changed {
				continue
			}
			if pages == nil {
				pages = make([][]*types.Document, len(value.Pages))
				copy(pages, value.Pages)
			}
			pages[i] = docs
		}
		if pages == nil {
			return false
		}
		tx.Set(key, &types.PagedValue{Pages: pages, HasNextPage: value.HasNextPage})
		return true

	default:
		return false
	}
}

// patchDocs returns docs unchanged (same slice) when no member matches
func patchDocs(docs []*types.Document, docID string, m Mutation, data map[string]any, idField string) ([]*types.Document, bool) {
	match := -1
	for i, doc := range docs {
		if matches(doc, docID, idField) {
			match = i
			break
		}
	}
	if match < 0 {
		return docs, false
	}

	out := make([]*types.Document, 0, len(docs))
	for i, doc := range docs {
		if i < match || !matches(doc, docID, idField) {
			out = append(out, doc)
			continue
		}
		if m.Kind == Delete {
			continue
		}
		out = append(out, mutate(doc, m, data))
	}
	return out, true
}

func matches(doc *types.Document, docID, idField string) bool {
	if doc == nil {
		return false
	}
	if idField == "" || idField == "id" {
		return doc.ID == docID
	}
	v, ok := doc.Fields[idField]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == docID
}

// mutate returns a new document; the cached one is never modified in place
func mutate(doc *types.Document, m Mutation, data map[string]any) *types.Document {
	if m.Kind == Set && !m.Merge {
		return &types.Document{
			ID:     doc.ID,
			Exists: true,
			Fields: copyFields(data),
			Handle: doc.Handle,
		}
	}
	next := doc.Clone()
	next.Exists = true
	for k, v := range data {
		if m.Kind == Update && strings.Contains(k, ".") {
			setNested(next.Fields, strings.Split(k, "."), v)
			continue
		}
		next.Fields[k] = v
	}
	return next
}

// setNested writes value under a dotted update key such as "address.city".
// Maps along the path are copied since Clone shares them with the cached
// document.
func setNested(fields map[string]any, segments []string, value any) {
	m := fields
	for _, seg := range segments[:len(segments)-1] {
		child, _ := m[seg].(map[string]any)
		copied := copyFields(child)
		m[seg] = copied
		m = copied
	}
	m[segments[len(segments)-1]] = value
}

func copyFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
