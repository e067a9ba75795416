package coherence

import (
	"errors"
	"testing"
	"time"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/index"
	"github.com/arthur-debert/nanosync/types"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type fixture struct {
	cache  *cache.Client
	index  *index.CollectionIndex
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cache.New(cache.Config{})
	t.Cleanup(func() { _ = c.Close() })
	ix := index.New()
	return &fixture{cache: c, index: ix, engine: New(c, ix, nil)}
}

func doc(id string, fields map[string]any) *types.Document {
	return &types.Document{ID: id, Exists: true, Fields: fields}
}

// seedCollection caches a collection result and registers it in the index
func (f *fixture) seedCollection(path, fp string, docs ...*types.Document) types.Key {
	key := types.CollectionKey(path, fp)
	f.index.Add(path, fp)
	f.cache.Set(key, &types.CollectionValue{Docs: docs, HasNextPage: true})
	return key
}

func (f *fixture) collection(t *testing.T, key types.Key) *types.CollectionValue {
	t.Helper()
	v, ok := f.cache.Get(key)
	if !ok {
		t.Fatalf("no cache entry for %s", key)
	}
	return v.(*types.CollectionValue)
}

var ignoreHandle = cmpopts.IgnoreFields(types.Document{}, "Handle")

func TestPropagateUpdatePatchesContainingCollections(t *testing.T) {
	f := newFixture(t)
	a := doc("a", map[string]any{"title": "A", "done": false})
	b := doc("b", map[string]any{"title": "B"})
	key := f.seedCollection("todos", "q1", a, b)

	err := f.engine.Propagate("todos/a", Mutation{Kind: Update, Data: map[string]any{"done": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.collection(t, key)
	want := []*types.Document{
		doc("a", map[string]any{"title": "A", "done": true}),
		doc("b", map[string]any{"title": "B"}),
	}
	if diff := cmp.Diff(want, got.Docs, ignoreHandle); diff != "" {
		t.Errorf("collection mismatch (-want +got):\n%s", diff)
	}
	if got.Docs[1] != b {
		t.Error("unrelated member lost its identity")
	}
	if a.Fields["done"] != false {
		t.Error("cached document was mutated in place")
	}
	if !got.HasNextPage {
		t.Error("HasNextPage not preserved")
	}
}

func TestPropagatePreservesIdentityWhenAbsent(t *testing.T) {
	f := newFixture(t)
	key := f.seedCollection("todos", "q1", doc("a", map[string]any{"v": 1}))
	before := f.collection(t, key)

	for _, m := range []Mutation{
		{Kind: Update, Data: map[string]any{"v": 2}},
		{Kind: Set, Data: map[string]any{"v": 2}},
		{Kind: Delete},
	} {
		if err := f.engine.Propagate("todos/zzz", m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if after := f.collection(t, key); after != before {
			t.Errorf("%s of absent document replaced the container", m.Kind)
		}
	}
}

func TestPropagateLeavesOtherCollectionsAlone(t *testing.T) {
	f := newFixture(t)
	notes := f.seedCollection("notes", "q1", doc("a", map[string]any{"v": 1}))
	before := f.collection(t, notes)

	if err := f.engine.Propagate("todos/a", Mutation{Kind: Update, Data: map[string]any{"v": 9}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.collection(t, notes) != before {
		t.Error("collection under another path was touched")
	}
}

func TestPropagateSetMergeSemantics(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
		want map[string]any
	}{
		{
			name: "set replaces",
			m:    Mutation{Kind: Set, Data: map[string]any{"b": 2}},
			want: map[string]any{"b": 2},
		},
		{
			name: "set merge merges",
			m:    Mutation{Kind: Set, Merge: true, Data: map[string]any{"b": 2}},
			want: map[string]any{"a": 1, "b": 2},
		},
		{
			name: "update merges",
			m:    Mutation{Kind: Update, Data: map[string]any{"b": 2}},
			want: map[string]any{"a": 1, "b": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key := f.seedCollection("todos", "q1", doc("x", map[string]any{"a": 1}))
			f.cache.Set(types.DocumentKey("todos/x"), doc("x", map[string]any{"a": 1}))

			if err := f.engine.Propagate("todos/x", tt.m); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.want, f.collection(t, key).Docs[0].Fields); diff != "" {
				t.Errorf("collection fields (-want +got):\n%s", diff)
			}
			v, _ := f.cache.Get(types.DocumentKey("todos/x"))
			if diff := cmp.Diff(tt.want, v.(*types.Document).Fields); diff != "" {
				t.Errorf("document fields (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPropagateDelete(t *testing.T) {
	f := newFixture(t)
	b := doc("b", nil)
	key := f.seedCollection("todos", "q1", doc("a", nil), b)
	f.cache.Set(types.DocumentKey("todos/a"), doc("a", nil))

	if err := f.engine.Propagate("todos/a", Mutation{Kind: Delete}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.collection(t, key)
	if len(got.Docs) != 1 || got.Docs[0] != b {
		t.Errorf("expected only b to remain, got %+v", got.Docs)
	}
	v, ok := f.cache.Get(types.DocumentKey("todos/a"))
	if !ok {
		t.Fatal("expected a tombstone entry")
	}
	if v.(*types.Document) != nil {
		t.Errorf("expected nil tombstone, got %+v", v)
	}
}

func TestPropagateDocumentEntryWithoutCache(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Propagate("todos/new", Mutation{Kind: Update, Data: map[string]any{"a": 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.cache.Get(types.DocumentKey("todos/new")); ok {
		t.Error("update must not invent a document entry")
	}

	if err := f.engine.Propagate("todos/new", Mutation{Kind: Set, Data: map[string]any{"a": 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := f.cache.Get(types.DocumentKey("todos/new"))
	if !ok || v.(*types.Document).ID != "new" {
		t.Errorf("expected set to create the entry, got %+v", v)
	}
}

func TestPropagatePagedValue(t *testing.T) {
	f := newFixture(t)
	key := types.CollectionKey("todos", "paged")
	f.index.Add("todos", "paged")
	page0 := []*types.Document{doc("a", map[string]any{"v": 1})}
	page1 := []*types.Document{doc("b", map[string]any{"v": 1})}
	f.cache.Set(key, &types.PagedValue{Pages: [][]*types.Document{page0, page1}})

	if err := f.engine.Propagate("todos/b", Mutation{Kind: Update, Data: map[string]any{"v": 2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _ := f.cache.Get(key)
	got := v.(*types.PagedValue)
	if &got.Pages[0][0] != &page0[0] {
		t.Error("untouched page was reallocated")
	}
	if got.Pages[1][0].Fields["v"] != 2 {
		t.Errorf("expected patched page, got %+v", got.Pages[1][0].Fields)
	}
}

func TestPropagateCustomIDField(t *testing.T) {
	f := newFixture(t)
	key := f.seedCollection("todos", "q1",
		&types.Document{ID: "row-1", Exists: true, Fields: map[string]any{"uid": "a", "v": 1}},
	)

	if err := f.engine.Propagate("todos/a", Mutation{Kind: Update, Data: map[string]any{"v": 2}}, WithIDField("uid")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.collection(t, key).Docs[0].Fields["v"]; got != 2 {
		t.Errorf("expected match through uid, got v=%v", got)
	}
}

func TestPropagateCoercesTimestamps(t *testing.T) {
	f := newFixture(t)
	key := f.seedCollection("todos", "q1", doc("a", map[string]any{}))

	data := map[string]any{"due": map[string]any{"seconds": 1, "nanoseconds": 0}}
	if err := f.engine.Propagate("todos/a", Mutation{Kind: Update, Data: data}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.collection(t, key).Docs[0].Fields["due"]; got != time.Unix(1, 0).UTC() {
		t.Errorf("expected coerced time, got %v", got)
	}
}

func TestPropagateRejectsCollectionPath(t *testing.T) {
	f := newFixture(t)
	key := f.seedCollection("todos", "q1", doc("a", nil))
	before := f.collection(t, key)

	err := f.engine.Propagate("todos", Mutation{Kind: Update, Data: map[string]any{"v": 1}})
	if !errors.Is(err, validation.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if f.collection(t, key) != before {
		t.Error("cache modified despite invalid path")
	}
}

func TestPropagateUpdateDottedKeys(t *testing.T) {
	f := newFixture(t)
	address := map[string]any{"city": "Lisbon", "zip": "1000"}
	alice := doc("alice", map[string]any{"name": "Alice", "address": address})
	f.cache.Set(types.DocumentKey("users/alice"), alice)
	key := f.seedCollection("users", "all", alice)

	m := Mutation{Kind: Update, Data: map[string]any{"address.city": "Faro", "prefs.theme.mode": "dark"}}
	if err := f.engine.Propagate("users/alice", m); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"name":    "Alice",
		"address": map[string]any{"city": "Faro", "zip": "1000"},
		"prefs":   map[string]any{"theme": map[string]any{"mode": "dark"}},
	}
	v, _ := f.cache.Get(types.DocumentKey("users/alice"))
	if diff := cmp.Diff(want, v.(*types.Document).Fields); diff != "" {
		t.Errorf("document entry (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, f.collection(t, key).Docs[0].Fields); diff != "" {
		t.Errorf("collection entry (-want +got):\n%s", diff)
	}
	if address["city"] != "Lisbon" {
		t.Error("nested map of the previous version was modified in place")
	}
}

func TestPropagateSetKeepsDottedKeysLiteral(t *testing.T) {
	f := newFixture(t)
	f.cache.Set(types.DocumentKey("users/alice"), doc("alice", map[string]any{"a": 1}))

	m := Mutation{Kind: Set, Merge: true, Data: map[string]any{"x.y": 2}}
	if err := f.engine.Propagate("users/alice", m); err != nil {
		t.Fatal(err)
	}
	v, _ := f.cache.Get(types.DocumentKey("users/alice"))
	if diff := cmp.Diff(map[string]any{"a": 1, "x.y": 2}, v.(*types.Document).Fields); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
}
