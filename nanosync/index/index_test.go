package index

import (
	"testing"

	"github.com/arthur-debert/nanosync/types"
	"github.com/google/go-cmp/cmp"
)

func TestCollectionIndex(t *testing.T) {
	t.Run("unknown path returns empty keys", func(t *testing.T) {
		ix := New()
		keys := ix.Keys("nowhere")
		if keys == nil || len(keys) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", keys)
		}
	})

	t.Run("add is idempotent for membership", func(t *testing.T) {
		ix := New()
		ix.Add("todos", "q1")
		ix.Add("todos", "q1")
		ix.Add("todos", "q2")
		ix.Add("notes", "q1")

		want := []types.Key{
			types.CollectionKey("todos", "q1"),
			types.CollectionKey("todos", "q2"),
		}
		if diff := cmp.Diff(want, ix.Keys("todos")); diff != "" {
			t.Errorf("keys mismatch (-want +got):\n%s", diff)
		}
		if ix.Len() != 3 {
			t.Errorf("expected 3 entries, got %d", ix.Len())
		}
		if ix.Refs("todos", "q1") != 2 {
			t.Errorf("expected 2 refs, got %d", ix.Refs("todos", "q1"))
		}
	})

	t.Run("release removes on last reference", func(t *testing.T) {
		ix := New()
		ix.Add("todos", "q1")
		ix.Add("todos", "q1")

		if ix.Release("todos", "q1") {
			t.Error("first release should not remove the entry")
		}
		if !ix.Has("todos", "q1") {
			t.Error("entry should still be present")
		}
		if !ix.Release("todos", "q1") {
			t.Error("second release should remove the entry")
		}
		if ix.Has("todos", "q1") {
			t.Error("entry should be gone")
		}
		if len(ix.Paths()) != 0 {
			t.Errorf("expected empty path list, got %v", ix.Paths())
		}
	})

	t.Run("release of unknown entry is a no-op", func(t *testing.T) {
		ix := New()
		if ix.Release("todos", "missing") {
			t.Error("expected false for unknown entry")
		}
	})
}
