package normalize

import (
	"testing"
	"time"

	"github.com/arthur-debert/nanosync/types"
	"github.com/google/go-cmp/cmp"
)

func TestNormalizeIdentity(t *testing.T) {
	raw := map[string]any{"id": "shadow", "title": "hello"}
	doc := Normalize(raw, Meta{ID: "doc1", Exists: true, HasPendingWrites: true})

	if doc.ID != "doc1" {
		t.Errorf("expected id doc1, got %q", doc.ID)
	}
	if !doc.Exists || !doc.HasPendingWrites {
		t.Errorf("expected flags from meta, got exists=%v pending=%v", doc.Exists, doc.HasPendingWrites)
	}
	if doc.Fields["title"] != "hello" {
		t.Errorf("expected title field, got %v", doc.Fields["title"])
	}
}

func TestNormalizeCoercesTimestamps(t *testing.T) {
	raw := map[string]any{
		"createdAt": map[string]any{"seconds": float64(1), "nanoseconds": float64(0)},
		"meta": map[string]any{
			"deep": map[string]any{
				"at": map[string]any{"_seconds": 2, "_nanoseconds": 500},
			},
		},
		"history": []any{
			map[string]any{"seconds": int64(3), "nanoseconds": int64(0)},
			"plain",
		},
		"typed": types.Timestamp{Seconds: 4},
	}

	doc := Normalize(raw, Meta{ID: "a", Exists: true})

	want := map[string]any{
		"createdAt": time.Unix(1, 0).UTC(),
		"meta": map[string]any{
			"deep": map[string]any{"at": time.Unix(2, 500).UTC()},
		},
		"history": []any{time.Unix(3, 0).UTC(), "plain"},
		"typed":   time.Unix(4, 0).UTC(),
	}
	if diff := cmp.Diff(want, doc.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	// input untouched
	if _, ok := raw["createdAt"].(map[string]any); !ok {
		t.Error("Normalize modified its input")
	}
}

func TestNormalizeLeavesLookalikesAlone(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "extra key", value: map[string]any{"seconds": 1, "nanoseconds": 0, "x": 1}},
		{name: "fractional", value: map[string]any{"seconds": 1.5, "nanoseconds": 0}},
		{name: "string seconds", value: map[string]any{"seconds": "1", "nanoseconds": 0}},
		{name: "mixed shapes", value: map[string]any{"seconds": 1, "_nanoseconds": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := AsTime(tt.value); ok {
				t.Errorf("AsTime(%v) unexpectedly matched", tt.value)
			}
		})
	}
}

func TestNormalizeOwnedMutatesInPlace(t *testing.T) {
	raw := map[string]any{
		"at": map[string]any{"seconds": 10, "nanoseconds": 0},
	}
	doc := NormalizeOwned(raw, Meta{ID: "x"})

	if _, ok := raw["at"].(time.Time); !ok {
		t.Errorf("expected raw map to be coerced in place, got %T", raw["at"])
	}
	if doc.Fields["at"] != time.Unix(10, 0).UTC() {
		t.Errorf("unexpected value %v", doc.Fields["at"])
	}
}

func TestNormalizeNilFields(t *testing.T) {
	doc := Normalize(nil, Meta{ID: "gone", Exists: false})
	if doc.Fields == nil {
		t.Error("expected empty, non-nil field map")
	}
	if doc.Exists {
		t.Error("expected Exists=false")
	}
}
