package query

import (
	"errors"
	"testing"

	"github.com/arthur-debert/nanosync/types"
)

func TestFingerprintEquivalence(t *testing.T) {
	build := func() types.Descriptor {
		return New().
			Where("status", types.OpEqual, "open").
			Where("tags", types.OpIn, []any{"a", "b"}).
			OrderBy("createdAt", types.Desc).
			Limit(10).
			StartAfter(42).
			Build()
	}

	a, err := Fingerprint(build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Fingerprint(build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("independently built descriptors differ:\n%s\n%s", a, b)
	}
}

func TestFingerprintSingleVersusList(t *testing.T) {
	clause := types.WhereClause{Field: "status", Operator: types.OpEqual, Value: "open"}
	single := types.Descriptor{Where: types.Single(clause)}
	list := types.Descriptor{Where: types.List(clause)}

	if !Equivalent(single, list) {
		t.Error("expected single clause and one-element list to be equivalent")
	}
	if !single.Where.IsSingle() || list.Where.IsSingle() {
		t.Error("clause set shape not preserved")
	}
}

func TestFingerprintMapValuesAreStable(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": 2, "c": 3}
	v2 := map[string]any{"c": 3, "b": 2, "a": 1}
	d1 := New().Where("obj", types.OpEqual, v1).Build()
	d2 := New().Where("obj", types.OpEqual, v2).Build()

	if !Equivalent(d1, d2) {
		t.Error("map key order leaked into the fingerprint")
	}
}

func TestFingerprintDistinguishes(t *testing.T) {
	base := New().Where("status", types.OpEqual, "open").Build()
	tests := []struct {
		name  string
		other types.Descriptor
	}{
		{"different value", New().Where("status", types.OpEqual, "closed").Build()},
		{"different operator", New().Where("status", types.OpNotEqual, "open").Build()},
		{"with limit", New().Where("status", types.OpEqual, "open").Limit(1).Build()},
		{"with order", New().Where("status", types.OpEqual, "open").OrderBy("a", types.Asc).Build()},
		{"collection group", New().Where("status", types.OpEqual, "open").CollectionGroup().Build()},
		{"with start cursor", New().Where("status", types.OpEqual, "open").StartAt(1).Build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Equivalent(base, tt.other) {
				t.Errorf("expected %s to change the fingerprint", tt.name)
			}
		})
	}
}

func TestFingerprintClauseOrderMatters(t *testing.T) {
	a := New().OrderBy("a", types.Asc).OrderBy("b", types.Asc).Build()
	b := New().OrderBy("b", types.Asc).OrderBy("a", types.Asc).Build()
	if Equivalent(a, b) {
		t.Error("sort clause order must be part of the fingerprint")
	}
}

func TestFingerprintDefaultDirection(t *testing.T) {
	a := types.Descriptor{OrderBy: types.Single(types.OrderClause{Field: "a"})}
	b := New().OrderBy("a", types.Asc).Build()
	if !Equivalent(a, b) {
		t.Error("empty direction should normalize to asc")
	}
}

func TestFingerprintRejectsNonScalarCursor(t *testing.T) {
	handle := struct{ snapshot string }{"opaque"}
	d := New().OrderBy("a", types.Asc).StartAfter(handle).Build()

	_, err := Fingerprint(d)
	if !errors.Is(err, ErrNonScalarCursor) {
		t.Errorf("expected ErrNonScalarCursor, got %v", err)
	}
}

func TestFingerprintRejectsUnknownOperator(t *testing.T) {
	d := New().Where("a", types.Operator("~="), 1).Build()
	if _, err := Fingerprint(d); !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("expected ErrUnknownOperator, got %v", err)
	}
}
