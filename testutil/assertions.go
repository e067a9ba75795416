package testutil

import (
	"testing"

	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
	"github.com/google/go-cmp/cmp"
)

// DocumentIDs returns the ids of docs in order
func DocumentIDs(docs []*types.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

// RecordIDs returns the ids of records in order
func RecordIDs(records []remote.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// AssertIDs checks the documents' ids, in order
func AssertIDs(t *testing.T, docs []*types.Document, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, DocumentIDs(docs)); diff != "" {
		t.Errorf("document ids (-want +got):\n%s", diff)
	}
}

// AssertRecordIDs checks the records' ids, in order
func AssertRecordIDs(t *testing.T, records []remote.Record, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, RecordIDs(records)); diff != "" {
		t.Errorf("record ids (-want +got):\n%s", diff)
	}
}

// AssertDocumentExists verifies that a document with the given id is in docs
func AssertDocumentExists(t *testing.T, docs []*types.Document, id string) {
	t.Helper()
	for _, d := range docs {
		if d.ID == id {
			return
		}
	}
	t.Errorf("document %s not found in results", id)
}

// AssertDocumentNotExists verifies that no document with the given id is in docs
func AssertDocumentNotExists(t *testing.T, docs []*types.Document, id string) {
	t.Helper()
	for _, d := range docs {
		if d.ID == id {
			t.Errorf("document %s should not be in results", id)
			return
		}
	}
}

// AssertField checks one field of a document
func AssertField(t *testing.T, doc *types.Document, field string, want any) {
	t.Helper()
	if doc == nil {
		t.Fatalf("document is nil, wanted %s=%v", field, want)
	}
	got, ok := doc.Get(field)
	if !ok {
		t.Errorf("field %s missing from document %s", field, doc.ID)
		return
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("field %s of %s (-want +got):\n%s", field, doc.ID, diff)
	}
}
