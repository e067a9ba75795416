// Package testutil provides a seeded store fixture and assertion helpers
// shared by the package tests.
package testutil

import (
	"context"
	_ "embed"
	"encoding/json"
	"sort"
	"testing"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/nanosync/store"
)

// FixturePath is where the universe store lives on the mock filesystem
const FixturePath = "/fixture/universe.json"

//go:embed testdata/universe.json
var universeJSON []byte

// FixtureDocument is one seeded document
type FixtureDocument struct {
	Name   string         `json:"name"`
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

type fixtureData struct {
	Documents []FixtureDocument `json:"documents"`
}

// Universe describes what LoadUniverse seeded. Its filesystem and locks can
// be shared with further store handles to simulate other processes.
type Universe struct {
	FS    *store.MockFileSystem
	Locks *store.MockFileLockFactory
	Clock *Clock

	Documents []FixtureDocument
	ByName    map[string]FixtureDocument
}

// LoadUniverse opens a store on an in-memory filesystem and seeds it with
// testdata/universe.json:
//
//	users/{alice,bob,carol}
//	users/alice/posts/{p1,p2}, users/bob/posts/p3
//	todos/t1..t6 (t6 has no rank; t3 and t5 are done)
func LoadUniverse(t *testing.T, opts ...store.Option) (*store.JSONStore, *Universe) {
	t.Helper()

	var fixture fixtureData
	if err := json.Unmarshal(universeJSON, &fixture); err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}

	u := &Universe{
		FS:        store.NewMockFileSystem(),
		Locks:     store.NewMockFileLockFactory(),
		Clock:     NewClock(),
		Documents: fixture.Documents,
		ByName:    make(map[string]FixtureDocument, len(fixture.Documents)),
	}

	writes := make([]remote.Write, 0, len(fixture.Documents))
	for _, doc := range fixture.Documents {
		u.ByName[doc.Name] = doc
		writes = append(writes, remote.Write{Kind: remote.WriteCreate, Path: doc.Path, Fields: doc.Fields})
	}

	s := u.Open(t, opts...)
	if err := s.Batch(context.Background(), writes); err != nil {
		t.Fatalf("failed to seed fixture: %v", err)
	}
	return s, u
}

// Open returns another store handle on the universe's file
func (u *Universe) Open(t *testing.T, opts ...store.Option) *store.JSONStore {
	t.Helper()
	opts = append([]store.Option{
		store.WithFileSystem(u.FS),
		store.WithFileLockFactory(u.Locks),
		store.WithTimeFunc(u.Clock.Now),
	}, opts...)
	s, err := store.Open(FixturePath, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Path returns the path of the named fixture document
func (u *Universe) Path(name string) string {
	return u.ByName[name].Path
}

// Collection returns the sorted ids of the fixture documents directly under
// collectionPath
func (u *Universe) Collection(collectionPath string) []string {
	var ids []string
	for _, doc := range u.Documents {
		parent, id, err := validation.SplitDocumentPath(doc.Path)
		if err == nil && parent == collectionPath {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
