// Package index maps collection paths to the query fingerprints currently
// cached against them.
//
// The coherence engine uses it as a reverse lookup: given the parent
// collection of a mutated document, which collection cache entries might
// hold that document. Entries are reference counted so a fingerprint leaves
// the index when the last session using it is released.
package index

import (
	"sort"

	"github.com/arthur-debert/nanosync/nanosync/storage"
	"github.com/arthur-debert/nanosync/types"
)

// CollectionIndex is the collection path -> fingerprint registry
type CollectionIndex struct {
	lockManager *storage.LockManager
	entries     map[string]map[string]int
}

// New creates an empty index
func New() *CollectionIndex {
	return &CollectionIndex{
		lockManager: storage.NewLockManager(),
		entries:     make(map[string]map[string]int),
	}
}

// Add registers a fingerprint for a collection path. Membership is
// idempotent; each call takes one reference that Release gives back.
func (ix *CollectionIndex) Add(collectionPath, fingerprint string) {
	ix.lockManager.Write(func() {
		set, ok := ix.entries[collectionPath]
		if !ok {
			set = make(map[string]int)
			ix.entries[collectionPath] = set
		}
		set[fingerprint]++
	})
}

// Release drops one reference and removes the fingerprint when none remain.
// It reports whether the fingerprint was removed.
func (ix *CollectionIndex) Release(collectionPath, fingerprint string) bool {
	removed := false
	ix.lockManager.Write(func() {
		set, ok := ix.entries[collectionPath]
		if !ok {
			return
		}
		n, ok := set[fingerprint]
		if !ok {
			return
		}
		if n > 1 {
			set[fingerprint] = n - 1
			return
		}
		delete(set, fingerprint)
		if len(set) == 0 {
			delete(ix.entries, collectionPath)
		}
		removed = true
	})
	return removed
}

// Keys returns every collection cache key registered for the path, sorted.
// Unknown paths yield an empty slice.
func (ix *CollectionIndex) Keys(collectionPath string) []types.Key {
	var keys []types.Key
	ix.lockManager.Read(func() {
		set := ix.entries[collectionPath]
		keys = make([]types.Key, 0, len(set))
		for fp := range set {
			keys = append(keys, types.CollectionKey(collectionPath, fp))
		}
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].Query < keys[j].Query })
	return keys
}

// Has reports whether a fingerprint is registered for the path
func (ix *CollectionIndex) Has(collectionPath, fingerprint string) bool {
	found := false
	ix.lockManager.Read(func() {
		_, found = ix.entries[collectionPath][fingerprint]
	})
	return found
}

// Refs returns the reference count of a fingerprint
func (ix *CollectionIndex) Refs(collectionPath, fingerprint string) int {
	n := 0
	ix.lockManager.Read(func() {
		n = ix.entries[collectionPath][fingerprint]
	})
	return n
}

// Paths returns the registered collection paths, sorted
func (ix *CollectionIndex) Paths() []string {
	var paths []string
	ix.lockManager.Read(func() {
		paths = make([]string, 0, len(ix.entries))
		for p := range ix.entries {
			paths = append(paths, p)
		}
	})
	sort.Strings(paths)
	return paths
}

// Len returns the number of registered (path, fingerprint) pairs
func (ix *CollectionIndex) Len() int {
	n := 0
	ix.lockManager.Read(func() {
		for _, set := range ix.entries {
			n += len(set)
		}
	})
	return n
}
