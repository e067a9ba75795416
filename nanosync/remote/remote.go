// Package remote defines what the cache layer needs from a remote document
// store: realtime listeners on documents and queries, one-shot reads, and
// document writes including all-or-nothing batches.
package remote

import (
	"context"
	"errors"

	"github.com/arthur-debert/nanosync/types"
)

// ErrNotFound is returned by Get and Update when the document does not exist
var ErrNotFound = errors.New("document not found")

// Record is a single document as observed by the store
type Record struct {
	ID string

	// Path is the full document path, e.g. users/alice/posts/p1
	Path string

	Fields           map[string]any
	Exists           bool
	HasPendingWrites bool

	// Handle identifies the record's position in an ordered result so a
	// later query can start after it
	Handle types.Handle
}

// ChangeKind says how a record moved in a query result
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one entry of an incremental query update
type Change struct {
	Kind   ChangeKind
	Record Record
}

// QuerySnapshot is the full ordered result of a query plus the changes since
// the previous snapshot delivered to the same listener
type QuerySnapshot struct {
	Records          []Record
	Changes          []Change
	HasPendingWrites bool
}

// Query is a query ready to run: the collection, the descriptor and an
// optional store handle to resume after
type Query struct {
	Collection string
	Descriptor types.Descriptor

	// StartAfterHandle resumes after the record the handle was taken from.
	// It takes precedence over the descriptor's value cursors.
	StartAfterHandle types.Handle
}

// DocumentObserver receives document snapshots
type DocumentObserver interface {
	OnDocument(Record)
	OnError(error)
}

// QueryObserver receives query snapshots
type QueryObserver interface {
	OnQuery(QuerySnapshot)
	OnError(error)
}

// Unsubscribe stops a listener. It is safe to call more than once.
type Unsubscribe func()

// WriteKind is the operation of a batched write
type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteSet
	WriteUpdate
	WriteDelete
)

// Write is one operation of a batch
type Write struct {
	Kind   WriteKind
	Path   string
	Fields map[string]any
	Merge  bool
}

// Store is the remote document store
type Store interface {
	// ListenDocument delivers the document at path now and after each change
	ListenDocument(ctx context.Context, path string, obs DocumentObserver) (Unsubscribe, error)

	// ListenQuery delivers the query result now and after each change
	ListenQuery(ctx context.Context, q Query, obs QueryObserver) (Unsubscribe, error)

	// Get reads one document
	Get(ctx context.Context, path string) (Record, error)

	// Query runs a query once
	Query(ctx context.Context, q Query) ([]Record, error)

	// Set writes a document, replacing or merging its fields
	Set(ctx context.Context, path string, fields map[string]any, opts types.SetOptions) error

	// Update shallow-merges fields into an existing document
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes a document
	Delete(ctx context.Context, path string) error

	// Batch applies every write or none of them
	Batch(ctx context.Context, writes []Write) error
}

// DocumentObserverFuncs adapts plain functions to DocumentObserver
type DocumentObserverFuncs struct {
	Next  func(Record)
	Error func(error)
}

func (o DocumentObserverFuncs) OnDocument(r Record) {
	if o.Next != nil {
		o.Next(r)
	}
}

func (o DocumentObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// QueryObserverFuncs adapts plain functions to QueryObserver
type QueryObserverFuncs struct {
	Next  func(QuerySnapshot)
	Error func(error)
}

func (o QueryObserverFuncs) OnQuery(s QuerySnapshot) {
	if o.Next != nil {
		o.Next(s)
	}
}

func (o QueryObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}
