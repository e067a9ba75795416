// Package store is a remote.Store kept in a single JSON file.
//
// Documents are keyed by their full path. Every commit reloads the file under
// an exclusive file lock, applies its writes, saves through a temp file and
// rename, then notifies the listeners whose view changed. Listener callbacks
// run synchronously on the committing goroutine and must not write to the
// store themselves.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/nanosync/storage"
	"github.com/arthur-debert/nanosync/types"
)

// Constants for file locking
const (
	lockTimeout    = 3 * time.Second
	lockMaxRetries = 3
	lockRetryDelay = 100 * time.Millisecond
)

// JSONStore implements remote.Store over a JSON file
type JSONStore struct {
	filePath    string
	fs          FileSystem
	lockFactory FileLockFactory
	fileLock    FileLock
	lockManager *storage.LockManager
	logger      *slog.Logger
	timeFunc    func() time.Time

	latencyCompensation bool

	// commitMu serializes commits and listener delivery
	commitMu  sync.Mutex
	docs      map[string]*storedDocument
	createdAt time.Time

	listeners *listenerSet
}

var _ remote.Store = (*JSONStore)(nil)

// Open loads the store at filePath, creating its directory if needed. A
// missing file is an empty store.
func Open(filePath string, opts ...Option) (*JSONStore, error) {
	s := &JSONStore{
		filePath:    filePath,
		lockManager: storage.NewLockManager(),
		logger:      slog.Default(),
		timeFunc:    time.Now,
		docs:        make(map[string]*storedDocument),
		listeners:   newListenerSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = OSFileSystem{}
	}
	if s.lockFactory == nil {
		s.lockFactory = FlockFactory{}
	}
	s.createdAt = s.timeFunc()

	if dir := filepath.Dir(filePath); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	s.fileLock = s.lockFactory.New(filePath + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := s.acquireLock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	docs, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	s.docs = docs
	return s, nil
}

// Path returns the data file path
func (s *JSONStore) Path() string {
	return s.filePath
}

// Close drops every listener
func (s *JSONStore) Close() error {
	s.listeners.clear()
	return nil
}

// acquireLock attempts to acquire the file lock with retry logic
func (s *JSONStore) acquireLock(ctx context.Context) error {
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if locked {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return fmt.Errorf("failed to acquire lock after %d attempts", lockMaxRetries)
}

// load reads the data file. Caller holds the file lock.
func (s *JSONStore) load() (map[string]*storedDocument, error) {
	if _, err := s.fs.Stat(s.filePath); errors.Is(err, os.ErrNotExist) {
		return make(map[string]*storedDocument), nil
	}

	raw, err := s.fs.ReadFile(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(raw) == 0 {
		return make(map[string]*storedDocument), nil
	}

	var data storeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if !data.Metadata.CreatedAt.IsZero() {
		s.createdAt = data.Metadata.CreatedAt
	}
	if data.Documents == nil {
		data.Documents = make(map[string]*storedDocument)
	}
	return data.Documents, nil
}

// save writes docs atomically. Caller holds the file lock.
func (s *JSONStore) save(docs map[string]*storedDocument, now time.Time) error {
	data := storeData{
		Version:   dataVersion,
		Documents: docs,
		Metadata:  metadata{CreatedAt: s.createdAt, UpdatedAt: now},
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpFile := s.filePath + ".tmp"
	if err := s.fs.WriteFile(tmpFile, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := s.fs.Rename(tmpFile, s.filePath); err != nil {
		_ = s.fs.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (s *JSONStore) snapshot() map[string]*storedDocument {
	var docs map[string]*storedDocument
	s.lockManager.Read(func() {
		docs = s.docs
	})
	return docs
}

// commit applies writes as one unit
func (s *JSONStore) commit(ctx context.Context, writes []remote.Write) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if err := s.acquireLock(lockCtx); err != nil {
		return err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	// Pick up writes from other processes first
	current, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	s.publish(current)

	now := s.timeFunc()
	next, touched, err := applyWrites(current, writes, now)
	if err != nil {
		return err
	}

	if s.latencyCompensation {
		s.listeners.notify(next, touched)
	}

	if err := s.save(next, now); err != nil {
		if s.latencyCompensation {
			s.listeners.notify(current, nil)
		}
		return fmt.Errorf("failed to save: %w", err)
	}

	s.publish(next)
	s.logger.Debug("committed writes", "count", len(writes), "file", s.filePath)
	return nil
}

// Refresh reloads the file and notifies listeners of changes other processes
// made since the last commit or refresh
func (s *JSONStore) Refresh(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if err := s.acquireLock(lockCtx); err != nil {
		return err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	current, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	s.publish(current)
	return nil
}

// publish installs docs as the current state and notifies listeners
func (s *JSONStore) publish(docs map[string]*storedDocument) {
	s.lockManager.Write(func() {
		s.docs = docs
	})
	s.listeners.notify(docs, nil)
}

// Get reads one document
func (s *JSONStore) Get(ctx context.Context, path string) (remote.Record, error) {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return remote.Record{}, err
	}
	path = validation.CleanPath(path)

	rec := documentRecord(s.snapshot(), path, false)
	if !rec.Exists {
		return remote.Record{}, fmt.Errorf("%s: %w", path, remote.ErrNotFound)
	}
	return rec, nil
}

// Query runs a query once
func (s *JSONStore) Query(ctx context.Context, q remote.Query) ([]remote.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	q.Collection = validation.CleanPath(q.Collection)
	return evaluate(s.snapshot(), q)
}

// Set writes a document, replacing or merging its fields
func (s *JSONStore) Set(ctx context.Context, path string, fields map[string]any, opts types.SetOptions) error {
	return s.commit(ctx, []remote.Write{{Kind: remote.WriteSet, Path: path, Fields: fields, Merge: opts.Merge}})
}

// Update shallow-merges fields into an existing document. Dotted keys such
// as "address.city" reach into nested maps.
func (s *JSONStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.commit(ctx, []remote.Write{{Kind: remote.WriteUpdate, Path: path, Fields: fields}})
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *JSONStore) Delete(ctx context.Context, path string) error {
	return s.commit(ctx, []remote.Write{{Kind: remote.WriteDelete, Path: path}})
}

// Batch applies every write or none of them
func (s *JSONStore) Batch(ctx context.Context, writes []remote.Write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.commit(ctx, writes)
}

// ListenDocument delivers the document now and after every commit that
// changes it
func (s *JSONStore) ListenDocument(ctx context.Context, path string, obs remote.DocumentObserver) (remote.Unsubscribe, error) {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = validation.CleanPath(path)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	l := s.listeners.addDocument(path, obs)
	s.listeners.deliverDocument(l, s.snapshot(), nil)
	s.logger.Debug("document listener added", "id", l.id, "path", path)
	return func() { s.listeners.remove(l.id) }, nil
}

// ListenQuery delivers the query result now and after every commit that
// changes it
func (s *JSONStore) ListenQuery(ctx context.Context, q remote.Query, obs remote.QueryObserver) (remote.Unsubscribe, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.Collection = validation.CleanPath(q.Collection)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	l := s.listeners.addQuery(q, obs)
	s.listeners.deliverQuery(l, s.snapshot(), nil)
	s.logger.Debug("query listener added", "id", l.id, "collection", q.Collection)
	return func() { s.listeners.remove(l.id) }, nil
}

func validateQuery(q remote.Query) error {
	if q.Descriptor.CollectionGroup {
		if q.Collection == "" {
			return fmt.Errorf("%w: collection group id is empty", validation.ErrInvalidPath)
		}
		return nil
	}
	return validation.ValidateCollectionPath(q.Collection)
}

// documentRecord reads path from docs as a record
func documentRecord(docs map[string]*storedDocument, path string, pending bool) remote.Record {
	_, id, _ := validation.SplitDocumentPath(path)
	rec := remote.Record{ID: id, Path: path, HasPendingWrites: pending}
	if doc, ok := docs[path]; ok {
		rec.Exists = true
		rec.Fields = cloneFields(doc.Fields)
	}
	return rec
}
