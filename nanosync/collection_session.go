package nanosync

import (
	"context"
	"fmt"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/coherence"
	"github.com/arthur-debert/nanosync/nanosync/normalize"
	"github.com/arthur-debert/nanosync/nanosync/query"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
)

// AddOptions controls Add on collection sessions
type AddOptions struct {
	// SubPath writes into a subcollection below the session's collection,
	// e.g. "alice/posts". The session's own entry is not touched.
	SubPath string
}

// CollectionSession keeps one query result in sync with the remote store.
// Every push replaces the cached result in full; FetchNextPage appends one
// more page fetched once.
type CollectionSession struct {
	lifecycle
	client *Client
	path   string
	desc   types.Descriptor
	fp     string
}

// NewCollectionSession creates an idle collection session
func (c *Client) NewCollectionSession() *CollectionSession {
	return &CollectionSession{client: c}
}

// Activate subscribes to the query and waits for its first snapshot.
// Re-activating with the same path and an equivalent descriptor keeps the
// current subscription.
func (s *CollectionSession) Activate(ctx context.Context, path string, desc types.Descriptor) error {
	if err := validation.ValidateCollectionPath(path); err != nil {
		return fmt.Errorf("cannot watch collection: %w", err)
	}
	path = validation.CleanPath(path)

	fp, err := query.Fingerprint(desc)
	if err != nil {
		return fmt.Errorf("cannot watch collection: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.path == path && s.fp == fp && (s.state == StateActive || s.state == StateSubscribing) {
		s.mu.Unlock()
		return nil
	}
	gen, old := s.next()
	prevPath, prevFP := s.path, s.fp
	s.path, s.desc, s.fp = path, desc, fp
	s.mu.Unlock()

	stop(old)
	c := s.client
	if prevPath != "" {
		c.releaseQuery(prevPath, prevFP)
	}

	key := types.CollectionKey(path, fp)
	c.index.Add(path, fp)
	c.cache.Register(key, c.queryFetcher(path, desc, key))
	c.cache.SetStatus(key, types.StatusLoading, nil)

	first := newFirstSnapshot()
	obs := remote.QueryObserverFuncs{
		Next: func(snap remote.QuerySnapshot) {
			if s.onSnapshot(gen, path, key, snap) {
				first.resolve(nil)
			}
		},
		Error: func(err error) {
			s.onError(gen, key, err)
			first.resolve(err)
		},
	}

	unsub, err := c.store.ListenQuery(ctx, remote.Query{Collection: path, Descriptor: desc}, obs)
	if err != nil {
		s.onError(gen, key, err)
		return fmt.Errorf("failed to watch %s: %w", key, err)
	}
	if !s.attach(gen, unsub) {
		unsub()
		return ErrSuperseded
	}
	c.logger.Debug("collection session subscribed", "key", key.String())

	return first.wait(ctx)
}

func (s *CollectionSession) onSnapshot(gen uint64, path string, key types.Key, snap remote.QuerySnapshot) bool {
	docs, paths := toDocuments(path, snap.Records)
	applied := false
	_ = s.client.cache.Atomic(func(tx *cache.Tx) error {
		if !s.current(gen) {
			return nil
		}
		tx.Set(key, &types.CollectionValue{Docs: docs, HasNextPage: len(docs) > 0})
		writeDocumentEntries(tx, docs, paths)
		tx.SetStatus(key, types.StatusSuccess, nil)
		applied = true
		return nil
	})
	if applied {
		s.markActive(gen)
	}
	return applied
}

func (s *CollectionSession) onError(gen uint64, key types.Key, err error) {
	if !s.markError(gen, err) {
		return
	}
	s.client.cache.SetStatus(key, types.StatusError, err)
	s.client.logger.Warn("query listener failed", "key", key.String(), "error", err)
}

// Key returns the cache key of the session's query, or the zero key when
// the session was never activated
func (s *CollectionSession) Key() types.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return types.Key{}
	}
	return types.CollectionKey(s.path, s.fp)
}

// Data returns the cached query result
func (s *CollectionSession) Data() (*types.CollectionValue, bool) {
	key := s.Key()
	if key.Path == "" {
		return nil, false
	}
	v, ok := s.client.cache.Get(key)
	if !ok {
		return nil, false
	}
	value, _ := v.(*types.CollectionValue)
	return value, value != nil
}

// Status returns the request status of the query entry
func (s *CollectionSession) Status() types.Status {
	key := s.Key()
	if key.Path == "" {
		return types.StatusIdle
	}
	return s.client.cache.Status(key)
}

// HasNextPage reports whether the last fetched page was non-empty
func (s *CollectionSession) HasNextPage() bool {
	value, ok := s.Data()
	return ok && value.HasNextPage
}

// FetchNextPage runs the query once more, starting after the last cached
// document, and appends the results. It does nothing before the first
// snapshot or when the result is empty.
func (s *CollectionSession) FetchNextPage(ctx context.Context) error {
	s.mu.Lock()
	path, desc, fp, closed := s.path, s.desc, s.fp, s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if path == "" {
		return nil
	}

	key := types.CollectionKey(path, fp)
	value, ok := s.Data()
	if !ok || len(value.Docs) == 0 {
		return nil
	}
	handle := lastHandle(value.Docs)
	if handle == nil {
		return nil
	}

	records, err := s.client.store.Query(ctx, remote.Query{
		Collection:       path,
		Descriptor:       desc,
		StartAfterHandle: handle,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch next page of %s: %w", key, err)
	}
	docs, paths := toDocuments(path, records)

	return s.client.cache.Atomic(func(tx *cache.Tx) error {
		v, _ := tx.Get(key)
		cur, _ := v.(*types.CollectionValue)
		var merged []*types.Document
		if cur != nil {
			merged = make([]*types.Document, 0, len(cur.Docs)+len(docs))
			merged = append(merged, cur.Docs...)
		}
		merged = append(merged, docs...)
		tx.Set(key, &types.CollectionValue{Docs: merged, HasNextPage: len(docs) > 0})
		writeDocumentEntries(tx, docs, paths)
		return nil
	})
}

// Add creates documents with generated ids. Without a SubPath they are
// prepended to the cached result right away and removed again if the batch
// fails. It returns the new document paths.
func (s *CollectionSession) Add(ctx context.Context, records []map[string]any, opts AddOptions) ([]string, error) {
	s.mu.Lock()
	path, fp, closed := s.path, s.fp, s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if path == "" {
		return nil, ErrNotActive
	}

	key := types.CollectionKey(path, fp)
	optimistic := opts.SubPath == ""
	return s.client.addDocuments(ctx, path, opts.SubPath, records, func(tx *cache.Tx, docs []*types.Document) {
		if !optimistic {
			return
		}
		v, _ := tx.Get(key)
		cur, _ := v.(*types.CollectionValue)
		next := &types.CollectionValue{Docs: docs, HasNextPage: true}
		if cur != nil {
			next.Docs = append(append(make([]*types.Document, 0, len(docs)+len(cur.Docs)), docs...), cur.Docs...)
			next.HasNextPage = cur.HasNextPage
		}
		tx.Set(key, next)
	}, func(tx *cache.Tx, current any, ids map[string]struct{}) {
		if cur, ok := current.(*types.CollectionValue); ok && cur != nil {
			if docs := coherence.RemoveIDs(cur.Docs, ids, coherence.ByID); len(docs) != len(cur.Docs) {
				tx.Set(key, &types.CollectionValue{Docs: docs, HasNextPage: cur.HasNextPage})
			}
		}
	}, optimisticKeys(optimistic, key))
}

// Close stops the listener and releases the query from the index
func (s *CollectionSession) Close() {
	s.mu.Lock()
	path, fp := s.path, s.fp
	s.mu.Unlock()

	unsub, ok := s.close()
	if !ok {
		return
	}
	stop(unsub)
	if path != "" {
		s.client.releaseQuery(path, fp)
	}
}

// releaseQuery drops one registration of a query; the last one also drops
// its refetcher
func (c *Client) releaseQuery(path, fp string) {
	if c.index.Release(path, fp) {
		c.cache.Register(types.CollectionKey(path, fp), nil)
	}
}

func optimisticKeys(optimistic bool, key types.Key) []types.Key {
	if !optimistic {
		return nil
	}
	return []types.Key{key}
}

// lastHandle returns the resume handle of the last document that has one.
// Optimistically added documents carry none.
func lastHandle(docs []*types.Document) types.Handle {
	for i := len(docs) - 1; i >= 0; i-- {
		if docs[i] != nil && docs[i].Handle != nil {
			return docs[i].Handle
		}
	}
	return nil
}

// addDocuments writes records as new documents under collection (plus
// subPath) in one batch. place inserts the optimistic documents into the
// session's entry; unplace removes them again when a push replaced the
// optimistic value before the batch failed.
func (c *Client) addDocuments(
	ctx context.Context,
	collection, subPath string,
	records []map[string]any,
	place func(tx *cache.Tx, docs []*types.Document),
	unplace func(tx *cache.Tx, current any, ids map[string]struct{}),
	keys []types.Key,
) ([]string, error) {
	target := collection
	if subPath != "" {
		target = validation.JoinPath(collection, subPath)
		if err := validation.ValidateCollectionPath(target); err != nil {
			return nil, fmt.Errorf("cannot add: %w", err)
		}
	}

	writes := make([]remote.Write, 0, len(records))
	docs := make([]*types.Document, 0, len(records))
	paths := make([]string, 0, len(records))
	ids := make(map[string]struct{}, len(records))
	for _, fields := range records {
		id := c.newID()
		p := validation.JoinPath(target, id)
		writes = append(writes, remote.Write{Kind: remote.WriteCreate, Path: p, Fields: fields})
		docs = append(docs, normalize.Normalize(fields, normalize.Meta{ID: id, Exists: true, HasPendingWrites: true}))
		paths = append(paths, p)
		ids[id] = struct{}{}
	}

	err := c.runOptimistic(ctx, optimisticWrite{
		keys: keys,
		apply: func(tx *cache.Tx) error {
			if len(keys) > 0 {
				place(tx, docs)
			}
			return nil
		},
		commit: func(ctx context.Context) error {
			return c.store.Batch(ctx, writes)
		},
		conflict: func(tx *cache.Tx, key types.Key, current any) {
			unplace(tx, current, ids)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add to %s: %w", target, err)
	}

	if c.invalidateOnSettle {
		for _, key := range keys {
			if err := c.cache.Invalidate(ctx, key); err != nil {
				c.logger.Warn("refetch after add failed", "key", key.String(), "error", err)
			}
		}
	}
	return paths, nil
}
