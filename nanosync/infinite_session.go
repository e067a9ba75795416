package nanosync

import (
	"context"
	"fmt"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/coherence"
	"github.com/arthur-debert/nanosync/nanosync/query"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
)

// infinitePrefix keeps paged entries apart from plain query entries that
// share a fingerprint
const infinitePrefix = "infinite:"

// InfiniteSession keeps a growing list of pages for one query. Only the
// newest page has a live listener: activation listens to the first page, and
// each FetchNextPage stops the current listener and listens to the page
// starting after the last cached document.
type InfiniteSession struct {
	lifecycle
	client *Client
	path   string
	desc   types.Descriptor
	fp     string
	page   int
}

// NewInfiniteSession creates an idle infinite session
func (c *Client) NewInfiniteSession() *InfiniteSession {
	return &InfiniteSession{client: c}
}

// Activate listens to the first page and waits for its first snapshot
func (s *InfiniteSession) Activate(ctx context.Context, path string, desc types.Descriptor) error {
	if err := validation.ValidateCollectionPath(path); err != nil {
		return fmt.Errorf("cannot watch pages: %w", err)
	}
	path = validation.CleanPath(path)

	fp, err := query.Fingerprint(desc)
	if err != nil {
		return fmt.Errorf("cannot watch pages: %w", err)
	}
	fp = infinitePrefix + fp

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
	s.path, s.desc, s.fp, s.page = path, desc, fp, 0
	s.mu.Unlock()

	stop(old)
	c := s.client
	if prevPath != "" {
		c.releaseQuery(prevPath, prevFP)
	}

	key := types.CollectionKey(path, fp)
	c.index.Add(path, fp)
	c.cache.Register(key, s.refetch)
	c.cache.SetStatus(key, types.StatusLoading, nil)

	return s.listen(ctx, gen, key, 0, remote.Query{Collection: path, Descriptor: desc})
}

// listen opens the listener for one page and waits for its first snapshot
func (s *InfiniteSession) listen(ctx context.Context, gen uint64, key types.Key, page int, q remote.Query) error {
	c := s.client
	first := newFirstSnapshot()
	obs := remote.QueryObserverFuncs{
		Next: func(snap remote.QuerySnapshot) {
			if s.onSnapshot(gen, key, page, q.Collection, snap) {
				first.resolve(nil)
			}
		},
		Error: func(err error) {
			s.onError(gen, key, err)
			first.resolve(err)
		},
	}

	unsub, err := c.store.ListenQuery(ctx, q, obs)
	if err != nil {
		s.onError(gen, key, err)
		return fmt.Errorf("failed to watch page %d of %s: %w", page, key, err)
	}
	if !s.attach(gen, unsub) {
		unsub()
		return ErrSuperseded
	}
	c.logger.Debug("infinite session listening", "key", key.String(), "page", page)

	return first.wait(ctx)
}

// onSnapshot merges the first page by id, dropping removed documents, and
// replaces any later page outright
func (s *InfiniteSession) onSnapshot(gen uint64, key types.Key, page int, path string, snap remote.QuerySnapshot) bool {
	docs, paths := toDocuments(path, snap.Records)
	applied := false
	_ = s.client.cache.Atomic(func(tx *cache.Tx) error {
		if !s.current(gen) {
			return nil
		}

		v, _ := tx.Get(key)
		cur, _ := v.(*types.PagedValue)
		var pages [][]*types.Document
		if cur != nil {
			pages = make([][]*types.Document, len(cur.Pages), max(len(cur.Pages), page+1))
			copy(pages, cur.Pages)
		}
		for len(pages) <= page {
			pages = append(pages, nil)
		}

		if page == 0 {
			removed := make(map[string]struct{})
			for _, ch := range snap.Changes {
				if ch.Kind == remote.Removed {
					removed[ch.Record.ID] = struct{}{}
				}
			}
			pages[0] = coherence.UnionBy(docs, coherence.RemoveIDs(pages[0], removed, coherence.ByID), coherence.ByID)
		} else {
			pages[page] = docs
		}

		hasNext := len(docs) > 0
		if cur != nil && page < len(cur.Pages)-1 {
			hasNext = cur.HasNextPage
		}
		tx.Set(key, &types.PagedValue{Pages: pages, HasNextPage: hasNext})
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

func (s *InfiniteSession) onError(gen uint64, key types.Key, err error) {
	if !s.markError(gen, err) {
		return
	}
	s.client.cache.SetStatus(key, types.StatusError, err)
	s.client.logger.Warn("page listener failed", "key", key.String(), "error", err)
}

// Key returns the cache key of the paged entry
func (s *InfiniteSession) Key() types.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return types.Key{}
	}
	return types.CollectionKey(s.path, s.fp)
}

// Data returns the cached pages
func (s *InfiniteSession) Data() (*types.PagedValue, bool) {
	key := s.Key()
	if key.Path == "" {
		return nil, false
	}
	v, ok := s.client.cache.Get(key)
	if !ok {
		return nil, false
	}
	value, _ := v.(*types.PagedValue)
	return value, value != nil
}

// Status returns the request status of the paged entry
func (s *InfiniteSession) Status() types.Status {
	key := s.Key()
	if key.Path == "" {
		return types.StatusIdle
	}
	return s.client.cache.Status(key)
}

// HasNextPage reports whether the newest page was non-empty
func (s *InfiniteSession) HasNextPage() bool {
	value, ok := s.Data()
	return ok && value.HasNextPage
}

// FetchNextPage moves the live listener to the page after the last cached
// document and waits for that page's first snapshot. It does nothing before
// the first snapshot, when nothing is cached or once the newest page came
// back empty.
func (s *InfiniteSession) FetchNextPage(ctx context.Context) error {
	value, ok := s.Data()
	if !ok || !value.HasNextPage {
		return nil
	}
	last := value.Last()
	var handle types.Handle
	for i := len(value.Pages) - 1; i >= 0 && handle == nil; i-- {
		handle = lastHandle(value.Pages[i])
	}
	if last == nil || handle == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	gen, old := s.next()
	s.page = len(value.Pages)
	path, desc, fp, page := s.path, s.desc, s.fp, s.page
	s.mu.Unlock()
	stop(old)

	key := types.CollectionKey(path, fp)
	return s.listen(ctx, gen, key, page, remote.Query{
		Collection:       path,
		Descriptor:       desc,
		StartAfterHandle: handle,
	})
}

// refetch reloads every page up to the newest one with one-shot queries,
// each page starting after the last document of the page before. It is the
// fetcher invalidation runs for the paged entry.
func (s *InfiniteSession) refetch(ctx context.Context) (any, error) {
	s.mu.Lock()
	path, desc, newest := s.path, s.desc, s.page
	s.mu.Unlock()
	c := s.client

	var (
		pages  [][]*types.Document
		handle types.Handle
	)
	for page := 0; page <= newest; page++ {
		q := remote.Query{Collection: path, Descriptor: desc}
		if page > 0 {
			if handle == nil {
				break
			}
			q.StartAfterHandle = handle
		}
		records, err := c.store.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		docs, paths := toDocuments(path, records)
		_ = c.cache.Atomic(func(tx *cache.Tx) error {
			writeDocumentEntries(tx, docs, paths)
			return nil
		})
		pages = append(pages, docs)
		handle = lastHandle(docs)
	}
	hasNext := len(pages) > 0 && len(pages[len(pages)-1]) > 0
	return &types.PagedValue{Pages: pages, HasNextPage: hasNext}, nil
}

// Add creates documents with generated ids and prepends them to the first
// page until the batch settles
func (s *InfiniteSession) Add(ctx context.Context, records []map[string]any, opts AddOptions) ([]string, error) {
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
		v, _ := tx.Get(key)
		cur, _ := v.(*types.PagedValue)
		next := &types.PagedValue{Pages: [][]*types.Document{docs}, HasNextPage: true}
		if cur != nil && len(cur.Pages) > 0 {
			next.Pages = make([][]*types.Document, len(cur.Pages))
			copy(next.Pages, cur.Pages)
			next.Pages[0] = append(append(make([]*types.Document, 0, len(docs)+len(cur.Pages[0])), docs...), cur.Pages[0]...)
			next.HasNextPage = cur.HasNextPage
		}
		tx.Set(key, next)
	}, func(tx *cache.Tx, current any, ids map[string]struct{}) {
		cur, ok := current.(*types.PagedValue)
		if !ok || cur == nil || len(cur.Pages) == 0 {
			return
		}
		first := coherence.RemoveIDs(cur.Pages[0], ids, coherence.ByID)
		if len(first) == len(cur.Pages[0]) {
			return
		}
		pages := make([][]*types.Document, len(cur.Pages))
		copy(pages, cur.Pages)
		pages[0] = first
		tx.Set(key, &types.PagedValue{Pages: pages, HasNextPage: cur.HasNextPage})
	}, optimisticKeys(optimistic, key))
}

// Close stops the live listener and releases the query from the index
func (s *InfiniteSession) Close() {
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
