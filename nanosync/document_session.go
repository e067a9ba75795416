package nanosync

import (
	"context"
	"fmt"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/coherence"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
)

// DocumentSession keeps one document entry in sync with the remote store.
//
// Each confirmed push replaces the document entry and is propagated into the
// collection entries holding the document. Pushes still carrying local
// pending writes are skipped; the confirmed snapshot that follows them is
// authoritative.
type DocumentSession struct {
	lifecycle
	client *Client
	path   string
}

// NewDocumentSession creates an idle document session
func (c *Client) NewDocumentSession() *DocumentSession {
	return &DocumentSession{client: c}
}

// Activate subscribes to path and waits for the first confirmed snapshot or
// listener error. A previous subscription is torn down first; activating
// the path already being watched is a no-op.
func (s *DocumentSession) Activate(ctx context.Context, path string) error {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return fmt.Errorf("cannot watch document: %w", err)
	}
	path = validation.CleanPath(path)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.path == path && (s.state == StateActive || s.state == StateSubscribing) {
		s.mu.Unlock()
		return nil
	}
	gen, old := s.next()
	s.path = path
	s.mu.Unlock()
	stop(old)

	c := s.client
	key := types.DocumentKey(path)
	c.cache.SetStatus(key, types.StatusLoading, nil)
	first := newFirstSnapshot()

	obs := remote.DocumentObserverFuncs{
		Next: func(rec remote.Record) {
			if s.onSnapshot(gen, path, rec) {
				first.resolve(nil)
			}
		},
		Error: func(err error) {
			s.onError(gen, key, err)
			first.resolve(err)
		},
	}

	unsub, err := c.store.ListenDocument(ctx, path, obs)
	if err != nil {
		s.onError(gen, key, err)
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if !s.attach(gen, unsub) {
		unsub()
		return ErrSuperseded
	}
	c.logger.Debug("document session subscribed", "path", path)

	return first.wait(ctx)
}

// onSnapshot reports whether the snapshot was applied
func (s *DocumentSession) onSnapshot(gen uint64, path string, rec remote.Record) bool {
	doc := toDocument(rec)
	if doc.HasPendingWrites {
		return false
	}

	c := s.client
	key := types.DocumentKey(path)
	applied := false
	_ = c.cache.Atomic(func(tx *cache.Tx) error {
		if !s.current(gen) {
			return nil
		}
		m := coherence.Mutation{Kind: coherence.Set, Data: doc.Fields}
		if !doc.Exists {
			m = coherence.Mutation{Kind: coherence.Delete}
		}
		if err := c.engine.Apply(tx, path, m); err != nil {
			return err
		}
		tx.Set(key, doc)
		tx.SetStatus(key, types.StatusSuccess, nil)
		applied = true
		return nil
	})
	if applied {
		s.markActive(gen)
	}
	return applied
}

func (s *DocumentSession) onError(gen uint64, key types.Key, err error) {
	if !s.markError(gen, err) {
		return
	}
	s.client.cache.SetStatus(key, types.StatusError, err)
	s.client.logger.Warn("document listener failed", "key", key.String(), "error", err)
}

// Path returns the watched path
func (s *DocumentSession) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Data returns the cached document. A nil document with ok true is a
// deleted document.
func (s *DocumentSession) Data() (doc *types.Document, ok bool) {
	path := s.Path()
	if path == "" {
		return nil, false
	}
	v, ok := s.client.cache.Get(types.DocumentKey(path))
	if !ok {
		return nil, false
	}
	doc, _ = v.(*types.Document)
	return doc, true
}

// Status returns the request status of the document entry
func (s *DocumentSession) Status() types.Status {
	path := s.Path()
	if path == "" {
		return types.StatusIdle
	}
	return s.client.cache.Status(types.DocumentKey(path))
}

// Set writes the watched document. The cache follows on the next push.
func (s *DocumentSession) Set(ctx context.Context, data map[string]any, opts types.SetOptions) error {
	path, err := s.writablePath()
	if err != nil {
		return err
	}
	return s.client.store.Set(ctx, path, data, opts)
}

// Update shallow-merges into the watched document
func (s *DocumentSession) Update(ctx context.Context, data map[string]any) error {
	path, err := s.writablePath()
	if err != nil {
		return err
	}
	return s.client.store.Update(ctx, path, data)
}

// Delete removes the watched document
func (s *DocumentSession) Delete(ctx context.Context) error {
	path, err := s.writablePath()
	if err != nil {
		return err
	}
	return s.client.store.Delete(ctx, path)
}

// SetCache merges partial into the cached document and every collection
// entry holding it, without writing to the store
func (s *DocumentSession) SetCache(partial map[string]any) error {
	path, err := s.writablePath()
	if err != nil {
		return err
	}
	return s.client.engine.Propagate(path, coherence.Mutation{Kind: coherence.Update, Data: partial})
}

// Close stops the listener. The cached document is kept.
func (s *DocumentSession) Close() {
	if unsub, ok := s.close(); ok {
		stop(unsub)
	}
}

func (s *DocumentSession) writablePath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.path == "" {
		return "", ErrNotActive
	}
	return s.path, nil
}
