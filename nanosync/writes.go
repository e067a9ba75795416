package nanosync

import (
	"context"
	"fmt"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/coherence"
	"github.com/arthur-debert/nanosync/types"
)

// optimisticWrite applies a change to the cache, then commits it remotely.
// When the commit fails every key in keys is restored to its value from
// before the change, unless something else replaced the optimistic value in
// the meantime; conflict then decides what to do with the newer value.
type optimisticWrite struct {
	keys     []types.Key
	apply    func(tx *cache.Tx) error
	commit   func(ctx context.Context) error
	conflict func(tx *cache.Tx, key types.Key, current any)
}

type snapshotEntry struct {
	value any
	ok    bool
}

func (c *Client) runOptimistic(ctx context.Context, w optimisticWrite) error {
	before := make(map[types.Key]snapshotEntry, len(w.keys))
	applied := make(map[types.Key]any, len(w.keys))

	err := c.cache.Atomic(func(tx *cache.Tx) error {
		for _, key := range w.keys {
			v, ok := tx.Get(key)
			before[key] = snapshotEntry{value: v, ok: ok}
		}
		if err := w.apply(tx); err != nil {
			return err
		}
		for _, key := range w.keys {
			applied[key], _ = tx.Get(key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	commitErr := w.commit(ctx)
	if commitErr == nil {
		return nil
	}

	_ = c.cache.Atomic(func(tx *cache.Tx) error {
		for _, key := range w.keys {
			current, _ := tx.Get(key)
			if current != applied[key] {
				if w.conflict != nil {
					w.conflict(tx, key, current)
				}
				continue
			}
			prev := before[key]
			if prev.ok {
				tx.Set(key, prev.value)
			} else {
				tx.Delete(key)
			}
		}
		return nil
	})
	c.logger.Warn("rolled back optimistic write", "keys", len(w.keys), "error", commitErr)
	return commitErr
}

// affectedKeys lists the document entry of path and every collection entry
// registered under its parent
func (c *Client) affectedKeys(path string) []types.Key {
	parent, _, _ := validation.SplitDocumentPath(path)
	keys := []types.Key{types.DocumentKey(path)}
	return append(keys, c.index.Keys(parent)...)
}

// Set writes a document and updates the cache before the store confirms it.
// Given a collection path, Set creates a document with a generated id under
// it. It returns the path of the written document.
func (c *Client) Set(ctx context.Context, path string, data map[string]any, opts types.SetOptions) (string, error) {
	if validation.IsCollectionPath(path) {
		path = validation.JoinPath(path, c.newID())
	}
	if err := validation.ValidateDocumentPath(path); err != nil {
		return "", fmt.Errorf("cannot set: %w", err)
	}
	path = validation.CleanPath(path)

	m := coherence.Mutation{Kind: coherence.Set, Data: data, Merge: opts.Merge}
	err := c.runOptimistic(ctx, optimisticWrite{
		keys: c.affectedKeys(path),
		apply: func(tx *cache.Tx) error {
			return c.engine.Apply(tx, path, m)
		},
		commit: func(ctx context.Context) error {
			return c.store.Set(ctx, path, data, opts)
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to set %s: %w", path, err)
	}
	return path, nil
}

// Update shallow-merges data into an existing document, optimistically
func (c *Client) Update(ctx context.Context, path string, data map[string]any) error {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return fmt.Errorf("cannot update: %w", err)
	}
	path = validation.CleanPath(path)

	m := coherence.Mutation{Kind: coherence.Update, Data: data}
	err := c.runOptimistic(ctx, optimisticWrite{
		keys: c.affectedKeys(path),
		apply: func(tx *cache.Tx) error {
			return c.engine.Apply(tx, path, m)
		},
		commit: func(ctx context.Context) error {
			return c.store.Update(ctx, path, data)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

// Delete removes a document, optimistically
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return fmt.Errorf("cannot delete: %w", err)
	}
	path = validation.CleanPath(path)

	err := c.runOptimistic(ctx, optimisticWrite{
		keys: c.affectedKeys(path),
		apply: func(tx *cache.Tx) error {
			return c.engine.Apply(tx, path, coherence.Mutation{Kind: coherence.Delete})
		},
		commit: func(ctx context.Context) error {
			return c.store.Delete(ctx, path)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
