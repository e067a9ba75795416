package nanosync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/coherence"
	"github.com/arthur-debert/nanosync/nanosync/index"
	"github.com/arthur-debert/nanosync/nanosync/normalize"
	"github.com/arthur-debert/nanosync/nanosync/query"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
	"github.com/google/uuid"
)

var (
	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotActive is returned by writes on a session that has no path yet
	ErrNotActive = errors.New("session has no active path")

	// ErrSuperseded is returned by an activation that was overtaken by a
	// newer activation or by Close before its first snapshot arrived
	ErrSuperseded = errors.New("activation superseded")
)

// Client ties the remote store to the cache, the collection index and the
// coherence engine. Sessions opened from a client share all three.
type Client struct {
	store  remote.Store
	cache  *cache.Client
	index  *index.CollectionIndex
	engine *coherence.Engine
	logger *slog.Logger

	cacheConfig        cache.Config
	ownsCache          bool
	stopEvict          func()
	idFunc             func() string
	invalidateOnSettle bool

	// oneShotMu guards oneShot, the GetCollection keys holding an index
	// reference until their cache entry is evicted
	oneShotMu sync.Mutex
	oneShot   map[types.Key]struct{}
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger used by the client and its sessions
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCacheConfig sets the TTL and capacity of the client's own cache
func WithCacheConfig(cfg cache.Config) Option {
	return func(c *Client) {
		c.cacheConfig = cfg
	}
}

// WithCache shares an existing cache instead of creating one
func WithCache(cc *cache.Client) Option {
	return func(c *Client) {
		c.cache = cc
	}
}

// WithIDGenerator replaces the client-side document id generator
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		c.idFunc = fn
	}
}

// WithInvalidateOnSettle makes collection and infinite session adds re-fetch
// their query after a successful write instead of trusting the optimistic
// value. Infinite sessions re-fetch every page they hold.
func WithInvalidateOnSettle(enabled bool) Option {
	return func(c *Client) {
		c.invalidateOnSettle = enabled
	}
}

// New creates an isolated client
func New(store remote.Store, opts ...Option) *Client {
	c := &Client{
		store:       store,
		logger:      slog.Default(),
		cacheConfig: cache.DefaultConfig(),
		idFunc:      func() string { return uuid.New().String() },
		oneShot:     make(map[types.Key]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cache == nil {
		c.cache = cache.New(c.cacheConfig, cache.WithLogger(c.logger))
		c.ownsCache = true
	}
	c.index = index.New()
	c.engine = coherence.New(c.cache, c.index, c.logger)
	c.stopEvict = c.cache.OnEvict(c.releaseOneShot)
	return c
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Init builds the process-wide client on first call and returns it. Later
// calls return the same client and ignore their arguments.
func Init(store remote.Store, opts ...Option) *Client {
	defaultOnce.Do(func() {
		defaultClient = New(store, opts...)
	})
	return defaultClient
}

// Default returns the process-wide client, or nil before Init
func Default() *Client {
	return defaultClient
}

// Close releases the cache if the client created it
func (c *Client) Close() error {
	c.stopEvict()
	if c.ownsCache {
		return c.cache.Close()
	}
	return nil
}

// Cache returns the client's cache
func (c *Client) Cache() *cache.Client { return c.cache }

// Index returns the client's collection index
func (c *Client) Index() *index.CollectionIndex { return c.index }

// Store returns the remote store
func (c *Client) Store() remote.Store { return c.store }

// Propagate pushes a document mutation into the cache without a network call
func (c *Client) Propagate(path string, m coherence.Mutation, opts ...coherence.Option) error {
	return c.engine.Propagate(path, m, opts...)
}

// GetDocument reads a document once through the cache. Concurrent reads of
// the same path share one request.
func (c *Client) GetDocument(ctx context.Context, path string) (*types.Document, error) {
	if err := validation.ValidateDocumentPath(path); err != nil {
		return nil, err
	}
	path = validation.CleanPath(path)

	v, err := c.cache.Fetch(ctx, types.DocumentKey(path), func(ctx context.Context) (any, error) {
		rec, err := c.store.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return toDocument(rec), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	doc, _ := v.(*types.Document)
	return doc, nil
}

// GetCollection runs a query once through the cache and registers the
// result for coherence propagation
func (c *Client) GetCollection(ctx context.Context, path string, desc types.Descriptor) (*types.CollectionValue, error) {
	if err := validation.ValidateCollectionPath(path); err != nil {
		return nil, err
	}
	path = validation.CleanPath(path)

	fp, err := query.Fingerprint(desc)
	if err != nil {
		return nil, err
	}
	key := types.CollectionKey(path, fp)
	c.retainOneShot(path, fp, key)

	v, err := c.cache.Fetch(ctx, key, c.queryFetcher(path, desc, key))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", path, err)
	}
	value, _ := v.(*types.CollectionValue)
	return value, nil
}

// retainOneShot takes one index reference for a GetCollection key. The
// reference is independent of any session on the same query and is given
// back by releaseOneShot once the cache entry is gone.
func (c *Client) retainOneShot(path, fp string, key types.Key) {
	c.oneShotMu.Lock()
	defer c.oneShotMu.Unlock()
	if _, ok := c.oneShot[key]; !ok {
		c.oneShot[key] = struct{}{}
		c.index.Add(path, fp)
	}
	// The entry must exist before unlocking, or a pending eviction of the
	// previous entry would release the reference just taken
	if !c.cache.Has(key) {
		c.cache.SetStatus(key, types.StatusLoading, nil)
	}
}

func (c *Client) releaseOneShot(key types.Key) {
	c.oneShotMu.Lock()
	defer c.oneShotMu.Unlock()
	if _, ok := c.oneShot[key]; !ok || c.cache.Has(key) {
		return
	}
	delete(c.oneShot, key)
	c.index.Release(key.Path, key.Query)
	c.logger.Debug("released one-shot query", "key", key.String())
}

// queryFetcher runs q once and writes each result's document entry too
func (c *Client) queryFetcher(path string, desc types.Descriptor, key types.Key) cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		records, err := c.store.Query(ctx, remote.Query{Collection: path, Descriptor: desc})
		if err != nil {
			return nil, err
		}
		docs, paths := toDocuments(path, records)
		_ = c.cache.Atomic(func(tx *cache.Tx) error {
			writeDocumentEntries(tx, docs, paths)
			return nil
		})
		return &types.CollectionValue{Docs: docs, HasNextPage: len(docs) > 0}, nil
	}
}

func (c *Client) newID() string {
	return c.idFunc()
}

func toDocument(rec remote.Record) *types.Document {
	return normalize.Normalize(rec.Fields, normalize.Meta{
		ID:               rec.ID,
		Exists:           rec.Exists,
		HasPendingWrites: rec.HasPendingWrites,
		Handle:           rec.Handle,
	})
}

// toDocuments normalizes query records and resolves each document's path
func toDocuments(collectionPath string, records []remote.Record) ([]*types.Document, []string) {
	docs := make([]*types.Document, 0, len(records))
	paths := make([]string, 0, len(records))
	for _, rec := range records {
		docs = append(docs, toDocument(rec))
		p := rec.Path
		if p == "" {
			p = validation.JoinPath(collectionPath, rec.ID)
		}
		paths = append(paths, p)
	}
	return docs, paths
}

func writeDocumentEntries(tx *cache.Tx, docs []*types.Document, paths []string) {
	for i, doc := range docs {
		tx.Set(types.DocumentKey(paths[i]), doc)
	}
}
