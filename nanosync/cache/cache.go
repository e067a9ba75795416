// Package cache is the keyed request cache the coherence layer writes into.
//
// It stores one entry per types.Key with a request status (idle, loading,
// success, error), deduplicates concurrent fetches of the same key, re-runs
// registered fetchers on invalidation and notifies watchers when an entry
// changes. Storage, expiry and capacity eviction are delegated to ttlcache;
// this package adds multi-key atomicity on top through Atomic.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arthur-debert/nanosync/nanosync/storage"
	"github.com/arthur-debert/nanosync/types"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// Config controls entry lifetime
type Config struct {
	// TTL is how long an untouched entry survives. Zero disables expiry.
	TTL time.Duration

	// Capacity bounds the number of entries. Zero means unbounded.
	Capacity uint64
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		TTL:      10 * time.Minute,
		Capacity: 10_000,
	}
}

// Fetcher loads the value of a key
type Fetcher func(ctx context.Context) (any, error)

// Entry is the state held for one key
type Entry struct {
	Value     any
	HasValue  bool
	Status    types.Status
	Err       error
	Stale     bool
	UpdatedAt time.Time
}

// Event is delivered to watchers after an entry changed
type Event struct {
	Key   types.Key
	Entry Entry
}

// Client is the request cache
type Client struct {
	lockManager *storage.LockManager
	items       *ttlcache.Cache[types.Key, *Entry]
	group       singleflight.Group
	logger      *slog.Logger
	timeFunc    func() time.Time

	watchMu   sync.Mutex
	watchers  map[types.Key]map[uint64]func(Event)
	nextWatch uint64

	fetchMu  sync.Mutex
	fetchers map[types.Key]Fetcher
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeFunc sets a custom time function for testing
func WithTimeFunc(fn func() time.Time) Option {
	return func(c *Client) {
		c.timeFunc = fn
	}
}

// New creates a cache and starts its expiry loop. Call Close to stop it.
func New(cfg Config, opts ...Option) *Client {
	ttlOpts := []ttlcache.Option[types.Key, *Entry]{
		ttlcache.WithDisableTouchOnHit[types.Key, *Entry](),
	}
	if cfg.TTL > 0 {
		ttlOpts = append(ttlOpts, ttlcache.WithTTL[types.Key, *Entry](cfg.TTL))
	}
	if cfg.Capacity > 0 {
		ttlOpts = append(ttlOpts, ttlcache.WithCapacity[types.Key, *Entry](cfg.Capacity))
	}

	c := &Client{
		lockManager: storage.NewLockManager(),
		items:       ttlcache.New[types.Key, *Entry](ttlOpts...),
		logger:      slog.Default(),
		timeFunc:    time.Now,
		watchers:    make(map[types.Key]map[uint64]func(Event)),
		fetchers:    make(map[types.Key]Fetcher),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.items.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[types.Key, *Entry]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}
		c.logger.Debug("cache entry evicted", "key", item.Key().String(), "reason", evictionReason(reason))
		c.fetchMu.Lock()
		delete(c.fetchers, item.Key())
		c.fetchMu.Unlock()
	})

	go c.items.Start()
	return c
}

// Close stops the expiry loop
func (c *Client) Close() error {
	c.items.Stop()
	return nil
}

// Atomic runs fn with exclusive access to every entry. Watchers of the keys
// fn touched are notified after the lock is released.
func (c *Client) Atomic(fn func(tx *Tx) error) error {
	tx := &Tx{c: c, touched: make(map[types.Key]struct{})}
	err := c.lockManager.Execute(storage.WriteOperation, func() error {
		return fn(tx)
	})
	c.notify(tx.keys())
	return err
}

// Get returns the cached value of a key
func (c *Client) Get(key types.Key) (any, bool) {
	var (
		value any
		ok    bool
	)
	c.lockManager.Read(func() {
		if e := c.entry(key); e != nil && e.HasValue {
			value, ok = e.Value, true
		}
	})
	return value, ok
}

// Entry returns a copy of the full entry state
func (c *Client) Entry(key types.Key) (Entry, bool) {
	// Entries are replaced, never modified, so the copy can happen unlocked
	e, _ := storage.ExecuteWithResult(c.lockManager, storage.ReadOperation, func() (*Entry, error) {
		return c.entry(key), nil
	})
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Has reports whether key has an entry, with or without a value
func (c *Client) Has(key types.Key) bool {
	found := false
	_ = c.lockManager.Execute(storage.ReadOperation, func() error {
		found = c.entry(key) != nil
		return nil
	})
	return found
}

// OnEvict calls fn on its own goroutine after an entry leaves the cache,
// whether it expired, was pushed out by capacity or was removed. The
// returned cancel waits for running calls to finish.
func (c *Client) OnEvict(fn func(key types.Key)) (cancel func()) {
	return c.items.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[types.Key, *Entry]) {
		fn(item.Key())
	})
}

// Set stores a value
func (c *Client) Set(key types.Key, value any) {
	_ = c.Atomic(func(tx *Tx) error {
		tx.Set(key, value)
		return nil
	})
}

// Update replaces a value with the result of fn applied to the current one
func (c *Client) Update(key types.Key, fn func(old any, ok bool) any) {
	_ = c.Atomic(func(tx *Tx) error {
		old, ok := tx.Get(key)
		tx.Set(key, fn(old, ok))
		return nil
	})
}

// Remove drops an entry
func (c *Client) Remove(key types.Key) {
	_ = c.Atomic(func(tx *Tx) error {
		tx.Delete(key)
		return nil
	})
}

// Status returns the request status of a key
func (c *Client) Status(key types.Key) types.Status {
	status := types.StatusIdle
	c.lockManager.Read(func() {
		if e := c.entry(key); e != nil {
			status = e.Status
		}
	})
	return status
}

// Err returns the error recorded for a key in error status
func (c *Client) Err(key types.Key) error {
	var err error
	c.lockManager.Read(func() {
		if e := c.entry(key); e != nil {
			err = e.Err
		}
	})
	return err
}

// SetStatus records a request status
func (c *Client) SetStatus(key types.Key, status types.Status, err error) {
	_ = c.Atomic(func(tx *Tx) error {
		tx.SetStatus(key, status, err)
		return nil
	})
}

// Register records how to reload a key when it is invalidated
func (c *Client) Register(key types.Key, fetch Fetcher) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if fetch == nil {
		delete(c.fetchers, key)
		return
	}
	c.fetchers[key] = fetch
}

// Fetch loads a key through fn, sharing one in-flight call between
// concurrent callers of the same key. Status moves to loading, then to
// success or error. fn is registered as the key's fetcher.
func (c *Client) Fetch(ctx context.Context, key types.Key, fn Fetcher) (any, error) {
	c.Register(key, fn)

	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		c.SetStatus(key, types.StatusLoading, nil)

		value, err := fn(ctx)
		if err != nil {
			c.SetStatus(key, types.StatusError, err)
			return nil, err
		}

		_ = c.Atomic(func(tx *Tx) error {
			tx.Set(key, value)
			tx.SetStatus(key, types.StatusSuccess, nil)
			return nil
		})
		return value, nil
	})
	if shared {
		c.logger.Debug("fetch deduplicated", "key", key.String())
	}
	return v, err
}

// Invalidate marks a key stale and reloads it through its registered
// fetcher, if any.
func (c *Client) Invalidate(ctx context.Context, key types.Key) error {
	_ = c.Atomic(func(tx *Tx) error {
		if e := c.entry(key); e != nil {
			next := *e
			next.Stale = true
			c.put(key, &next)
			tx.touch(key)
		}
		return nil
	})

	c.fetchMu.Lock()
	fetch := c.fetchers[key]
	c.fetchMu.Unlock()
	if fetch == nil {
		return nil
	}

	if _, err := c.Fetch(ctx, key, fetch); err != nil {
		return fmt.Errorf("failed to refetch %s: %w", key, err)
	}
	return nil
}

// Watch calls fn after every change to key until the returned cancel is called
func (c *Client) Watch(key types.Key, fn func(Event)) (cancel func()) {
	c.watchMu.Lock()
	id := c.nextWatch
	c.nextWatch++
	set, ok := c.watchers[key]
	if !ok {
		set = make(map[uint64]func(Event))
		c.watchers[key] = set
	}
	set[id] = fn
	c.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			defer c.watchMu.Unlock()
			delete(c.watchers[key], id)
			if len(c.watchers[key]) == 0 {
				delete(c.watchers, key)
			}
		})
	}
}

// Keys returns every live key
func (c *Client) Keys() []types.Key {
	return c.items.Keys()
}

func (c *Client) entry(key types.Key) *Entry {
	item := c.items.Get(key)
	if item == nil {
		return nil
	}
	return item.Value()
}

func (c *Client) put(key types.Key, e *Entry) {
	c.items.Set(key, e, ttlcache.DefaultTTL)
}

func (c *Client) notify(keys []types.Key) {
	if len(keys) == 0 {
		return
	}

	type delivery struct {
		fn    func(Event)
		event Event
	}
	var pending []delivery

	c.watchMu.Lock()
	for _, key := range keys {
		set := c.watchers[key]
		if len(set) == 0 {
			continue
		}
		entry, _ := c.Entry(key)
		for _, fn := range set {
			pending = append(pending, delivery{fn: fn, event: Event{Key: key, Entry: entry}})
		}
	}
	c.watchMu.Unlock()

	for _, d := range pending {
		d.fn(d.event)
	}
}

func evictionReason(r ttlcache.EvictionReason) string {
	switch r {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	default:
		return "deleted"
	}
}

// Tx is the view of the cache inside Atomic. It must not be used after
// Atomic returns.
type Tx struct {
	c       *Client
	touched map[types.Key]struct{}
	order   []types.Key
}

// Get returns the value of a key
func (tx *Tx) Get(key types.Key) (any, bool) {
	if e := tx.c.entry(key); e != nil && e.HasValue {
		return e.Value, true
	}
	return nil, false
}

// Set stores a value. An idle entry becomes successful; other statuses are
// left to the caller.
func (tx *Tx) Set(key types.Key, value any) {
	next := &Entry{Status: types.StatusSuccess}
	if e := tx.c.entry(key); e != nil {
		*next = *e
		if next.Status == types.StatusIdle {
			next.Status = types.StatusSuccess
		}
	}
	next.Value = value
	next.HasValue = true
	next.Stale = false
	next.UpdatedAt = tx.c.timeFunc()
	tx.c.put(key, next)
	tx.touch(key)
}

// SetStatus records a request status and error
func (tx *Tx) SetStatus(key types.Key, status types.Status, err error) {
	next := &Entry{}
	if e := tx.c.entry(key); e != nil {
		*next = *e
	}
	next.Status = status
	next.Err = err
	tx.c.put(key, next)
	tx.touch(key)
}

// Delete drops an entry
func (tx *Tx) Delete(key types.Key) {
	tx.c.items.Delete(key)
	tx.touch(key)
}

func (tx *Tx) touch(key types.Key) {
	if _, ok := tx.touched[key]; ok {
		return
	}
	tx.touched[key] = struct{}{}
	tx.order = append(tx.order, key)
}

func (tx *Tx) keys() []types.Key {
	return tx.order
}
