package cache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arthur-debert/nanosync/types"
)

func newTestCache(t *testing.T) *Client {
	t.Helper()
	c := New(Config{})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	if c.Status(key) != types.StatusIdle {
		t.Errorf("expected idle, got %s", c.Status(key))
	}

	c.Set(key, "v1")
	got, ok := c.Get(key)
	if !ok || got != "v1" {
		t.Errorf("expected v1, got %v (%v)", got, ok)
	}
	if c.Status(key) != types.StatusSuccess {
		t.Errorf("expected success after set, got %s", c.Status(key))
	}
}

func TestCacheSetKeepsLoadingStatus(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")

	c.SetStatus(key, types.StatusLoading, nil)
	c.Set(key, "partial")
	if c.Status(key) != types.StatusLoading {
		t.Errorf("Set must not override an explicit status, got %s", c.Status(key))
	}
}

func TestCacheUpdate(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("counter/1")

	for i := 0; i < 3; i++ {
		c.Update(key, func(old any, ok bool) any {
			if !ok {
				return 1
			}
			return old.(int) + 1
		})
	}
	got, _ := c.Get(key)
	if got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
}

func TestCacheAtomicNotifiesAfterCommit(t *testing.T) {
	c := newTestCache(t)
	a := types.DocumentKey("todos/a")
	b := types.DocumentKey("todos/b")

	var events []Event
	cancelA := c.Watch(a, func(e Event) { events = append(events, e) })
	defer cancelA()
	cancelB := c.Watch(b, func(e Event) {
		// the lock is released before watchers run
		if _, ok := c.Get(a); !ok {
			t.Error("expected a to be visible from watcher")
		}
		events = append(events, e)
	})
	defer cancelB()

	err := c.Atomic(func(tx *Tx) error {
		tx.Set(a, 1)
		tx.Set(b, 2)
		tx.Set(a, 3)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected one event per touched key, got %d", len(events))
	}
	if events[0].Key != a || events[0].Entry.Value != 3 {
		t.Errorf("unexpected first event %+v", events[0])
	}
}

func TestCacheWatchCancel(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")

	calls := 0
	cancel := c.Watch(key, func(Event) { calls++ })
	c.Set(key, 1)
	cancel()
	cancel()
	c.Set(key, 2)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestCacheFetchStatuses(t *testing.T) {
	c := newTestCache(t)
	key := types.CollectionKey("todos", "{}")

	release := make(chan struct{})
	var seenLoading atomic.Bool
	cancel := c.Watch(key, func(e Event) {
		if e.Entry.Status == types.StatusLoading {
			seenLoading.Store(true)
		}
	})
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.Fetch(context.Background(), key, func(ctx context.Context) (any, error) {
			<-release
			return "loaded", nil
		})
		if err != nil || v != "loaded" {
			t.Errorf("Fetch = %v, %v", v, err)
		}
	}()

	deadline := time.After(time.Second)
	for c.Status(key) != types.StatusLoading {
		select {
		case <-deadline:
			t.Fatal("fetch never entered loading")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	<-done

	if !seenLoading.Load() {
		t.Error("watcher did not observe loading")
	}
	if c.Status(key) != types.StatusSuccess {
		t.Errorf("expected success, got %s", c.Status(key))
	}
}

func TestCacheFetchError(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")
	want := errors.New("offline")

	_, err := c.Fetch(context.Background(), key, func(ctx context.Context) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if c.Status(key) != types.StatusError {
		t.Errorf("expected error status, got %s", c.Status(key))
	}
	if !errors.Is(c.Err(key), want) {
		t.Errorf("expected recorded error, got %v", c.Err(key))
	}
}

func TestCacheFetchDeduplicates(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")

	var calls atomic.Int32
	gate := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Fetch(context.Background(), key, fetch)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single fetch, got %d", n)
	}
}

func TestCacheInvalidateRefetches(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")

	n := 0
	c.Register(key, func(ctx context.Context) (any, error) {
		n++
		return n, nil
	})
	c.Set(key, 0)

	if err := c.Invalidate(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := c.Get(key)
	if got != 1 {
		t.Errorf("expected refetched value 1, got %v", got)
	}
	entry, _ := c.Entry(key)
	if entry.Stale {
		t.Error("entry should be fresh after refetch")
	}
}

func TestCacheInvalidateWithoutFetcherMarksStale(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")
	c.Set(key, "v")

	if err := c.Invalidate(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, _ := c.Entry(key)
	if !entry.Stale {
		t.Error("expected stale entry")
	}
	if entry.Value != "v" {
		t.Errorf("value should survive invalidation, got %v", entry.Value)
	}
}

func TestCacheCapacityEviction(t *testing.T) {
	c := New(Config{Capacity: 2})
	defer func() { _ = c.Close() }()

	c.Set(types.DocumentKey("a/1"), 1)
	c.Set(types.DocumentKey("a/2"), 2)
	c.Set(types.DocumentKey("a/3"), 3)

	if len(c.Keys()) != 2 {
		t.Errorf("expected capacity to bound entries, got %d", len(c.Keys()))
	}
	if _, ok := c.Get(types.DocumentKey("a/1")); ok {
		t.Error("expected oldest entry to be evicted")
	}
}

func TestCacheOnEvict(t *testing.T) {
	c := New(Config{Capacity: 1})
	defer func() { _ = c.Close() }()

	evicted := make(chan types.Key, 4)
	cancel := c.OnEvict(func(key types.Key) { evicted <- key })
	defer cancel()

	c.Set(types.DocumentKey("a/1"), 1)
	c.Set(types.DocumentKey("a/2"), 2)
	c.Remove(types.DocumentKey("a/2"))

	var got []string
	for len(got) < 2 {
		select {
		case key := <-evicted:
			got = append(got, key.Path)
		case <-time.After(time.Second):
			t.Fatalf("evictions seen so far: %v", got)
		}
	}
	if !slices.Contains(got, "a/1") || !slices.Contains(got, "a/2") {
		t.Errorf("expected capacity and removal evictions, got %v", got)
	}
	if c.Has(types.DocumentKey("a/2")) {
		t.Error("removed entry is still present")
	}
}

func TestCacheHasSeesStatusOnlyEntries(t *testing.T) {
	c := newTestCache(t)
	key := types.DocumentKey("todos/1")

	if c.Has(key) {
		t.Fatal("expected no entry")
	}
	c.SetStatus(key, types.StatusLoading, nil)
	if !c.Has(key) {
		t.Error("status-only entry should count")
	}
	if _, ok := c.Get(key); ok {
		t.Error("status-only entry has no value")
	}
}
