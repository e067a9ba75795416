package nanosync

import (
	"context"
	"sync"

	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
)

// fakeStore is an in-memory remote.Store whose listeners are driven by the
// test. A listener receives its initial snapshot synchronously when one is
// configured; later pushes go through pushDocument and pushQuery.
type fakeStore struct {
	mu sync.Mutex

	docs       map[string]remote.Record
	docErrs    map[string]error
	queryPages map[string][]remote.Record // keyed by handle, "" for the first page

	docListeners   []*fakeDocListener
	queryListeners []*fakeQueryListener
	listenErr      error

	batchErr  error
	writeErr  error
	batches   [][]remote.Write
	queries   []remote.Query
	writes    []string
	listenLog []string
}

type fakeDocListener struct {
	path   string
	obs    remote.DocumentObserver
	active bool
}

type fakeQueryListener struct {
	q      remote.Query
	obs    remote.QueryObserver
	active bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:       make(map[string]remote.Record),
		docErrs:    make(map[string]error),
		queryPages: make(map[string][]remote.Record),
	}
}

func handleKey(h types.Handle) string {
	if h == nil {
		return ""
	}
	s, _ := h.(string)
	return s
}

// record builds a confirmed record whose handle is its id
func record(id string, fields map[string]any) remote.Record {
	return remote.Record{ID: id, Fields: fields, Exists: true, Handle: id}
}

func (f *fakeStore) ListenDocument(ctx context.Context, path string, obs remote.DocumentObserver) (remote.Unsubscribe, error) {
	f.mu.Lock()
	if f.listenErr != nil {
		err := f.listenErr
		f.mu.Unlock()
		return nil, err
	}
	l := &fakeDocListener{path: path, obs: obs, active: true}
	f.docListeners = append(f.docListeners, l)
	f.listenLog = append(f.listenLog, path)
	rec, ok := f.docs[path]
	failure := f.docErrs[path]
	f.mu.Unlock()

	switch {
	case failure != nil:
		obs.OnError(failure)
	case ok:
		obs.OnDocument(rec)
	}
	return func() {
		f.mu.Lock()
		l.active = false
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) ListenQuery(ctx context.Context, q remote.Query, obs remote.QueryObserver) (remote.Unsubscribe, error) {
	f.mu.Lock()
	if f.listenErr != nil {
		err := f.listenErr
		f.mu.Unlock()
		return nil, err
	}
	l := &fakeQueryListener{q: q, obs: obs, active: true}
	f.queryListeners = append(f.queryListeners, l)
	f.listenLog = append(f.listenLog, q.Collection+"@"+handleKey(q.StartAfterHandle))
	page, ok := f.queryPages[handleKey(q.StartAfterHandle)]
	f.mu.Unlock()

	if ok {
		obs.OnQuery(remote.QuerySnapshot{Records: page})
	}
	return func() {
		f.mu.Lock()
		l.active = false
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) Get(ctx context.Context, path string) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.docs[path]
	if !ok {
		return remote.Record{}, remote.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Query(ctx context.Context, q remote.Query) ([]remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.queryPages[handleKey(q.StartAfterHandle)], nil
}

func (f *fakeStore) Set(ctx context.Context, path string, fields map[string]any, opts types.SetOptions) error {
	return f.write("set " + path)
}

func (f *fakeStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return f.write("update " + path)
}

func (f *fakeStore) Delete(ctx context.Context, path string) error {
	return f.write("delete " + path)
}

func (f *fakeStore) write(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, op)
	return nil
}

func (f *fakeStore) Batch(ctx context.Context, writes []remote.Write) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, writes)
	return nil
}

// pushDocument delivers rec to every active listener on path
func (f *fakeStore) pushDocument(path string, rec remote.Record) {
	f.mu.Lock()
	var targets []remote.DocumentObserver
	for _, l := range f.docListeners {
		if l.active && l.path == path {
			targets = append(targets, l.obs)
		}
	}
	f.mu.Unlock()
	for _, obs := range targets {
		obs.OnDocument(rec)
	}
}

// pushQuery delivers snap to every active listener whose start handle is after
func (f *fakeStore) pushQuery(after string, snap remote.QuerySnapshot) {
	f.mu.Lock()
	var targets []remote.QueryObserver
	for _, l := range f.queryListeners {
		if l.active && handleKey(l.q.StartAfterHandle) == after {
			targets = append(targets, l.obs)
		}
	}
	f.mu.Unlock()
	for _, obs := range targets {
		obs.OnQuery(snap)
	}
}

func (f *fakeStore) failListeners(err error) {
	f.mu.Lock()
	var docs []remote.DocumentObserver
	var queries []remote.QueryObserver
	for _, l := range f.docListeners {
		if l.active {
			docs = append(docs, l.obs)
		}
	}
	for _, l := range f.queryListeners {
		if l.active {
			queries = append(queries, l.obs)
		}
	}
	f.mu.Unlock()
	for _, obs := range docs {
		obs.OnError(err)
	}
	for _, obs := range queries {
		obs.OnError(err)
	}
}

func (f *fakeStore) activeQueryListeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.queryListeners {
		if l.active {
			n++
		}
	}
	return n
}

func (f *fakeStore) listens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listenLog)
}
