package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/oklog/ulid/v2"
)

// version is what a listener last saw of one document
type version struct {
	exists  bool
	updated time.Time
	pending bool
}

func (v version) same(o version) bool {
	return v.exists == o.exists && v.pending == o.pending && v.updated.Equal(o.updated)
}

type documentListener struct {
	id   string
	path string
	obs  remote.DocumentObserver

	delivered bool
	last      version
}

type queryListener struct {
	id  string
	q   remote.Query
	obs remote.QueryObserver

	delivered bool
	order     []string
	last      map[string]version
}

// listenerSet holds the live listeners. Delivery state is only touched while
// the store's commitMu is held.
type listenerSet struct {
	mu        sync.Mutex
	documents map[string]*documentListener
	queries   map[string]*queryListener
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		documents: make(map[string]*documentListener),
		queries:   make(map[string]*queryListener),
	}
}

func (ls *listenerSet) addDocument(path string, obs remote.DocumentObserver) *documentListener {
	l := &documentListener{id: ulid.Make().String(), path: path, obs: obs}
	ls.mu.Lock()
	ls.documents[l.id] = l
	ls.mu.Unlock()
	return l
}

func (ls *listenerSet) addQuery(q remote.Query, obs remote.QueryObserver) *queryListener {
	l := &queryListener{id: ulid.Make().String(), q: q, obs: obs, last: make(map[string]version)}
	ls.mu.Lock()
	ls.queries[l.id] = l
	ls.mu.Unlock()
	return l
}

func (ls *listenerSet) remove(id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.documents, id)
	delete(ls.queries, id)
}

func (ls *listenerSet) clear() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.documents = make(map[string]*documentListener)
	ls.queries = make(map[string]*queryListener)
}

func (ls *listenerSet) live(id string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, doc := ls.documents[id]
	_, q := ls.queries[id]
	return doc || q
}

// notify delivers docs to every listener whose view changed. Documents in
// pending are flagged as carrying local writes.
func (ls *listenerSet) notify(docs map[string]*storedDocument, pending map[string]bool) {
	ls.mu.Lock()
	documents := make([]*documentListener, 0, len(ls.documents))
	for _, l := range ls.documents {
		documents = append(documents, l)
	}
	queries := make([]*queryListener, 0, len(ls.queries))
	for _, l := range ls.queries {
		queries = append(queries, l)
	}
	ls.mu.Unlock()

	// registration order
	sort.Slice(documents, func(i, j int) bool { return documents[i].id < documents[j].id })
	sort.Slice(queries, func(i, j int) bool { return queries[i].id < queries[j].id })

	for _, l := range documents {
		ls.deliverDocument(l, docs, pending)
	}
	for _, l := range queries {
		ls.deliverQuery(l, docs, pending)
	}
}

func versionOf(docs map[string]*storedDocument, path string, pending bool) version {
	doc, ok := docs[path]
	if !ok {
		return version{pending: pending}
	}
	return version{exists: true, updated: doc.UpdateTime, pending: pending}
}

func (ls *listenerSet) deliverDocument(l *documentListener, docs map[string]*storedDocument, pending map[string]bool) {
	if !ls.live(l.id) {
		return
	}
	v := versionOf(docs, l.path, pending[l.path])
	if l.delivered && v.same(l.last) {
		return
	}
	l.delivered = true
	l.last = v
	l.obs.OnDocument(documentRecord(docs, l.path, v.pending))
}

func (ls *listenerSet) deliverQuery(l *queryListener, docs map[string]*storedDocument, pending map[string]bool) {
	if !ls.live(l.id) {
		return
	}
	records, err := evaluate(docs, l.q)
	if err != nil {
		l.obs.OnError(err)
		return
	}

	order := make([]string, len(records))
	next := make(map[string]version, len(records))
	snapPending := false
	for i := range records {
		path := records[i].Path
		records[i].HasPendingWrites = pending[path]
		snapPending = snapPending || pending[path]
		order[i] = path
		next[path] = versionOf(docs, path, pending[path])
	}

	var changes []remote.Change
	for i, rec := range records {
		prev, seen := l.last[rec.Path]
		switch {
		case !seen:
			changes = append(changes, remote.Change{Kind: remote.Added, Record: records[i]})
		case !prev.same(next[rec.Path]):
			changes = append(changes, remote.Change{Kind: remote.Modified, Record: records[i]})
		}
	}
	for _, path := range l.order {
		if _, still := next[path]; still {
			continue
		}
		changes = append(changes, remote.Change{Kind: remote.Removed, Record: documentRecord(docs, path, false)})
	}

	if l.delivered && len(changes) == 0 && slices.Equal(l.order, order) {
		return
	}
	l.delivered = true
	l.order = order
	l.last = next
	l.obs.OnQuery(remote.QuerySnapshot{Records: records, Changes: changes, HasPendingWrites: snapPending})
}
