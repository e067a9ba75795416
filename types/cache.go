package types

// Key identifies a cache entry. Document entries only set Path; collection
// entries pair the collection path with the query fingerprint.
type Key struct {
	Path  string
	Query string
}

// DocumentKey returns the cache key of a single document
func DocumentKey(path string) Key {
	return Key{Path: path}
}

// CollectionKey returns the cache key of a query against a collection
func CollectionKey(collectionPath, fingerprint string) Key {
	return Key{Path: collectionPath, Query: fingerprint}
}

// IsCollection reports whether the key addresses a query result
func (k Key) IsCollection() bool {
	return k.Query != ""
}

func (k Key) String() string {
	if k.Query == "" {
		return k.Path
	}
	return k.Path + "?" + k.Query
}

// Status is the request status the cache reports for a key
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// CollectionValue is the cached result of a non-paged collection query
type CollectionValue struct {
	Docs        []*Document
	HasNextPage bool
}

// IndexOf returns the position of the document with the given id, or -1
func (c *CollectionValue) IndexOf(id string) int {
	if c == nil {
		return -1
	}
	for i, doc := range c.Docs {
		if doc != nil && doc.ID == id {
			return i
		}
	}
	return -1
}

// PagedValue is the cached result of an infinite query: one slice per page
type PagedValue struct {
	Pages       [][]*Document
	HasNextPage bool
}

// Flatten returns every document across pages in order
func (p *PagedValue) Flatten() []*Document {
	if p == nil {
		return nil
	}
	var out []*Document
	for _, page := range p.Pages {
		out = append(out, page...)
	}
	return out
}

// Last returns the final document of the final non-empty page
func (p *PagedValue) Last() *Document {
	if p == nil {
		return nil
	}
	for i := len(p.Pages) - 1; i >= 0; i-- {
		if n := len(p.Pages[i]); n > 0 {
			return p.Pages[i][n-1]
		}
	}
	return nil
}
