package coherence

import "github.com/arthur-debert/nanosync/types"

// KeyFunc extracts the identity used to merge documents
type KeyFunc func(*types.Document) string

// ByID keys documents on their id
func ByID(doc *types.Document) string {
	return doc.ID
}

// ByField keys documents on a string field
func ByField(name string) KeyFunc {
	return func(doc *types.Document) string {
		if s, ok := doc.Fields[name].(string); ok {
			return s
		}
		return ""
	}
}

// UnionBy merges incoming documents into existing ones by key. Incoming
// values win. Documents whose key is not in existing come first, in incoming
// order; existing documents follow in their original order, replaced by the
// incoming copy where one exists.
func UnionBy(incoming, existing []*types.Document, key KeyFunc) []*types.Document {
	if key == nil {
		key = ByID
	}

	present := make(map[string]struct{}, len(existing))
	for _, doc := range existing {
		if doc != nil {
			present[key(doc)] = struct{}{}
		}
	}

	updates := make(map[string]*types.Document, len(incoming))
	out := make([]*types.Document, 0, len(incoming)+len(existing))
	for _, doc := range incoming {
		if doc == nil {
			continue
		}
		k := key(doc)
		if _, ok := present[k]; ok {
			updates[k] = doc
			continue
		}
		if _, dup := updates[k]; dup {
			continue
		}
		updates[k] = doc
		out = append(out, doc)
	}

	for _, doc := range existing {
		if doc == nil {
			continue
		}
		if next, ok := updates[key(doc)]; ok {
			out = append(out, next)
			continue
		}
		out = append(out, doc)
	}
	return out
}

// RemoveIDs returns docs without the given keys, or docs itself when none match
func RemoveIDs(docs []*types.Document, ids map[string]struct{}, key KeyFunc) []*types.Document {
	if len(ids) == 0 {
		return docs
	}
	if key == nil {
		key = ByID
	}

	out := make([]*types.Document, 0, len(docs))
	removed := false
	for _, doc := range docs {
		if doc != nil {
			if _, ok := ids[key(doc)]; ok {
				removed = true
				continue
			}
		}
		out = append(out, doc)
	}
	if !removed {
		return docs
	}
	return out
}
