package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// documentView is how documents are printed
type documentView struct {
	ID      string         `json:"id" yaml:"id"`
	Path    string         `json:"path" yaml:"path"`
	Page    int            `json:"page,omitempty" yaml:"page,omitempty"`
	Pending bool           `json:"pending,omitempty" yaml:"pending,omitempty"`
	Fields  map[string]any `json:"fields" yaml:"fields"`
}

// changeView is one line of watch output
type changeView struct {
	Change string         `json:"change" yaml:"change"`
	ID     string         `json:"id" yaml:"id"`
	Path   string         `json:"path" yaml:"path"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func viewOf(collection string, doc *types.Document) documentView {
	return documentView{
		ID:      doc.ID,
		Path:    validation.JoinPath(collection, doc.ID),
		Pending: doc.HasPendingWrites,
		Fields:  doc.Fields,
	}
}

// printer writes values in the configured format. It is safe for use from
// listener callbacks.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	title  cases.Caser
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "json", "yaml":
	default:
		return nil, NewValidationError("print", "format", format, "Use --format json or --format yaml")
	}
	return &printer{w: w, format: format, title: cases.Title(language.Und)}, nil
}

func (p *printer) print(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
}

// label renders a change kind for humans: "Added", "Modified", "Removed"
func (p *printer) label(kind remote.ChangeKind) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title.String(kind.String())
}

// docChange is a document-level difference between two cached results
type docChange struct {
	Kind remote.ChangeKind
	Doc  *types.Document
}

// diffDocuments lists what changed from prev to next. Documents are matched
// by id; a document whose cached pointer is replaced with different content
// counts as modified.
func diffDocuments(prev, next []*types.Document) []docChange {
	before := make(map[string]*types.Document, len(prev))
	for _, d := range prev {
		before[d.ID] = d
	}
	seen := make(map[string]struct{}, len(next))

	var changes []docChange
	for _, d := range next {
		seen[d.ID] = struct{}{}
		old, ok := before[d.ID]
		switch {
		case !ok:
			changes = append(changes, docChange{Kind: remote.Added, Doc: d})
		case old != d && !old.Equal(d):
			changes = append(changes, docChange{Kind: remote.Modified, Doc: d})
		}
	}
	for _, d := range prev {
		if _, ok := seen[d.ID]; !ok {
			changes = append(changes, docChange{Kind: remote.Removed, Doc: d})
		}
	}
	return changes
}
