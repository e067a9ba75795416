package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/query"
	"github.com/arthur-debert/nanosync/types"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func (cli *CLI) watchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Print every change to a document or query until interrupted",
		Long: `Subscribe to a document or a query and print each change to its cached
value. Writes from other processes are picked up as soon as the database
file changes on disk.

Query flags apply when the path is a collection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := validation.CleanPath(args[0])
			count, _ := cmd.Flags().GetInt("count")
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}

			var desc types.Descriptor
			if validation.IsCollectionPath(path) {
				if desc, err = descriptorFromFlags(cmd, "watch"); err != nil {
					return err
				}
			} else if err := validation.ValidateDocumentPath(path); err != nil {
				return wrapError("watch", path, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cli.watch(ctx, path, desc, out, count)
		},
	}
	addQueryFlags(cmd)
	cmd.Flags().Int("count", 0, "Exit after this many changes (0 watches until interrupted)")
	return cmd
}

// changeSink prints document changes and reports when enough were seen
type changeSink struct {
	out        *printer
	collection string
	limit      int

	mu    sync.Mutex
	prev  []*types.Document
	seen  int
	done  chan struct{}
	err   error
	fired bool
}

func (s *changeSink) observe(docs []*types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := diffDocuments(s.prev, docs)
	s.prev = docs
	for _, ch := range changes {
		if s.fired {
			return
		}
		view := changeView{
			Change: s.out.label(ch.Kind),
			ID:     ch.Doc.ID,
			Path:   validation.JoinPath(s.collection, ch.Doc.ID),
			Fields: ch.Doc.Fields,
		}
		if err := s.out.print(view); err != nil {
			s.finish(err)
			return
		}
		s.seen++
		if s.limit > 0 && s.seen >= s.limit {
			s.finish(nil)
		}
	}
}

// finish is called with mu held
func (s *changeSink) finish(err error) {
	if !s.fired {
		s.fired = true
		s.err = err
		close(s.done)
	}
}

// watchKey turns cache events for key into document lists
func watchKey(c *cache.Client, key types.Key, sink *changeSink) func() {
	return c.Watch(key, func(ev cache.Event) {
		if !ev.Entry.HasValue {
			return
		}
		switch v := ev.Entry.Value.(type) {
		case *types.Document:
			if v == nil || !v.Exists {
				sink.observe(nil)
				return
			}
			sink.observe([]*types.Document{v})
		case *types.CollectionValue:
			if v != nil {
				sink.observe(v.Docs)
			}
		}
	})
}

func (cli *CLI) watch(ctx context.Context, path string, desc types.Descriptor, out *printer, count int) error {
	e, err := cli.open("watch")
	if err != nil {
		return err
	}
	defer e.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewStoreError("watch", err)
	}
	defer func() { _ = watcher.Close() }()
	dbFile := filepath.Clean(e.store.Path())
	if err := watcher.Add(filepath.Dir(dbFile)); err != nil {
		return NewStoreError("watch", err, "Check that the database directory exists")
	}

	sink := &changeSink{out: out, limit: count, done: make(chan struct{})}

	if validation.IsCollectionPath(path) {
		fp, err := query.Fingerprint(desc)
		if err != nil {
			return wrapError("watch", path, err)
		}
		sink.collection = path
		cancel := watchKey(e.client.Cache(), types.CollectionKey(path, fp), sink)
		defer cancel()

		s := e.client.NewCollectionSession()
		defer s.Close()
		if err := s.Activate(ctx, path, desc); err != nil {
			return wrapError("watch", path, err)
		}
	} else {
		sink.collection, _, _ = validation.SplitDocumentPath(path)
		cancel := watchKey(e.client.Cache(), types.DocumentKey(path), sink)
		defer cancel()

		s := e.client.NewDocumentSession()
		defer s.Close()
		if err := s.Activate(ctx, path); err != nil {
			return wrapError("watch", path, err)
		}
	}
	cli.logger.Info("watching", "path", path, "db", dbFile)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.done:
			return sink.err
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != dbFile || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if err := e.store.Refresh(ctx); err != nil {
				cli.logger.Warn("refresh failed", "db", dbFile, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cli.logger.Warn("file watcher error", "error", err)
		}
	}
}
