package main

import (
	"encoding/json"
	"fmt"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync"
	"github.com/arthur-debert/nanosync/nanosync/query"
	"github.com/arthur-debert/nanosync/types"
	"github.com/spf13/cobra"
)

// addQueryFlags adds the flags that describe a query
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("where", nil, "Filter such as 'status==open' or 'likes>=10' (repeatable)")
	cmd.Flags().StringArray("order-by", nil, "Sort field, optionally field:desc (repeatable)")
	cmd.Flags().Int("limit", 0, "Maximum number of documents per page")
}

// descriptorFromFlags builds a query descriptor from the query flags
func descriptorFromFlags(cmd *cobra.Command, operation string) (types.Descriptor, error) {
	b := query.New()

	where, _ := cmd.Flags().GetStringArray("where")
	for _, expr := range where {
		clause, err := query.ParseWhere(expr)
		if err != nil {
			return types.Descriptor{}, NewValidationError(operation, "where clause", expr,
				"Use field==value, field!=value, field<value, field in [..] or field array-contains value")
		}
		b.Where(clause.Field, clause.Operator, clause.Value)
	}

	orderBy, _ := cmd.Flags().GetStringArray("order-by")
	for _, expr := range orderBy {
		clause, err := query.ParseOrderBy(expr)
		if err != nil {
			return types.Descriptor{}, NewValidationError(operation, "order", expr, "Use field, field:asc or field:desc")
		}
		b.OrderBy(clause.Field, clause.Direction)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return types.Descriptor{}, NewValidationError(operation, "limit", fmt.Sprint(limit), "Use a positive limit")
	}
	if limit > 0 {
		b.Limit(limit)
	}
	return b.Build(), nil
}

// parseData decodes --data as one JSON object or an array of objects
func parseData(operation, raw string) ([]map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, NewValidationError(operation, "data", raw, `Pass a JSON object such as '{"title": "Hello"}'`)
	}
	switch val := v.(type) {
	case map[string]any:
		return []map[string]any{val}, nil
	case []any:
		out := make([]map[string]any, 0, len(val))
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, NewValidationError(operation, "data", raw, "Every array element must be a JSON object")
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, NewValidationError(operation, "data", raw, "Pass a JSON object or an array of objects")
	}
}

// singleData decodes --data as exactly one JSON object
func singleData(cmd *cobra.Command, operation string) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("data")
	records, err := parseData(operation, raw)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, NewValidationError(operation, "data", raw, "Pass a single JSON object")
	}
	return records[0], nil
}

func (cli *CLI) printer(cmd *cobra.Command) (*printer, error) {
	return newPrinter(cmd.OutOrStdout(), cli.viperInst.GetString("format"))
}

func (cli *CLI) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <document-path>",
		Short: "Print one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			e, err := cli.open("get document")
			if err != nil {
				return err
			}
			defer e.Close()

			doc, err := e.client.GetDocument(cmd.Context(), path)
			if err != nil {
				return wrapError("get document", path, err)
			}
			collection, _, _ := validation.SplitDocumentPath(validation.CleanPath(path))
			return out.print(viewOf(collection, doc))
		},
	}
}

func (cli *CLI) listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <collection-path>",
		Short: "Run a query and print the matching documents",
		Long: `Run a query and print the matching documents.

With --pages and --limit the result is read page by page, each page
resuming after the last document of the previous one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := validation.CleanPath(args[0])
			desc, err := descriptorFromFlags(cmd, "list documents")
			if err != nil {
				return err
			}
			pages, _ := cmd.Flags().GetInt("pages")
			if pages > 1 && desc.Limit == nil {
				return NewValidationError("list documents", "pages", fmt.Sprint(pages), "Set --limit to page through results")
			}
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			e, err := cli.open("list documents")
			if err != nil {
				return err
			}
			defer e.Close()

			if pages <= 1 {
				value, err := e.client.GetCollection(cmd.Context(), path, desc)
				if err != nil {
					return wrapError("list documents", path, err)
				}
				views := make([]documentView, 0, len(value.Docs))
				for _, doc := range value.Docs {
					views = append(views, viewOf(path, doc))
				}
				return out.print(views)
			}

			views, err := listPages(cmd, e.client, path, desc, pages)
			if err != nil {
				return wrapError("list documents", path, err)
			}
			return out.print(views)
		},
	}
	addQueryFlags(cmd)
	cmd.Flags().Int("pages", 1, "Number of pages to read")
	return cmd
}

// listPages reads up to pages pages through an infinite session
func listPages(cmd *cobra.Command, client *nanosync.Client, path string, desc types.Descriptor, pages int) ([]documentView, error) {
	s := client.NewInfiniteSession()
	defer s.Close()

	if err := s.Activate(cmd.Context(), path, desc); err != nil {
		return nil, err
	}
	for i := 1; i < pages && s.HasNextPage(); i++ {
		if err := s.FetchNextPage(cmd.Context()); err != nil {
			return nil, err
		}
	}

	value, ok := s.Data()
	if !ok {
		return nil, nil
	}
	var views []documentView
	for i, page := range value.Pages {
		for _, doc := range page {
			v := viewOf(path, doc)
			v.Page = i + 1
			views = append(views, v)
		}
	}
	return views, nil
}

func (cli *CLI) setCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <path>",
		Short: "Write a document",
		Long: `Write a document, replacing it unless --merge is given.

Given a collection path, a document with a generated id is created in it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := singleData(cmd, "set document")
			if err != nil {
				return err
			}
			merge, _ := cmd.Flags().GetBool("merge")
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			e, err := cli.open("set document")
			if err != nil {
				return err
			}
			defer e.Close()

			written, err := e.client.Set(cmd.Context(), args[0], data, types.SetOptions{Merge: merge})
			if err != nil {
				return wrapError("set document", args[0], err)
			}
			return out.print(map[string]string{"path": written})
		},
	}
	cmd.Flags().String("data", "", "Document fields as a JSON object (required)")
	cmd.Flags().Bool("merge", false, "Merge into the existing document instead of replacing it")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (cli *CLI) updateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <document-path>",
		Short: "Merge fields into an existing document",
		Long: `Merge fields into an existing document. Dotted keys such as
"address.city" reach into nested objects.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := singleData(cmd, "update document")
			if err != nil {
				return err
			}
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			e, err := cli.open("update document")
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.client.Update(cmd.Context(), args[0], data); err != nil {
				return wrapError("update document", args[0], err)
			}
			return out.print(map[string]string{"path": validation.CleanPath(args[0])})
		},
	}
	cmd.Flags().String("data", "", "Fields to merge as a JSON object (required)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (cli *CLI) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-path>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			e, err := cli.open("delete document")
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.client.Delete(cmd.Context(), args[0]); err != nil {
				return wrapError("delete document", args[0], err)
			}
			return out.print(map[string]string{"deleted": validation.CleanPath(args[0])})
		},
	}
}

func (cli *CLI) addCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <collection-path>",
		Short: "Create documents with generated ids",
		Long: `Create documents with generated ids in one all-or-nothing batch.

--data takes a JSON object or an array of objects. --sub-path places the new
documents in a subcollection, e.g. 'alice/posts' under 'users'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("data")
			records, err := parseData("add documents", raw)
			if err != nil {
				return err
			}
			subPath, _ := cmd.Flags().GetString("sub-path")
			out, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			e, err := cli.open("add documents")
			if err != nil {
				return err
			}
			defer e.Close()

			s := e.client.NewCollectionSession()
			defer s.Close()
			if err := s.Activate(cmd.Context(), args[0], types.Descriptor{}); err != nil {
				return wrapError("add documents", args[0], err)
			}
			paths, err := s.Add(cmd.Context(), records, nanosync.AddOptions{SubPath: subPath})
			if err != nil {
				return wrapError("add documents", args[0], err)
			}
			return out.print(map[string][]string{"paths": paths})
		},
	}
	cmd.Flags().String("data", "", "A JSON object or an array of objects (required)")
	cmd.Flags().String("sub-path", "", "Subcollection under the collection to add to")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
