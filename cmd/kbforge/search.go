// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/kbforge/internal/knowledge"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search questions, answers and notes",
	Long: `Search queries a SQLite FTS5 index of the knowledge base. The index is
refreshed from the entity files first, so hand edits are always visible.
Combine a free-text query with --type, --source, --topic or --open.

Use --thread with a question ID to show the question with its answers and
notes, or --export to dump every match as JSON or YAML.`,
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	output := viper.GetString("output")

	cfg := searchConfig()
	if cfg.DBPath == "" {
		cfg.DBPath = knowledge.DefaultPath(output)
	}
	store, err := knowledge.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if skip, _ := cmd.Flags().GetBool("no-reindex"); !skip {
		snap, err := structure.NewManager(output, logger).Load()
		if err != nil {
			return err
		}
		if _, err := store.Reindex(ctx, snap, io.Discard); err != nil {
			return err
		}
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if threadID, _ := cmd.Flags().GetString("thread"); threadID != "" {
		results, err := store.Thread(ctx, threadID)
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results, asJSON)
	}

	opts, err := queryOptsFromFlags(cmd, args)
	if err != nil {
		return err
	}

	if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := knowledge.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		if exportPath == "-" {
			return store.Export(ctx, cmd.OutOrStdout(), format, opts)
		}
		f, err := os.Create(exportPath)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		if err := store.Export(ctx, f, format, opts); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", exportPath)
		return nil
	}

	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide a search query, --type, --source, --topic or --open")
	}
	results, err := store.Retrieve(ctx, opts)
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), results, asJSON)
}

func printResults(w io.Writer, results []knowledge.Result, asJSON bool) error {
	if asJSON {
		return knowledge.Write(w, knowledge.FormatJSON, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "%-6s  %-8s  %-16s  %-50s  %s\n", "ID", "Type", "Author", "Text", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, r := range results {
		fmt.Fprintf(w, "%-6s  %-8s  %-16s  %-50s  %s\n",
			r.ID, r.Type, truncate(r.Author, 16), truncate(oneLine(r.Text), 50), status(r))
	}
	fmt.Fprintf(w, "\n%d results\n", len(results))
	return nil
}

func status(r knowledge.Result) string {
	switch r.Type {
	case types.KindQuestion:
		if r.Answered {
			return "answered by " + strings.Join(r.AnsweredBy, ", ")
		}
		return "open"
	case types.KindAnswer, types.KindNote:
		if r.QuestionID != "" {
			return "-> " + r.QuestionID
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) (knowledge.QueryOptions, error) {
	kind, _ := cmd.Flags().GetString("type")
	source, _ := cmd.Flags().GetString("source")
	topic, _ := cmd.Flags().GetString("topic")
	open, _ := cmd.Flags().GetBool("open")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := knowledge.QueryOptions{
		Query:      strings.Join(args, " "),
		Type:       types.EntityKind(strings.ToLower(kind)),
		Source:     source,
		Topic:      topic,
		OpenOnly:   open,
		MaxResults: limit,
	}
	switch opts.Type {
	case "", types.KindQuestion, types.KindAnswer, types.KindNote:
	default:
		return opts, fmt.Errorf("unknown --type %q: use question, answer or note", kind)
	}
	return opts, nil
}

func init() {
	searchCmd.Flags().String("type", "", "filter by entity type (question, answer, note)")
	searchCmd.Flags().String("source", "", "filter by source name")
	searchCmd.Flags().String("topic", "", "filter by topic")
	searchCmd.Flags().Bool("open", false, "only unanswered questions")
	searchCmd.Flags().Int("limit", 0, "maximum results (default: search.max_results)")
	searchCmd.Flags().Bool("json", false, "print results as JSON")
	searchCmd.Flags().String("thread", "", "show a question with its answers and notes")
	searchCmd.Flags().String("export", "", "write every match to this file (- for stdout)")
	searchCmd.Flags().String("format", "json", "export format: json or yaml")
	searchCmd.Flags().String("db", "", "index database path (default: <output>.search.db)")
	searchCmd.Flags().Bool("no-reindex", false, "query the index without refreshing it")

	viper.BindPFlag("search.db_path", searchCmd.Flags().Lookup("db"))

	rootCmd.AddCommand(searchCmd)
}
