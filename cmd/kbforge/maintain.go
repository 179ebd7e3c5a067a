// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/kbforge/internal/cleaner"
	"github.com/pdiddy/kbforge/internal/pipeline"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

// --- aggregate subcommand ---

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Regenerate every topic and person narrative",
	Long: `Aggregate runs in AGGREGATE_ONLY mode: it reads the existing knowledge
base, writes a fresh narrative for every topic and person, and rebuilds the
listings and statistics. Nothing is ingested and the inbox is not touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyInstructionFlags(cmd)
		source, _ := cmd.Flags().GetString("source")

		orch, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		at, err := ingestedAt(cmd)
		if err != nil {
			return err
		}
		result, runErr := orch.Run(ctx, types.RunConfig{
			SourceName:   source,
			IngestedAt:   at,
			OutputPath:   viper.GetString("output"),
			Mode:         types.ModeAggregateOnly,
			Instructions: instructions(),
		})
		return report(cmd, result, runErr)
	},
}

// --- regenerate subcommand ---

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Rebuild topic and person listings and statistics from entity files",
	Long: `Regenerate rebuilds every listing, recreates missing topic and person
files and rewrites statistics.md from the question, answer and note files.
It makes no AI calls, so it is safe to run after editing entities by hand.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output := viper.GetString("output")
		var counts structure.Counts
		err := pipeline.Maintain(output, logger, func(fsys rollback.FS) error {
			var err error
			counts, err = structure.NewManager(output, logger).Regenerate(fsys)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "regenerated: %d question(s), %d answer(s), %d note(s), %d topic(s), %d area(s), %d person(s)\n",
			counts.Questions, counts.Answers, counts.Notes, counts.Topics, counts.Areas, counts.People)
		return nil
	},
}

// --- clean subcommand ---

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove one source's entities, or all generated structure",
	Long: `Clean with --source deletes the question, answer and note files that
source produced and rebuilds the indices. Clean with --all deletes every
generated file; the inbox and source-config.json are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		all, _ := cmd.Flags().GetBool("all")
		if (source == "") == !all {
			return fmt.Errorf("exactly one of --source or --all is required")
		}

		output := viper.GetString("output")
		out := cmd.OutOrStdout()
		return pipeline.Maintain(output, logger, func(fsys rollback.FS) error {
			c := cleaner.New(output, logger)
			if all {
				n, err := c.CleanOutput(fsys)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "removed %d generated file(s)\n", n)
				return nil
			}
			n, err := c.Clean(source, fsys)
			if err != nil {
				return err
			}
			if _, err := structure.NewManager(output, logger).RegenerateIndexes(fsys); err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %d entities from source %s\n", n, source)
			return nil
		})
	},
}

func init() {
	aggregateCmd.Flags().String("source", "aggregate", "run label recorded in the logs")
	aggregateCmd.Flags().String("ingested-at", "", "run datetime, RFC 3339 (default: now)")
	aggregateCmd.Flags().Bool("json", false, "print the run result as JSON")
	bindInstructionFlags(aggregateCmd)

	cleanCmd.Flags().String("source", "", "source whose entities are removed")
	cleanCmd.Flags().Bool("all", false, "remove all generated structure")

	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(cleanCmd)
}
