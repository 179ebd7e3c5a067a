// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/kbforge/internal/watch"
	"github.com/pdiddy/kbforge/pkg/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest every export dropped into a directory",
	Long: `Watch monitors a drop directory and runs one ingestion per new file
once it has stopped changing for --settle. Files are ingested one at a time
in name order. A failed file is reported and watching continues. Files
already archived in the inbox are skipped as usual.

Stop with Ctrl-C; a run in progress is rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	applyInstructionFlags(cmd)

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := types.ParseProcessingMode(modeFlag)
	if err != nil {
		return err
	}
	if mode == types.ModeAggregateOnly {
		return fmt.Errorf("watch ingests files: use full or process-only")
	}
	source, _ := cmd.Flags().GetString("source")
	cleanSource, _ := cmd.Flags().GetBool("clean-source")
	if cleanOutput, _ := cmd.Flags().GetBool("clean-output"); cleanOutput {
		return fmt.Errorf("--clean-output would wipe the knowledge base on every file")
	}
	settle, _ := cmd.Flags().GetDuration("settle")
	existing, _ := cmd.Flags().GetBool("existing")

	orch, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}

	run := func(ctx context.Context, path string) error {
		name := source
		if name == "" {
			name = sourceFromFile(path)
		}
		_, err := orch.Run(ctx, types.RunConfig{
			SourceName:   name,
			InputPath:    path,
			IngestedAt:   time.Now().UTC().Truncate(time.Second),
			OutputPath:   viper.GetString("output"),
			Mode:         mode,
			CleanSource:  cleanSource,
			Instructions: instructions(),
		})
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	w := watch.New(args[0], run, watch.Options{Settle: settle, Existing: existing}, logger, cmd.OutOrStdout())
	sum, err := w.Watch(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "\nsucceeded: %d, failed: %d\n", sum.Succeeded, sum.Failed)
	return err
}

func init() {
	addRunFlags(watchCmd)
	watchCmd.Flags().Duration("settle", watch.DefaultSettle, "quiet period before a new file is ingested")
	watchCmd.Flags().Bool("existing", false, "also ingest files already in the directory")

	rootCmd.AddCommand(watchCmd)
}
