// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/kbforge/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest one raw export into the knowledge base",
	Long: `Ingest runs the full pipeline on one raw export: the file is archived
under inbox/raw/, split into chunks and analyzed for questions, answers and
notes. New answers are reconciled with open questions, entity files and
indices are written, and in FULL mode narratives are regenerated for every
topic and person the run touched.

A file already archived under the same name is skipped unless --clean-source
or --clean-output is given. Any failure rolls the knowledge base back.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	applyInstructionFlags(cmd)

	source, _ := cmd.Flags().GetString("source")
	if source == "" {
		source = sourceFromFile(args[0])
	}
	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := types.ParseProcessingMode(modeFlag)
	if err != nil {
		return err
	}
	if mode == types.ModeAggregateOnly {
		return fmt.Errorf("use the aggregate command for AGGREGATE_ONLY runs")
	}
	at, err := ingestedAt(cmd)
	if err != nil {
		return err
	}
	cleanOutput, _ := cmd.Flags().GetBool("clean-output")
	cleanSource, _ := cmd.Flags().GetBool("clean-source")

	orch, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	result, runErr := orch.Run(ctx, types.RunConfig{
		SourceName:   source,
		InputPath:    args[0],
		IngestedAt:   at,
		OutputPath:   viper.GetString("output"),
		Mode:         mode,
		CleanOutput:  cleanOutput,
		CleanSource:  cleanSource,
		Instructions: instructions(),
	})
	return report(cmd, result, runErr)
}

// report prints the run result as JSON when --json is set.
func report(cmd *cobra.Command, result types.KBResult, runErr error) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return runErr
}

// ingestedAt reads --ingested-at, defaulting to now.
func ingestedAt(cmd *cobra.Command) (time.Time, error) {
	v, _ := cmd.Flags().GetString("ingested-at")
	if v == "" {
		return time.Now().UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--ingested-at: %w", err)
	}
	return t.UTC(), nil
}

// sourceFromFile derives a source name from an export file name, dropping
// the extension and a trailing _<digits> part: chunk_001.json gives "chunk".
func sourceFromFile(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.LastIndexByte(name, '_'); i > 0 && strings.Trim(name[i+1:], "0123456789") == "" {
		name = name[:i]
	}
	return name
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "full", "processing mode: full or process-only")
	cmd.Flags().String("source", "", "source name tagged on every entity (default: derived from the file name)")
	cmd.Flags().Bool("clean-output", false, "remove all generated structure before processing")
	cmd.Flags().Bool("clean-source", false, "remove this source's entities before processing")
	cmd.Flags().Bool("json", false, "print the run result as JSON")
	bindInstructionFlags(cmd)
}

func init() {
	addRunFlags(ingestCmd)
	ingestCmd.Flags().String("ingested-at", "", "ingestion datetime, RFC 3339 (default: now)")

	rootCmd.AddCommand(ingestCmd)
}
