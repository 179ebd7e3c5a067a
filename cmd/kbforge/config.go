// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/kbforge/internal/claude"
	"github.com/pdiddy/kbforge/internal/pipeline"
	"github.com/pdiddy/kbforge/internal/secrets"
	"github.com/pdiddy/kbforge/pkg/types"
)

// setDefaults registers every configuration key so environment variables
// (KBFORGE_AI_MODEL, KBFORGE_ANALYSIS_WORKERS, ...) are honored for all of them.
func setDefaults() {
	d := types.DefaultPipelineConfig()
	viper.SetDefault("ai.model", d.AI.Model)
	viper.SetDefault("ai.api_key", "")
	viper.SetDefault("ai.max_tokens", d.AI.MaxTokens)
	viper.SetDefault("ai.max_retries", d.AI.MaxRetries)
	viper.SetDefault("ai.timeout", d.AI.Timeout)
	viper.SetDefault("chunking.max_chars", d.Chunking.MaxChars)
	viper.SetDefault("analysis.workers", d.Analysis.Workers)
	viper.SetDefault("analysis.id_scheme", string(d.Analysis.IDScheme))
	viper.SetDefault("mapping.confidence_threshold", d.Mapping.ConfidenceThreshold)
	viper.SetDefault("aggregation.batch_size", d.Aggregation.BatchSize)
	viper.SetDefault("aggregation.workers", d.Aggregation.Workers)
	viper.SetDefault("search.db_path", "")
	viper.SetDefault("search.max_results", 20)
	viper.SetDefault("instructions.analysis", "")
	viper.SetDefault("instructions.mapping", "")
	viper.SetDefault("instructions.aggregation", "")
}

// pipelineConfig decodes the stage settings from file, environment and flags.
func pipelineConfig() (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = secrets.APIKey(loadedSecrets)
	}
	return cfg, nil
}

func searchConfig() types.SearchConfig {
	return types.SearchConfig{
		DBPath:     viper.GetString("search.db_path"),
		MaxResults: viper.GetInt("search.max_results"),
	}
}

func instructions() types.Instructions {
	return types.Instructions{
		Analysis:    readInstructions(viper.GetString("instructions.analysis")),
		Mapping:     readInstructions(viper.GetString("instructions.mapping")),
		Aggregation: readInstructions(viper.GetString("instructions.aggregation")),
	}
}

// readInstructions accepts either literal text or @path to a file.
func readInstructions(v string) string {
	if len(v) > 1 && v[0] == '@' {
		data, err := os.ReadFile(v[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: reading instructions %s: %v\n", v[1:], err)
			return ""
		}
		return string(data)
	}
	return v
}

// newOrchestrator wires the Claude backends into a pipeline orchestrator.
func newOrchestrator(cmd *cobra.Command) (*pipeline.Orchestrator, error) {
	cfg, err := pipelineConfig()
	if err != nil {
		return nil, err
	}
	client, err := claude.New(cfg.AI, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: put the key in %s/%s, set %s, or set ai.api_key",
			err, viper.GetString("secrets_dir"), secrets.AnthropicAPIKey, secrets.AnthropicEnv)
	}
	backends := pipeline.Backends{
		Analysis:    claude.Analyzer{Client: client},
		Mapping:     claude.Mapper{Client: client},
		Aggregation: claude.Describer{Client: client},
	}
	return pipeline.New(backends, cfg, logger, cmd.OutOrStdout()), nil
}

// bindInstructionFlags adds the per-stage instruction flags to cmd.
func bindInstructionFlags(cmd *cobra.Command) {
	cmd.Flags().String("analysis-instructions", "", "extra guidance for analysis (text or @file)")
	cmd.Flags().String("mapping-instructions", "", "extra guidance for mapping (text or @file)")
	cmd.Flags().String("aggregation-instructions", "", "extra guidance for narratives (text or @file)")
}

// applyInstructionFlags binds the instruction flags of the running command.
// Binding happens at run time because several commands share the keys.
func applyInstructionFlags(cmd *cobra.Command) {
	for flag, key := range map[string]string{
		"analysis-instructions":    "instructions.analysis",
		"mapping-instructions":     "instructions.mapping",
		"aggregation-instructions": "instructions.aggregation",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			viper.BindPFlag(key, f)
		}
	}
}
