// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxTokens caps the response length of a single call (default 4096).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// MaxRetries is the number of rate-limit retries handed to the HTTP layer.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// ChunkingConfig bounds the size of text submitted to one analysis call.
type ChunkingConfig struct {
	// MaxChars is the chunk budget in characters (default 12000).
	MaxChars int `json:"max_chars" yaml:"max_chars" mapstructure:"max_chars"`
}

// IDScheme selects how new entity identities are generated.
type IDScheme string

const (
	// IDCounter numbers entities per type within a run, skipping IDs already in the KB.
	IDCounter IDScheme = "counter"
	// IDFingerprint derives IDs from a hash of normalized text, author and source.
	IDFingerprint IDScheme = "fingerprint"
)

// AnalysisConfig holds settings for the analysis stage.
type AnalysisConfig struct {
	// Workers is the number of chunks analyzed concurrently (default 1, sequential).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// IDScheme selects counter or fingerprint identities (default counter).
	IDScheme IDScheme `json:"id_scheme" yaml:"id_scheme" mapstructure:"id_scheme"`
}

// MappingConfig holds settings for question-to-answer reconciliation.
type MappingConfig struct {
	// ConfidenceThreshold is the minimum confidence for a mapping to be applied (default 0.7).
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// AggregationConfig holds settings for narrative generation.
type AggregationConfig struct {
	// BatchSize is the number of subjects described per batch (default 10).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Workers bounds concurrent backend calls within one batch (default 1).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	AI          AIConfig          `json:"ai" yaml:"ai" mapstructure:"ai"`
	Chunking    ChunkingConfig    `json:"chunking" yaml:"chunking" mapstructure:"chunking"`
	Analysis    AnalysisConfig    `json:"analysis" yaml:"analysis" mapstructure:"analysis"`
	Mapping     MappingConfig     `json:"mapping" yaml:"mapping" mapstructure:"mapping"`
	Aggregation AggregationConfig `json:"aggregation" yaml:"aggregation" mapstructure:"aggregation"`
}

// DefaultPipelineConfig returns the configuration used when no file or flag overrides it.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AI: AIConfig{
			Model:      "claude-sonnet-4-5-20250929",
			MaxTokens:  4096,
			MaxRetries: 5,
			Timeout:    2 * time.Minute,
		},
		Chunking:    ChunkingConfig{MaxChars: 12000},
		Analysis:    AnalysisConfig{Workers: 1, IDScheme: IDCounter},
		Mapping:     MappingConfig{ConfidenceThreshold: 0.7},
		Aggregation: AggregationConfig{BatchSize: 10, Workers: 1},
	}
}

// SearchConfig locates the full-text search index.
type SearchConfig struct {
	// DBPath is the SQLite index file. Empty means a sibling of the output
	// directory named <output>.search.db.
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// MaxResults caps the results of one query (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// ProcessingMode controls which pipeline stages execute.
type ProcessingMode string

const (
	ModeFull          ProcessingMode = "FULL"
	ModeProcessOnly   ProcessingMode = "PROCESS_ONLY"
	ModeAggregateOnly ProcessingMode = "AGGREGATE_ONLY"
)

// ParseProcessingMode accepts the mode names case-insensitively, with - or _.
func ParseProcessingMode(s string) (ProcessingMode, error) {
	m := ProcessingMode(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch m {
	case ModeFull, ModeProcessOnly, ModeAggregateOnly:
		return m, nil
	case "":
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown processing mode %q: use FULL, PROCESS_ONLY or AGGREGATE_ONLY", s)
}

// Instructions carries optional free-text guidance appended to each AI stage prompt.
type Instructions struct {
	Analysis    string `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Mapping     string `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	Aggregation string `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
}

// RunConfig is the input to one orchestrated run.
type RunConfig struct {
	// SourceName tags every entity created by the run (e.g. "teams_chat").
	SourceName string `json:"source_name" yaml:"source_name" validate:"required,excludesall=/\\"`

	// InputPath is the raw export to ingest. Unused in AGGREGATE_ONLY mode.
	InputPath string `json:"input_path" yaml:"input_path" validate:"required_unless=Mode AGGREGATE_ONLY"`

	// IngestedAt is the run's ingestion datetime. It names inbox files, stamps
	// entity metadata and becomes the source's last-synced datetime.
	IngestedAt time.Time `json:"ingested_at" yaml:"ingested_at" validate:"required"`

	// OutputPath is the knowledge base root directory.
	OutputPath string `json:"output_path" yaml:"output_path" validate:"required"`

	// Mode gates which stages run.
	Mode ProcessingMode `json:"mode" yaml:"mode" validate:"oneof=FULL PROCESS_ONLY AGGREGATE_ONLY"`

	// CleanOutput removes all generated structure before processing.
	CleanOutput bool `json:"clean_output" yaml:"clean_output"`

	// CleanSource removes entities tagged with SourceName before processing.
	CleanSource bool `json:"clean_source" yaml:"clean_source"`

	Instructions Instructions `json:"instructions" yaml:"instructions"`
}
