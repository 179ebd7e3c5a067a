// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates one ingestion run: it archives the raw
// input, runs analysis, validation and mapping, persists the structure,
// optionally aggregates, refreshes indices and records the source sync. Every
// filesystem change goes through a rollback journal; a failure at any step
// undoes the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/aggregate"
	"github.com/pdiddy/kbforge/internal/analysis"
	"github.com/pdiddy/kbforge/internal/chunk"
	"github.com/pdiddy/kbforge/internal/cleaner"
	"github.com/pdiddy/kbforge/internal/kbcontext"
	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/mapping"
	"github.com/pdiddy/kbforge/internal/normalize"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/sourceconfig"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

// TimestampLayout formats the ingestion datetime in inbox file names.
const TimestampLayout = "20060102T150405Z"

// Backends groups the AI capabilities a run may call. Mapping may be nil, in
// which case only links found during analysis are applied. Aggregation is
// required for FULL and AGGREGATE_ONLY runs.
type Backends struct {
	Analysis    analysis.Backend
	Mapping     mapping.Backend
	Aggregation aggregate.Backend
}

// Orchestrator runs ingestion and aggregation against knowledge bases.
type Orchestrator struct {
	backends Backends
	cfg      types.PipelineConfig
	logger   *zap.Logger
	w        io.Writer
}

// New returns an orchestrator. Progress lines are written to w, which may be nil.
func New(backends Backends, cfg types.PipelineConfig, logger *zap.Logger, w io.Writer) *Orchestrator {
	if w == nil {
		w = io.Discard
	}
	return &Orchestrator{backends: backends, cfg: cfg, logger: logging.OrNop(logger), w: w}
}

// run carries the state of one Run call.
type run struct {
	rc      types.RunConfig
	id      string
	logger  *zap.Logger
	journal *rollback.Journal
	machine *machine
	manager *structure.Manager
}

// Run executes one run. On success the knowledge base holds the run's
// entities and the returned result counts them. On failure every change the
// run made is rolled back and the error is a *RunError.
func (o *Orchestrator) Run(ctx context.Context, rc types.RunConfig) (types.KBResult, error) {
	if rc.Mode == "" {
		rc.Mode = types.ModeFull
	}
	if err := analysis.Validator().Struct(rc); err != nil {
		return types.KBResult{Message: err.Error()}, &RunError{
			Source: rc.SourceName,
			Stage:  StateInit,
			Err:    fmt.Errorf("%w: invalid run configuration: %w", types.ErrInput, err),
		}
	}

	r := &run{rc: rc, id: uuid.NewString()}
	r.logger = o.logger.With(
		zap.String("run_id", r.id),
		zap.String("source", rc.SourceName),
		zap.String("mode", string(rc.Mode)),
	)
	r.journal = rollback.NewJournal(r.logger)
	r.machine = newMachine(r.logger)
	r.manager = structure.NewManager(rc.OutputPath, r.logger)

	lock, err := acquireLock(rc.OutputPath)
	if err != nil {
		return types.KBResult{RunID: r.id, Message: err.Error()}, &RunError{Source: rc.SourceName, Stage: StateInit, Err: err}
	}
	defer func() {
		if err := lock.release(); err != nil {
			r.logger.Warn("releasing lock", zap.Error(err))
		}
	}()

	var result types.KBResult
	if rc.Mode == types.ModeAggregateOnly {
		result, err = o.aggregateOnly(ctx, r)
	} else {
		result, err = o.ingest(ctx, r)
	}
	result.RunID = r.id

	if err != nil {
		return o.fail(r, err), o.runError(r, err)
	}
	r.journal.Commit()
	result.Success = true
	r.logger.Info("run complete", zap.String("message", result.Message))
	return result, nil
}

// runError rolls back and wraps err.
func (o *Orchestrator) runError(r *run, err error) error {
	stage := r.machine.state
	steps := r.journal.Len()
	rbErr := r.journal.Rollback()
	if advErr := r.machine.advance(StateRolledBack); advErr != nil {
		r.logger.Error("state machine", zap.Error(advErr))
	}
	if rbErr != nil {
		fmt.Fprintf(o.w, "rollback incomplete after %d change(s): %v\n", steps, rbErr)
	} else {
		fmt.Fprintf(o.w, "rolled back %d change(s)\n", steps)
	}
	r.logger.Error("run failed", zap.String("stage", string(stage)), zap.Error(err))
	return &RunError{Source: r.rc.SourceName, Stage: stage, Err: err, RollbackErr: rbErr}
}

func (o *Orchestrator) fail(r *run, err error) types.KBResult {
	fmt.Fprintf(o.w, "failed  %s: %v\n", r.rc.SourceName, err)
	return types.KBResult{RunID: r.id, Message: err.Error()}
}

func (o *Orchestrator) ingest(ctx context.Context, r *run) (types.KBResult, error) {
	rc := r.rc
	rawName := filepath.Base(rc.InputPath)
	layout := r.manager.Layout()

	if !rc.CleanOutput && !rc.CleanSource {
		done, err := alreadyProcessed(layout.RawDir(), rawName)
		if err != nil {
			return types.KBResult{}, fmt.Errorf("%w: checking inbox: %w", types.ErrInput, err)
		}
		if done {
			fmt.Fprintf(o.w, "skipped %s (already processed)\n", rawName)
			r.logger.Info("input already processed", zap.String("file", rawName))
			if err := r.machine.advance(StateDone); err != nil {
				return types.KBResult{}, err
			}
			return types.KBResult{Message: "already processed: " + rawName}, nil
		}
	}

	data, err := os.ReadFile(rc.InputPath)
	if err != nil {
		return types.KBResult{}, fmt.Errorf("%w: reading %s: %w", types.ErrInput, rc.InputPath, err)
	}
	raw := types.RawInput{SourceName: rc.SourceName, Path: rc.InputPath, IngestedAt: rc.IngestedAt, Data: data}
	fmt.Fprintf(o.w, "ingesting %s as %s\n", raw.Name(), raw.SourceName)

	if err := o.clean(r); err != nil {
		return types.KBResult{}, err
	}

	stamp := rc.IngestedAt.UTC().Format(TimestampLayout)
	rawPath := filepath.Join(layout.RawDir(), raw.ArchiveName(TimestampLayout))
	if err := r.journal.WriteFile(rawPath, raw.Data); err != nil {
		return types.KBResult{}, fmt.Errorf("%w: archiving raw input: %w", types.ErrStructureWrite, err)
	}
	if err := r.machine.advance(StateRawCopied); err != nil {
		return types.KBResult{}, err
	}

	docs, err := normalize.Normalize(raw.Name(), raw.Data)
	if err != nil {
		return types.KBResult{}, err
	}
	chunks := chunk.Prepare(docs, o.cfg.Chunking.MaxChars)
	fmt.Fprintf(o.w, "chunked %d document(s) into %d chunk(s)\n", len(docs), len(chunks))

	kb, err := kbcontext.Load(r.manager, r.logger)
	if err != nil {
		return types.KBResult{}, fmt.Errorf("%w: %w", types.ErrInput, err)
	}
	if err := r.machine.advance(StateContextLoaded); err != nil {
		return types.KBResult{}, err
	}

	if o.backends.Analysis == nil {
		return types.KBResult{}, fmt.Errorf("%w: no analysis backend configured", types.ErrAnalysis)
	}
	stage := analysis.NewStage(o.backends.Analysis, rc.SourceName, o.cfg.Analysis, r.logger)
	result, err := stage.Analyze(ctx, chunks, kb, rc.Instructions.Analysis)
	if err != nil {
		return types.KBResult{}, err
	}
	if err := r.machine.advance(StateAnalyzed); err != nil {
		return types.KBResult{}, err
	}
	fmt.Fprintf(o.w, "analyzed: %d question(s), %d answer(s), %d note(s)\n",
		len(result.Questions), len(result.Answers), len(result.Notes))

	if dropped := analysis.Validate(result, r.logger); dropped > 0 {
		fmt.Fprintf(o.w, "validation dropped %d entr(ies)\n", dropped)
	}
	if err := r.machine.advance(StateValidated); err != nil {
		return types.KBResult{}, err
	}

	if o.backends.Mapping != nil {
		sum := mapping.NewMapper(o.backends.Mapping, o.cfg.Mapping, r.logger).
			Apply(ctx, result, kb, rc.Instructions.Mapping)
		fmt.Fprintf(o.w, "mapped: %d link(s), %d earlier question(s) resolved\n", sum.Linked, len(result.Resolved))
	} else {
		mapping.NewMapper(noMapping{}, o.cfg.Mapping, r.logger).Apply(ctx, result, kb, "")
	}
	if err := r.machine.advance(StateMapped); err != nil {
		return types.KBResult{}, err
	}

	if err := writeAnalyzed(r, layout.AnalyzedDir(), stamp, raw, len(chunks), result); err != nil {
		return types.KBResult{}, err
	}

	counts, err := r.manager.Build(result, rc.IngestedAt, r.journal)
	if err != nil {
		return types.KBResult{}, err
	}
	if err := r.machine.advance(StateStructureBuilt); err != nil {
		return types.KBResult{}, err
	}

	if rc.Mode == types.ModeFull {
		n, err := o.aggregateRun(ctx, r, result)
		if err != nil {
			return types.KBResult{}, err
		}
		fmt.Fprintf(o.w, "aggregated %d narrative(s)\n", n)
		if err := r.machine.advance(StateAggregated); err != nil {
			return types.KBResult{}, err
		}
	}

	if _, err := r.manager.RegenerateIndexes(r.journal); err != nil {
		return types.KBResult{}, err
	}
	if err := r.machine.advance(StateIndexed); err != nil {
		return types.KBResult{}, err
	}

	if err := sourceconfig.Update(layout.SourceConfigPath(), rc.SourceName, rc.IngestedAt, r.journal); err != nil {
		return types.KBResult{}, fmt.Errorf("%w: %w", types.ErrStructureWrite, err)
	}
	if err := r.machine.advance(StateDone); err != nil {
		return types.KBResult{}, err
	}

	out := types.KBResult{}
	counts.Apply(&out)
	out.Message = fmt.Sprintf("processed %s: %d question(s), %d answer(s), %d note(s)",
		rawName, out.Questions, out.Answers, out.Notes)
	fmt.Fprintf(o.w, "done    %s\n", out.Message)
	return out, nil
}

// clean applies the clean flags through the run's journal.
func (o *Orchestrator) clean(r *run) error {
	c := cleaner.New(r.rc.OutputPath, r.logger)
	if r.rc.CleanOutput {
		n, err := c.CleanOutput(r.journal)
		if err != nil {
			return fmt.Errorf("%w: cleaning output: %w", types.ErrStructureWrite, err)
		}
		fmt.Fprintf(o.w, "cleaned output (%d file(s))\n", n)
	}
	if r.rc.CleanSource {
		n, err := c.Clean(r.rc.SourceName, r.journal)
		if err != nil {
			return fmt.Errorf("%w: cleaning source: %w", types.ErrStructureWrite, err)
		}
		fmt.Fprintf(o.w, "cleaned %d entit(ies) of %s\n", n, r.rc.SourceName)
	}
	return nil
}

// aggregateRun describes the topics and people touched by this run.
func (o *Orchestrator) aggregateRun(ctx context.Context, r *run, result *types.AnalysisResult) (int, error) {
	if o.backends.Aggregation == nil {
		return 0, fmt.Errorf("%w: no aggregation backend configured", types.ErrAggregation)
	}
	snap, err := r.manager.Load()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrAggregation, err)
	}
	var ids []string
	for _, b := range result.Bases() {
		ids = append(ids, b.ID)
	}
	for _, q := range result.Resolved {
		ids = append(ids, q.ID)
	}
	stage := aggregate.NewStage(o.backends.Aggregation, r.manager, o.cfg.Aggregation, r.logger)
	return stage.Describe(ctx, snap, snap.Affected(ids), r.rc.Instructions.Aggregation, r.journal)
}

func (o *Orchestrator) aggregateOnly(ctx context.Context, r *run) (types.KBResult, error) {
	if o.backends.Aggregation == nil {
		return types.KBResult{}, fmt.Errorf("%w: no aggregation backend configured", types.ErrAggregation)
	}
	fmt.Fprintf(o.w, "aggregating %s\n", r.rc.OutputPath)
	stage := aggregate.NewStage(o.backends.Aggregation, r.manager, o.cfg.Aggregation, r.logger)
	svc := aggregate.NewService(stage, r.manager, r.logger)
	counts, err := svc.Run(ctx, r.rc.Instructions.Aggregation, r.journal)
	if err != nil {
		return types.KBResult{}, err
	}
	if err := r.machine.advance(StateAggregated); err != nil {
		return types.KBResult{}, err
	}
	if err := r.machine.advance(StateIndexed); err != nil {
		return types.KBResult{}, err
	}
	if err := r.machine.advance(StateDone); err != nil {
		return types.KBResult{}, err
	}

	out := types.KBResult{}
	counts.Apply(&out)
	out.Message = fmt.Sprintf("aggregated %d topic(s) and %d person(s)", out.Topics, out.People)
	fmt.Fprintf(o.w, "done    %s\n", out.Message)
	return out, nil
}

// alreadyProcessed reports whether the inbox holds a raw file archived under
// name by an earlier run.
func alreadyProcessed(rawDir, name string) (bool, error) {
	entries, err := os.ReadDir(rawDir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	prefix := len(TimestampLayout) + 1
	for _, e := range entries {
		n := e.Name()
		if len(n) == prefix+len(name) && n[prefix-1] == '_' && strings.HasSuffix(n, name) {
			return true, nil
		}
	}
	return false, nil
}

// analyzedSnapshot is the inbox record of what a run extracted.
type analyzedSnapshot struct {
	RunID      string                `json:"run_id"`
	Source     string                `json:"source"`
	RawFile    string                `json:"raw_file"`
	IngestedAt string                `json:"ingested_at"`
	Chunks     int                   `json:"chunks"`
	Result     *types.AnalysisResult `json:"result"`
}

func writeAnalyzed(r *run, dir, stamp string, raw types.RawInput, chunks int, result *types.AnalysisResult) error {
	snap := analyzedSnapshot{
		RunID:      r.id,
		Source:     r.rc.SourceName,
		RawFile:    raw.ArchiveName(TimestampLayout),
		IngestedAt: r.rc.IngestedAt.UTC().Format(time.RFC3339Nano),
		Chunks:     chunks,
		Result:     result,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding analyzed snapshot: %w", types.ErrStructureWrite, err)
	}
	p := filepath.Join(dir, stamp+"_analyzed.json")
	if err := r.journal.WriteFile(p, append(data, '\n')); err != nil {
		return fmt.Errorf("%w: writing %s: %w", types.ErrStructureWrite, p, err)
	}
	return nil
}

// noMapping proposes nothing; it lets analysis links be applied when no
// mapping backend is configured.
type noMapping struct{}

func (noMapping) Map(context.Context, []types.QuestionEntry, []types.EntryBase, string) ([]types.QAMapping, error) {
	return nil, nil
}
