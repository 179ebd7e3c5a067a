// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/kbtest"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/sourceconfig"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

const chunk001 = `[
  {"author": "Alice", "text": "How do we deploy the service?", "timestamp": "2024-03-01T10:00:00Z"},
  {"author": "Bob", "text": "Good question, let me check.", "timestamp": "2024-03-01T10:01:00Z"},
  {"author": "Carol", "text": "I was wondering the same.", "timestamp": "2024-03-01T10:02:00Z"}
]`

const chunk002 = `[
  {"author": "Alice", "text": "Any news on how do we deploy the service?", "timestamp": "2024-03-02T09:00:00Z"},
  {"author": "Bob", "text": "Run the release pipeline from main.", "timestamp": "2024-03-02T09:05:00Z"}
]`

var (
	firstRun  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	secondRun = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
)

func deployQuestion() types.QuestionEntry {
	return types.QuestionEntry{EntryBase: types.EntryBase{
		Author: "Alice", Text: "How do we deploy the service?", Topics: []string{"Deploy"},
	}}
}

func scenarioA() *kbtest.Analyzer {
	return &kbtest.Analyzer{Responses: map[int]types.AnalysisResult{
		0: {Questions: []types.QuestionEntry{deployQuestion()}},
	}}
}

func scenarioB() *kbtest.Analyzer {
	return &kbtest.Analyzer{Responses: map[int]types.AnalysisResult{
		0: {
			Questions: []types.QuestionEntry{deployQuestion()},
			Answers: []types.AnswerEntry{{EntryBase: types.EntryBase{
				Author: "Bob", Text: "Run the release pipeline from main.", Topics: []string{"Deploy"},
			}}},
		},
	}}
}

type fixture struct {
	dir    string
	output string
	out    bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, output: filepath.Join(dir, "kb")}
	kbtest.WriteFile(t, filepath.Join(dir, "in", "chunk_001.json"), chunk001)
	kbtest.WriteFile(t, filepath.Join(dir, "in", "chunk_002.json"), chunk002)
	return f
}

func (f *fixture) runConfig(file string, at time.Time, mode types.ProcessingMode) types.RunConfig {
	return types.RunConfig{
		SourceName: "teams_chat",
		InputPath:  filepath.Join(f.dir, "in", file),
		IngestedAt: at,
		OutputPath: f.output,
		Mode:       mode,
	}
}

func (f *fixture) orchestrator(b Backends) *Orchestrator {
	return New(b, types.DefaultPipelineConfig(), nil, &f.out)
}

func (f *fixture) runScenarioA(t *testing.T) types.KBResult {
	t.Helper()
	res, err := f.orchestrator(Backends{Analysis: scenarioA(), Mapping: &kbtest.Mapper{}, Aggregation: &kbtest.Describer{}}).
		Run(context.Background(), f.runConfig("chunk_001.json", firstRun, types.ModeFull))
	require.NoError(t, err)
	return res
}

func TestScenarioAFirstIngestion(t *testing.T) {
	f := newFixture(t)
	res := f.runScenarioA(t)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Questions)
	assert.Zero(t, res.Answers)
	assert.NotEmpty(t, res.RunID)

	snap := kbtest.Snapshot(t, f.output)
	assert.Contains(t, snap, "questions/Q1.md")
	assert.Contains(t, snap["questions/Q1.md"], "source: teams_chat")
	assert.Contains(t, snap["questions/Q1.md"], "answered: false")
	assert.Equal(t, chunk001, snap["inbox/raw/20240301T120000Z_chunk_001.json"])
	assert.Contains(t, snap, "inbox/analyzed/20240301T120000Z_analyzed.json")
	assert.Contains(t, snap, "topics/deploy.md")
	assert.Contains(t, snap, "topics/deploy-desc.md")
	assert.Contains(t, snap, "people/alice/profile-desc.md")
	assert.Contains(t, snap, "statistics.md")

	cfg, err := sourceconfig.Load(filepath.Join(f.output, "source-config.json"))
	require.NoError(t, err)
	assert.True(t, cfg["teams_chat"].Equal(firstRun))

	_, err = os.Stat(lockPath(f.output))
	assert.True(t, errors.Is(err, os.ErrNotExist), "lock released")
	assert.Contains(t, f.out.String(), "done    processed chunk_001.json")
}

func TestScenarioBAnswerResolvesEarlierQuestion(t *testing.T) {
	f := newFixture(t)
	f.runScenarioA(t)

	mapper := &kbtest.Mapper{Mappings: []types.QAMapping{{EntryID: "A1", QuestionID: "Q1", Confidence: 0.9}}}
	res, err := f.orchestrator(Backends{Analysis: scenarioB(), Mapping: mapper, Aggregation: &kbtest.Describer{}}).
		Run(context.Background(), f.runConfig("chunk_002.json", secondRun, types.ModeFull))
	require.NoError(t, err)
	assert.Zero(t, res.Questions, "the repeated question is not duplicated")
	assert.Equal(t, 1, res.Answers)

	snap := kbtest.Snapshot(t, f.output)
	assert.Equal(t, []string{"questions/Q1.md"}, kbtest.Paths(snap, "questions/"))
	assert.Contains(t, snap["questions/Q1.md"], "answered: true")
	assert.Contains(t, snap["questions/Q1.md"], "- A1")
	assert.Contains(t, snap["answers/A1.md"], "question_id: Q1")

	m := structure.NewManager(f.output, nil)
	loaded, err := m.Load()
	require.NoError(t, err)
	q, ok := loaded.Entity(types.KindQuestion, "Q1")
	require.True(t, ok)
	assert.True(t, q.Created.Equal(firstRun), "creation time survives the rewrite")

	cfg, err := sourceconfig.Load(filepath.Join(f.output, "source-config.json"))
	require.NoError(t, err)
	assert.True(t, cfg["teams_chat"].Equal(secondRun))
}

func TestFailedRunRollsBackCompletely(t *testing.T) {
	tests := []struct {
		name     string
		backends func() Backends
		want     error
		stage    State
	}{
		{
			name: "analysis failure",
			backends: func() Backends {
				a := scenarioB()
				a.Err, a.FailAt = errors.New("model overloaded"), -1
				return Backends{Analysis: a, Mapping: &kbtest.Mapper{}, Aggregation: &kbtest.Describer{}}
			},
			want:  types.ErrAnalysis,
			stage: StateContextLoaded,
		},
		{
			name: "aggregation failure after structure was written",
			backends: func() Backends {
				mapper := &kbtest.Mapper{Mappings: []types.QAMapping{{EntryID: "A1", QuestionID: "Q1", Confidence: 0.9}}}
				return Backends{Analysis: scenarioB(), Mapping: mapper, Aggregation: &kbtest.Describer{Err: errors.New("quota")}}
			},
			want:  types.ErrAggregation,
			stage: StateStructureBuilt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runScenarioA(t)
			before := kbtest.Snapshot(t, f.output)

			res, err := f.orchestrator(tt.backends()).
				Run(context.Background(), f.runConfig("chunk_002.json", secondRun, types.ModeFull))
			require.Error(t, err)
			assert.False(t, res.Success)
			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, types.ErrRollback)

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, "teams_chat", runErr.Source)
			assert.Equal(t, tt.stage, runErr.Stage)
			assert.NoError(t, runErr.RollbackErr)

			assert.Equal(t, before, kbtest.Snapshot(t, f.output))
			assert.Contains(t, f.out.String(), "rolled back")
		})
	}
}

func TestFailedFirstRunLeavesNothing(t *testing.T) {
	f := newFixture(t)
	a := scenarioA()
	a.Err, a.FailAt = errors.New("boom"), 0

	_, err := f.orchestrator(Backends{Analysis: a, Aggregation: &kbtest.Describer{}}).
		Run(context.Background(), f.runConfig("chunk_001.json", firstRun, types.ModeProcessOnly))
	require.Error(t, err)
	assert.Empty(t, kbtest.Snapshot(t, f.output))
}

func TestModeGating(t *testing.T) {
	t.Run("process only writes no narratives", func(t *testing.T) {
		f := newFixture(t)
		describer := &kbtest.Describer{}
		_, err := f.orchestrator(Backends{Analysis: scenarioA(), Aggregation: describer}).
			Run(context.Background(), f.runConfig("chunk_001.json", firstRun, types.ModeProcessOnly))
		require.NoError(t, err)

		for path := range kbtest.Snapshot(t, f.output) {
			assert.False(t, strings.HasSuffix(path, "-desc.md"), path)
		}
		assert.Empty(t, describer.Names)
	})

	t.Run("aggregate only writes no inbox files", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orchestrator(Backends{Analysis: scenarioA()}).
			Run(context.Background(), f.runConfig("chunk_001.json", firstRun, types.ModeProcessOnly))
		require.NoError(t, err)
		inboxBefore := kbtest.Paths(kbtest.Snapshot(t, f.output), "inbox")

		analyzer := &kbtest.Analyzer{}
		rc := f.runConfig("", secondRun, types.ModeAggregateOnly)
		rc.InputPath = ""
		res, err := f.orchestrator(Backends{Analysis: analyzer, Aggregation: &kbtest.Describer{}}).
			Run(context.Background(), rc)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Topics)
		assert.Equal(t, 1, res.People)

		snap := kbtest.Snapshot(t, f.output)
		assert.Equal(t, inboxBefore, kbtest.Paths(snap, "inbox"))
		assert.Contains(t, snap, "topics/deploy-desc.md")
		assert.Contains(t, snap, "people/alice/profile-desc.md")
		assert.Empty(t, analyzer.Calls)
	})
}

func TestAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	f.runScenarioA(t)
	before := kbtest.Snapshot(t, f.output)

	analyzer := scenarioA()
	res, err := f.orchestrator(Backends{Analysis: analyzer, Aggregation: &kbtest.Describer{}}).
		Run(context.Background(), f.runConfig("chunk_001.json", secondRun, types.ModeFull))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "already processed: chunk_001.json", res.Message)
	assert.Empty(t, analyzer.Calls)
	assert.Equal(t, before, kbtest.Snapshot(t, f.output))

	// Cleaning the source bypasses the check and rebuilds its entities.
	rc := f.runConfig("chunk_001.json", secondRun, types.ModeProcessOnly)
	rc.CleanSource = true
	res, err = f.orchestrator(Backends{Analysis: analyzer}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Questions)
	assert.Len(t, analyzer.Calls, 1)
	snap := kbtest.Snapshot(t, f.output)
	assert.Equal(t, []string{"questions/Q1.md"}, kbtest.Paths(snap, "questions/"))
	assert.Contains(t, snap, "inbox/raw/20240302T120000Z_chunk_001.json")
}

func answerOnly(author, text string) *kbtest.Analyzer {
	return &kbtest.Analyzer{Responses: map[int]types.AnalysisResult{
		0: {Answers: []types.AnswerEntry{{EntryBase: types.EntryBase{Author: author, Text: text}}}},
	}}
}

func TestCleanSourceReplayRelinksQuestions(t *testing.T) {
	f := newFixture(t)
	rc := f.runConfig("chunk_001.json", firstRun, types.ModeProcessOnly)
	rc.SourceName = "slack"
	_, err := f.orchestrator(Backends{Analysis: scenarioA()}).Run(context.Background(), rc)
	require.NoError(t, err)

	toQ1 := []types.QAMapping{{EntryID: "A1", QuestionID: "Q1", Confidence: 0.9}}
	_, err = f.orchestrator(Backends{
		Analysis: answerOnly("Bob", "Deploy with the old script."),
		Mapping:  &kbtest.Mapper{Mappings: toQ1},
	}).Run(context.Background(), f.runConfig("chunk_002.json", secondRun, types.ModeProcessOnly))
	require.NoError(t, err)
	snap := kbtest.Snapshot(t, f.output)
	require.Contains(t, snap["questions/Q1.md"], "answered: true")

	t.Run("unrelated replay leaves the question open", func(t *testing.T) {
		replay := f.runConfig("chunk_002.json", secondRun.Add(time.Hour), types.ModeProcessOnly)
		replay.CleanSource = true
		mapper := &kbtest.Mapper{}
		_, err := f.orchestrator(Backends{Analysis: answerOnly("Dan", "Lunch is at noon."), Mapping: mapper}).
			Run(context.Background(), replay)
		require.NoError(t, err)

		require.Len(t, mapper.Open, 1)
		require.Len(t, mapper.Open[0], 1)
		assert.Equal(t, "Q1", mapper.Open[0][0].ID, "the cleaned answer no longer resolves Q1")

		q, ok := loadEntity(t, f.output, types.KindQuestion, "Q1")
		require.True(t, ok)
		assert.Equal(t, "slack", q.Source)
		assert.False(t, q.Answered)
		assert.Empty(t, q.AnsweredBy)
	})

	t.Run("corrected replay links again", func(t *testing.T) {
		replay := f.runConfig("chunk_002.json", secondRun.Add(2*time.Hour), types.ModeProcessOnly)
		replay.CleanSource = true
		_, err := f.orchestrator(Backends{
			Analysis: answerOnly("Bob", "Run the release pipeline from main."),
			Mapping:  &kbtest.Mapper{Mappings: toQ1},
		}).Run(context.Background(), replay)
		require.NoError(t, err)

		q, ok := loadEntity(t, f.output, types.KindQuestion, "Q1")
		require.True(t, ok)
		assert.True(t, q.Answered)
		assert.Equal(t, []string{"A1"}, q.AnsweredBy)

		a, ok := loadEntity(t, f.output, types.KindAnswer, "A1")
		require.True(t, ok)
		assert.Equal(t, "Run the release pipeline from main.", a.Text)
		assert.Equal(t, "Q1", a.QuestionID)
	})
}

func loadEntity(t *testing.T, output string, kind types.EntityKind, id string) (structure.Entity, bool) {
	t.Helper()
	snap, err := structure.NewManager(output, nil).Load()
	require.NoError(t, err)
	return snap.Entity(kind, id)
}

func TestCleanOutputIsUndoneOnFailure(t *testing.T) {
	f := newFixture(t)
	f.runScenarioA(t)
	before := kbtest.Snapshot(t, f.output)

	a := scenarioB()
	a.Err, a.FailAt = errors.New("boom"), -1
	rc := f.runConfig("chunk_002.json", secondRun, types.ModeProcessOnly)
	rc.CleanOutput = true

	_, err := f.orchestrator(Backends{Analysis: a}).Run(context.Background(), rc)
	require.Error(t, err)
	assert.Equal(t, before, kbtest.Snapshot(t, f.output))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		mutate func(*types.RunConfig)
	}{
		{"missing source", func(rc *types.RunConfig) { rc.SourceName = "" }},
		{"source with slash", func(rc *types.RunConfig) { rc.SourceName = "teams/chat" }},
		{"missing input", func(rc *types.RunConfig) { rc.InputPath = "" }},
		{"missing output", func(rc *types.RunConfig) { rc.OutputPath = "" }},
		{"zero ingestion time", func(rc *types.RunConfig) { rc.IngestedAt = time.Time{} }},
		{"unknown mode", func(rc *types.RunConfig) { rc.Mode = "PARTIAL" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := f.runConfig("chunk_001.json", firstRun, types.ModeFull)
			tt.mutate(&rc)
			_, err := f.orchestrator(Backends{Analysis: scenarioA()}).Run(context.Background(), rc)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrInput)
		})
	}
	assert.NoDirExists(t, f.output)
}

func TestMissingInputFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(Backends{Analysis: scenarioA()}).
		Run(context.Background(), f.runConfig("nope.json", firstRun, types.ModeProcessOnly))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInput)
	assert.NoDirExists(t, f.output)
}

func TestConcurrentRunIsLocked(t *testing.T) {
	f := newFixture(t)
	kbtest.WriteFile(t, lockPath(f.output), strconv.Itoa(os.Getpid())+"\n")

	_, err := f.orchestrator(Backends{Analysis: scenarioA()}).
		Run(context.Background(), f.runConfig("chunk_001.json", firstRun, types.ModeProcessOnly))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrLocked)
	assert.ErrorContains(t, err, lockPath(f.output))
	assert.ErrorContains(t, err, "pid "+strconv.Itoa(os.Getpid()))
	assert.FileExists(t, lockPath(f.output), "another run's lock is left alone")
}

func TestLockTakeover(t *testing.T) {
	tests := []struct {
		name    string
		content string
		locked  bool
	}{
		{"exited process", strconv.Itoa(math.MaxInt32-1) + "\n", false},
		{"running process", strconv.Itoa(os.Getpid()) + "\n", true},
		{"no pid yet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "kb")
			kbtest.WriteFile(t, lockPath(output), tt.content)

			lock, err := acquireLock(output)
			if tt.locked {
				require.ErrorIs(t, err, types.ErrLocked)
				assert.ErrorContains(t, err, "remove it")
				return
			}
			require.NoError(t, err)
			data, err := os.ReadFile(lockPath(output))
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
			require.NoError(t, lock.release())
		})
	}
}

func TestStateMachine(t *testing.T) {
	m := newMachine(zap.NewNop())
	require.NoError(t, m.advance(StateRawCopied))
	assert.Error(t, m.advance(StateMapped))
	require.NoError(t, m.advance(StateRolledBack))
	assert.Error(t, m.advance(StateRolledBack))
	assert.Equal(t, []State{StateInit, StateRawCopied, StateRolledBack}, m.history)
}

func TestRunErrorUnwrap(t *testing.T) {
	err := &RunError{
		Source:      "s",
		Stage:       StateMapped,
		Err:         types.ErrStructureWrite,
		RollbackErr: errors.Join(types.ErrRollback),
	}
	assert.ErrorIs(t, err, types.ErrStructureWrite)
	assert.ErrorIs(t, err, types.ErrRollback)
	assert.Contains(t, err.Error(), "rollback incomplete")
}

func TestMaintain(t *testing.T) {
	f := newFixture(t)
	f.runScenarioA(t)
	before := kbtest.Snapshot(t, f.output)
	statistics := filepath.Join(f.output, "statistics.md")

	err := Maintain(f.output, nil, func(fsys rollback.FS) error {
		if err := fsys.Remove(statistics); err != nil {
			return err
		}
		return errors.New("interrupted")
	})
	require.EqualError(t, err, "interrupted")
	assert.Equal(t, before, kbtest.Snapshot(t, f.output))

	require.NoError(t, Maintain(f.output, nil, func(fsys rollback.FS) error {
		return fsys.Remove(statistics)
	}))
	assert.NoFileExists(t, statistics)
	assert.NoFileExists(t, lockPath(f.output))

	kbtest.WriteFile(t, lockPath(f.output), strconv.Itoa(os.Getpid())+"\n")
	err = Maintain(f.output, nil, func(rollback.FS) error { return nil })
	assert.ErrorIs(t, err, types.ErrLocked)
}
