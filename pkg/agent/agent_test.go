package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/learn"
	"github.com/sagekit/sage/pkg/memory"
	"github.com/sagekit/sage/pkg/trace"
)

type scriptedPlanner struct {
	constraints []string
}

func (p *scriptedPlanner) Plan(_ context.Context, _ string, constraints string) ([]trace.PlannedStep, error) {
	p.constraints = append(p.constraints, constraints)
	return researchPlan(), nil
}

// scriptedExecutor replays a canned outcome onto the trace.
type scriptedExecutor struct {
	executed []trace.ExecutedStep
	answer   string
}

func (e *scriptedExecutor) Execute(_ context.Context, tr *trace.Trace) error {
	tr.ExecutedSteps = e.executed
	tr.FinalAnswer = e.answer
	return nil
}

func goodOutcome() *scriptedExecutor {
	return &scriptedExecutor{
		executed: []trace.ExecutedStep{
			{Tool: trace.ToolSearch, Succeeded: true, Output: "Paris is the capital of France"},
			{Tool: trace.ToolSummarize, Succeeded: true, Output: "Paris is the capital"},
		},
		answer: "Paris is the capital of France.",
	}
}

func prematureOutcome() *scriptedExecutor {
	return &scriptedExecutor{answer: "Paris, from what I remember."}
}

func newTestAgent(t *testing.T, executor Executor) (*Agent, *scriptedPlanner, memory.Store) {
	t.Helper()
	planner := &scriptedPlanner{}
	store := memory.NewFileStore(filepath.Join(t.TempDir(), "mistakes.json"))
	return New(planner, executor, store), planner, store
}

func TestRunSuccessfulResearch(t *testing.T) {
	agent, _, store := newTestAgent(t, goodOutcome())

	result, err := agent.Run(context.Background(), "What is the capital of France?")
	require.NoError(t, err)

	assert.True(t, result.Verdict.Passed)
	assert.Equal(t, 1.0, result.Verdict.Score)
	assert.Empty(t, result.Mistakes)
	assert.NoError(t, result.PersistenceErr)
	assert.Equal(t, "Paris is the capital of France.", result.Trace.FinalAnswer)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessfulRuns)
	assert.Equal(t, stats, result.Stats)
}

func TestRunLearnsFromPrematureAnswer(t *testing.T) {
	agent, _, store := newTestAgent(t, prematureOutcome())

	result, err := agent.Run(context.Background(), "What is the capital of France?")
	require.NoError(t, err)

	assert.False(t, result.Verdict.Passed)
	require.NotEmpty(t, result.Mistakes)
	assert.Equal(t, learn.PrematureAnswer, result.Mistakes[0].Type)

	stored, err := store.All()
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, 1, stored[0].Frequency)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 0, stats.SuccessfulRuns)
}

func TestRunInjectsConstraintsAfterRecurrence(t *testing.T) {
	agent, planner, _ := newTestAgent(t, prematureOutcome())

	// Two failing runs push the mistake to the recurring threshold.
	_, err := agent.Run(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	_, err = agent.Run(context.Background(), "What is the capital of Spain?")
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), "What is the capital of Italy?")
	require.NoError(t, err)

	require.Len(t, planner.constraints, 3)
	assert.Empty(t, planner.constraints[0])
	assert.Empty(t, planner.constraints[1])
	assert.Contains(t, planner.constraints[2], "LEARNED CONSTRAINTS")
	assert.NotEmpty(t, result.Constraints)
	assert.GreaterOrEqual(t, result.Constraints[0].Priority, 2)
}

func TestRunMistakeConvergence(t *testing.T) {
	agent, _, store := newTestAgent(t, prematureOutcome())

	for i := 0; i < 4; i++ {
		_, err := agent.Run(context.Background(), "What is the capital of France?")
		require.NoError(t, err)
	}

	stored, err := store.All()
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, 4, stored[0].Frequency)
}

type failingStore struct {
	memory.Store
}

func (f *failingStore) Upsert(learn.Mistake) error {
	return errors.New(errors.PersistenceUnavailable, "disk full")
}

func TestRunSurfacesPersistenceFailure(t *testing.T) {
	planner := &scriptedPlanner{}
	base := memory.NewFileStore(filepath.Join(t.TempDir(), "mistakes.json"))
	agent := New(planner, prematureOutcome(), &failingStore{Store: base})

	result, err := agent.Run(context.Background(), "What is the capital of France?")
	require.NoError(t, err)

	require.Error(t, result.PersistenceErr)
	assert.True(t, errors.HasCode(result.PersistenceErr, errors.PersistenceUnavailable))
	assert.Equal(t, "Paris, from what I remember.", result.Trace.FinalAnswer)

	// RecordRun is skipped once persistence has failed.
	stats, err := base.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRuns)
}

type failingPlanner struct{}

func (failingPlanner) Plan(context.Context, string, string) ([]trace.PlannedStep, error) {
	return nil, errors.New(errors.LLMGenerationFailed, "model down")
}

func TestRunPlannerFailure(t *testing.T) {
	store := memory.NewFileStore(filepath.Join(t.TempDir(), "mistakes.json"))
	agent := New(failingPlanner{}, goodOutcome(), store)

	_, err := agent.Run(context.Background(), "question")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.LLMGenerationFailed))
}
