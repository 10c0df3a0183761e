package learn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/evaluate"
	"github.com/sagekit/sage/pkg/trace"
)

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func evalAndLearn(t *testing.T, tr *trace.Trace) []Mistake {
	t.Helper()
	verdict := evaluate.NewEvaluator().Evaluate(tr)
	return NewLearner(WithClock(fixedClock)).Learn(tr, verdict)
}

func TestLearnPassingVerdictEmitsNothing(t *testing.T) {
	tr := trace.New("What is the capital of France?")
	tr.PlanSteps = []trace.PlannedStep{{Action: "search", Tool: trace.ToolSearch}}
	tr.ExecutedSteps = []trace.ExecutedStep{
		{Tool: trace.ToolSearch, Succeeded: true, Output: "Paris is the capital of France."},
	}
	tr.FinalAnswer = "The capital of France is Paris."

	assert.Empty(t, evalAndLearn(t, tr))
}

func TestLearnPrematureAnswerSubsumesToolSkipped(t *testing.T) {
	// Empty executed steps with a confident answer: both required tools
	// and answer support fail, but only PREMATURE_ANSWER is emitted.
	tr := trace.New("What is the capital of France?")
	tr.FinalAnswer = "The capital of France is Paris."

	mistakes := evalAndLearn(t, tr)

	require.Len(t, mistakes, 1)
	m := mistakes[0]
	assert.Equal(t, PrematureAnswer, m.Type)
	assert.Equal(t, "PREMATURE_ANSWER", m.IdentityKey)
	assert.Equal(t, "NEVER answer without using a research tool first", m.CorrectiveRule)
	assert.Equal(t, 1, m.Frequency)
	assert.Equal(t, fixedTime, m.LastSeen)
}

func TestLearnWrongOrder(t *testing.T) {
	tr := trace.New("What is the capital of France?")
	tr.PlanSteps = []trace.PlannedStep{
		{Action: "search", Tool: trace.ToolSearch},
		{Action: "summarize", Tool: trace.ToolSummarize},
	}
	tr.ExecutedSteps = []trace.ExecutedStep{
		{Tool: trace.ToolSummarize, Succeeded: true, Output: "Key point: Paris is the capital of France."},
		{Tool: trace.ToolSearch, Succeeded: true, Output: "Paris is the capital and largest city of France."},
	}
	tr.FinalAnswer = "The capital of France is Paris."

	// Only the ordering criterion fails here, which still passes at the
	// default threshold; raise it so the learner sees a failing verdict.
	verdict := evaluate.NewEvaluator(evaluate.WithPassThreshold(0.9)).Evaluate(tr)
	require.False(t, verdict.Passed)
	mistakes := NewLearner(WithClock(fixedClock)).Learn(tr, verdict)

	require.Len(t, mistakes, 1)
	assert.Equal(t, WrongOrder, mistakes[0].Type)
	assert.Equal(t, "WRONG_ORDER:search,summarize", mistakes[0].IdentityKey)
	assert.Equal(t, "Execute search BEFORE summarize", mistakes[0].CorrectiveRule)
}

func TestLearnToolSkipped(t *testing.T) {
	// A step executed but the required search tool never ran successfully.
	tr := trace.New("Who invented the telephone?")
	tr.PlanSteps = []trace.PlannedStep{{Action: "search", Tool: trace.ToolSearch}}
	tr.ExecutedSteps = []trace.ExecutedStep{{Succeeded: true, Output: "thinking aloud about the telephone question"}}
	tr.FinalAnswer = "No idea at all."

	verdict := evaluate.NewEvaluator().Evaluate(tr)
	require.False(t, verdict.Passed)
	mistakes := NewLearner(WithClock(fixedClock)).Learn(tr, verdict)

	require.NotEmpty(t, mistakes)
	assert.Equal(t, ToolSkipped, mistakes[0].Type)
	assert.Equal(t, "TOOL_SKIPPED:search", mistakes[0].IdentityKey)
	assert.Equal(t, "ALWAYS execute search before attempting to answer", mistakes[0].CorrectiveRule)
}

func TestLearnUnsupportedClaim(t *testing.T) {
	tr := trace.New("What is the population of Tokyo?")
	tr.PlanSteps = []trace.PlannedStep{{Action: "search", Tool: trace.ToolSearch}}
	tr.ExecutedSteps = []trace.ExecutedStep{
		{Tool: trace.ToolSearch, Succeeded: true, Output: "Tokyo has roughly 14 million residents."},
	}
	tr.FinalAnswer = "Berlin, obviously."

	// A lone support failure scores 0.667 and passes at the default
	// threshold; raise it so the failing verdict reaches the learner.
	verdict := evaluate.NewEvaluator(evaluate.WithPassThreshold(0.9)).Evaluate(tr)
	require.False(t, verdict.Passed)
	mistakes := NewLearner(WithClock(fixedClock)).Learn(tr, verdict)

	require.Len(t, mistakes, 1)
	assert.Equal(t, UnsupportedClaim, mistakes[0].Type)
	assert.Equal(t, "UNSUPPORTED_CLAIM", mistakes[0].IdentityKey)
	assert.Equal(t, "Base the final answer strictly on tool output", mistakes[0].CorrectiveRule)
}

func TestLearnPriorityOrdering(t *testing.T) {
	// Skipped search and reversed summarize-only execution: TOOL_SKIPPED
	// outranks WRONG_ORDER in the emitted sequence.
	tr := trace.New("What is the capital of France?")
	tr.PlanSteps = []trace.PlannedStep{
		{Action: "search", Tool: trace.ToolSearch},
		{Action: "summarize", Tool: trace.ToolSummarize},
	}
	tr.ExecutedSteps = []trace.ExecutedStep{
		{Tool: trace.ToolSummarize, Succeeded: true, Output: "nothing to summarize"},
		{Tool: trace.ToolSearch, Succeeded: false},
	}
	tr.FinalAnswer = "Berlin, obviously."

	mistakes := evalAndLearn(t, tr)

	require.Len(t, mistakes, 3)
	assert.Equal(t, ToolSkipped, mistakes[0].Type)
	assert.Equal(t, WrongOrder, mistakes[1].Type)
	assert.Equal(t, UnsupportedClaim, mistakes[2].Type)
}

func TestLearnNilInputs(t *testing.T) {
	l := NewLearner()
	assert.Nil(t, l.Learn(nil, nil))
	assert.Nil(t, l.Learn(trace.New("q"), nil))
}

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		name  string
		mt    MistakeType
		tools []trace.ToolName
		want  string
	}{
		{"no tools", PrematureAnswer, nil, "PREMATURE_ANSWER"},
		{"single tool", ToolSkipped, []trace.ToolName{trace.ToolSearch}, "TOOL_SKIPPED:search"},
		{"tools sorted", WrongOrder, []trace.ToolName{trace.ToolSummarize, trace.ToolSearch}, "WRONG_ORDER:search,summarize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentityKey(tt.mt, tt.tools))
		})
	}
}

func TestParseMistakeType(t *testing.T) {
	for _, valid := range []string{"TOOL_SKIPPED", "WRONG_ORDER", "PREMATURE_ANSWER", "UNSUPPORTED_CLAIM"} {
		mt, err := ParseMistakeType(valid)
		require.NoError(t, err)
		assert.Equal(t, MistakeType(valid), mt)
	}

	_, err := ParseMistakeType("HALLUCINATION")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.UnknownMistakeType))
}
