package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagekit/sage/pkg/errors"
)

func TestParseTool(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ToolName
		wantErr bool
	}{
		{"search", "search", ToolSearch, false},
		{"summarize", "summarize", ToolSummarize, false},
		{"empty is no tool", "", ToolNone, false},
		{"unknown", "web_scrape", ToolNone, true},
		{"case sensitive", "Search", ToolNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTool(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.InvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid trace", func(t *testing.T) {
		tr := New("What is the capital of France?")
		tr.PlanSteps = []PlannedStep{{Action: "search the web", Tool: ToolSearch, Rationale: "need facts"}}
		tr.ExecutedSteps = []ExecutedStep{{Tool: ToolSearch, Succeeded: true, Output: "Paris"}}
		tr.FinalAnswer = "Paris"
		assert.NoError(t, tr.Validate())
	})

	t.Run("missing question", func(t *testing.T) {
		tr := &Trace{FinalAnswer: "Paris"}
		err := tr.Validate()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.TraceMalformed))
	})

	t.Run("nil trace", func(t *testing.T) {
		var tr *Trace
		err := tr.Validate()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.TraceMalformed))
	})

	t.Run("unknown tool in executed step", func(t *testing.T) {
		tr := New("q")
		tr.ExecutedSteps = []ExecutedStep{{Tool: ToolName("browse"), Succeeded: true}}
		err := tr.Validate()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.TraceMalformed))
	})
}

func TestRequiredTools(t *testing.T) {
	tr := New("q")
	tr.PlanSteps = []PlannedStep{
		{Action: "think", Tool: ToolNone},
		{Action: "search", Tool: ToolSearch},
		{Action: "search again", Tool: ToolSearch},
		{Action: "maybe summarize", Tool: ToolSummarize, Optional: true},
	}

	assert.Equal(t, []ToolName{ToolSearch}, tr.RequiredTools())
}

func TestExecutedToolsPreservesOrder(t *testing.T) {
	tr := New("q")
	tr.ExecutedSteps = []ExecutedStep{
		{Tool: ToolSummarize, Succeeded: true},
		{Tool: ToolNone, Succeeded: true},
		{Tool: ToolSearch, Succeeded: false},
	}

	assert.Equal(t, []ToolName{ToolSummarize, ToolSearch}, tr.ExecutedTools())
}

func TestSucceededHelpers(t *testing.T) {
	tr := New("q")
	tr.ExecutedSteps = []ExecutedStep{
		{Tool: ToolSearch, Succeeded: true, Output: "result one"},
		{Tool: ToolSummarize, Succeeded: false, Output: "ignored"},
		{Tool: ToolSearch, Succeeded: true, Output: ""},
	}

	assert.Equal(t, map[ToolName]bool{ToolSearch: true}, tr.SucceededTools())
	assert.Equal(t, []string{"result one"}, tr.SucceededOutputs())
}
