// Package trace defines the shared record of one research run: the plan
// that was drafted, the steps that actually executed, and the final answer.
package trace

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sagekit/sage/pkg/errors"
)

// ToolName is a closed set of tools the agent can execute. Unrecognized
// names are rejected at construction time via ParseTool.
type ToolName string

const (
	// ToolNone marks a step that needs no tool.
	ToolNone ToolName = ""

	ToolSearch    ToolName = "search"
	ToolSummarize ToolName = "summarize"
)

// KnownTools lists every valid tool name.
func KnownTools() []ToolName {
	return []ToolName{ToolSearch, ToolSummarize}
}

// ParseTool validates a tool name. The empty string parses to ToolNone.
func ParseTool(name string) (ToolName, error) {
	switch ToolName(name) {
	case ToolNone, ToolSearch, ToolSummarize:
		return ToolName(name), nil
	}
	return ToolNone, errors.WithFields(
		errors.New(errors.InvalidInput, "unrecognized tool name"),
		errors.Fields{"tool": name},
	)
}

// IsValid reports whether the tool name belongs to the closed set.
func (t ToolName) IsValid() bool {
	_, err := ParseTool(string(t))
	return err == nil
}

// PlannedStep is a single step in the research plan.
type PlannedStep struct {
	Action    string   `json:"action"`
	Tool      ToolName `json:"tool,omitempty"`
	Optional  bool     `json:"optional,omitempty"`
	Rationale string   `json:"rationale"`
}

// ExecutedStep records one action the executor actually took, in execution
// order. Order here is independent of the plan; a mismatch between the two
// is itself something the evaluator scores.
type ExecutedStep struct {
	Tool      ToolName `json:"tool,omitempty"`
	Succeeded bool     `json:"succeeded"`
	Output    string   `json:"output,omitempty"`
}

// Trace captures a complete research run.
type Trace struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	PlanSteps     []PlannedStep  `json:"plan_steps"`
	ExecutedSteps []ExecutedStep `json:"executed_steps"`
	FinalAnswer   string         `json:"final_answer"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// New creates an empty trace for the given question.
func New(question string) *Trace {
	return &Trace{
		ID:        uuid.New().String(),
		Question:  question,
		StartedAt: time.Now(),
	}
}

// Validate rejects traces that are missing required fields or reference
// tools outside the closed set.
func (t *Trace) Validate() error {
	if t == nil {
		return errors.New(errors.TraceMalformed, "trace is nil")
	}
	if t.Question == "" {
		return errors.New(errors.TraceMalformed, "trace has no question")
	}
	for i, step := range t.PlanSteps {
		if !step.Tool.IsValid() {
			return errors.WithFields(
				errors.New(errors.TraceMalformed, "plan step references unknown tool"),
				errors.Fields{"step": i, "tool": string(step.Tool)},
			)
		}
	}
	for i, step := range t.ExecutedSteps {
		if !step.Tool.IsValid() {
			return errors.WithFields(
				errors.New(errors.TraceMalformed, "executed step references unknown tool"),
				errors.Fields{"step": i, "tool": string(step.Tool)},
			)
		}
	}
	return nil
}

// RequiredTools returns the deduplicated, sorted set of tools the plan
// marks as required (planned with a tool and not flagged optional).
func (t *Trace) RequiredTools() []ToolName {
	seen := make(map[ToolName]bool)
	for _, step := range t.PlanSteps {
		if step.Tool != ToolNone && !step.Optional {
			seen[step.Tool] = true
		}
	}
	return sortedTools(seen)
}

// ExecutedTools returns tool names in actual execution order, restricted
// to steps that used a tool. Failed steps are included; callers that care
// about success filter with SucceededTools.
func (t *Trace) ExecutedTools() []ToolName {
	var tools []ToolName
	for _, step := range t.ExecutedSteps {
		if step.Tool != ToolNone {
			tools = append(tools, step.Tool)
		}
	}
	return tools
}

// SucceededTools returns the deduplicated set of tools that executed with
// Succeeded set.
func (t *Trace) SucceededTools() map[ToolName]bool {
	seen := make(map[ToolName]bool)
	for _, step := range t.ExecutedSteps {
		if step.Tool != ToolNone && step.Succeeded {
			seen[step.Tool] = true
		}
	}
	return seen
}

// SucceededOutputs returns the non-empty outputs of successful steps, in
// execution order.
func (t *Trace) SucceededOutputs() []string {
	var outputs []string
	for _, step := range t.ExecutedSteps {
		if step.Succeeded && step.Output != "" {
			outputs = append(outputs, step.Output)
		}
	}
	return outputs
}

func sortedTools(set map[ToolName]bool) []ToolName {
	tools := make([]ToolName, 0, len(set))
	for tool := range set {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i] < tools[j] })
	return tools
}

// String gives a compact one-line summary for logs.
func (t *Trace) String() string {
	return fmt.Sprintf("trace %s: %q plan=%d executed=%d", t.ID, t.Question, len(t.PlanSteps), len(t.ExecutedSteps))
}
