package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/llm"
	"github.com/sagekit/sage/pkg/logging"
	"github.com/sagekit/sage/pkg/trace"
)

// Planner drafts a research plan for a question. Compiled constraints
// arrive as a preformatted prompt block; an empty string means no
// constraints have been learned yet.
type Planner interface {
	Plan(ctx context.Context, question string, constraints string) ([]trace.PlannedStep, error)
}

const plannerPromptTemplate = `You are a research planner. Draft a short plan to answer the question
below using the available tools.

Available tools:
- search: query the web for current information
- summarize: condense raw search output into key facts

%sQuestion: %s

Respond with ONLY a JSON array of steps. Each step has:
- "action": what the step does, in a few words
- "tool": "search", "summarize", or "" for steps needing no tool
- "optional": true if the step may be skipped
- "rationale": why the step is needed

Research questions must search before answering, and summarize only
after searching.`

// LLMPlanner drafts plans with a language model and falls back to a
// fixed search-then-summarize plan when the model response cannot be
// parsed.
type LLMPlanner struct {
	client llm.Client
}

// NewLLMPlanner creates a model-backed planner.
func NewLLMPlanner(client llm.Client) *LLMPlanner {
	return &LLMPlanner{client: client}
}

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, question string, constraints string) ([]trace.PlannedStep, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New(errors.InvalidInput, "question is empty")
	}

	constraintBlock := ""
	if constraints != "" {
		constraintBlock = constraints + "\n"
	}
	prompt := fmt.Sprintf(plannerPromptTemplate, constraintBlock, question)

	response, err := p.client.Generate(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, errors.LLMGenerationFailed, "planning failed")
	}

	steps, err := parsePlan(response)
	if err != nil {
		logging.GetLogger().Warn(ctx, "unparseable plan, using fallback: %v", err)
		return fallbackPlan(), nil
	}
	return steps, nil
}

// parsePlan decodes the model's JSON plan, tolerating surrounding prose
// and markdown code fences.
func parsePlan(response string) ([]trace.PlannedStep, error) {
	raw := extractJSONArray(response)
	if raw == "" {
		return nil, errors.New(errors.InvalidResponse, "response contains no JSON array")
	}

	var decoded []struct {
		Action    string `json:"action"`
		Tool      string `json:"tool"`
		Optional  bool   `json:"optional"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to decode plan JSON")
	}
	if len(decoded) == 0 {
		return nil, errors.New(errors.InvalidResponse, "plan is empty")
	}

	steps := make([]trace.PlannedStep, 0, len(decoded))
	for i, d := range decoded {
		tool, err := trace.ParseTool(d.Tool)
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.InvalidResponse, "plan step references unknown tool"),
				errors.Fields{"step": i},
			)
		}
		if strings.TrimSpace(d.Action) == "" {
			return nil, errors.New(errors.InvalidResponse, "plan step has no action")
		}
		steps = append(steps, trace.PlannedStep{
			Action:    strings.TrimSpace(d.Action),
			Tool:      tool,
			Optional:  d.Optional,
			Rationale: strings.TrimSpace(d.Rationale),
		})
	}
	return steps, nil
}

// extractJSONArray pulls the first top-level JSON array out of the
// response, stripping any markdown code fences around it.
func extractJSONArray(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// fallbackPlan is the deterministic plan used when the model response
// cannot be decoded: research first, condense, then answer.
func fallbackPlan() []trace.PlannedStep {
	return []trace.PlannedStep{
		{
			Action:    "Search the web for relevant information",
			Tool:      trace.ToolSearch,
			Rationale: "The answer must be grounded in current data",
		},
		{
			Action:    "Summarize the search results",
			Tool:      trace.ToolSummarize,
			Rationale: "Condense raw results into key facts",
		},
		{
			Action:    "Draft the final answer from the summary",
			Rationale: "Answer strictly from gathered facts",
		},
	}
}

var _ Planner = (*LLMPlanner)(nil)
