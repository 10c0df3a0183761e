package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/llm"
	"github.com/sagekit/sage/pkg/logging"
	"github.com/sagekit/sage/pkg/tools"
	"github.com/sagekit/sage/pkg/trace"
)

// Executor runs a planned trace, recording executed steps and the final
// answer on the trace itself.
type Executor interface {
	Execute(ctx context.Context, tr *trace.Trace) error
}

const answerFromDataPrompt = `Answer the question using ONLY the research findings below. If the
findings do not contain the answer, say so rather than guessing.

Question: %s

Findings:
%s

Answer:`

const answerDirectPrompt = `Answer the question concisely.

Question: %s

Answer:`

// ToolExecutor walks the plan step by step, running each step's tool
// from the registry and drafting the final answer from accumulated tool
// output. Tool failures are recorded on the trace, not returned: a failed
// step is evidence for the evaluator, not a reason to abort the run.
type ToolExecutor struct {
	registry *tools.Registry
	client   llm.Client

	mistakeRate float64
	rng         *rand.Rand
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithMistakeRate makes the executor deliberately skip all tool steps on
// a fraction of runs, answering from the model alone. Demo mode uses
// this to give the learning loop recurring material.
func WithMistakeRate(rate float64, seed int64) ExecutorOption {
	return func(e *ToolExecutor) {
		if rate > 0 {
			e.mistakeRate = rate
			e.rng = rand.New(rand.NewSource(seed))
		}
	}
}

// NewToolExecutor creates an executor over the given tool registry.
func NewToolExecutor(registry *tools.Registry, client llm.Client, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{registry: registry, client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Executor.
func (e *ToolExecutor) Execute(ctx context.Context, tr *trace.Trace) error {
	if tr == nil || len(tr.PlanSteps) == 0 {
		return errors.New(errors.InvalidInput, "nothing to execute")
	}

	logger := logging.GetLogger()

	if e.mistakeRate > 0 && e.rng.Float64() < e.mistakeRate {
		logger.Debug(ctx, "injecting deliberate mistake: skipping all tool steps")
		return e.answerWithout(ctx, tr)
	}

	var gathered []string
	for i, step := range tr.PlanSteps {
		if step.Tool == trace.ToolNone {
			continue
		}

		input := e.inputFor(step.Tool, tr.Question, gathered)
		output, err := e.runTool(ctx, step.Tool, input)
		executed := trace.ExecutedStep{Tool: step.Tool, Succeeded: err == nil, Output: output}
		if err != nil {
			if errors.HasCode(err, errors.Canceled) {
				return err
			}
			logger.Warn(ctx, "step %d (%s) failed: %v", i, step.Tool, err)
			executed.Output = ""
		} else {
			gathered = append(gathered, output)
		}
		tr.ExecutedSteps = append(tr.ExecutedSteps, executed)
	}

	answer, err := e.draftAnswer(ctx, tr.Question, gathered)
	if err != nil {
		return err
	}
	tr.FinalAnswer = answer
	tr.CompletedAt = time.Now()
	return nil
}

// inputFor picks what a tool runs against: search gets the question,
// summarize gets everything gathered so far.
func (e *ToolExecutor) inputFor(tool trace.ToolName, question string, gathered []string) string {
	if tool == trace.ToolSummarize {
		return strings.Join(gathered, "\n\n")
	}
	return question
}

func (e *ToolExecutor) runTool(ctx context.Context, name trace.ToolName, input string) (string, error) {
	tool, err := e.registry.Get(name)
	if err != nil {
		return "", err
	}
	return tool.Execute(ctx, input)
}

func (e *ToolExecutor) draftAnswer(ctx context.Context, question string, gathered []string) (string, error) {
	var prompt string
	if len(gathered) > 0 {
		prompt = fmt.Sprintf(answerFromDataPrompt, question, strings.Join(gathered, "\n\n"))
	} else {
		prompt = fmt.Sprintf(answerDirectPrompt, question)
	}

	answer, err := e.client.Generate(ctx, prompt)
	if err != nil {
		return "", errors.Wrap(err, errors.LLMGenerationFailed, "failed to draft answer")
	}
	return strings.TrimSpace(answer), nil
}

// answerWithout skips every tool step and answers from the model alone,
// leaving the executed steps empty.
func (e *ToolExecutor) answerWithout(ctx context.Context, tr *trace.Trace) error {
	answer, err := e.draftAnswer(ctx, tr.Question, nil)
	if err != nil {
		return err
	}
	tr.FinalAnswer = answer
	tr.CompletedAt = time.Now()
	return nil
}

var _ Executor = (*ToolExecutor)(nil)
