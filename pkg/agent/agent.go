// Package agent wires the full research loop: compile learned
// constraints, plan, execute, evaluate, classify mistakes, and persist
// them so the next run plans better.
package agent

import (
	"context"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/evaluate"
	"github.com/sagekit/sage/pkg/learn"
	"github.com/sagekit/sage/pkg/logging"
	"github.com/sagekit/sage/pkg/memory"
	"github.com/sagekit/sage/pkg/trace"
)

// Result is everything one run produced: the trace, its verdict, any
// classified mistakes, and the constraints that were active while
// planning. PersistenceErr is set when mistakes could not be written;
// the answer itself is still valid.
type Result struct {
	Trace          *trace.Trace
	Verdict        *evaluate.Verdict
	Mistakes       []learn.Mistake
	Constraints    []memory.Constraint
	Stats          memory.RunStats
	PersistenceErr error
}

// Agent runs research questions through the self-improvement loop.
type Agent struct {
	planner   Planner
	executor  Executor
	evaluator *evaluate.Evaluator
	learner   *learn.Learner
	modifier  *memory.BehaviorModifier
	store     memory.Store
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithEvaluator overrides the default evaluator.
func WithEvaluator(e *evaluate.Evaluator) AgentOption {
	return func(a *Agent) {
		if e != nil {
			a.evaluator = e
		}
	}
}

// WithLearner overrides the default learner.
func WithLearner(l *learn.Learner) AgentOption {
	return func(a *Agent) {
		if l != nil {
			a.learner = l
		}
	}
}

// WithModifier overrides the default behavior modifier.
func WithModifier(m *memory.BehaviorModifier) AgentOption {
	return func(a *Agent) {
		if m != nil {
			a.modifier = m
		}
	}
}

// New creates an agent over the given planner, executor, and store.
func New(planner Planner, executor Executor, store memory.Store, opts ...AgentOption) *Agent {
	a := &Agent{
		planner:   planner,
		executor:  executor,
		evaluator: evaluate.NewEvaluator(),
		learner:   learn.NewLearner(),
		modifier:  memory.NewBehaviorModifier(),
		store:     store,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run answers one question end to end. The loop never aborts on a failed
// verdict; failure is the input the learning half consumes. Persistence
// failures are carried on the Result so the caller can still show the
// answer.
func (a *Agent) Run(ctx context.Context, question string) (*Result, error) {
	tr := trace.New(question)
	ctx = logging.WithRunID(ctx, tr.ID)
	logger := logging.GetLogger()

	constraints, err := a.modifier.CompileConstraints(a.store)
	if err != nil {
		logger.Warn(ctx, "could not compile constraints, planning without them: %v", err)
		constraints = nil
	}
	if len(constraints) > 0 {
		logger.Info(ctx, "planning with %d learned constraints", len(constraints))
	}

	plan, err := a.planner.Plan(ctx, question, memory.FormatForInjection(constraints))
	if err != nil {
		return nil, err
	}
	tr.PlanSteps = plan

	if err := a.executor.Execute(ctx, tr); err != nil {
		return nil, err
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}

	verdict := a.evaluator.Evaluate(tr)
	logger.Info(ctx, "verdict: score=%.2f passed=%t", verdict.Score, verdict.Passed)

	result := &Result{
		Trace:       tr,
		Verdict:     verdict,
		Constraints: constraints,
	}

	result.Mistakes = a.learner.Learn(tr, verdict)
	for _, m := range result.Mistakes {
		logger.Info(ctx, "learned mistake %s: %s", m.Type, m.Description)
		if err := a.store.Upsert(m); err != nil {
			result.PersistenceErr = errors.Wrap(err, errors.PersistenceUnavailable, "failed to persist mistake")
			break
		}
	}

	if result.PersistenceErr == nil {
		if err := a.store.RecordRun(verdict.Passed); err != nil {
			result.PersistenceErr = errors.Wrap(err, errors.PersistenceUnavailable, "failed to record run")
		}
	}
	if result.PersistenceErr != nil {
		logger.Error(ctx, "persistence failed, learning lost for this run: %v", result.PersistenceErr)
	}

	if stats, err := a.store.Stats(); err == nil {
		result.Stats = stats
	}

	return result, nil
}
