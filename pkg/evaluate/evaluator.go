// Package evaluate scores execution traces against deterministic criteria.
//
// The evaluator is a pure function of its input: no side effects, no
// external calls, and identical traces always produce identical verdicts.
// Any criterion that cannot be decided defaults to failed rather than
// returning an error, so scoring is always defined.
package evaluate

import (
	"fmt"

	"github.com/sagekit/sage/pkg/trace"
)

// CriterionName identifies one of the three evaluation criteria.
type CriterionName string

const (
	CriterionRequiredToolsUsed CriterionName = "required_tools_used"
	CriterionCorrectSequence   CriterionName = "correct_sequence"
	CriterionAnswerSupported   CriterionName = "answer_supported_by_data"
)

// criterionOrder fixes the iteration order for deterministic output.
var criterionOrder = []CriterionName{
	CriterionRequiredToolsUsed,
	CriterionCorrectSequence,
	CriterionAnswerSupported,
}

// CriterionResult records the outcome of a single criterion.
type CriterionResult struct {
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// Verdict is the evaluator's judgment of one trace. Score is always the
// weighted fraction of passed criteria; it is never set directly.
type Verdict struct {
	Criteria map[CriterionName]CriterionResult `json:"criteria"`
	Score    float64                           `json:"score"`
	Passed   bool                              `json:"passed"`
}

// FailedCriteria returns the names of failing criteria in a fixed order.
func (v *Verdict) FailedCriteria() []CriterionName {
	var failed []CriterionName
	for _, name := range criterionOrder {
		if result, ok := v.Criteria[name]; ok && !result.Passed {
			failed = append(failed, name)
		}
	}
	return failed
}

// ResearchDetector decides whether a question needs external research.
type ResearchDetector func(question string) bool

// SupportMatcher decides whether the final answer is grounded in the
// outputs the tools produced. It is a best-effort signal, not a proof.
type SupportMatcher func(answer string, outputs []string) bool

// Evaluator scores traces. Construct with NewEvaluator; the zero value is
// not usable.
type Evaluator struct {
	threshold float64
	weights   map[CriterionName]float64
	detector  ResearchDetector
	matcher   SupportMatcher
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPassThreshold overrides the default pass threshold of 0.66. The
// comparison is inclusive: score >= threshold passes.
func WithPassThreshold(threshold float64) Option {
	return func(e *Evaluator) {
		e.threshold = threshold
	}
}

// WithResearchDetector replaces the default research-question heuristic.
func WithResearchDetector(detector ResearchDetector) Option {
	return func(e *Evaluator) {
		if detector != nil {
			e.detector = detector
		}
	}
}

// WithSupportMatcher replaces the default answer-support heuristic.
func WithSupportMatcher(matcher SupportMatcher) Option {
	return func(e *Evaluator) {
		if matcher != nil {
			e.matcher = matcher
		}
	}
}

// DefaultPassThreshold is the minimum score for a passing verdict.
const DefaultPassThreshold = 0.66

// NewEvaluator creates an evaluator with equal criterion weights.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		threshold: DefaultPassThreshold,
		weights: map[CriterionName]float64{
			CriterionRequiredToolsUsed: 1.0 / 3.0,
			CriterionCorrectSequence:   1.0 / 3.0,
			CriterionAnswerSupported:   1.0 / 3.0,
		},
		detector: IsResearchQuestion,
		matcher:  TokenOverlapMatcher,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores a trace. It is total over well-formed traces; callers
// reject malformed traces with trace.Validate before scoring.
func (e *Evaluator) Evaluate(tr *trace.Trace) *Verdict {
	criteria := map[CriterionName]CriterionResult{
		CriterionRequiredToolsUsed: e.checkRequiredTools(tr),
		CriterionCorrectSequence:   e.checkSequence(tr),
		CriterionAnswerSupported:   e.checkAnswerSupport(tr),
	}

	score := scoreOf(criteria)
	return &Verdict{
		Criteria: criteria,
		Score:    score,
		Passed:   score >= e.threshold,
	}
}

// scoreOf computes the weighted fraction of passed criteria. Score is a
// pure function of the criteria map.
func scoreOf(criteria map[CriterionName]CriterionResult) float64 {
	var total, passed float64
	for _, result := range criteria {
		total += result.Weight
		if result.Passed {
			passed += result.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return passed / total
}

func (e *Evaluator) checkRequiredTools(tr *trace.Trace) CriterionResult {
	result := CriterionResult{Weight: e.weights[CriterionRequiredToolsUsed]}

	// An answer produced without executing anything never satisfies the
	// tooling requirement, regardless of what the plan asked for.
	if len(tr.ExecutedSteps) == 0 && tr.FinalAnswer != "" {
		result.Detail = "answer was produced without executing any steps"
		return result
	}

	required := make(map[trace.ToolName]bool)
	for _, tool := range tr.RequiredTools() {
		required[tool] = true
	}
	// A research-requiring question needs the search tool even when the
	// plan itself omitted it; a plan that skips the tool is the failure
	// this criterion exists to catch.
	if e.detector(tr.Question) {
		required[trace.ToolSearch] = true
	}

	succeeded := tr.SucceededTools()
	var missing []string
	for _, tool := range trace.KnownTools() {
		if required[tool] && !succeeded[tool] {
			missing = append(missing, string(tool))
		}
	}

	if len(missing) > 0 {
		result.Detail = fmt.Sprintf("required tools not executed successfully: %v", missing)
		return result
	}

	result.Passed = true
	result.Detail = "all required tools executed successfully"
	return result
}

func (e *Evaluator) checkSequence(tr *trace.Trace) CriterionResult {
	result := CriterionResult{Weight: e.weights[CriterionCorrectSequence]}

	firstSearch, firstSummarize := -1, -1
	for i, tool := range tr.ExecutedTools() {
		if tool == trace.ToolSearch && firstSearch == -1 {
			firstSearch = i
		}
		if tool == trace.ToolSummarize && firstSummarize == -1 {
			firstSummarize = i
		}
	}

	// Ordering only binds when search was actually used; with neither
	// tool in play the criterion passes vacuously.
	if firstSearch == -1 || firstSummarize == -1 {
		result.Passed = true
		result.Detail = "no ordering constraint applies"
		return result
	}

	if firstSearch < firstSummarize {
		result.Passed = true
		result.Detail = "search executed before summarize"
		return result
	}

	result.Detail = "summarize executed before search"
	return result
}

func (e *Evaluator) checkAnswerSupport(tr *trace.Trace) CriterionResult {
	result := CriterionResult{Weight: e.weights[CriterionAnswerSupported]}

	if len(tr.ExecutedSteps) == 0 {
		result.Detail = "answer was produced with zero executed steps"
		return result
	}

	outputs := tr.SucceededOutputs()
	if len(outputs) == 0 {
		result.Detail = "no executed step produced output"
		return result
	}

	if !e.matcher(tr.FinalAnswer, outputs) {
		result.Detail = "answer shares no verifiable content with tool output"
		return result
	}

	result.Passed = true
	result.Detail = "answer is grounded in tool output"
	return result
}
