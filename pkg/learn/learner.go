// Package learn converts failing verdicts into typed, de-duplicated
// mistake records. The classification is a fixed rule table: each failing
// criterion maps to exactly one mistake type, with a priority tie-break so
// a single run never emits redundant constraints.
package learn

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/evaluate"
	"github.com/sagekit/sage/pkg/trace"
)

// MistakeType is the closed set of failure patterns the learner emits.
type MistakeType string

const (
	ToolSkipped      MistakeType = "TOOL_SKIPPED"
	WrongOrder       MistakeType = "WRONG_ORDER"
	PrematureAnswer  MistakeType = "PREMATURE_ANSWER"
	UnsupportedClaim MistakeType = "UNSUPPORTED_CLAIM"
)

// ParseMistakeType validates a stored mistake type. An unrecognized value
// is an invariant violation, not a recoverable condition.
func ParseMistakeType(s string) (MistakeType, error) {
	switch MistakeType(s) {
	case ToolSkipped, WrongOrder, PrematureAnswer, UnsupportedClaim:
		return MistakeType(s), nil
	}
	return "", errors.WithFields(
		errors.New(errors.UnknownMistakeType, "unrecognized mistake type"),
		errors.Fields{"mistake_type": s},
	)
}

// priority orders mistake types from most to least subsuming.
func (m MistakeType) priority() int {
	switch m {
	case PrematureAnswer:
		return 0
	case ToolSkipped:
		return 1
	case WrongOrder:
		return 2
	case UnsupportedClaim:
		return 3
	}
	return 4
}

// Mistake is a classified, de-duplicated failure pattern. Two mistakes
// with the same IdentityKey are the same logical record.
type Mistake struct {
	Type           MistakeType      `json:"mistake_type"`
	Description    string           `json:"description"`
	CorrectiveRule string           `json:"corrective_rule"`
	Tools          []trace.ToolName `json:"tools,omitempty"`
	IdentityKey    string           `json:"identity_key"`
	Frequency      int              `json:"frequency"`
	LastSeen       time.Time        `json:"last_seen"`
}

// IdentityKey derives the stable de-duplication key for a mistake: the
// type alone when no tools are involved, otherwise the type joined with
// the sorted tool names. Description variance never affects identity.
func IdentityKey(mt MistakeType, tools []trace.ToolName) string {
	if len(tools) == 0 {
		return string(mt)
	}
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = string(tool)
	}
	sort.Strings(names)
	return string(mt) + ":" + strings.Join(names, ",")
}

// Learner classifies failing verdicts. The zero value is not usable;
// construct with NewLearner.
type Learner struct {
	now func() time.Time
}

// Option configures a Learner.
type Option func(*Learner)

// WithClock overrides the timestamp source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLearner creates a learner.
func NewLearner(opts ...Option) *Learner {
	l := &Learner{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Learn maps each failing criterion of the verdict to one mistake. It
// returns nil for passing verdicts. Output is ordered by mistake priority
// and is deterministic for identical inputs apart from timestamps.
func (l *Learner) Learn(tr *trace.Trace, verdict *evaluate.Verdict) []Mistake {
	if tr == nil || verdict == nil || verdict.Passed {
		return nil
	}

	var mistakes []Mistake
	for _, criterion := range verdict.FailedCriteria() {
		switch criterion {
		case evaluate.CriterionRequiredToolsUsed:
			mistakes = append(mistakes, l.toolSkipped(tr))
		case evaluate.CriterionCorrectSequence:
			mistakes = append(mistakes, l.wrongOrder(tr))
		case evaluate.CriterionAnswerSupported:
			if len(tr.ExecutedSteps) == 0 {
				mistakes = append(mistakes, l.prematureAnswer(tr))
			} else {
				mistakes = append(mistakes, l.unsupportedClaim(tr))
			}
		}
	}

	// PREMATURE_ANSWER subsumes TOOL_SKIPPED: answering with zero
	// executed steps already implies the required tool was skipped.
	if containsType(mistakes, PrematureAnswer) {
		mistakes = dropType(mistakes, ToolSkipped)
	}

	sort.SliceStable(mistakes, func(i, j int) bool {
		return mistakes[i].Type.priority() < mistakes[j].Type.priority()
	})
	return mistakes
}

func (l *Learner) toolSkipped(tr *trace.Trace) Mistake {
	missing := missingRequiredTools(tr)
	tool := trace.ToolSearch
	if len(missing) > 0 {
		tool = missing[0]
	}
	return l.newMistake(
		ToolSkipped,
		missing,
		fmt.Sprintf("failed to execute %s for question: %q", tool, tr.Question),
		fmt.Sprintf("ALWAYS execute %s before attempting to answer", tool),
	)
}

func (l *Learner) wrongOrder(tr *trace.Trace) Mistake {
	return l.newMistake(
		WrongOrder,
		[]trace.ToolName{trace.ToolSearch, trace.ToolSummarize},
		fmt.Sprintf("tools executed in the wrong order for question: %q", tr.Question),
		fmt.Sprintf("Execute %s BEFORE %s", trace.ToolSearch, trace.ToolSummarize),
	)
}

func (l *Learner) prematureAnswer(tr *trace.Trace) Mistake {
	return l.newMistake(
		PrematureAnswer,
		nil,
		fmt.Sprintf("answered without gathering any data for question: %q", tr.Question),
		"NEVER answer without using a research tool first",
	)
}

func (l *Learner) unsupportedClaim(tr *trace.Trace) Mistake {
	return l.newMistake(
		UnsupportedClaim,
		nil,
		fmt.Sprintf("answer is not grounded in tool output for question: %q", tr.Question),
		"Base the final answer strictly on tool output",
	)
}

func (l *Learner) newMistake(mt MistakeType, tools []trace.ToolName, description, rule string) Mistake {
	sorted := make([]trace.ToolName, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Mistake{
		Type:           mt,
		Description:    description,
		CorrectiveRule: rule,
		Tools:          sorted,
		IdentityKey:    IdentityKey(mt, sorted),
		Frequency:      1,
		LastSeen:       l.now(),
	}
}

// missingRequiredTools mirrors the evaluator's required-tools view: tools
// the plan requires, plus search for research questions, minus what
// actually succeeded.
func missingRequiredTools(tr *trace.Trace) []trace.ToolName {
	required := make(map[trace.ToolName]bool)
	for _, tool := range tr.RequiredTools() {
		required[tool] = true
	}
	if evaluate.IsResearchQuestion(tr.Question) {
		required[trace.ToolSearch] = true
	}

	succeeded := tr.SucceededTools()
	var missing []trace.ToolName
	for _, tool := range trace.KnownTools() {
		if required[tool] && !succeeded[tool] {
			missing = append(missing, tool)
		}
	}
	return missing
}

func containsType(mistakes []Mistake, mt MistakeType) bool {
	for _, m := range mistakes {
		if m.Type == mt {
			return true
		}
	}
	return false
}

func dropType(mistakes []Mistake, mt MistakeType) []Mistake {
	var kept []Mistake
	for _, m := range mistakes {
		if m.Type != mt {
			kept = append(kept, m)
		}
	}
	return kept
}
