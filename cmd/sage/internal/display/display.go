// Package display renders agent results for the terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sagekit/sage/pkg/agent"
	"github.com/sagekit/sage/pkg/evaluate"
	"github.com/sagekit/sage/pkg/memory"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorSuccess = lipgloss.Color("#2CD7A1")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C6C6C")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)

	answerBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
)

// Result renders one run: the answer, the verdict, and anything learned.
func Result(result *agent.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Answer"))
	b.WriteString("\n")
	b.WriteString(answerBox.Render(result.Trace.FinalAnswer))
	b.WriteString("\n\n")

	b.WriteString(verdictLine(result))
	b.WriteString("\n")

	for _, name := range []evaluate.CriterionName{
		evaluate.CriterionRequiredToolsUsed,
		evaluate.CriterionCorrectSequence,
		evaluate.CriterionAnswerSupported,
	} {
		criterion, ok := result.Verdict.Criteria[name]
		if !ok {
			continue
		}
		mark := successStyle.Render("✓")
		if !criterion.Passed {
			mark = errorStyle.Render("✗")
		}
		fmt.Fprintf(&b, "  %s %s", mark, name)
		if criterion.Detail != "" {
			b.WriteString(mutedStyle.Render("  " + criterion.Detail))
		}
		b.WriteString("\n")
	}

	if len(result.Mistakes) > 0 {
		b.WriteString("\n")
		b.WriteString(warningStyle.Render("Learned from this run:"))
		b.WriteString("\n")
		for _, m := range result.Mistakes {
			fmt.Fprintf(&b, "  - [%s] %s\n", m.Type, m.Description)
		}
	}

	if len(result.Constraints) > 0 {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("Planned under %d learned constraints", len(result.Constraints))))
		b.WriteString("\n")
	}

	if result.PersistenceErr != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Warning: learning was not persisted: %v", result.PersistenceErr)))
		b.WriteString("\n")
	}

	return b.String()
}

func verdictLine(result *agent.Result) string {
	if result.Verdict.Passed {
		return successStyle.Render(fmt.Sprintf("Verdict: PASS (score %.2f)", result.Verdict.Score))
	}
	return errorStyle.Render(fmt.Sprintf("Verdict: FAIL (score %.2f)", result.Verdict.Score))
}

// Stats renders the mistake store summary.
func Stats(stats memory.RunStats, mistakes []LearnedMistake) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Run statistics"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Total runs:      %d\n", stats.TotalRuns)
	fmt.Fprintf(&b, "  Successful runs: %d\n", stats.SuccessfulRuns)
	fmt.Fprintf(&b, "  Success rate:    %.0f%%\n", stats.SuccessRate()*100)

	if len(mistakes) == 0 {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("No mistakes recorded."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Recorded mistakes"))
	b.WriteString("\n")
	for _, m := range mistakes {
		style := mutedStyle
		if m.Recurring {
			style = warningStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  %dx [%s] %s", m.Frequency, m.Type, m.Description)))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("      rule: " + m.CorrectiveRule))
		b.WriteString("\n")
	}

	return b.String()
}

type LearnedMistake struct {
	Type           string
	Description    string
	CorrectiveRule string
	Frequency      int
	Recurring      bool
}

// NewLearnedMistake adapts a stored mistake for rendering.
func NewLearnedMistake(mistakeType, description, rule string, frequency int, recurring bool) LearnedMistake {
	return LearnedMistake{
		Type:           mistakeType,
		Description:    description,
		CorrectiveRule: rule,
		Frequency:      frequency,
		Recurring:      recurring,
	}
}

// Info renders a muted informational line.
func Info(s string) string {
	return mutedStyle.Render(s)
}

// Success renders a success line.
func Success(s string) string {
	return successStyle.Render(s)
}

// Header renders a section title.
func Header(s string) string {
	return titleStyle.Render(s)
}
