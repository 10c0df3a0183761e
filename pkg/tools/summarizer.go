package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/llm"
	"github.com/sagekit/sage/pkg/trace"
)

const summarizerPromptTemplate = `Condense the following research findings into their key factual points.
Keep every concrete fact, name, date, and number. Do not add information
that is not present in the findings.

Findings:
%s

Key points:`

// Summarizer condenses raw search output into the key facts the final
// answer will be drawn from.
type Summarizer struct {
	client    llm.Client
	maxLength int
}

// NewSummarizer creates a summarizer backed by the given model client.
func NewSummarizer(client llm.Client, cfg config.ToolsConfig) *Summarizer {
	maxLength := cfg.SummaryMaxLength
	if maxLength <= 0 {
		maxLength = 500
	}
	return &Summarizer{client: client, maxLength: maxLength}
}

// Name implements Tool.
func (s *Summarizer) Name() trace.ToolName {
	return trace.ToolSummarize
}

// Execute summarizes the input, truncating to the configured length on
// a word boundary.
func (s *Summarizer) Execute(ctx context.Context, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", errors.New(errors.InvalidInput, "nothing to summarize")
	}

	response, err := s.client.Generate(ctx, fmt.Sprintf(summarizerPromptTemplate, input))
	if err != nil {
		return "", errors.Wrap(err, errors.ToolExecutionFailed, "summarization failed")
	}

	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", errors.New(errors.ToolExecutionFailed, "summarizer produced an empty summary")
	}
	return truncateAtWord(summary, s.maxLength), nil
}

func truncateAtWord(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n") + "..."
}

var _ Tool = (*Summarizer)(nil)
