package evaluate

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// researchMarkers are the documented patterns that classify a question as
// research-requiring. Matching is case-insensitive on folded text.
var researchMarkers = []string{
	"who ", "who's", "what ", "what's", "when ", "where ", "which ",
	"how many", "how much", "how old", "how far", "how long",
	"capital of", "population of", "invented", "founded", "discovered",
	"latest", "current", "today",
}

// IsResearchQuestion is the default research detector. It classifies
// factual who/what/when-style questions as requiring the search tool.
func IsResearchQuestion(question string) bool {
	folded := fold(question)
	for _, marker := range researchMarkers {
		if strings.Contains(folded, marker) {
			return true
		}
	}
	return false
}

// minSupportTokenLen filters out short function words when comparing the
// answer against tool output.
const minSupportTokenLen = 4

// TokenOverlapMatcher is the default support matcher: the answer counts as
// grounded when it shares at least one significant token with any tool
// output. This is a best-effort signal, not a proof of grounding.
func TokenOverlapMatcher(answer string, outputs []string) bool {
	answerTokens := tokenizeFolded(answer)
	if len(answerTokens) == 0 {
		return false
	}
	for _, output := range outputs {
		for token := range tokenizeFolded(output) {
			if answerTokens[token] {
				return true
			}
		}
	}
	return false
}

// AnyDataMatcher accepts the answer whenever any tool produced non-empty
// output before it. It is the loosest acceptable check and can be selected
// through WithSupportMatcher when token overlap is too strict.
func AnyDataMatcher(answer string, outputs []string) bool {
	return answer != "" && len(outputs) > 0
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func tokenizeFolded(s string) map[string]bool {
	tokens := make(map[string]bool)
	var word strings.Builder
	for _, r := range fold(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
			continue
		}
		if word.Len() >= minSupportTokenLen {
			tokens[word.String()] = true
		}
		word.Reset()
	}
	if word.Len() >= minSupportTokenLen {
		tokens[word.String()] = true
	}
	return tokens
}
