package memory

import (
	"fmt"
	"strings"
)

// Constraint is a natural-language planning instruction compiled from a
// recurring mistake. The planner receives the sequence verbatim; whether
// it obeys is only observable through the next verdict.
type Constraint struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

// BehaviorModifier projects recurring mistakes from a store into ordered
// planning constraints. Single occurrences are noise, not yet a pattern,
// so only mistakes at or above the threshold are projected.
type BehaviorModifier struct {
	threshold int
}

// ModifierOption configures a BehaviorModifier.
type ModifierOption func(*BehaviorModifier)

// WithThreshold overrides the recurring-mistake frequency threshold.
func WithThreshold(threshold int) ModifierOption {
	return func(b *BehaviorModifier) {
		if threshold > 0 {
			b.threshold = threshold
		}
	}
}

// NewBehaviorModifier creates a modifier with the default threshold.
func NewBehaviorModifier(opts ...ModifierOption) *BehaviorModifier {
	b := &BehaviorModifier{threshold: DefaultRecurringThreshold}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CompileConstraints reads the store and returns constraints ordered by
// priority descending, ties broken by last-seen descending. Priority is
// the frequency of the source mistake: recurring mistakes dominate.
func (b *BehaviorModifier) CompileConstraints(store Store) ([]Constraint, error) {
	recurring, err := store.Recurring(b.threshold)
	if err != nil {
		return nil, err
	}

	// Recurring already orders by frequency then last-seen, which is
	// exactly priority order.
	constraints := make([]Constraint, 0, len(recurring))
	for _, m := range recurring {
		constraints = append(constraints, Constraint{
			Text:     m.CorrectiveRule,
			Priority: m.Frequency,
		})
	}
	return constraints, nil
}

// FormatForInjection renders constraints as a prompt block for the
// planner. Returns the empty string when there is nothing to inject.
func FormatForInjection(constraints []Constraint) string {
	if len(constraints) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("LEARNED CONSTRAINTS (follow these strictly):\n")
	for i, c := range constraints {
		sb.WriteString(fmt.Sprintf("%d. %s (priority %d)\n", i+1, c.Text, c.Priority))
	}
	return sb.String()
}
