// Package memory persists classified mistakes across runs and projects
// them back into planning constraints. The store is the durable half of
// the learning loop: a mistake that fails to persist breaks convergence,
// so flush failures after a mutation are surfaced to the caller instead
// of being swallowed.
package memory

import (
	"sort"

	"github.com/sagekit/sage/pkg/learn"
)

// DefaultRecurringThreshold is the frequency at which a mistake stops
// being noise and becomes a pattern.
const DefaultRecurringThreshold = 2

// DefaultMaxMistakes caps how many distinct mistakes are retained. When
// the cap is exceeded the least frequent records are evicted first.
const DefaultMaxMistakes = 100

// RunStats tracks aggregate run outcomes.
type RunStats struct {
	TotalRuns      int `json:"total_runs"`
	SuccessfulRuns int `json:"successful_runs"`
}

// SuccessRate returns the fraction of successful runs, 0 when no runs
// have been recorded.
func (s RunStats) SuccessRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.SuccessfulRuns) / float64(s.TotalRuns)
}

// Store is the persistence contract for learned mistakes. Implementations
// load state at construction and flush synchronously after every
// mutation; a crash must not lose the most recent learned mistake.
//
// Durable state is shared across process invocations, not within one.
// Concurrent processes fall back to last-writer-wins; the file lock
// narrows the window but does not fully harden it.
type Store interface {
	// Upsert inserts a mistake or, when its identity key already
	// exists, increments the stored frequency and refreshes last-seen.
	Upsert(m learn.Mistake) error

	// RecordRun increments total runs, and successful runs iff success.
	RecordRun(success bool) error

	// Recurring returns mistakes with frequency >= minFrequency,
	// ordered by frequency descending then last-seen descending.
	Recurring(minFrequency int) ([]learn.Mistake, error)

	// All returns every stored mistake in recurring order.
	All() ([]learn.Mistake, error)

	// Stats returns the aggregate run statistics.
	Stats() (RunStats, error)

	// Clear atomically empties the mistakes and resets run stats.
	Clear() error

	Close() error
}

// sortRecurring orders mistakes by frequency descending, breaking ties by
// last-seen descending. Tests assert this exact ordering.
func sortRecurring(mistakes []learn.Mistake) {
	sort.SliceStable(mistakes, func(i, j int) bool {
		if mistakes[i].Frequency != mistakes[j].Frequency {
			return mistakes[i].Frequency > mistakes[j].Frequency
		}
		return mistakes[i].LastSeen.After(mistakes[j].LastSeen)
	})
}

// filterRecurring keeps mistakes at or above the frequency threshold.
func filterRecurring(mistakes []learn.Mistake, minFrequency int) []learn.Mistake {
	var recurring []learn.Mistake
	for _, m := range mistakes {
		if m.Frequency >= minFrequency {
			recurring = append(recurring, m)
		}
	}
	sortRecurring(recurring)
	return recurring
}

// sameToolSet reports whether two mistakes involve the same tools. Tool
// slices are sorted at construction, so a positional compare suffices.
func sameToolSet(a, b learn.Mistake) bool {
	if len(a.Tools) != len(b.Tools) {
		return false
	}
	for i := range a.Tools {
		if a.Tools[i] != b.Tools[i] {
			return false
		}
	}
	return true
}
