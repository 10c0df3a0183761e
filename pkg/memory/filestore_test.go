package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagekit/sage/pkg/learn"
	"github.com/sagekit/sage/pkg/trace"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func mistakeAt(mt learn.MistakeType, tools []trace.ToolName, seen time.Time) learn.Mistake {
	return learn.Mistake{
		Type:           mt,
		Description:    "description for " + string(mt),
		CorrectiveRule: "rule for " + string(mt),
		Tools:          tools,
		IdentityKey:    learn.IdentityKey(mt, tools),
		Frequency:      1,
		LastSeen:       seen,
	}
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "mistakes.json"))
}

func TestFileStoreUpsertDeduplicates(t *testing.T) {
	store := newTestStore(t)

	m := mistakeAt(learn.WrongOrder, []trace.ToolName{trace.ToolSearch, trace.ToolSummarize}, baseTime)
	require.NoError(t, store.Upsert(m))

	m.LastSeen = baseTime.Add(time.Hour)
	require.NoError(t, store.Upsert(m))

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Frequency)
	assert.Equal(t, baseTime.Add(time.Hour), all[0].LastSeen)
}

func TestFileStoreConvergenceMonotonicity(t *testing.T) {
	// The same failure pattern repeated N times yields frequency N.
	store := newTestStore(t)
	m := mistakeAt(learn.PrematureAnswer, nil, baseTime)

	const runs = 5
	for i := 0; i < runs; i++ {
		m.LastSeen = baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Upsert(m))
	}

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, runs, all[0].Frequency)
}

func TestFileStoreUpsertKeepsRuleWhenToolSetUnchanged(t *testing.T) {
	store := newTestStore(t)

	original := mistakeAt(learn.ToolSkipped, []trace.ToolName{trace.ToolSearch}, baseTime)
	require.NoError(t, store.Upsert(original))

	// Same identity, new wording: the stored rule stays put because the
	// tool set did not change.
	reworded := original
	reworded.Description = "a different description"
	reworded.CorrectiveRule = "a different rule"
	reworded.LastSeen = baseTime.Add(time.Minute)
	require.NoError(t, store.Upsert(reworded))

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, original.Description, all[0].Description)
	assert.Equal(t, original.CorrectiveRule, all[0].CorrectiveRule)
}

func TestFileStoreRecurringThresholdAndOrdering(t *testing.T) {
	store := newTestStore(t)

	frequent := mistakeAt(learn.WrongOrder, []trace.ToolName{trace.ToolSearch, trace.ToolSummarize}, baseTime)
	for i := 0; i < 3; i++ {
		frequent.LastSeen = baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Upsert(frequent))
	}

	recent := mistakeAt(learn.PrematureAnswer, nil, baseTime.Add(2*time.Hour))
	older := mistakeAt(learn.UnsupportedClaim, nil, baseTime.Add(time.Hour))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Upsert(recent))
		require.NoError(t, store.Upsert(older))
	}

	once := mistakeAt(learn.ToolSkipped, []trace.ToolName{trace.ToolSearch}, baseTime)
	require.NoError(t, store.Upsert(once))

	recurring, err := store.Recurring(2)
	require.NoError(t, err)
	require.Len(t, recurring, 3)

	// Highest frequency wins; equal frequencies fall back to last-seen.
	assert.Equal(t, "PREMATURE_ANSWER", recurring[0].IdentityKey)
	assert.Equal(t, "UNSUPPORTED_CLAIM", recurring[1].IdentityKey)
	assert.Equal(t, "WRONG_ORDER:search,summarize", recurring[2].IdentityKey)
}

func TestFileStoreRecurringExcludesSingles(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Upsert(mistakeAt(learn.PrematureAnswer, nil, baseTime)))

	recurring, err := store.Recurring(2)
	require.NoError(t, err)
	assert.Empty(t, recurring)
}

func TestFileStoreRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		seeds []learn.Mistake
	}{
		{"empty store", nil},
		{"single mistake", []learn.Mistake{
			mistakeAt(learn.PrematureAnswer, nil, baseTime),
		}},
		{"many mistakes", []learn.Mistake{
			mistakeAt(learn.PrematureAnswer, nil, baseTime),
			mistakeAt(learn.ToolSkipped, []trace.ToolName{trace.ToolSearch}, baseTime.Add(time.Minute)),
			mistakeAt(learn.WrongOrder, []trace.ToolName{trace.ToolSearch, trace.ToolSummarize}, baseTime.Add(2*time.Minute)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mistakes.json")
			store := NewFileStore(path)
			for _, m := range tt.seeds {
				require.NoError(t, store.Upsert(m))
			}
			require.NoError(t, store.RecordRun(true))
			require.NoError(t, store.RecordRun(false))

			before, err := store.All()
			require.NoError(t, err)
			statsBefore, err := store.Stats()
			require.NoError(t, err)

			reloaded := NewFileStore(path)
			after, err := reloaded.All()
			require.NoError(t, err)
			statsAfter, err := reloaded.Stats()
			require.NoError(t, err)

			assert.Equal(t, before, after)
			assert.Equal(t, statsBefore, statsAfter)
		})
	}
}

func TestFileStoreRunStats(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRuns)
	assert.Equal(t, 0.0, stats.SuccessRate())

	require.NoError(t, store.RecordRun(true))
	require.NoError(t, store.RecordRun(true))
	require.NoError(t, store.RecordRun(false))

	stats, err = store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 2, stats.SuccessfulRuns)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate(), 0.001)
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mistakes.json")
	store := NewFileStore(path)
	require.NoError(t, store.Upsert(mistakeAt(learn.PrematureAnswer, nil, baseTime)))
	require.NoError(t, store.RecordRun(false))

	require.NoError(t, store.Clear())

	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)
	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, RunStats{}, stats)

	// The cleared state is what a fresh process observes.
	reloaded := NewFileStore(path)
	all, err = reloaded.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStoreMalformedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mistakes.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store := NewFileStore(path)
	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	// The store remains writable after recovering from garbage.
	require.NoError(t, store.Upsert(mistakeAt(learn.PrematureAnswer, nil, baseTime)))
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "mistakes.json"))
	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStoreDropsUnknownMistakeTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mistakes.json")
	state := map[string]interface{}{
		"mistakes": []map[string]interface{}{
			{
				"mistake_type": "HALLUCINATION",
				"identity_key": "HALLUCINATION",
				"frequency":    3,
				"last_seen":    baseTime.Format(time.RFC3339),
			},
			{
				"mistake_type":    "PREMATURE_ANSWER",
				"identity_key":    "PREMATURE_ANSWER",
				"description":     "answered early",
				"corrective_rule": "do not",
				"frequency":       1,
				"last_seen":       baseTime.Format(time.RFC3339),
			},
		},
		"run_stats": map[string]int{"total_runs": 1, "successful_runs": 0},
	}
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	store := NewFileStore(path)
	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, learn.PrematureAnswer, all[0].Type)
}

func TestFileStoreEvictsLeastFrequent(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "mistakes.json"), WithMaxMistakes(2))

	keeper := mistakeAt(learn.WrongOrder, []trace.ToolName{trace.ToolSearch, trace.ToolSummarize}, baseTime)
	require.NoError(t, store.Upsert(keeper))
	require.NoError(t, store.Upsert(keeper))
	require.NoError(t, store.Upsert(mistakeAt(learn.PrematureAnswer, nil, baseTime.Add(time.Hour))))
	require.NoError(t, store.Upsert(mistakeAt(learn.ToolSkipped, []trace.ToolName{trace.ToolSearch}, baseTime.Add(2*time.Hour))))

	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "WRONG_ORDER:search,summarize", all[0].IdentityKey)
}

func TestFileStoreRejectsUnknownTypeOnUpsert(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(learn.Mistake{Type: learn.MistakeType("HALLUCINATION"), IdentityKey: "HALLUCINATION"})
	require.Error(t, err)
}
