package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/learn"
	"github.com/sagekit/sage/pkg/logging"
)

// fileState is the durable JSON schema. Serializing the in-memory store
// and reloading it must reproduce an identical store.
type fileState struct {
	Mistakes []learn.Mistake `json:"mistakes"`
	RunStats RunStats        `json:"run_stats"`
}

// FileStore keeps mistakes in a JSON file. State is loaded once at
// construction and flushed atomically (write temp, rename) after every
// mutation. A mutex guards in-process access and a file lock guards
// cross-process access during load and flush.
type FileStore struct {
	path string
	mu   sync.Mutex

	mistakes    map[string]learn.Mistake
	stats       RunStats
	maxMistakes int
	now         func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithMaxMistakes overrides the retention cap.
func WithMaxMistakes(max int) FileStoreOption {
	return func(s *FileStore) {
		if max > 0 {
			s.maxMistakes = max
		}
	}
}

// WithFileClock overrides the timestamp source, used by tests.
func WithFileClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFileStore opens the store at path. A missing or malformed file is
// treated as empty state with a warning, never as a fatal error.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:        path,
		mistakes:    make(map[string]learn.Mistake),
		maxMistakes: DefaultMaxMistakes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *FileStore) load() {
	logger := logging.GetLogger()

	lockFile, err := s.acquireFileLock(lockShared)
	if err != nil {
		logger.Warn(context.Background(), "mistake store lock unavailable, starting empty: %v", err)
		return
	}
	defer s.releaseFileLock(lockFile)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warn(context.Background(), "mistake store unreadable, starting empty: %v", err)
		return
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn(context.Background(), "mistake store malformed, starting empty: %v", err)
		return
	}

	for _, m := range state.Mistakes {
		if _, err := learn.ParseMistakeType(string(m.Type)); err != nil {
			logger.Warn(context.Background(), "dropping stored mistake with unknown type %q", m.Type)
			continue
		}
		s.mistakes[m.IdentityKey] = m
	}
	s.stats = state.RunStats
}

// flush writes the full state atomically. Callers hold s.mu.
func (s *FileStore) flush() error {
	lockFile, err := s.acquireFileLock(lockExclusive)
	if err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to lock mistake store")
	}
	defer s.releaseFileLock(lockFile)

	state := fileState{
		Mistakes: s.snapshotLocked(),
		RunStats: s.stats,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to encode mistake store")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to create store directory")
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceUnavailable, "failed to write mistake store"),
			errors.Fields{"path": s.path},
		)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceUnavailable, "failed to replace mistake store"),
			errors.Fields{"path": s.path},
		)
	}
	return nil
}

// snapshotLocked returns mistakes in recurring order for serialization.
func (s *FileStore) snapshotLocked() []learn.Mistake {
	mistakes := make([]learn.Mistake, 0, len(s.mistakes))
	for _, m := range s.mistakes {
		mistakes = append(mistakes, m)
	}
	sortRecurring(mistakes)
	return mistakes
}

// Upsert merges a mistake into the store. An existing identity key gains
// frequency and a refreshed last-seen; the description and corrective
// rule are replaced only when the tool set changed. Flush failures are
// returned to the caller: learning that silently fails to persist is
// worse than a loud failure.
func (s *FileStore) Upsert(m learn.Mistake) error {
	if _, err := learn.ParseMistakeType(string(m.Type)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := m.LastSeen
	if seen.IsZero() {
		seen = s.now()
	}

	if existing, ok := s.mistakes[m.IdentityKey]; ok {
		existing.Frequency++
		existing.LastSeen = seen
		if !sameToolSet(existing, m) {
			existing.Description = m.Description
			existing.CorrectiveRule = m.CorrectiveRule
			existing.Tools = m.Tools
		}
		s.mistakes[m.IdentityKey] = existing
	} else {
		m.Frequency = 1
		m.LastSeen = seen
		s.mistakes[m.IdentityKey] = m
		s.evictLocked()
	}

	return s.flush()
}

// evictLocked drops the least frequent mistakes once the cap is exceeded.
func (s *FileStore) evictLocked() {
	if len(s.mistakes) <= s.maxMistakes {
		return
	}
	ordered := s.snapshotLocked()
	for _, m := range ordered[s.maxMistakes:] {
		delete(s.mistakes, m.IdentityKey)
	}
}

// RecordRun updates run statistics and flushes.
func (s *FileStore) RecordRun(success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRuns++
	if success {
		s.stats.SuccessfulRuns++
	}
	return s.flush()
}

// Recurring returns mistakes at or above the frequency threshold, most
// frequent first, most recent first within equal frequency.
func (s *FileStore) Recurring(minFrequency int) ([]learn.Mistake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterRecurring(s.snapshotLocked(), minFrequency), nil
}

// All returns every stored mistake in recurring order.
func (s *FileStore) All() ([]learn.Mistake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// Stats returns aggregate run statistics.
func (s *FileStore) Stats() (RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

// Clear empties the store. The atomic rename in flush guarantees no
// partial state is observable after a crash mid-clear.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mistakes = make(map[string]learn.Mistake)
	s.stats = RunStats{}
	return s.flush()
}

// Close is a no-op for the file store; every mutation already flushed.
func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
