package memory

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/learn"
	"github.com/sagekit/sage/pkg/trace"
)

// SQLiteStore implements the Store interface on SQLite. It satisfies the
// same contract as FileStore: every mutation is durable before the call
// returns. Pass ":memory:" for an ephemeral database.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time

	initialized sync.Once
}

// NewSQLiteStore opens (and if needed initializes) a SQLite-backed store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.PersistenceUnavailable, "failed to open SQLite store"),
			errors.Fields{"path": path},
		)
	}

	store := &SQLiteStore{
		db:   db,
		path: path,
		now:  time.Now,
	}
	if err := store.ensureInitialized(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureInitialized() error {
	var initErr error
	s.initialized.Do(func() {
		// WAL keeps readers from blocking the synchronous flushes.
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			initErr = errors.Wrap(err, errors.PersistenceUnavailable, "failed to enable WAL mode")
			return
		}

		query := `
        CREATE TABLE IF NOT EXISTS mistakes (
            identity_key    TEXT PRIMARY KEY,
            mistake_type    TEXT NOT NULL,
            description     TEXT NOT NULL,
            corrective_rule TEXT NOT NULL,
            tools           TEXT NOT NULL DEFAULT '',
            frequency       INTEGER NOT NULL DEFAULT 1,
            last_seen       DATETIME NOT NULL
        );

        CREATE TABLE IF NOT EXISTS run_stats (
            id              INTEGER PRIMARY KEY CHECK (id = 1),
            total_runs      INTEGER NOT NULL DEFAULT 0,
            successful_runs INTEGER NOT NULL DEFAULT 0
        );

        INSERT OR IGNORE INTO run_stats (id, total_runs, successful_runs) VALUES (1, 0, 0);
        `

		if _, err := s.db.Exec(query); err != nil {
			initErr = errors.WithFields(
				errors.Wrap(err, errors.PersistenceUnavailable, "failed to initialize store schema"),
				errors.Fields{"path": s.path},
			)
		}
	})
	return initErr
}

// Upsert merges a mistake by identity key, matching FileStore semantics.
func (s *SQLiteStore) Upsert(m learn.Mistake) error {
	if _, err := learn.ParseMistakeType(string(m.Type)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := m.LastSeen
	if seen.IsZero() {
		seen = s.now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to begin upsert")
	}
	defer tx.Rollback()

	var existingTools string
	err = tx.QueryRow(`SELECT tools FROM mistakes WHERE identity_key = ?`, m.IdentityKey).Scan(&existingTools)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
            INSERT INTO mistakes (identity_key, mistake_type, description, corrective_rule, tools, frequency, last_seen)
            VALUES (?, ?, ?, ?, ?, 1, ?)`,
			m.IdentityKey, string(m.Type), m.Description, m.CorrectiveRule, joinTools(m.Tools), seen.UTC())
	case err == nil:
		if existingTools != joinTools(m.Tools) {
			_, err = tx.Exec(`
                UPDATE mistakes
                SET frequency = frequency + 1, last_seen = ?, description = ?, corrective_rule = ?, tools = ?
                WHERE identity_key = ?`,
				seen.UTC(), m.Description, m.CorrectiveRule, joinTools(m.Tools), m.IdentityKey)
		} else {
			_, err = tx.Exec(`
                UPDATE mistakes SET frequency = frequency + 1, last_seen = ? WHERE identity_key = ?`,
				seen.UTC(), m.IdentityKey)
		}
	}
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceUnavailable, "failed to upsert mistake"),
			errors.Fields{"identity_key": m.IdentityKey},
		)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to commit upsert")
	}
	return nil
}

// RecordRun updates the single run_stats row.
func (s *SQLiteStore) RecordRun(success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	succ := 0
	if success {
		succ = 1
	}
	_, err := s.db.Exec(`
        UPDATE run_stats SET total_runs = total_runs + 1, successful_runs = successful_runs + ? WHERE id = 1`,
		succ)
	if err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to record run")
	}
	return nil
}

// Recurring returns mistakes at or above the threshold, most frequent
// first, most recent first within equal frequency.
func (s *SQLiteStore) Recurring(minFrequency int) ([]learn.Mistake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryMistakes(`
        SELECT identity_key, mistake_type, description, corrective_rule, tools, frequency, last_seen
        FROM mistakes WHERE frequency >= ?
        ORDER BY frequency DESC, last_seen DESC`, minFrequency)
}

// All returns every stored mistake in recurring order.
func (s *SQLiteStore) All() ([]learn.Mistake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryMistakes(`
        SELECT identity_key, mistake_type, description, corrective_rule, tools, frequency, last_seen
        FROM mistakes
        ORDER BY frequency DESC, last_seen DESC`)
}

func (s *SQLiteStore) queryMistakes(query string, args ...interface{}) ([]learn.Mistake, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.PersistenceUnavailable, "failed to query mistakes")
	}
	defer rows.Close()

	var mistakes []learn.Mistake
	for rows.Next() {
		var m learn.Mistake
		var mistakeType, tools string
		if err := rows.Scan(&m.IdentityKey, &mistakeType, &m.Description, &m.CorrectiveRule, &tools, &m.Frequency, &m.LastSeen); err != nil {
			return nil, errors.Wrap(err, errors.PersistenceUnavailable, "failed to scan mistake row")
		}
		mt, err := learn.ParseMistakeType(mistakeType)
		if err != nil {
			return nil, err
		}
		m.Type = mt
		m.Tools = splitTools(tools)
		mistakes = append(mistakes, m)
	}
	return mistakes, rows.Err()
}

// Stats returns aggregate run statistics.
func (s *SQLiteStore) Stats() (RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats RunStats
	err := s.db.QueryRow(`SELECT total_runs, successful_runs FROM run_stats WHERE id = 1`).
		Scan(&stats.TotalRuns, &stats.SuccessfulRuns)
	if err != nil {
		return RunStats{}, errors.Wrap(err, errors.PersistenceUnavailable, "failed to read run stats")
	}
	return stats, nil
}

// Clear empties mistakes and resets stats in one transaction.
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to begin clear")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM mistakes`); err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to clear mistakes")
	}
	if _, err := tx.Exec(`UPDATE run_stats SET total_runs = 0, successful_runs = 0 WHERE id = 1`); err != nil {
		return errors.Wrap(err, errors.PersistenceUnavailable, "failed to reset run stats")
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func joinTools(tools []trace.ToolName) string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = string(tool)
	}
	return strings.Join(names, ",")
}

func splitTools(s string) []trace.ToolName {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tools := make([]trace.ToolName, len(parts))
	for i, part := range parts {
		tools[i] = trace.ToolName(part)
	}
	return tools
}

var _ Store = (*SQLiteStore)(nil)
