// Package store persists source state, pipeline run history, and index
// snapshots. Relational state lives in SQLite; snapshots are gob files on
// disk with an atomically updated pointer to the live generation.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Config controls where the store keeps its data.
type Config struct {
	// DataDir is the root directory for the database and snapshot files.
	// ":memory:" opens an in-memory database with no snapshot directory
	// (used by tests).
	DataDir string `koanf:"data_dir"`

	// KeepGenerations is how many snapshot generations Prune retains.
	KeepGenerations int `koanf:"keep_generations"`
}

// Validate checks store configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.KeepGenerations < 1 {
		return fmt.Errorf("keep_generations must be at least 1, got %d", c.KeepGenerations)
	}
	return nil
}

// SourceState is the persisted per-source change detection state.
type SourceState struct {
	ID          string
	Fingerprint string
	LastSuccess time.Time
}

// RunRecord is one append-only audit entry for a pipeline run.
type RunRecord struct {
	ID         string            `json:"id"`
	Generation uint64            `json:"generation"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Sources    map[string]string `json:"sources"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Store wraps the SQLite database plus the snapshot directory.
type Store struct {
	db      *sql.DB
	dataDir string
	keep    int
}

// Open opens (or creates) the store under cfg.DataDir and runs pending
// migrations.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	var dsn string
	if cfg.DataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, "snapshots"), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(cfg.DataDir, "corpusd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, dataDir: cfg.DataDir, keep: cfg.KeepGenerations}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Source state ---

// SaveSourceState upserts the change detection state for one source.
func (s *Store) SaveSourceState(state SourceState) error {
	_, err := s.db.Exec(`
		INSERT INTO source_state (id, fingerprint, last_success) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET fingerprint = excluded.fingerprint, last_success = excluded.last_success`,
		state.ID, state.Fingerprint, state.LastSuccess.UTC().Format(time.RFC3339),
	)
	return err
}

// GetSourceState returns the state for one source, or ErrNotFound if it has
// never succeeded.
func (s *Store) GetSourceState(id string) (SourceState, error) {
	var st SourceState
	var lastSuccess string
	err := s.db.QueryRow(
		`SELECT id, fingerprint, last_success FROM source_state WHERE id = ?`, id,
	).Scan(&st.ID, &st.Fingerprint, &lastSuccess)
	if err == sql.ErrNoRows {
		return SourceState{}, ErrNotFound
	}
	if err != nil {
		return SourceState{}, err
	}
	if st.LastSuccess, err = time.Parse(time.RFC3339, lastSuccess); err != nil {
		return SourceState{}, fmt.Errorf("parsing last_success: %w", err)
	}
	return st, nil
}

// ListSourceStates returns all persisted source states keyed by source ID.
func (s *Store) ListSourceStates() (map[string]SourceState, error) {
	rows, err := s.db.Query(`SELECT id, fingerprint, last_success FROM source_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]SourceState)
	for rows.Next() {
		var st SourceState
		var lastSuccess string
		if err := rows.Scan(&st.ID, &st.Fingerprint, &lastSuccess); err != nil {
			return nil, err
		}
		if st.LastSuccess, err = time.Parse(time.RFC3339, lastSuccess); err != nil {
			return nil, fmt.Errorf("parsing last_success: %w", err)
		}
		states[st.ID] = st
	}
	return states, rows.Err()
}

// DeleteSourceState removes the state of a source dropped from configuration.
func (s *Store) DeleteSourceState(id string) error {
	_, err := s.db.Exec(`DELETE FROM source_state WHERE id = ?`, id)
	return err
}

// --- Pipeline run audit ---

// AppendRun records one completed pipeline run. The audit table is
// append-only; records are never updated.
func (s *Store) AppendRun(rec RunRecord) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("encoding source outcomes: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pipeline_runs (id, generation, status, error, sources_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Generation, rec.Status, rec.Error, string(sources),
		rec.StartedAt.UTC().Format(time.RFC3339), rec.FinishedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentRuns returns the most recent pipeline runs, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, generation, status, error, sources_json, started_at, finished_at
		FROM pipeline_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var sources, startedAt, finishedAt string
		if err := rows.Scan(&rec.ID, &rec.Generation, &rec.Status, &rec.Error, &sources, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
			return nil, fmt.Errorf("decoding source outcomes for run %s: %w", rec.ID, err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
