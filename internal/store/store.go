// Package store is the system of record: a SQLite database holding every
// entity the tracker, scorer and alert engine operate on. All cross
// component state flows through it; the broker only carries transient
// job pointers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. SQLite works best with a single
// writer, so the pool is pinned to one connection; callers serialize
// through it.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at databaseURL and
// applies the schema idempotently. Accepted forms: a plain path,
// "sqlite:///path/to.db", or "file:/path/to.db".
func Open(databaseURL string) (*Store, error) {
	path := dbPath(databaseURL)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Store initialized")
	return s, nil
}

func dbPath(databaseURL string) string {
	p := strings.TrimPrefix(databaseURL, "sqlite://")
	p = strings.TrimPrefix(p, "file:")
	return p
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database answers. The worker's watchdog calls this
// on a period and exits the process when it keeps failing.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates all tables and indexes if they don't exist.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			primary_domain TEXT NOT NULL,
			competitor_domains TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS keywords (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			keyword_text TEXT NOT NULL,
			priority_level INTEGER NOT NULL DEFAULT 3,
			funnel_stage TEXT NOT NULL DEFAULT 'awareness',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_tracked_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(project_id, keyword_text)
		);

		CREATE TABLE IF NOT EXISTS citations (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			keyword_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			tracked_at INTEGER NOT NULL,
			domain_mentioned INTEGER NOT NULL DEFAULT 0,
			citation_position INTEGER,
			citation_context TEXT,
			full_response_text TEXT NOT NULL DEFAULT '',
			response_summary TEXT NOT NULL DEFAULT '',
			sentiment TEXT NOT NULL DEFAULT 'neutral',
			confidence_score REAL NOT NULL DEFAULT 0,
			word_count INTEGER NOT NULL DEFAULT 0,
			competitor_citations TEXT NOT NULL DEFAULT '[]',
			total_sources_cited INTEGER NOT NULL DEFAULT 0,
			response_time_ms INTEGER NOT NULL DEFAULT 0
		);

		-- Alert diff: latest prior citation per keyword and platform.
		CREATE INDEX IF NOT EXISTS idx_citations_diff
		ON citations(keyword_id, platform, tracked_at DESC);

		-- Scoring window scan.
		CREATE INDEX IF NOT EXISTS idx_citations_window
		ON citations(project_id, tracked_at);

		CREATE TABLE IF NOT EXISTS tracking_jobs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			keyword_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			scheduled_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			citation_found INTEGER NOT NULL DEFAULT 0,
			result_data TEXT,
			created_at INTEGER NOT NULL
		);

		-- Worker pick.
		CREATE INDEX IF NOT EXISTS idx_jobs_status
		ON tracking_jobs(status, scheduled_at);

		-- Planner idempotency: one live job per plan tuple.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedup
		ON tracking_jobs(project_id, keyword_id, platform, scheduled_at)
		WHERE status IN ('pending', 'processing', 'retrying');

		CREATE TABLE IF NOT EXISTS daily_metrics (
			project_id TEXT NOT NULL,
			date TEXT NOT NULL,
			platform TEXT NOT NULL,
			total_queries INTEGER NOT NULL DEFAULT 0,
			mentions INTEGER NOT NULL DEFAULT 0,
			avg_position REAL,
			positive_count INTEGER NOT NULL DEFAULT 0,
			neutral_count INTEGER NOT NULL DEFAULT 0,
			negative_count INTEGER NOT NULL DEFAULT 0,
			competitor_mentions INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (project_id, date, platform)
		);

		CREATE TABLE IF NOT EXISTS visibility_scores (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			calculated_at INTEGER NOT NULL,
			overall_score REAL NOT NULL,
			grade TEXT NOT NULL,
			frequency_score REAL NOT NULL,
			position_score REAL NOT NULL,
			diversity_score REAL NOT NULL,
			context_score REAL NOT NULL,
			momentum_score REAL NOT NULL,
			change_7d REAL,
			change_30d REAL
		);

		CREATE INDEX IF NOT EXISTS idx_scores_latest
		ON visibility_scores(project_id, calculated_at DESC);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'info',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			keyword_id TEXT,
			platform TEXT,
			citation_id TEXT,
			previous_value TEXT,
			current_value TEXT,
			change_percent REAL,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_unread
		ON alerts(project_id, is_read) WHERE is_read = 0;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// Snapshot is a read-only transaction over the store. All scoring reads
// for one run share a snapshot so the result is internally consistent
// under ongoing writes.
type Snapshot struct {
	tx *sql.Tx
}

// BeginSnapshot opens a read transaction. Callers must Close it.
func (s *Store) BeginSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	return &Snapshot{tx: tx}, nil
}

// Close releases the snapshot.
func (sn *Snapshot) Close() error {
	return sn.tx.Rollback()
}

// Timestamps are stored as Unix milliseconds; dates as "2006-01-02".

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toMillisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromMillisPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// DateString formats a time as the UTC calendar day used by
// daily_metrics keys.
func DateString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
