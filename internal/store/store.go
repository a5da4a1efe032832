// Package store persists finished sessions in a local SQLite database.
//
// A session row is written once. Afterwards only the delivery columns
// (synced, external_id, notified) are updated.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strrl/worktrack/pkg/models"
)

// DefaultFileName is the database file inside the data directory
const DefaultFileName = "sessions.db"

// ErrNotFound is returned by Get for an unknown id
var ErrNotFound = errors.New("session not found")

// Store is the durable session store
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path
func Open(ctx context.Context, path string) (*Store, error) {
	// modernc applies connection pragmas through _pragma; other instances
	// may hold the write lock briefly, so writers wait instead of failing.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		project_path     TEXT NOT NULL,
		project_name     TEXT NOT NULL,
		branch           TEXT NOT NULL,
		feature          TEXT NOT NULL,
		started_at       INTEGER NOT NULL,
		ended_at         INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		end_reason       TEXT NOT NULL,
		commits          TEXT NOT NULL DEFAULT '[]',
		changed_files    TEXT NOT NULL DEFAULT '[]',
		pull_request_url TEXT NOT NULL DEFAULT '',
		summary          TEXT NOT NULL DEFAULT '',
		synced           INTEGER NOT NULL DEFAULT 0,
		notified         INTEGER NOT NULL DEFAULT 0,
		external_id      TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_synced ON sessions(synced);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save writes a session. Saving an id that already exists leaves the stored
// row untouched and succeeds.
func (s *Store) Save(ctx context.Context, session models.Session) error {
	commits, err := json.Marshal(nonNil(session.Commits))
	if err != nil {
		return fmt.Errorf("failed to encode commits: %w", err)
	}
	files, err := json.Marshal(nonNil(session.ChangedFiles))
	if err != nil {
		return fmt.Errorf("failed to encode changed files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, project_path, project_name, branch, feature,
			started_at, ended_at, duration_seconds, end_reason,
			commits, changed_files, pull_request_url, summary,
			synced, notified, external_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		session.ID, session.ProjectPath, session.ProjectName, session.Branch, session.Feature,
		session.StartedAt.UnixMilli(), session.EndedAt.UnixMilli(),
		int64(session.Duration().Seconds()), string(session.EndReason),
		string(commits), string(files), session.PullRequestURL, session.Summary,
		session.Synced, session.Notified, session.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// Unsynced returns sessions not yet delivered to the record store, oldest first
func (s *Store) Unsynced(ctx context.Context) ([]models.Session, error) {
	return s.query(ctx, `SELECT `+columns+` FROM sessions WHERE synced = 0 ORDER BY started_at ASC`)
}

// List returns the most recent sessions, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		return s.query(ctx, `SELECT `+columns+` FROM sessions ORDER BY started_at DESC`)
	}
	return s.query(ctx, `SELECT `+columns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
}

func (s *Store) Get(ctx context.Context, id string) (models.Session, error) {
	sessions, err := s.query(ctx, `SELECT `+columns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return models.Session{}, err
	}
	if len(sessions) == 0 {
		return models.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sessions[0], nil
}

func (s *Store) MarkSynced(ctx context.Context, id, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET synced = 1, external_id = ? WHERE id = ?`, externalID, id)
	if err != nil {
		return fmt.Errorf("failed to mark session %s synced: %w", id, err)
	}
	return nil
}

func (s *Store) MarkNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark session %s notified: %w", id, err)
	}
	return nil
}

const columns = `id, project_path, project_name, branch, feature,
	started_at, ended_at, end_reason, commits, changed_files,
	pull_request_url, summary, synced, notified, external_id`

func (s *Store) query(ctx context.Context, q string, args ...any) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			session          models.Session
			started, ended   int64
			reason           string
			commits, files   string
			synced, notified bool
		)
		if err := rows.Scan(
			&session.ID, &session.ProjectPath, &session.ProjectName, &session.Branch, &session.Feature,
			&started, &ended, &reason, &commits, &files,
			&session.PullRequestURL, &session.Summary, &synced, &notified, &session.ExternalID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		session.StartedAt = time.UnixMilli(started)
		session.EndedAt = time.UnixMilli(ended)
		session.Synced = synced
		session.Notified = notified

		if session.EndReason, err = models.ParseEndReason(reason); err != nil {
			return nil, fmt.Errorf("session %s: %w", session.ID, err)
		}
		if err := json.Unmarshal([]byte(commits), &session.Commits); err != nil {
			return nil, fmt.Errorf("session %s: failed to decode commits: %w", session.ID, err)
		}
		if err := json.Unmarshal([]byte(files), &session.ChangedFiles); err != nil {
			return nil, fmt.Errorf("session %s: failed to decode changed files: %w", session.ID, err)
		}

		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
