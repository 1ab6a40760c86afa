// Package history caches finished assistant turns in a local SQLite database
// so past conversations can be replayed offline.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"project-companion/internal/domain"
)

const defaultListLimit = 50

// Store implements domain.TurnStore using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs the schema
// migration. The parent directory is created with 0700 permissions.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create dir: %v", domain.ErrHistoryStore, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", domain.ErrHistoryStore, err)
	}
	// One writer at a time; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %v", domain.ErrHistoryStore, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrHistoryStore, err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			user_message TEXT NOT NULL,
			raw          TEXT NOT NULL,
			events       TEXT NOT NULL DEFAULT '[]',
			edited_files TEXT NOT NULL DEFAULT '[]',
			status       TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS turns_project_created ON turns (project_id, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTurn inserts rec, replacing an earlier record with the same ID.
func (s *Store) SaveTurn(ctx context.Context, rec domain.TurnRecord) error {
	if rec.ID == "" || rec.ProjectID == "" {
		return fmt.Errorf("%w: turn id and project id are required", domain.ErrInvalidInput)
	}
	eventsJSON, err := json.Marshal(nonNilEvents(rec.Events))
	if err != nil {
		return fmt.Errorf("marshal turn events: %w", err)
	}
	filesJSON, err := json.Marshal(nonNilStrings(rec.EditedFiles))
	if err != nil {
		return fmt.Errorf("marshal edited files: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO turns
			(id, project_id, user_message, raw, events, edited_files, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectID, rec.UserMessage, rec.Raw,
		string(eventsJSON), string(filesJSON), string(rec.Status), rec.Error,
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: save turn %s: %v", domain.ErrHistoryStore, rec.ID, err)
	}
	return nil
}

// ListTurns returns the most recent limit turns of a project, oldest first.
// A limit of zero or less uses the default of 50.
func (s *Store) ListTurns(ctx context.Context, projectID string, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_message, raw, events, edited_files, status, error, created_at
		FROM (
			SELECT * FROM turns WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list turns: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var out []domain.TurnRecord
	for rows.Next() {
		rec, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetTurn returns one turn by ID.
func (s *Store) GetTurn(ctx context.Context, id string) (*domain.TurnRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_message, raw, events, edited_files, status, error, created_at
		FROM turns WHERE id = ?`, id)
	rec, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("turn", "history.GetTurn", domain.ErrNotFound, id)
	}
	return rec, err
}

// DeleteProject removes every cached turn of a project and returns how many
// were removed.
func (s *Store) DeleteProject(ctx context.Context, projectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE project_id = ?", projectID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete project turns: %v", domain.ErrHistoryStore, err)
	}
	return res.RowsAffected()
}

// Prune keeps the newest keep turns of a project and deletes the rest.
func (s *Store) Prune(ctx context.Context, projectID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM turns WHERE project_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)`, projectID, projectID, keep)
	if err != nil {
		return 0, fmt.Errorf("%w: prune turns: %v", domain.ErrHistoryStore, err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*domain.TurnRecord, error) {
	var rec domain.TurnRecord
	var status, eventsStr, filesStr, createdStr string
	if err := row.Scan(&rec.ID, &rec.ProjectID, &rec.UserMessage, &rec.Raw,
		&eventsStr, &filesStr, &status, &rec.Error, &createdStr); err != nil {
		return nil, err
	}
	rec.Status = domain.TurnStatus(status)
	if err := json.Unmarshal([]byte(eventsStr), &rec.Events); err != nil {
		return nil, fmt.Errorf("unmarshal turn events: %w", err)
	}
	if err := json.Unmarshal([]byte(filesStr), &rec.EditedFiles); err != nil {
		return nil, fmt.Errorf("unmarshal edited files: %w", err)
	}
	if len(rec.Events) == 0 {
		rec.Events = nil
	}
	if len(rec.EditedFiles) == 0 {
		rec.EditedFiles = nil
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &rec, nil
}

func nonNilEvents(e []domain.StreamEvent) []domain.StreamEvent {
	if e == nil {
		return []domain.StreamEvent{}
	}
	return e
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ domain.TurnStore = (*Store)(nil)
