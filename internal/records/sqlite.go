package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS guide_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		goal TEXT NOT NULL DEFAULT '',
		messages_json TEXT NOT NULL,
		screen_steps_json TEXT NOT NULL,
		pii_redacted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_guide_records_user_created ON guide_records(user_id, created_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) (Record, error) {
	r, err := prepare(record, time.Now())
	if err != nil {
		return Record{}, err
	}
	messages, steps, err := encodeBodies(r)
	if err != nil {
		return Record{}, err
	}

	redacted := 0
	if r.PIIRedacted {
		redacted = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO guide_records (id, user_id, session_id, title, goal, messages_json, screen_steps_json, pii_redacted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.SessionID, r.Title, r.Goal, string(messages), string(steps), redacted, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("save record: %w", err)
	}
	// Round to the stored precision so Save and Get agree.
	r.CreatedAt = time.UnixMilli(r.CreatedAt.UnixMilli()).UTC()
	return r, nil
}

const sqliteSelectColumns = `id, user_id, session_id, title, goal, messages_json, screen_steps_json, pii_redacted, created_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSelectColumns+` FROM guide_records WHERE id = ?`, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM guide_records WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (Record, error) {
	var (
		r         Record
		messages  string
		steps     string
		redacted  int
		createdAt int64
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Title, &r.Goal, &messages, &steps, &redacted, &createdAt); err != nil {
		return Record{}, err
	}
	if err := decodeBodies(&r, []byte(messages), []byte(steps)); err != nil {
		return Record{}, err
	}
	r.PIIRedacted = redacted != 0
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	return r, nil
}
