package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS guide_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL DEFAULT '',
			messages JSONB NOT NULL,
			screen_steps JSONB NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_guide_records_user_created ON guide_records (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) (Record, error) {
	r, err := prepare(record, time.Now())
	if err != nil {
		return Record{}, err
	}
	messages, steps, err := encodeBodies(r)
	if err != nil {
		return Record{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO guide_records (id, user_id, session_id, title, goal, messages, screen_steps, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.SessionID, r.Title, r.Goal, string(messages), string(steps), r.PIIRedacted, r.CreatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("save record: %w", err)
	}
	return r, nil
}

const pgSelectColumns = `id, user_id, session_id, title, goal, messages, screen_steps, pii_redacted, created_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSelectColumns+` FROM guide_records WHERE id=$1`, id)
	r, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	limit = clampLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgSelectColumns+` FROM guide_records WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanPostgres(rows)
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

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (Record, error) {
	var (
		r        Record
		messages []byte
		steps    []byte
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Title, &r.Goal, &messages, &steps, &r.PIIRedacted, &r.CreatedAt); err != nil {
		return Record{}, err
	}
	if err := decodeBodies(&r, messages, steps); err != nil {
		return Record{}, err
	}
	return r, nil
}

func encodeBodies(r Record) ([]byte, []byte, error) {
	messages, err := json.Marshal(r.Messages)
	if err != nil {
		return nil, nil, fmt.Errorf("encode messages: %w", err)
	}
	steps, err := json.Marshal(r.ScreenSteps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode screen steps: %w", err)
	}
	return messages, steps, nil
}

func decodeBodies(r *Record, messages, steps []byte) error {
	if err := json.Unmarshal(messages, &r.Messages); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal(steps, &r.ScreenSteps); err != nil {
		return fmt.Errorf("decode screen steps: %w", err)
	}
	return nil
}
