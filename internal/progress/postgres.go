package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists reading positions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reading_positions (
			user_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chapter_index INTEGER NOT NULL,
			cursor_seconds DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, document_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, pos Position) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reading_positions (user_id, document_id, chapter_index, cursor_seconds, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, document_id)
		 DO UPDATE SET chapter_index = $3, cursor_seconds = $4, updated_at = $5`,
		pos.UserID,
		pos.DocumentID,
		pos.ChapterIndex,
		pos.CursorSeconds,
		pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, userID, documentID string) (*Position, error) {
	var pos Position
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, document_id, chapter_index, cursor_seconds, updated_at
		 FROM reading_positions WHERE user_id=$1 AND document_id=$2`,
		userID,
		documentID,
	).Scan(&pos.UserID, &pos.DocumentID, &pos.ChapterIndex, &pos.CursorSeconds, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return &pos, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
