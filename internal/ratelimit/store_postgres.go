package ratelimit

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore keeps window counters in the rate_limits table so every
// server instance draws from the same budget.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, key string, window int64) (int64, error) {
	const query = `
		INSERT INTO rate_limits (limiter_key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (limiter_key, window_start)
		DO UPDATE SET count = rate_limits.count + 1
		RETURNING count
	`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, key, window).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) Count(ctx context.Context, key string, window int64) (int64, error) {
	const query = `SELECT count FROM rate_limits WHERE limiter_key = $1 AND window_start = $2`

	var count int64
	err := s.db.QueryRowContext(ctx, query, key, window).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) Clear(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE limiter_key = $1`, key)
	return err
}

// Prune removes windows older than the cutoff across all keys. Called
// opportunistically; stale windows are harmless beyond the storage they
// occupy.
func (s *PostgresStore) Prune(ctx context.Context, before int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, before)
	return err
}
