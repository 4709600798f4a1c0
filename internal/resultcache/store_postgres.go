package resultcache

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists cache entries in the result_cache table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	const query = `SELECT cache_key, payload, expires_at FROM result_cache WHERE cache_key = $1`

	var entry Entry
	err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &entry.Payload, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry Entry) error {
	const query = `
		INSERT INTO result_cache (cache_key, payload, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key)
		DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at
	`

	_, err := s.db.ExecContext(ctx, query, entry.Key, entry.Payload, entry.ExpiresAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM result_cache WHERE cache_key = $1`, key)
	return err
}

// DeleteByPrefix removes every entry for one rubric digest. Prefixes are
// hex digits and a colon, so no LIKE metacharacters appear.
func (s *PostgresStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM result_cache WHERE cache_key LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Prune removes expired entries.
func (s *PostgresStore) Prune(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM result_cache WHERE expires_at < $1`, now)
	return err
}
