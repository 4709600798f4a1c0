package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists workflow snapshots in the workflow_states table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	const query = `
		INSERT INTO workflow_states (batch_id, status, pause_point, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (batch_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			pause_point = EXCLUDED.pause_point,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.BatchID,
		string(record.Status),
		string(record.PausePoint),
		record.StateData,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save workflow state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, batchID uuid.UUID) (Record, error) {
	const query = `
		SELECT batch_id, status, pause_point, state_data, created_at, updated_at
		FROM workflow_states
		WHERE batch_id = $1
	`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrStateNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("find workflow state: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, batchID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_states WHERE batch_id = $1`, batchID)
	return err
}

func (s *PostgresStore) FindByStatus(ctx context.Context, statuses ...Status) ([]Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(status)
	}

	query := fmt.Sprintf(`
		SELECT batch_id, status, pause_point, state_data, created_at, updated_at
		FROM workflow_states
		WHERE status IN (%s)
		ORDER BY updated_at
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow state: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var record Record
	var status, pausePoint string
	if err := row.Scan(
		&record.BatchID,
		&status,
		&pausePoint,
		&record.StateData,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	record.PausePoint = PausePoint(pausePoint)
	return record, nil
}
