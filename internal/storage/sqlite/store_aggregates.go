package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tally/internal/domain"
	"github.com/louisbranch/tally/internal/storage"
)

// PutAggregate upserts a subject's durable counters.
func (s *Store) PutAggregate(ctx context.Context, subjectID string, counters domain.Counters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if counters.Positive < 0 || counters.Negative < 0 {
		return fmt.Errorf("counters must not be negative")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO subject_aggregates (subject_id, positive_count, negative_count, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(subject_id) DO UPDATE SET
	positive_count = excluded.positive_count,
	negative_count = excluded.negative_count,
	updated_at = excluded.updated_at
`,
		subjectID,
		counters.Positive,
		counters.Negative,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put aggregate: %w", err)
	}
	return nil
}

// GetAggregate reads one subject's durable counters.
func (s *Store) GetAggregate(ctx context.Context, subjectID string) (storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AggregateRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AggregateRecord{}, fmt.Errorf("storage is not configured")
	}

	var (
		record    storage.AggregateRecord
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT subject_id, positive_count, negative_count, updated_at
FROM subject_aggregates
WHERE subject_id = ?
`, strings.TrimSpace(subjectID)).Scan(
		&record.SubjectID,
		&record.Counters.Positive,
		&record.Counters.Negative,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AggregateRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AggregateRecord{}, wrapConflict("get aggregate", err)
	}
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// ListAggregates returns every tracked aggregate ordered by subject id.
func (s *Store) ListAggregates(ctx context.Context) ([]storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT subject_id, positive_count, negative_count, updated_at
FROM subject_aggregates
ORDER BY subject_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var records []storage.AggregateRecord
	for rows.Next() {
		var (
			record    storage.AggregateRecord
			updatedAt int64
		)
		if err := rows.Scan(
			&record.SubjectID,
			&record.Counters.Positive,
			&record.Counters.Negative,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		record.UpdatedAt = fromMillis(updatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}
	return records, nil
}
