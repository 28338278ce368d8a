package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tally/internal/storage"
)

// EnqueueRefresh inserts a queued entry for the view unless one is already
// pending. The pending entry's due time is deliberately left untouched so a
// hot view cannot push its own refresh forward forever.
func (s *Store) EnqueueRefresh(ctx context.Context, viewName, reason string, dueAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	viewName = strings.TrimSpace(viewName)
	if viewName == "" {
		return false, fmt.Errorf("view name is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO refresh_queue (view_name, reason, status, requested_at, due_at)
VALUES (?, ?, 'queued', ?, ?)
ON CONFLICT(view_name) WHERE status IN ('queued', 'in_progress') DO NOTHING
`,
		viewName,
		strings.TrimSpace(reason),
		toMillis(time.Now()),
		toMillis(dueAt),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue refresh: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue refresh rows affected: %w", err)
	}
	return inserted > 0, nil
}

// ClaimDueRefreshes moves every due queued entry to in_progress and returns
// the claimed rows.
func (s *Store) ClaimDueRefreshes(ctx context.Context, now time.Time) ([]storage.RefreshEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
UPDATE refresh_queue SET
	status = 'in_progress',
	started_at = ?
WHERE status = 'queued' AND due_at <= ?
RETURNING id, view_name, reason, status, requested_at, due_at, started_at
`, toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("claim due refreshes: %w", err)
	}
	defer rows.Close()

	var entries []storage.RefreshEntry
	for rows.Next() {
		var (
			entry       storage.RefreshEntry
			status      string
			requestedAt int64
			dueAt       int64
			startedAt   sql.NullInt64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ViewName,
			&entry.Reason,
			&status,
			&requestedAt,
			&dueAt,
			&startedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed refresh: %w", err)
		}
		entry.Status = storage.RefreshStatus(status)
		entry.RequestedAt = fromMillis(requestedAt)
		entry.DueAt = fromMillis(dueAt)
		entry.StartedAt = fromNullMillis(startedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed refreshes: %w", err)
	}
	return entries, nil
}

// CompleteRefresh finalizes a claimed entry after a successful recomputation.
func (s *Store) CompleteRefresh(ctx context.Context, id int64, duration time.Duration, rowsAffected int64) error {
	return s.finishRefresh(ctx, id, storage.RefreshStatusCompleted, duration.Milliseconds(), rowsAffected, "")
}

// FailRefresh finalizes a claimed entry after a failed recomputation.
func (s *Store) FailRefresh(ctx context.Context, id int64, cause string) error {
	return s.finishRefresh(ctx, id, storage.RefreshStatusFailed, 0, 0, strings.TrimSpace(cause))
}

func (s *Store) finishRefresh(ctx context.Context, id int64, status storage.RefreshStatus, durationMS, rowsAffected int64, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE refresh_queue SET
	status = ?,
	completed_at = ?,
	duration_ms = ?,
	rows_affected = ?,
	last_error = ?
WHERE id = ? AND status = 'in_progress'
`,
		string(status),
		toMillis(time.Now()),
		durationMS,
		rowsAffected,
		lastError,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish refresh %d: %w", id, err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish refresh %d rows affected: %w", id, err)
	}
	if updated == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PruneRefreshes deletes terminal entries beyond the most recent keep rows.
func (s *Store) PruneRefreshes(ctx context.Context, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if keep < 0 {
		keep = 0
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM refresh_queue
WHERE status IN ('completed', 'failed')
AND id NOT IN (
	SELECT id FROM refresh_queue
	WHERE status IN ('completed', 'failed')
	ORDER BY id DESC
	LIMIT ?
)
`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune refreshes: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune refreshes rows affected: %w", err)
	}
	return pruned, nil
}

// ListRefreshes lists newest-first queue entries for inspection tooling.
func (s *Store) ListRefreshes(ctx context.Context, limit int) ([]storage.RefreshEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, view_name, reason, status, requested_at, due_at, started_at,
	completed_at, duration_ms, rows_affected, last_error
FROM refresh_queue
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list refreshes: %w", err)
	}
	defer rows.Close()

	var entries []storage.RefreshEntry
	for rows.Next() {
		var (
			entry       storage.RefreshEntry
			status      string
			requestedAt int64
			dueAt       int64
			startedAt   sql.NullInt64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ViewName,
			&entry.Reason,
			&status,
			&requestedAt,
			&dueAt,
			&startedAt,
			&completedAt,
			&entry.DurationMS,
			&entry.RowsAffected,
			&entry.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan refresh entry: %w", err)
		}
		entry.Status = storage.RefreshStatus(status)
		entry.RequestedAt = fromMillis(requestedAt)
		entry.DueAt = fromMillis(dueAt)
		entry.StartedAt = fromNullMillis(startedAt)
		entry.CompletedAt = fromNullMillis(completedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh entries: %w", err)
	}
	return entries, nil
}
