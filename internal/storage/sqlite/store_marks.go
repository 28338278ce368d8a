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

// GetMarkFact returns the durable mark for a pair; a missing row is none.
func (s *Store) GetMarkFact(ctx context.Context, actorID, subjectID string) (domain.MarkState, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarkStateNone, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.MarkStateNone, fmt.Errorf("storage is not configured")
	}

	var state string
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT state FROM mark_facts WHERE actor_id = ? AND subject_id = ?
`, strings.TrimSpace(actorID), strings.TrimSpace(subjectID)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MarkStateNone, nil
	}
	if err != nil {
		return domain.MarkStateNone, wrapConflict("get mark fact", err)
	}
	return domain.ParseMarkState(state)
}

// ApplyMark writes the fact row and the aggregate delta in one immediate
// transaction. The transaction takes the database writer lock on begin, so
// concurrent calls for the same subject never interleave their deltas.
func (s *Store) ApplyMark(ctx context.Context, actorID, subjectID string, state domain.MarkState, delta domain.Delta) (domain.Counters, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counters{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Counters{}, fmt.Errorf("storage is not configured")
	}
	actorID = strings.TrimSpace(actorID)
	subjectID = strings.TrimSpace(subjectID)
	if actorID == "" || subjectID == "" {
		return domain.Counters{}, fmt.Errorf("actor id and subject id are required")
	}
	if !state.Valid() {
		return domain.Counters{}, fmt.Errorf("invalid mark state %q", state)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusyError(err) {
			return domain.Counters{}, fmt.Errorf("begin apply mark: %w", storage.ErrWriteConflict)
		}
		return domain.Counters{}, fmt.Errorf("begin apply mark: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `
SELECT 1 FROM subject_aggregates WHERE subject_id = ?
`, subjectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Counters{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Counters{}, wrapConflict("check subject", err)
	}

	now := toMillis(time.Now())
	if state == domain.MarkStateNone {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM mark_facts WHERE actor_id = ? AND subject_id = ?
`, actorID, subjectID); err != nil {
			return domain.Counters{}, wrapConflict("delete mark fact", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO mark_facts (actor_id, subject_id, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(actor_id, subject_id) DO UPDATE SET
	state = excluded.state,
	updated_at = excluded.updated_at
`, actorID, subjectID, string(state), now, now); err != nil {
			return domain.Counters{}, wrapConflict("upsert mark fact", err)
		}
	}

	var counters domain.Counters
	err = tx.QueryRowContext(ctx, `
UPDATE subject_aggregates SET
	positive_count = MAX(0, positive_count + ?),
	negative_count = MAX(0, negative_count + ?),
	updated_at = ?
WHERE subject_id = ?
RETURNING positive_count, negative_count
`, delta.Positive, delta.Negative, now, subjectID).Scan(&counters.Positive, &counters.Negative)
	if err != nil {
		return domain.Counters{}, wrapConflict("apply aggregate delta", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Counters{}, wrapConflict("commit apply mark", err)
	}
	return counters, nil
}

// CountMarkFacts recomputes a subject's true counters from its fact rows.
func (s *Store) CountMarkFacts(ctx context.Context, subjectID string) (domain.Counters, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counters{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Counters{}, fmt.Errorf("storage is not configured")
	}

	var counters domain.Counters
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	COUNT(CASE WHEN state = 'positive' THEN 1 END),
	COUNT(CASE WHEN state = 'negative' THEN 1 END)
FROM mark_facts
WHERE subject_id = ?
`, strings.TrimSpace(subjectID)).Scan(&counters.Positive, &counters.Negative)
	if err != nil {
		return domain.Counters{}, wrapConflict("count mark facts", err)
	}
	return counters, nil
}

func wrapConflict(op string, err error) error {
	if isBusyError(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrWriteConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
