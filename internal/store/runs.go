package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ResourceImport/internal/core"
)

// DefaultRunLimit caps ListRuns when no limit is given.
const DefaultRunLimit = 50

const insertRun = `
INSERT INTO import_runs (
    id, session_id, resource_type, file_name, status, batch_size, start_batch,
    total_rows, total_batches, completed_batches, committed_rows, error, client_ip,
    started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const updateRun = `
UPDATE import_runs
SET status = $2, completed_batches = $3, committed_rows = $4, error = $5, finished_at = $6
WHERE id = $1`

const listRuns = `
SELECT id, session_id, resource_type, file_name, status, batch_size, start_batch,
       total_rows, total_batches, completed_batches, committed_rows, error, client_ip,
       started_at, finished_at
FROM import_runs
ORDER BY started_at DESC
LIMIT $1`

// CreateRun records the start of an import run.
func (s *Store) CreateRun(ctx context.Context, run core.Run) error {
	id, err := toUUID(run.ID)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	_, err = s.db.Exec(ctx, insertRun,
		id,
		run.SessionID,
		run.ResourceType,
		run.FileName,
		string(run.Status),
		run.BatchSize,
		run.StartBatch,
		run.TotalRows,
		run.TotalBatches,
		run.CompletedBatches,
		run.CommittedRows,
		toText(run.Error),
		toText(run.ClientIP),
		toTimestamptz(&run.StartedAt),
		toTimestamptz(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun records progress or the outcome of a run.
func (s *Store) UpdateRun(ctx context.Context, run core.Run) error {
	id, err := toUUID(run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	tag, err := s.db.Exec(ctx, updateRun,
		id,
		string(run.Status),
		run.CompletedBatches,
		run.CommittedRows,
		toText(run.Error),
		toTimestamptz(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run: %s not found", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]core.Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	rows, err := s.db.Query(ctx, listRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.CollectableRow) (core.Run, error) {
	var (
		run        core.Run
		id         pgtype.UUID
		status     string
		errText    pgtype.Text
		clientIP   pgtype.Text
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&id,
		&run.SessionID,
		&run.ResourceType,
		&run.FileName,
		&status,
		&run.BatchSize,
		&run.StartBatch,
		&run.TotalRows,
		&run.TotalBatches,
		&run.CompletedBatches,
		&run.CommittedRows,
		&errText,
		&clientIP,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return core.Run{}, err
	}

	run.ID = fromUUID(id)
	run.Status = core.RunStatus(status)
	run.Error = errText.String
	run.ClientIP = clientIP.String
	if startedAt.Valid {
		run.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func toUUID(id string) (pgtype.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid ID %q: %w", id, err)
	}
	return pgtype.UUID{Bytes: uid, Valid: true}, nil
}

func fromUUID(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

// toText maps "" to NULL.
func toText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
