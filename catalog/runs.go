package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netraven/core/errs"
)

// CreateJobRun inserts a new Job Run row inside tx, so the dispatcher can
// enqueue it and advance the owning Schedule's next_fire atomically (spec
// §4.1, §4.2). If the resolved device set is empty, Status is forced to
// RunNoDevices and the caller should not push anything onto the queue.
func (s *Store) CreateJobRun(ctx context.Context, tx pgx.Tx, r *JobRun) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if len(r.DeviceIDs) == 0 {
		r.Status = RunNoDevices
		now := time.Now()
		r.FinishedAt = &now
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO job_runs (id, job_id, device_ids, status, cancelled, enqueued_at,
			started_at, finished_at, deadline, timed_out)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.JobID, r.DeviceIDs, r.Status, r.Cancelled, r.EnqueuedAt,
		r.StartedAt, r.FinishedAt, r.Deadline, r.TimedOut)
	if err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "failed to create job run")
	}
	return nil
}

func scanJobRun(row pgx.Row) (*JobRun, error) {
	var r JobRun
	if err := row.Scan(&r.ID, &r.JobID, &r.DeviceIDs, &r.Status, &r.Cancelled, &r.EnqueuedAt,
		&r.StartedAt, &r.FinishedAt, &r.Deadline, &r.TimedOut); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "job run not found")
		}
		return nil, errs.Wrap(errs.CatalogLoss, err, "scan job run failed")
	}
	return &r, nil
}

const jobRunColumns = `id, job_id, device_ids, status, cancelled, enqueued_at,
	started_at, finished_at, deadline, timed_out`

// GetJobRun fetches a Job Run by id.
func (s *Store) GetJobRun(ctx context.Context, id uuid.UUID) (*JobRun, error) {
	return scanJobRun(s.QueryRow(ctx, `SELECT `+jobRunColumns+` FROM job_runs WHERE id=$1`, id))
}

// ListJobRuns returns Job Runs for jobID, most recent first. A zero jobID
// lists across every Job.
func (s *Store) ListJobRuns(ctx context.Context, jobID uuid.UUID, limit int) ([]*JobRun, error) {
	var rows pgx.Rows
	var err error
	if jobID == uuid.Nil {
		rows, err = s.Query(ctx, `SELECT `+jobRunColumns+` FROM job_runs ORDER BY enqueued_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.Query(ctx, `SELECT `+jobRunColumns+` FROM job_runs WHERE job_id=$1 ORDER BY enqueued_at DESC LIMIT $2`, jobID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JobRun
	for rows.Next() {
		r, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRunStarted transitions a Job Run from queued to running. It is a
// no-op (returns false, nil) if the run is already past queued, which makes
// duplicate queue deliveries safe to replay (spec §4.3, §5 idempotency
// invariant).
func (s *Store) MarkRunStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status=$2, started_at=$3 WHERE id=$1 AND status=$4`,
		id, RunRunning, startedAt, RunQueued)
	if err != nil {
		return false, errs.Wrap(errs.CatalogLoss, err, "mark run started failed")
	}
	return tag.RowsAffected() == 1, nil
}

// FinishRun transitions a Job Run to a terminal status. It is a no-op if
// the run is already terminal (idempotent replay safety, spec §5).
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, finishedAt time.Time, timedOut bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status=$2, finished_at=$3, timed_out=$4
		WHERE id=$1 AND status = ANY($5)`,
		id, status, finishedAt, timedOut, []RunStatus{RunQueued, RunRunning})
	if err != nil {
		return false, errs.Wrap(errs.CatalogLoss, err, "finish run failed")
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteJobRun removes a Job Run row outright. Used only to undo a Job Run
// that was created but never successfully enqueued (spec §4.1: an enqueue
// failure must leave no trace of the fire, not a dangling non-terminal
// run); device_sub_results cascades on delete, though none normally exist
// yet at this point in the fire lifecycle.
func (s *Store) DeleteJobRun(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM job_runs WHERE id=$1`, id)
}

// CancelRun marks a Job Run cancelled. Cancellation is cooperative: workers
// observe Cancelled and stop dispatching new per-device work, but
// in-flight device sessions finish naturally (spec §4.3).
func (s *Store) CancelRun(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `UPDATE job_runs SET cancelled=true WHERE id=$1 AND NOT (status = ANY($2))`,
		id, []RunStatus{RunCompletedSuccess, RunCompletedFailed, RunFailedError, RunCancelled, RunNoDevices})
}

// UpsertSubResult writes a device's outcome for a run. A second delivery of
// the same (run_id, device_id) pair overwrites rather than duplicates,
// since device_sub_results is keyed on that composite primary key (spec
// §4.3, §4.4 idempotency invariant).
func (s *Store) UpsertSubResult(ctx context.Context, r *SubResult) error {
	return s.Exec(ctx, `
		INSERT INTO device_sub_results (run_id, device_id, credential_id, status, error_message,
			snapshot_hash, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (run_id, device_id) DO UPDATE SET
			credential_id=EXCLUDED.credential_id, status=EXCLUDED.status,
			error_message=EXCLUDED.error_message, snapshot_hash=EXCLUDED.snapshot_hash,
			started_at=EXCLUDED.started_at, finished_at=EXCLUDED.finished_at`,
		r.RunID, r.DeviceID, r.CredentialID, r.Status, r.ErrorMessage,
		r.SnapshotHash, r.StartedAt, r.FinishedAt)
}

// SubResultsForRun returns every recorded outcome for a Job Run.
func (s *Store) SubResultsForRun(ctx context.Context, runID uuid.UUID) ([]*SubResult, error) {
	rows, err := s.Query(ctx, `
		SELECT run_id, device_id, credential_id, status, error_message, snapshot_hash, started_at, finished_at
		FROM device_sub_results WHERE run_id=$1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SubResult
	for rows.Next() {
		var r SubResult
		if err := rows.Scan(&r.RunID, &r.DeviceID, &r.CredentialID, &r.Status, &r.ErrorMessage,
			&r.SnapshotHash, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errs.Wrap(errs.CatalogLoss, err, "scan sub result failed")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AggregateStatus derives a terminal Job Run status from its sub-results,
// per spec §4.4: all success -> completed_success; any device-level
// failure, including every device failing -> completed_failed.
// failed_error is never produced here: it is reserved for an actual
// worker/vault/DB fault, set directly by the worker pool when one of
// those is caught, never inferred from device outcomes (spec §4.4, §7).
func AggregateStatus(results []*SubResult) RunStatus {
	if len(results) == 0 {
		return RunNoDevices
	}
	for _, r := range results {
		if r.Status != SubSuccess {
			return RunCompletedFailed
		}
	}
	return RunCompletedSuccess
}
