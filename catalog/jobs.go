package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netraven/core/errs"
)

// CreateJob inserts a new Job definition.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Params == nil {
		j.Params = json.RawMessage("{}")
	}
	now := time.Now()
	j.CreatedAt, j.UpdatedAt = now, now
	return s.Exec(ctx, `
		INSERT INTO jobs (id, name, kind, selector_device_id, selector_tag_id, params,
			enabled, is_system_job, fanout_limit, max_duration_secs, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		j.ID, j.Name, j.Kind, j.Selector.DeviceID, j.Selector.TagID, j.Params,
		j.Enabled, j.IsSystemJob, j.FanoutLimit, int64(j.MaxDuration/time.Second), j.CreatedAt, j.UpdatedAt)
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var maxDurSecs int64
	if err := row.Scan(&j.ID, &j.Name, &j.Kind, &j.Selector.DeviceID, &j.Selector.TagID, &j.Params,
		&j.Enabled, &j.IsSystemJob, &j.FanoutLimit, &maxDurSecs, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "job not found")
		}
		return nil, errs.Wrap(errs.CatalogLoss, err, "scan job failed")
	}
	j.MaxDuration = time.Duration(maxDurSecs) * time.Second
	return &j, nil
}

const jobColumns = `id, name, kind, selector_device_id, selector_tag_id, params,
	enabled, is_system_job, fanout_limit, max_duration_secs, created_at, updated_at`

// GetJob fetches a Job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return scanJob(s.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
}

// ListJobs returns every Job definition.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob overwrites a Job's mutable fields.
func (s *Store) UpdateJob(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now()
	return s.Exec(ctx, `
		UPDATE jobs SET name=$2, kind=$3, selector_device_id=$4, selector_tag_id=$5, params=$6,
			enabled=$7, fanout_limit=$8, max_duration_secs=$9, updated_at=$10
		WHERE id=$1`,
		j.ID, j.Name, j.Kind, j.Selector.DeviceID, j.Selector.TagID, j.Params,
		j.Enabled, j.FanoutLimit, int64(j.MaxDuration/time.Second), j.UpdatedAt)
}

// DeleteJob removes a Job. System Jobs (IsSystemJob) cannot be deleted by
// this layer; the service layer enforces that before calling here (spec §3).
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, id)
}

// ResolveSelector expands a Job's Selector into a concrete Device list,
// snapshotted for the new Job Run at enqueue time (spec §4.2): the union of
// the explicit device (if any) and every member of the explicit tag (if
// any), deduplicated by id.
func (s *Store) ResolveSelector(ctx context.Context, sel Selector) ([]*Device, error) {
	seen := make(map[uuid.UUID]bool)
	var out []*Device

	if sel.DeviceID != nil {
		d, err := s.GetDevice(ctx, *sel.DeviceID)
		if err != nil && !errs.Is(err, errs.NotFound) {
			return nil, err
		}
		if d != nil {
			seen[d.ID] = true
			out = append(out, d)
		}
	}

	if sel.TagID != nil {
		byTag, err := s.DevicesByTag(ctx, *sel.TagID)
		if err != nil {
			return nil, err
		}
		for _, d := range byTag {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}

	return out, nil
}
