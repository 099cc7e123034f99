package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netraven/core/errs"
)

// CreateDevice inserts a new Device.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	return s.Exec(ctx, `
		INSERT INTO devices (id, hostname, host, transport, port, description, model, serial, owner_id,
			reachability_status, reachability_ts, reachability_msg, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.ID, d.Hostname, d.Host, d.Transport, d.Port, d.Description, d.Model, d.Serial, d.OwnerID,
		orUnknown(d.Reachability.Status), d.Reachability.Timestamp, d.Reachability.Message, d.CreatedAt, d.UpdatedAt)
}

func orUnknown(s ReachabilityStatus) ReachabilityStatus {
	if s == "" {
		return ReachabilityUnknown
	}
	return s
}

// GetDevice fetches a Device by id.
func (s *Store) GetDevice(ctx context.Context, id uuid.UUID) (*Device, error) {
	row := s.QueryRow(ctx, `
		SELECT id, hostname, host, transport, port, description, model, serial, owner_id,
			reachability_status, reachability_ts, reachability_msg, created_at, updated_at
		FROM devices WHERE id = $1`, id)
	return scanDevice(row)
}

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	var rts *time.Time
	if err := row.Scan(&d.ID, &d.Hostname, &d.Host, &d.Transport, &d.Port, &d.Description, &d.Model, &d.Serial,
		&d.OwnerID, &d.Reachability.Status, &rts, &d.Reachability.Message, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "device not found")
		}
		return nil, errs.Wrap(errs.CatalogLoss, err, "scan device failed")
	}
	if rts != nil {
		d.Reachability.Timestamp = *rts
	}
	return &d, nil
}

// UpdateDevice overwrites a Device's editable fields (spec §6
// upsert_device). Reachability is left untouched; it only ever changes
// through UpdateReachability, written back by the worker.
func (s *Store) UpdateDevice(ctx context.Context, d *Device) error {
	return s.Exec(ctx, `
		UPDATE devices SET hostname=$2, host=$3, transport=$4, port=$5, description=$6,
			model=$7, serial=$8, owner_id=$9, updated_at=now()
		WHERE id=$1`,
		d.ID, d.Hostname, d.Host, d.Transport, d.Port, d.Description, d.Model, d.Serial, d.OwnerID)
}

// UpdateReachability records the last-known reachability outcome for a
// Device (spec §3, §4.9).
func (s *Store) UpdateReachability(ctx context.Context, deviceID uuid.UUID, r Reachability) error {
	return s.Exec(ctx, `
		UPDATE devices SET reachability_status=$2, reachability_ts=$3, reachability_msg=$4, updated_at=now()
		WHERE id=$1`, deviceID, r.Status, r.Timestamp, r.Message)
}

// DeleteDevice removes a Device. Per spec §3, deletion is only permitted
// when no live Job Run references it; the caller is responsible for that
// check (service layer), this method simply executes the delete.
func (s *Store) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM devices WHERE id=$1`, id)
}

// DevicesByTag returns every Device that is a member of tagID.
func (s *Store) DevicesByTag(ctx context.Context, tagID uuid.UUID) ([]*Device, error) {
	rows, err := s.Query(ctx, `
		SELECT d.id, d.hostname, d.host, d.transport, d.port, d.description, d.model, d.serial, d.owner_id,
			d.reachability_status, d.reachability_ts, d.reachability_msg, d.created_at, d.updated_at
		FROM devices d
		JOIN device_tags dt ON dt.device_id = d.id
		WHERE dt.tag_id = $1`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeviceTagIDs returns every Tag id deviceID is a member of, the input the
// credential resolver (C6) unions over.
func (s *Store) DeviceTagIDs(ctx context.Context, deviceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.Query(ctx, `SELECT tag_id FROM device_tags WHERE device_id = $1`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.CatalogLoss, err, "scan tag id failed")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TagDevice adds a Device to a Tag.
func (s *Store) TagDevice(ctx context.Context, deviceID, tagID uuid.UUID) error {
	return s.Exec(ctx, `
		INSERT INTO device_tags (device_id, tag_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, deviceID, tagID)
}

// UntagDevice removes a Device from a Tag.
func (s *Store) UntagDevice(ctx context.Context, deviceID, tagID uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM device_tags WHERE device_id=$1 AND tag_id=$2`, deviceID, tagID)
}
