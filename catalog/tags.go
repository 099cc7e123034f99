package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netraven/core/errs"
)

// CreateTag inserts a new Tag. Name uniqueness is case-insensitive
// (spec §3); a duplicate name surfaces as errs.Conflict.
func (s *Store) CreateTag(ctx context.Context, t *Tag) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	err := s.Exec(ctx, `INSERT INTO tags (id, name, type, created_at) VALUES ($1,$2,$3,$4)`,
		t.ID, t.Name, t.Type, t.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return errs.New(errs.Conflict, "tag name already exists")
	}
	return err
}

// GetTag fetches a Tag by id.
func (s *Store) GetTag(ctx context.Context, id uuid.UUID) (*Tag, error) {
	row := s.QueryRow(ctx, `SELECT id, name, type, created_at FROM tags WHERE id=$1`, id)
	var t Tag
	if err := row.Scan(&t.ID, &t.Name, &t.Type, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "tag not found")
		}
		return nil, errs.Wrap(errs.CatalogLoss, err, "scan tag failed")
	}
	return &t, nil
}

// ListTags returns every Tag.
func (s *Store) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := s.Query(ctx, `SELECT id, name, type, created_at FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.CatalogLoss, err, "scan tag failed")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteTag removes a Tag. The device_tags and credential_tags junction
// rows cascade on delete (schema.go), so removing a Tag also removes every
// Device-membership and Credential-binding that referenced it, per spec §4.6.
func (s *Store) DeleteTag(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM tags WHERE id=$1`, id)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
