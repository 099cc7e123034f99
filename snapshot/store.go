// Package snapshot implements C7, the Snapshot Store: content-addressed,
// deduplicated storage of device configuration captures, plus a pure
// line-level diff (spec §3, §4.5). No teacher or pack repo ships a
// content-addressed config store, so this package is grounded directly on
// the spec's own algorithm description rather than an example file; the
// persistence shape (plain SQL via catalog.Store) follows the same pgx
// idiom as every other catalog-backed component.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/errs"
)

// ContentHash computes the dedup key for bytes: SHA-256 of the canonicalized
// form. Canonicalization normalizes trailing whitespace and line endings
// only — it never rewrites comments, reorders lines, or drops blank lines
// that change semantics (spec §4.5 invariant).
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(Canonicalize(raw))
	return hex.EncodeToString(sum[:])
}

// Canonicalize normalizes CRLF/CR to LF and strips trailing whitespace from
// each line, nothing else.
func Canonicalize(raw []byte) []byte {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))
	lines := bytes.Split(normalized, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t")
	}
	return bytes.Join(lines, []byte("\n"))
}

// Put stores raw bytes if no Snapshot with the same content hash already
// exists, then records a (runID, deviceID) reference to it, returning the
// content hash (spec §4.5: "if a Snapshot with the same hash exists, no new
// bytes are written; a new reference is added").
func Put(ctx context.Context, s *catalog.Store, runID, deviceID uuid.UUID, raw []byte) (string, error) {
	hash := ContentHash(raw)

	if err := s.Exec(ctx, `
		INSERT INTO snapshots (content_hash, bytes, first_seen) VALUES ($1,$2,$3)
		ON CONFLICT (content_hash) DO NOTHING`, hash, raw, time.Now()); err != nil {
		return "", errs.Wrap(errs.Internal, err, "failed to store snapshot bytes")
	}

	if err := s.Exec(ctx, `
		INSERT INTO snapshot_refs (run_id, device_id, content_hash, captured_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (run_id, device_id) DO UPDATE SET content_hash=EXCLUDED.content_hash, captured_at=EXCLUDED.captured_at`,
		runID, deviceID, hash, time.Now()); err != nil {
		return "", errs.Wrap(errs.Internal, err, "failed to store snapshot reference")
	}

	return hash, nil
}

// Get retrieves the Snapshot referenced by (runID, deviceID).
func Get(ctx context.Context, s *catalog.Store, runID, deviceID uuid.UUID) ([]byte, error) {
	row := s.QueryRow(ctx, `
		SELECT s.bytes FROM snapshots s
		JOIN snapshot_refs r ON r.content_hash = s.content_hash
		WHERE r.run_id = $1 AND r.device_id = $2`, runID, deviceID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "snapshot reference not found")
	}
	return raw, nil
}

// GetByHash retrieves a Snapshot directly by content hash.
func GetByHash(ctx context.Context, s *catalog.Store, hash string) ([]byte, error) {
	row := s.QueryRow(ctx, `SELECT bytes FROM snapshots WHERE content_hash=$1`, hash)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "snapshot not found")
	}
	return raw, nil
}

// BelongsToDevice reports whether hash was ever captured for deviceID,
// the check Diff uses to enforce the same-device invariant (spec §4.5:
// "the store guarantees the two snapshots belonged to the same device at
// some point, enforced at reference creation").
func BelongsToDevice(ctx context.Context, s *catalog.Store, deviceID uuid.UUID, hash string) (bool, error) {
	row := s.QueryRow(ctx, `SELECT count(*) FROM snapshot_refs WHERE device_id=$1 AND content_hash=$2`, deviceID, hash)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, errs.Wrap(errs.Internal, err, "snapshot ownership check failed")
	}
	return n > 0, nil
}
