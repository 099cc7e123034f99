package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netraven/core/errs"
	"github.com/netraven/core/vault"
)

// CreateCredential inserts a new Credential. SecretCipher/SecretKeyID are
// expected to already be sealed by vault.Vault.Seal before reaching here —
// the catalog package never handles plaintext secrets (spec §4.6, §4.8).
func (s *Store) CreateCredential(ctx context.Context, c *Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	return s.Exec(ctx, `
		INSERT INTO credentials (id, username, secret_key_id, secret_cipher, priority,
			success_count, failure_count, last_used_at, description, is_system, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.Username, c.SecretKeyID, c.SecretCipher, c.Priority,
		c.SuccessCount, c.FailureCount, c.LastUsedAt, c.Description, c.IsSystem, c.CreatedAt, c.UpdatedAt)
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	if err := row.Scan(&c.ID, &c.Username, &c.SecretKeyID, &c.SecretCipher, &c.Priority,
		&c.SuccessCount, &c.FailureCount, &c.LastUsedAt, &c.Description, &c.IsSystem,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "credential not found")
		}
		return nil, errs.Wrap(errs.CatalogLoss, err, "scan credential failed")
	}
	return &c, nil
}

const credentialColumns = `id, username, secret_key_id, secret_cipher, priority,
	success_count, failure_count, last_used_at, description, is_system, created_at, updated_at`

// GetCredential fetches a Credential by id.
func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (*Credential, error) {
	row := s.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id=$1`, id)
	return scanCredential(row)
}

// CredentialsByTag returns every Credential bound to tagID, the binding
// priority alongside each (spec §4.6 ranking input).
func (s *Store) CredentialsByTag(ctx context.Context, tagID uuid.UUID) ([]*Credential, map[uuid.UUID]int, error) {
	rows, err := s.Query(ctx, `
		SELECT c.`+credentialColumns+`, ct.priority
		FROM credentials c
		JOIN credential_tags ct ON ct.credential_id = c.id
		WHERE ct.tag_id = $1`, tagID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []*Credential
	bindingPriority := make(map[uuid.UUID]int)
	for rows.Next() {
		var c Credential
		var bp int
		if err := rows.Scan(&c.ID, &c.Username, &c.SecretKeyID, &c.SecretCipher, &c.Priority,
			&c.SuccessCount, &c.FailureCount, &c.LastUsedAt, &c.Description, &c.IsSystem,
			&c.CreatedAt, &c.UpdatedAt, &bp); err != nil {
			return nil, nil, errs.Wrap(errs.CatalogLoss, err, "scan credential failed")
		}
		out = append(out, &c)
		bindingPriority[c.ID] = bp
	}
	return out, bindingPriority, rows.Err()
}

// BindCredential attaches a Credential to a Tag with a binding priority.
func (s *Store) BindCredential(ctx context.Context, tagID, credentialID uuid.UUID, priority int) error {
	return s.Exec(ctx, `
		INSERT INTO credential_tags (tag_id, credential_id, priority) VALUES ($1,$2,$3)
		ON CONFLICT (tag_id, credential_id) DO UPDATE SET priority = EXCLUDED.priority`,
		tagID, credentialID, priority)
}

// UnbindCredential removes a Tag↔Credential binding.
func (s *Store) UnbindCredential(ctx context.Context, tagID, credentialID uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM credential_tags WHERE tag_id=$1 AND credential_id=$2`, tagID, credentialID)
}

// RecordCredentialOutcome updates the success/failure counters and
// last-used timestamp after an attempt (spec §4.6: only success and
// auth_failure outcomes move the counters; transport-level failures like
// unreachable/timeout do not indict the credential).
func (s *Store) RecordCredentialOutcome(ctx context.Context, credentialID uuid.UUID, success bool) error {
	now := time.Now()
	if success {
		return s.Exec(ctx, `UPDATE credentials SET success_count = success_count + 1, last_used_at=$2, updated_at=now() WHERE id=$1`,
			credentialID, now)
	}
	return s.Exec(ctx, `UPDATE credentials SET failure_count = failure_count + 1, last_used_at=$2, updated_at=now() WHERE id=$1`,
		credentialID, now)
}

// UpdateCredentialPriority rewrites a Credential's baseline priority, used
// by the "optimize priorities" cosmetic compaction (spec §4.6).
func (s *Store) UpdateCredentialPriority(ctx context.Context, credentialID uuid.UUID, priority int) error {
	return s.Exec(ctx, `UPDATE credentials SET priority=$2, updated_at=now() WHERE id=$1`, credentialID, priority)
}

// DeleteCredential removes a Credential; credential_tags bindings cascade.
func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `DELETE FROM credentials WHERE id=$1`, id)
}

// AllSealedSecrets implements vault.Resealer for key rotation (spec §4.8).
func (s *Store) AllSealedSecrets(ctx context.Context) ([]vault.SealedSecret, error) {
	rows, err := s.Query(ctx, `SELECT secret_key_id, secret_cipher FROM credentials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.SealedSecret
	for rows.Next() {
		var r vault.SealedSecret
		if err := rows.Scan(&r.KeyID, &r.Ciphertext); err != nil {
			return nil, errs.Wrap(errs.CatalogLoss, err, "scan sealed secret failed")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateSealedSecret implements vault.Resealer: it rewrites the ciphertext
// that matches old (matched by key id + ciphertext bytes, which is unique
// per seal since every AES-GCM seal draws a fresh random nonce) to new.
func (s *Store) UpdateSealedSecret(ctx context.Context, old, new vault.SealedSecret) error {
	return s.Exec(ctx, `
		UPDATE credentials SET secret_key_id=$3, secret_cipher=$4, updated_at=now()
		WHERE secret_key_id=$1 AND secret_cipher=$2`,
		old.KeyID, old.Ciphertext, new.KeyID, new.Ciphertext)
}
