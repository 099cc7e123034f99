package vault

import (
	"context"

	"github.com/netraven/core/errs"
)

// SealedSecret is the shape the catalog persists for a Credential's secret:
// the id of the key it was sealed under, plus the ciphertext blob.
type SealedSecret struct {
	KeyID      string
	Ciphertext []byte
}

// Resealer abstracts the catalog operations rotate needs: enumerate every
// sealed secret and persist its re-sealed form, all inside one transaction.
// catalog.Store implements this against the credentials table.
type Resealer interface {
	AllSealedSecrets(ctx context.Context) ([]SealedSecret, error)
	UpdateSealedSecret(ctx context.Context, old SealedSecret, new SealedSecret) error
}

// Rotate re-seals every existing ciphertext under newKey within the scope
// of a single logical operation: either every secret is re-sealed or none
// are (spec §4.8). The caller is expected to run this inside a catalog
// transaction so UpdateSealedSecret calls commit or roll back together;
// Rotate itself aborts at the first error without touching the vault's
// active key, so a half-rotated reseal never becomes visible.
func (v *Vault) Rotate(ctx context.Context, newKey Key, r Resealer) error {
	v.AddKey(newKey)

	secrets, err := r.AllSealedSecrets(ctx)
	if err != nil {
		return errs.Wrap(errs.VaultError, err, "failed to enumerate sealed secrets")
	}

	resealed := make([]SealedSecret, 0, len(secrets))
	for _, s := range secrets {
		plaintext, err := v.Open(s.KeyID, s.Ciphertext)
		if err != nil {
			return errs.Wrap(errs.VaultError, err, "failed to open secret during rotation")
		}
		ct, err := sealWith(newKey, plaintext)
		if err != nil {
			return errs.Wrap(errs.VaultError, err, "failed to reseal secret during rotation")
		}
		resealed = append(resealed, SealedSecret{KeyID: newKey.ID, Ciphertext: ct})
	}

	for i, s := range secrets {
		if err := r.UpdateSealedSecret(ctx, s, resealed[i]); err != nil {
			return errs.Wrap(errs.VaultError, err, "failed to persist resealed secret")
		}
	}

	if err := v.Activate(newKey.ID); err != nil {
		return err
	}
	return nil
}

// StartupCheck fails fast if the first existing credential sealed under
// the active key cannot be decrypted, per the invariant in spec §4.8.
// Credentials sealed under other keys are not checked. An empty catalog
// (no credentials yet), or one with no credential sealed under the active
// key, is not a failure.
func (v *Vault) StartupCheck(ctx context.Context, r Resealer) error {
	secrets, err := r.AllSealedSecrets(ctx)
	if err != nil {
		return errs.Wrap(errs.VaultError, err, "failed to list secrets for startup check")
	}
	if len(secrets) == 0 {
		return nil
	}
	active := v.ActiveKeyID()
	for _, s := range secrets {
		if s.KeyID != active {
			continue
		}
		if _, err := v.Open(s.KeyID, s.Ciphertext); err != nil {
			return errs.Wrap(errs.VaultError, err, "active key cannot decrypt existing credential")
		}
		return nil
	}
	// no secret references the active key yet; nothing to verify against
	return nil
}
