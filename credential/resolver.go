// Package credential implements C6, the Credential Resolver: ranks the
// candidate Credentials for a target Device by tag membership and priority,
// records success/auth_failure outcomes back into the catalog, and exposes
// the "optimize priorities" cosmetic compaction (spec §3, §4.6).
package credential

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/netraven/core/catalog"
)

// Store is the subset of catalog.Store the resolver needs.
type Store interface {
	DevicesByTag(ctx context.Context, tagID uuid.UUID) ([]*catalog.Device, error)
	CredentialsByTag(ctx context.Context, tagID uuid.UUID) ([]*catalog.Credential, map[uuid.UUID]int, error)
	DeviceTagIDs(ctx context.Context, deviceID uuid.UUID) ([]uuid.UUID, error)
	RecordCredentialOutcome(ctx context.Context, credentialID uuid.UUID, success bool) error
	UpdateCredentialPriority(ctx context.Context, credentialID uuid.UUID, priority int) error
}

// Ranked is a Credential paired with its effective priority for one
// resolution (spec §4.6: effective priority = min(binding.priority,
// credential.priority)).
type Ranked struct {
	Credential       *catalog.Credential
	EffectivePriority int
}

// Resolve returns every Credential bound (via any Tag membership) to
// deviceID, ordered by effective priority ascending (lower tried first),
// ties broken by success rate desc, then most-recent LastUsedAt, then id
// ascending (spec §4.6).
func Resolve(ctx context.Context, s Store, deviceID uuid.UUID) ([]Ranked, error) {
	tagIDs, err := s.DeviceTagIDs(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*Ranked)
	for _, tagID := range tagIDs {
		creds, bindingPriority, err := s.CredentialsByTag(ctx, tagID)
		if err != nil {
			return nil, err
		}
		for _, c := range creds {
			eff := min(bindingPriority[c.ID], c.Priority)
			if existing, ok := byID[c.ID]; ok {
				if eff < existing.EffectivePriority {
					existing.EffectivePriority = eff
				}
				continue
			}
			byID[c.ID] = &Ranked{Credential: c, EffectivePriority: eff}
		}
	}

	out := make([]Ranked, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func less(a, b Ranked) bool {
	if a.EffectivePriority != b.EffectivePriority {
		return a.EffectivePriority < b.EffectivePriority
	}
	ra, rb := successRate(a.Credential), successRate(b.Credential)
	if ra != rb {
		return ra > rb
	}
	la, lb := a.Credential.LastUsedAt, b.Credential.LastUsedAt
	switch {
	case la == nil && lb == nil:
		// fall through to id tie-break
	case la == nil:
		return false
	case lb == nil:
		return true
	case !la.Equal(*lb):
		return la.After(*lb)
	}
	return a.Credential.ID.String() < b.Credential.ID.String()
}

func successRate(c *catalog.Credential) float64 {
	total := c.SuccessCount + c.FailureCount
	if total == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(total)
}

// RecordOutcome updates the success/failure counters per spec §4.6: only
// success and auth_failure are evidence about a credential; every other
// outcome is a transport-level failure and leaves counters untouched, so
// callers must not invoke RecordOutcome for those.
func RecordOutcome(ctx context.Context, s Store, credentialID uuid.UUID, success bool) error {
	return s.RecordCredentialOutcome(ctx, credentialID, success)
}

// OptimizePriorities rewrites each Credential's baseline priority to a
// compact ascending sequence (0, 10, 20, ...) that preserves the exact
// relative order Resolve would have produced, a purely cosmetic compaction
// with no ranking effect (spec §4.6).
func OptimizePriorities(ctx context.Context, s Store, ranked []Ranked) error {
	for i, r := range ranked {
		if err := s.UpdateCredentialPriority(ctx, r.Credential.ID, i*10); err != nil {
			return err
		}
	}
	return nil
}
