package credential_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/credential"
)

type fakeStore struct {
	tagsOfDevice map[uuid.UUID][]uuid.UUID
	credsOfTag   map[uuid.UUID][]*catalog.Credential
	bindingPrio  map[uuid.UUID]map[uuid.UUID]int
	outcomes     map[uuid.UUID]bool
	priorities   map[uuid.UUID]int
}

func (f *fakeStore) DevicesByTag(ctx context.Context, tagID uuid.UUID) ([]*catalog.Device, error) {
	return nil, nil
}

func (f *fakeStore) CredentialsByTag(ctx context.Context, tagID uuid.UUID) ([]*catalog.Credential, map[uuid.UUID]int, error) {
	return f.credsOfTag[tagID], f.bindingPrio[tagID], nil
}

func (f *fakeStore) DeviceTagIDs(ctx context.Context, deviceID uuid.UUID) ([]uuid.UUID, error) {
	return f.tagsOfDevice[deviceID], nil
}

func (f *fakeStore) RecordCredentialOutcome(ctx context.Context, credentialID uuid.UUID, success bool) error {
	if f.outcomes == nil {
		f.outcomes = make(map[uuid.UUID]bool)
	}
	f.outcomes[credentialID] = success
	return nil
}

func (f *fakeStore) UpdateCredentialPriority(ctx context.Context, credentialID uuid.UUID, priority int) error {
	if f.priorities == nil {
		f.priorities = make(map[uuid.UUID]int)
	}
	f.priorities[credentialID] = priority
	return nil
}

func TestResolveOrdersByEffectivePriorityThenSuccessRate(t *testing.T) {
	device := uuid.New()
	tag := uuid.New()

	lowPrioHighSuccess := &catalog.Credential{ID: uuid.New(), Priority: 100, SuccessCount: 9, FailureCount: 1}
	highPrioLowSuccess := &catalog.Credential{ID: uuid.New(), Priority: 10, SuccessCount: 1, FailureCount: 9}
	tiedA := &catalog.Credential{ID: uuid.New(), Priority: 50, SuccessCount: 5, FailureCount: 5}
	tiedB := &catalog.Credential{ID: uuid.New(), Priority: 50, SuccessCount: 5, FailureCount: 5}
	if tiedA.ID.String() > tiedB.ID.String() {
		tiedA, tiedB = tiedB, tiedA
	}

	store := &fakeStore{
		tagsOfDevice: map[uuid.UUID][]uuid.UUID{device: {tag}},
		credsOfTag: map[uuid.UUID][]*catalog.Credential{
			tag: {lowPrioHighSuccess, highPrioLowSuccess, tiedA, tiedB},
		},
		bindingPrio: map[uuid.UUID]map[uuid.UUID]int{
			tag: {
				lowPrioHighSuccess.ID: 100,
				highPrioLowSuccess.ID: 10,
				tiedA.ID:              50,
				tiedB.ID:              50,
			},
		},
	}

	ranked, err := credential.Resolve(context.Background(), store, device)
	require.NoError(t, err)
	require.Len(t, ranked, 4)
	require.Equal(t, highPrioLowSuccess.ID, ranked[0].Credential.ID)
	require.Equal(t, tiedA.ID, ranked[1].Credential.ID)
	require.Equal(t, tiedB.ID, ranked[2].Credential.ID)
	require.Equal(t, lowPrioHighSuccess.ID, ranked[3].Credential.ID)
}

func TestEffectivePriorityIsMinOfBindingAndCredential(t *testing.T) {
	device := uuid.New()
	tag := uuid.New()
	cred := &catalog.Credential{ID: uuid.New(), Priority: 5}

	store := &fakeStore{
		tagsOfDevice: map[uuid.UUID][]uuid.UUID{device: {tag}},
		credsOfTag:   map[uuid.UUID][]*catalog.Credential{tag: {cred}},
		bindingPrio:  map[uuid.UUID]map[uuid.UUID]int{tag: {cred.ID: 50}},
	}

	ranked, err := credential.Resolve(context.Background(), store, device)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, 5, ranked[0].EffectivePriority)
}

func TestOptimizePrioritiesPreservesOrder(t *testing.T) {
	a := &catalog.Credential{ID: uuid.New()}
	b := &catalog.Credential{ID: uuid.New()}
	ranked := []credential.Ranked{{Credential: a}, {Credential: b}}

	store := &fakeStore{}
	require.NoError(t, credential.OptimizePriorities(context.Background(), store, ranked))
	require.Less(t, store.priorities[a.ID], store.priorities[b.ID])
}
