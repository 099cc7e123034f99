// Package service composes C1 through C9 behind the typed operation set
// spec §6 names for the collaborating HTTP API: submit_job, cancel_run,
// list_runs, get_run, get_snapshot, diff_snapshots, list_logs, and the
// upsert_* entity operations. `cmd/netravencore` does not construct it;
// it is the only package the (out of scope) HTTP layer would import,
// grounded on the teacher's convention of a `Services` struct
// carrying every backing handle instead of ambient package-level
// singletons (spec §8 redesign flag: "pass a Services value through
// constructors; no ambient state").
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/credential"
	"github.com/netraven/core/errs"
	"github.com/netraven/core/logstore"
	"github.com/netraven/core/queue"
	"github.com/netraven/core/snapshot"
	"github.com/netraven/core/vault"
)

// Service is the composition root every external operation hangs off of.
type Service struct {
	Catalog *catalog.Store
	Broker  queue.Broker
	Vault   *vault.Vault
	Logs    *logstore.Store
}

// New builds a Service from already-constructed components.
func New(catalogStore *catalog.Store, broker queue.Broker, v *vault.Vault, logs *logstore.Store) *Service {
	return &Service{Catalog: catalogStore, Broker: broker, Vault: v, Logs: logs}
}

// SubmitJob implements spec §6's submit_job: looks up the Job, rejects a
// disabled Job, resolves its device set, and enqueues a Job Run exactly
// the way the dispatcher does for a scheduled fire, but outside the
// dispatcher's lease (an interactive "run now" never needs the schedule
// lock, spec §4.2 — it rides the queue's PriorityHigh class so it jumps
// ahead of scheduled backlog).
func (s *Service) SubmitJob(ctx context.Context, jobID uuid.UUID, overrideParams []byte) (uuid.UUID, error) {
	job, err := s.Catalog.GetJob(ctx, jobID)
	if err != nil {
		return uuid.Nil, err
	}
	if !job.Enabled {
		return uuid.Nil, errs.New(errs.Validation, "job is disabled")
	}
	if len(overrideParams) > 0 {
		job.Params = overrideParams
	}

	devices, err := s.Catalog.ResolveSelector(ctx, job.Selector)
	if err != nil {
		return uuid.Nil, err
	}
	if len(devices) == 0 {
		return uuid.Nil, errs.New(errs.Validation, "job selector resolved to no devices")
	}

	deviceIDs := make([]uuid.UUID, len(devices))
	for i, d := range devices {
		deviceIDs[i] = d.ID
	}

	now := time.Now()
	deadline := 30 * time.Minute
	if job.MaxDuration > 0 {
		deadline = job.MaxDuration
	}
	run := &catalog.JobRun{
		JobID:      job.ID,
		DeviceIDs:  deviceIDs,
		Status:     catalog.RunQueued,
		EnqueuedAt: now,
		Deadline:   now.Add(deadline),
	}

	if err := s.Catalog.WithTx(ctx, func(tx pgx.Tx) error {
		return s.Catalog.CreateJobRun(ctx, tx, run)
	}); err != nil {
		return uuid.Nil, err
	}

	for _, d := range devices {
		item := queue.Item{
			RunID: run.ID, JobID: job.ID, DeviceID: d.ID,
			Priority: queue.PriorityHigh, EnqueuedAt: now, Deadline: run.Deadline,
		}
		if err := s.Broker.Enqueue(ctx, item); err != nil {
			// Same invariant as the dispatcher's scheduled fire (spec §4.1):
			// an enqueue failure must not leave a Job Run with no hope of
			// ever completing, so the just-created run is deleted rather
			// than left dangling non-terminal.
			if delErr := s.Catalog.DeleteJobRun(ctx, run.ID); delErr != nil {
				return uuid.Nil, errs.Wrap(errs.QueueLoss, delErr, "enqueue failed and job run rollback also failed")
			}
			return uuid.Nil, errs.Wrap(errs.QueueLoss, err, "job run created but enqueue failed, rolled back")
		}
	}
	return run.ID, nil
}

// CancelRun implements spec §6's cancel_run.
func (s *Service) CancelRun(ctx context.Context, runID uuid.UUID) error {
	run, err := s.Catalog.GetJobRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return errs.New(errs.Conflict, "job run is already terminal")
	}
	return s.Catalog.CancelRun(ctx, runID)
}

// RunFilters narrows ListRuns (spec §6 list_runs filters/paging).
type RunFilters struct {
	JobID  *uuid.UUID
	Status *catalog.RunStatus
	Limit  int
}

// ListRuns implements spec §6's list_runs.
func (s *Service) ListRuns(ctx context.Context, f RunFilters) ([]*catalog.JobRun, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var jobID uuid.UUID
	if f.JobID != nil {
		jobID = *f.JobID
	}
	runs, err := s.Catalog.ListJobRuns(ctx, jobID, limit)
	if err != nil {
		return nil, err
	}
	if f.Status == nil {
		return runs, nil
	}
	filtered := runs[:0]
	for _, r := range runs {
		if r.Status == *f.Status {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// RunDetail is a Job Run plus its Sub-Results, what spec §6's get_run
// returns.
type RunDetail struct {
	Run        *catalog.JobRun
	SubResults []*catalog.SubResult
}

// GetRun implements spec §6's get_run.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	run, err := s.Catalog.GetJobRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	results, err := s.Catalog.SubResultsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, SubResults: results}, nil
}

// GetSnapshot implements spec §6's get_snapshot(device_id, snapshot_id):
// snapshot_id is the content hash, scoped to deviceID so one device can
// never read a Snapshot it was never referenced against (spec §4.5: "the
// store guarantees the two snapshots belonged to the same device").
func (s *Service) GetSnapshot(ctx context.Context, deviceID uuid.UUID, snapshotID string) ([]byte, error) {
	ok, err := snapshot.BelongsToDevice(ctx, s.Catalog, deviceID, snapshotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.NotFound, "snapshot not found for device")
	}
	return snapshot.GetByHash(ctx, s.Catalog, snapshotID)
}

// DiffSnapshots implements spec §6's diff_snapshots.
func (s *Service) DiffSnapshots(ctx context.Context, deviceID uuid.UUID, hashA, hashB string) ([]snapshot.Change, error) {
	return snapshot.Diff(ctx, s.Catalog, deviceID, hashA, hashB)
}

// LogFilters narrows ListLogs (spec §6 list_logs filters/paging).
type LogFilters struct {
	JobRunID uuid.UUID
	Limit    int
}

// ListLogs implements spec §6's list_logs, scoped to a single Job Run: it
// reads that run's persisted log_entries rows; no other filter is
// supported.
func (s *Service) ListLogs(ctx context.Context, f LogFilters) ([]logstore.Entry, error) {
	entries, err := s.Logs.ListForRun(ctx, f.JobRunID)
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[len(entries)-f.Limit:]
	}
	return entries, nil
}

// UpsertDevice implements spec §6's upsert_device.
func (s *Service) UpsertDevice(ctx context.Context, d *catalog.Device) error {
	if d.Hostname == "" {
		return errs.Field("hostname", "hostname is required")
	}
	if d.Host == "" {
		return errs.Field("host", "host is required")
	}
	if d.ID == uuid.Nil {
		return s.Catalog.CreateDevice(ctx, d)
	}
	return s.Catalog.UpdateDevice(ctx, d)
}

// UpsertTag implements spec §6's upsert_tag.
func (s *Service) UpsertTag(ctx context.Context, t *catalog.Tag) error {
	if t.Name == "" {
		return errs.Field("name", "name is required")
	}
	return s.Catalog.CreateTag(ctx, t)
}

// UpsertCredential implements spec §6's upsert_credential: seals the
// plaintext secret through the vault before it ever reaches the catalog.
func (s *Service) UpsertCredential(ctx context.Context, c *catalog.Credential, secret credential.Secret) error {
	if c.Username == "" {
		return errs.Field("username", "username is required")
	}
	plaintext, err := credential.MarshalSecret(secret)
	if err != nil {
		return errs.Wrap(errs.Validation, err, "failed to encode credential secret")
	}
	keyID, ciphertext, err := s.Vault.Seal(plaintext)
	if err != nil {
		return err
	}
	c.SecretKeyID = keyID
	c.SecretCipher = ciphertext
	return s.Catalog.CreateCredential(ctx, c)
}

// UpsertJob implements spec §6's upsert_job.
func (s *Service) UpsertJob(ctx context.Context, j *catalog.Job) error {
	if j.Name == "" {
		return errs.Field("name", "name is required")
	}
	if j.Selector.DeviceID == nil && j.Selector.TagID == nil {
		return errs.Field("selector", "job requires a device or tag selector")
	}
	if j.ID == uuid.Nil {
		return s.Catalog.CreateJob(ctx, j)
	}
	return s.Catalog.UpdateJob(ctx, j)
}
