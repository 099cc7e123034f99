// Package dispatcher implements C2, the Recurring-Job Dispatcher: a
// single-instance, lease-protected loop that scans due Schedules, creates
// their Job Runs and enqueues them onto C3, then atomically advances each
// Schedule's next-fire (spec §3, §4.1). Grounded on the teacher's
// coordinator lease pattern generalized onto `catalog.Store.AdvisoryLock`
// (pg_try_advisory_lock) instead of a Redis/etcd lease, since the catalog
// is already the single source of truth every other component depends on.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/queue"
)

// advisoryLockKey is an arbitrary fixed key identifying the single
// dispatcher lease; every dispatcher process in the deployment contends
// for the same key (spec §4.1: "two concurrent dispatchers MUST NOT
// double-fire").
const advisoryLockKey int64 = 0x6e6574726176656e // "netraven" truncated to int64

// Config controls the scan cadence.
type Config struct {
	ScanInterval time.Duration
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{ScanInterval: 10 * time.Second}
}

// Dispatcher owns the scan loop.
type Dispatcher struct {
	catalog *catalog.Store
	broker  queue.Broker
	cfg     Config

	conn *pgxpool.Conn // held only while this process owns the lease
}

// New creates a Dispatcher.
func New(catalogStore *catalog.Store, broker queue.Broker, cfg Config) *Dispatcher {
	return &Dispatcher{catalog: catalogStore, broker: broker, cfg: cfg}
}

// Run blocks, scanning on every tick until ctx is cancelled. It acquires
// the advisory lease once at startup and holds it for the process
// lifetime; if the lease cannot be acquired (another dispatcher holds it),
// Run retries on the same ticker rather than exiting, so a standby
// instance picks up the lease automatically on failover.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := logrus.WithField("source", "system")
	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if d.conn == nil {
			if err := d.acquireLease(ctx); err != nil {
				log.WithError(err).Debug("dispatcher lease not acquired, standing by")
			} else {
				log.Info("acquired dispatcher lease")
			}
		}

		if d.conn != nil {
			if err := d.scanOnce(ctx); err != nil {
				log.WithError(err).Error("schedule scan failed")
			}
		}

		select {
		case <-ctx.Done():
			d.releaseLease(context.Background())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) acquireLease(ctx context.Context) error {
	conn, err := d.catalog.Pool().Acquire(ctx)
	if err != nil {
		return err
	}
	ok, err := d.catalog.AdvisoryLock(ctx, conn, advisoryLockKey)
	if err != nil {
		conn.Release()
		return err
	}
	if !ok {
		conn.Release()
		return nil
	}
	d.conn = conn
	return nil
}

func (d *Dispatcher) releaseLease(ctx context.Context) {
	if d.conn == nil {
		return
	}
	_ = d.catalog.AdvisoryUnlock(ctx, d.conn, advisoryLockKey)
	d.conn.Release()
	d.conn = nil
}

// scanOnce processes every due Schedule once, oldest next-fire first (spec
// §4.1).
func (d *Dispatcher) scanOnce(ctx context.Context) error {
	now := time.Now()
	due, err := d.catalog.DueSchedules(ctx, now)
	if err != nil {
		return err
	}
	for _, sched := range due {
		if err := d.fire(ctx, sched, now); err != nil {
			logrus.WithError(err).WithField("job_id", sched.JobID).Error("failed to fire schedule")
		}
	}
	return nil
}

// fire creates the Job Run and advances the Schedule atomically (spec
// §4.1: "The enqueue + next-fire update MUST be atomic with respect to the
// catalog"). The queue push happens only after the transaction commits; if
// any device's push fails, the commit is undone by compensating writes
// (the Job Run row is deleted, the Schedule's next_fire/last_fired are
// reverted to their pre-fire values) so the occurrence is neither lost nor
// left as a non-terminal run with no hope of completing, and the next scan
// retries the fire from scratch with a fresh run (spec §4.1: "if C3
// enqueue fails, the Job Run record is deleted and next-fire is not
// advanced; retried on the next tick").
func (d *Dispatcher) fire(ctx context.Context, sched *catalog.Schedule, firedAt time.Time) error {
	job, err := d.catalog.GetJob(ctx, sched.JobID)
	if err != nil {
		return err
	}
	if !job.Enabled {
		// spec §3 invariant: a disabled Job MUST NOT produce Job Runs.
		// The schedule still advances so it doesn't spin on the same
		// past-due instant forever.
		return d.catalog.WithTx(ctx, func(tx pgx.Tx) error {
			return d.catalog.AdvanceSchedule(ctx, tx, *sched, firedAt)
		})
	}

	devices, err := d.catalog.ResolveSelector(ctx, job.Selector)
	if err != nil {
		return err
	}

	deviceIDs := make([]uuid.UUID, len(devices))
	for i, dv := range devices {
		deviceIDs[i] = dv.ID
	}

	run := &catalog.JobRun{
		JobID:      job.ID,
		DeviceIDs:  deviceIDs,
		Status:     catalog.RunQueued,
		EnqueuedAt: firedAt,
		Deadline:   firedAt.Add(jobDeadline(job)),
	}

	if len(devices) == 0 {
		logrus.WithField("job_id", job.ID).Warn("missed_schedule: job resolved to zero devices")
	}

	origNextFire, origLastFired := sched.NextFire, sched.LastFired

	err = d.catalog.WithTx(ctx, func(tx pgx.Tx) error {
		if err := d.catalog.CreateJobRun(ctx, tx, run); err != nil {
			return err
		}
		return d.catalog.AdvanceSchedule(ctx, tx, *sched, firedAt)
	})
	if err != nil {
		return err
	}

	var enqueueErr error
	for _, dv := range devices {
		item := queue.Item{
			RunID:      run.ID,
			JobID:      job.ID,
			DeviceID:   dv.ID,
			Priority:   queue.PriorityNormal,
			EnqueuedAt: firedAt,
			Deadline:   run.Deadline,
		}
		if err := d.broker.Enqueue(ctx, item); err != nil {
			enqueueErr = err
			break
		}
	}
	if enqueueErr == nil {
		return nil
	}

	if delErr := d.catalog.DeleteJobRun(ctx, run.ID); delErr != nil {
		logrus.WithError(delErr).WithField("run_id", run.ID).Error("missed_schedule: failed to roll back job run after enqueue failure")
	}
	if revertErr := d.catalog.RevertScheduleFire(ctx, sched.JobID, origNextFire, origLastFired); revertErr != nil {
		logrus.WithError(revertErr).WithField("job_id", sched.JobID).Error("missed_schedule: failed to revert schedule after enqueue failure")
	}
	return fmt.Errorf("missed_schedule: enqueue failed, run rolled back: %w", enqueueErr)
}

func jobDeadline(job *catalog.Job) time.Duration {
	if job.MaxDuration > 0 {
		return job.MaxDuration
	}
	return 30 * time.Minute
}
