package logstore

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netraven/core/errs"
)

// Reaper periodically deletes persisted log entries older than their
// source's retention window (spec §4.7, §6: LOG_RETENTION_DAYS applies to
// general entries, SESSION_LOG_RETENTION_DAYS to per-session device
// interaction logs).
type Reaper struct {
	store               *Store
	logRetention        time.Duration
	sessionLogRetention time.Duration
	interval            time.Duration
}

// NewReaper creates a Reaper. interval controls how often the sweep runs.
func NewReaper(store *Store, logRetention, sessionLogRetention, interval time.Duration) *Reaper {
	return &Reaper{
		store:               store,
		logRetention:        logRetention,
		sessionLogRetention: sessionLogRetention,
		interval:            interval,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logrus.WithError(err).WithField("source", "system").Error("retention sweep failed")
			}
		}
	}
}

// Sweep deletes expired entries once. Session-scoped entries (those
// recording a device interaction, i.e. DeviceID is set) use
// sessionLogRetention; everything else uses logRetention.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := time.Now()

	if err := r.store.catalogStore.Exec(ctx, `
		DELETE FROM log_entries WHERE device_id IS NOT NULL AND ts < $1`,
		now.Add(-r.sessionLogRetention)); err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "session log retention sweep failed")
	}

	if err := r.store.catalogStore.Exec(ctx, `
		DELETE FROM log_entries WHERE device_id IS NULL AND ts < $1`,
		now.Add(-r.logRetention)); err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "log retention sweep failed")
	}

	return nil
}
