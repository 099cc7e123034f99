package catalog

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"

	"github.com/netraven/core/errs"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// UpsertSchedule creates or replaces the Schedule attached to a Job. If
// NextFire is zero, it is computed from kind/params relative to now.
func (s *Store) UpsertSchedule(ctx context.Context, sched *Schedule) error {
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	if sched.NextFire.IsZero() {
		nf, err := NextFire(*sched, time.Now())
		if err != nil {
			return err
		}
		sched.NextFire = nf
	}
	weekdays := make([]int32, len(sched.Weekdays))
	for i, w := range sched.Weekdays {
		weekdays[i] = int32(w)
	}
	return s.Exec(ctx, `
		INSERT INTO schedules (job_id, kind, interval_secs, time_of_day, weekdays, cron_expr,
			timezone, next_fire, last_fired, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (job_id) DO UPDATE SET
			kind=EXCLUDED.kind, interval_secs=EXCLUDED.interval_secs, time_of_day=EXCLUDED.time_of_day,
			weekdays=EXCLUDED.weekdays, cron_expr=EXCLUDED.cron_expr, timezone=EXCLUDED.timezone,
			next_fire=EXCLUDED.next_fire, enabled=EXCLUDED.enabled`,
		sched.JobID, sched.Kind, sched.IntervalS, sched.TimeOfDay, weekdays, sched.CronExpr,
		sched.Timezone, sched.NextFire, sched.LastFired, sched.Enabled)
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var sc Schedule
	var weekdays []int32
	if err := row.Scan(&sc.JobID, &sc.Kind, &sc.IntervalS, &sc.TimeOfDay, &weekdays, &sc.CronExpr,
		&sc.Timezone, &sc.NextFire, &sc.LastFired, &sc.Enabled); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "schedule not found")
		}
		return nil, errs.Wrap(errs.CatalogLoss, err, "scan schedule failed")
	}
	sc.Weekdays = make([]time.Weekday, len(weekdays))
	for i, w := range weekdays {
		sc.Weekdays[i] = time.Weekday(w)
	}
	return &sc, nil
}

const scheduleColumns = `job_id, kind, interval_secs, time_of_day, weekdays, cron_expr,
	timezone, next_fire, last_fired, enabled`

// GetSchedule fetches the Schedule belonging to jobID.
func (s *Store) GetSchedule(ctx context.Context, jobID uuid.UUID) (*Schedule, error) {
	return scanSchedule(s.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE job_id=$1`, jobID))
}

// DueSchedules returns every enabled Schedule whose next_fire is at or
// before asOf, ordered ascending so the dispatcher processes the oldest
// misses first (spec §4.1). A once-kind Schedule that has already fired
// (last_fired set) is never returned again.
func (s *Store) DueSchedules(ctx context.Context, asOf time.Time) ([]*Schedule, error) {
	rows, err := s.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled AND next_fire <= $1
		AND NOT (kind = 'once' AND last_fired IS NOT NULL)
		ORDER BY next_fire ASC`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// AdvanceSchedule recomputes and persists next_fire strictly after firedAt,
// and records last_fired. Intended to run inside the same transaction as
// the Job Run insert it accompanies (spec §4.1: enqueue + advance is one
// atomic step, so a crash between the two can never happen).
func (s *Store) AdvanceSchedule(ctx context.Context, tx pgx.Tx, sched Schedule, firedAt time.Time) error {
	next, err := NextFire(sched, firedAt)
	if err != nil {
		return err
	}
	_, execErr := tx.Exec(ctx, `UPDATE schedules SET next_fire=$2, last_fired=$3 WHERE job_id=$1`,
		sched.JobID, next, firedAt)
	if execErr != nil {
		return errs.Wrap(errs.CatalogLoss, execErr, "advance schedule failed")
	}
	return nil
}

// RevertScheduleFire undoes AdvanceSchedule when the Job Run it was
// committed alongside turns out to be unenqueueable (spec §4.1: an
// enqueue failure must not advance next-fire), restoring the
// pre-advance next_fire/last_fired so the next scan retries the fire.
func (s *Store) RevertScheduleFire(ctx context.Context, jobID uuid.UUID, nextFire time.Time, lastFired *time.Time) error {
	return s.Exec(ctx, `UPDATE schedules SET next_fire=$2, last_fired=$3 WHERE job_id=$1`,
		jobID, nextFire, lastFired)
}

// NextFire computes the first fire time strictly after from, per the
// Schedule's kind. For daily/weekly/cron kinds this always resolves in
// the Schedule's own timezone, closing the Open Question in spec §9 about
// ambiguous daily/weekly timezone handling. Catch-up never bursts: a
// Schedule that missed many occurrences while disabled or while the
// dispatcher was down advances to the single next occurrence after from,
// not one Job Run per missed occurrence (spec §4.1). The once kind is the
// exception to "strictly after": it returns its stored NextFire, or from
// itself when that time has passed, and after it has fired the stored
// value is kept unchanged.
func NextFire(sched Schedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.Validation, err, "invalid schedule timezone")
	}

	switch sched.Kind {
	case ScheduleOnce:
		if sched.LastFired != nil {
			return sched.NextFire, nil // already fired once; never fires again
		}
		if sched.NextFire.After(from) {
			return sched.NextFire, nil
		}
		return from, nil

	case ScheduleInterval:
		if sched.IntervalS <= 0 {
			return time.Time{}, errs.New(errs.Validation, "interval schedule requires a positive interval")
		}
		interval := time.Duration(sched.IntervalS) * time.Second
		return from.Add(interval), nil

	case ScheduleDaily:
		hh, mm, err := parseTimeOfDay(sched.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		fromLocal := from.In(loc)
		next := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day(), hh, mm, 0, 0, loc)
		if !next.After(fromLocal) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case ScheduleWeekly:
		if len(sched.Weekdays) == 0 {
			return time.Time{}, errs.New(errs.Validation, "weekly schedule requires at least one weekday")
		}
		hh, mm, err := parseTimeOfDay(sched.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		fromLocal := from.In(loc)
		for addDays := 0; addDays <= 7; addDays++ {
			cand := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day(), hh, mm, 0, 0, loc).AddDate(0, 0, addDays)
			if !cand.After(fromLocal) {
				continue
			}
			if weekdayIn(cand.Weekday(), sched.Weekdays) {
				return cand, nil
			}
		}
		return time.Time{}, errs.New(errs.Internal, "failed to find next weekly occurrence")

	case ScheduleCron:
		spec, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, errs.Wrap(errs.Validation, err, "invalid cron expression")
		}
		return spec.Next(from.In(loc)), nil

	default:
		return time.Time{}, errs.New(errs.Validation, "unknown schedule kind: "+string(sched.Kind))
	}
}

func weekdayIn(d time.Weekday, days []time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

func parseTimeOfDay(s string) (hh, mm int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, errs.New(errs.Validation, "time_of_day must be HH:MM")
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, errs.New(errs.Validation, "time_of_day must be HH:MM")
	}
	return hh, mm, nil
}
