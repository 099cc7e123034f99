// Package catalog implements C1, the Job Catalog: authoritative definitions
// for devices, tags, credentials, jobs, recurring schedules, job runs and
// their sub-results. It is the single source of truth every other
// component (C2 through C8) reads from and writes back to, backed by
// PostgreSQL through pgx the way the teacher's db.PostgresDB wraps a
// pgxpool.Pool (spec §3, §4.1-§4.9, §6).
package catalog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransportKind identifies how C5 talks to a Device.
type TransportKind string

const (
	TransportSSH    TransportKind = "ssh"
	TransportTelnet TransportKind = "telnet"
	TransportREST   TransportKind = "rest"
)

// ReachabilityStatus mirrors the Sub-Result statuses that feed
// Device.LastReachability (spec §4.9).
type ReachabilityStatus string

const (
	ReachabilityUnknown     ReachabilityStatus = "unknown"
	ReachabilitySuccess     ReachabilityStatus = "success"
	ReachabilityUnreachable ReachabilityStatus = "unreachable"
	ReachabilityAuthFailure ReachabilityStatus = "auth_failure"
	ReachabilityTimeout     ReachabilityStatus = "timeout"
	ReachabilityError       ReachabilityStatus = "command_error"
)

// Reachability is the last-known reachability record owned by a Device.
type Reachability struct {
	Status    ReachabilityStatus
	Timestamp time.Time
	Message   string
}

// Device is a single managed network device (spec §3).
type Device struct {
	ID           uuid.UUID
	Hostname     string
	Host         string // IP or hostname literal used to connect
	Transport    TransportKind
	Port         int
	Description  string
	Model        string
	Serial       string
	OwnerID      string
	Reachability Reachability
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tag is a named set that Devices and Credentials can both belong to
// (spec §3). Name uniqueness is case-insensitive.
type Tag struct {
	ID        uuid.UUID
	Name      string
	Type      string
	CreatedAt time.Time
}

// Credential is a set of device login material, shared across Tags via
// bindings (spec §3, §4.6).
type Credential struct {
	ID             uuid.UUID
	Username       string
	SecretKeyID    string // vault key id the secret is sealed under
	SecretCipher   []byte
	Priority       int
	SuccessCount   int64
	FailureCount   int64
	LastUsedAt     *time.Time
	Description    string
	IsSystem       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CredentialBinding is the Tag↔Credential relation with a per-binding
// priority override (spec §3, §9 — represented as a relation, never a
// direct Device↔Credential cycle).
type CredentialBinding struct {
	TagID        uuid.UUID
	CredentialID uuid.UUID
	Priority     int
}

// JobKind enumerates the built-in Job kinds (spec §3).
type JobKind string

const (
	JobBackup       JobKind = "backup"
	JobReachability JobKind = "reachability"
	JobCommand      JobKind = "command"
	JobCustom       JobKind = "custom"
)

// Selector picks the device set a Job targets: an explicit device, an
// explicit tag, or the union of both (spec §3).
type Selector struct {
	DeviceID *uuid.UUID
	TagID    *uuid.UUID
}

// Job is a template of work (spec §3).
type Job struct {
	ID           uuid.UUID
	Name         string
	Kind         JobKind
	Selector     Selector
	Params       json.RawMessage
	Enabled      bool
	IsSystemJob  bool
	FanoutLimit  int // K, per-job override of DEVICE_FANOUT (0 = use default)
	MaxDuration  time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduleKind enumerates the recurrence kinds a Job's Schedule can take
// (spec §3).
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleWeekly   ScheduleKind = "weekly"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule is the recurrence rule owned by a Job (spec §3, §4.1). Timezone
// is stored explicitly per schedule, resolving the Open Question in spec
// §9 about ambiguous daily/weekly timezone handling.
type Schedule struct {
	JobID      uuid.UUID
	Kind       ScheduleKind
	IntervalS  int64       // ScheduleInterval: period in seconds
	TimeOfDay  string      // ScheduleDaily/Weekly: "HH:MM"
	Weekdays   []time.Weekday // ScheduleWeekly
	CronExpr   string      // ScheduleCron
	Timezone   string      // IANA zone name, e.g. "America/Chicago"
	NextFire   time.Time
	LastFired  *time.Time
	Enabled    bool
}

// RunStatus is the monotonic Job Run status lifecycle (spec §3):
// {queued} -> {running} -> {terminal}, never backward.
type RunStatus string

const (
	RunQueued           RunStatus = "queued"
	RunRunning          RunStatus = "running"
	RunCompletedSuccess RunStatus = "completed_success"
	RunCompletedFailed  RunStatus = "completed_failed"
	RunFailedError      RunStatus = "failed_error"
	RunCancelled        RunStatus = "cancelled"
	RunNoDevices        RunStatus = "no_devices"
)

// IsTerminal reports whether status is a terminal Job Run state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompletedSuccess, RunCompletedFailed, RunFailedError, RunCancelled, RunNoDevices:
		return true
	default:
		return false
	}
}

// JobRun is one concrete execution instance of a Job (spec §3).
type JobRun struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	DeviceIDs   []uuid.UUID // resolved device set, snapshotted at enqueue time
	Status      RunStatus
	Cancelled   bool
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Deadline    time.Time
	TimedOut    bool
}

// Duration returns the Job Run's wall-clock duration if it has finished.
func (r JobRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// SubResultStatus is the per-device outcome of a Job Run (spec §3, §4.4).
type SubResultStatus string

const (
	SubSuccess     SubResultStatus = "success"
	SubAuthFailure SubResultStatus = "auth_failure"
	SubUnreachable SubResultStatus = "unreachable"
	SubTimeout     SubResultStatus = "timeout"
	SubCommandErr  SubResultStatus = "command_error"
	SubAborted     SubResultStatus = "aborted"
)

// SubResult is the per-device outcome inside one Job Run (spec §3). Weak
// references to Device and Credential remain valid after the referent is
// deleted: the id is always retained even if navigation is nullified.
type SubResult struct {
	RunID        uuid.UUID
	DeviceID     uuid.UUID
	CredentialID *uuid.UUID
	Status       SubResultStatus
	ErrorMessage string // redacted before persistence
	SnapshotHash string // empty unless a snapshot was produced
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns the sub-result's wall-clock duration.
func (r SubResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// EncryptionKey is a catalog row describing a vault key's lifecycle
// (spec §3, §4.8). Only KeyID and metadata live here; key material lives
// only in the vault.Vault process memory.
type EncryptionKey struct {
	ID          string
	Active      bool
	Description string
	CreatedAt   time.Time
}
