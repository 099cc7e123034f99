// Package queue implements C3, the Execution Queue: a durable, ordered
// hand-off of per-device work from the dispatcher to the worker pool, with
// priority classes, visibility timeouts and a dead-letter path (spec §3,
// §4.2, §4.3, §6). Broker is the seam a backend implements; queue/redis
// is the only implementation in this module, grounded on the
// teacher's queue/redis/queue.go RPush/BLPop + ZAdd processing-set pattern.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Priority is the queue class an Item is pushed onto. Higher-priority
// queues are always drained before lower ones (spec §4.2: interactive
// "run now" submissions jump ahead of scheduled backlog).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Item is one unit of durable work: a single device's slice of a Job Run.
// The dispatcher pushes one Item per resolved device when a Job Run starts
// (spec §4.2); the worker pool claims and acks/nacks them (spec §4.3).
type Item struct {
	RunID      uuid.UUID `json:"runId"`
	JobID      uuid.UUID `json:"jobId"`
	DeviceID   uuid.UUID `json:"deviceId"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempt    int       `json:"attempt"`
	Deadline   time.Time `json:"deadline"`
}

// Claim is an Item handed to a worker, plus the token needed to Ack/Nack
// it. The token lets a backend distinguish redelivered claims (e.g. after a
// visibility-timeout reap) from the original.
type Claim struct {
	Item  Item
	Token string
}

// Broker is the durable queue contract C4 (worker) and C2 (dispatcher)
// depend on. Implementations MUST make Enqueue durable before returning
// (spec §4.2: "a Job Run is never lost between dispatch and queue") and
// MUST make claimed-but-unacked Items reappear after their visibility
// timeout elapses (spec §4.3, §6 MaxAttempts).
type Broker interface {
	// Enqueue durably stores item onto its Priority class.
	Enqueue(ctx context.Context, item Item) error

	// Claim blocks up to timeout for the next Item across all priority
	// classes (high before normal before low), marking it invisible to
	// other claimants until visibility elapses or Ack/Nack is called.
	// Returns (nil, nil) on timeout with nothing available.
	Claim(ctx context.Context, visibility time.Duration, timeout time.Duration) (*Claim, error)

	// Ack permanently removes a claimed Item from the queue.
	Ack(ctx context.Context, claim Claim) error

	// Nack returns a claimed Item to its queue for redelivery, unless
	// item.Attempt has reached MaxAttempts, in which case it is moved to
	// the dead-letter list instead (spec §6: "poison messages must not
	// loop forever").
	Nack(ctx context.Context, claim Claim, maxAttempts int) error

	// Reap scans for claims whose visibility has elapsed without an
	// Ack/Nack (a worker crashed mid-processing) and returns them to their
	// queue, incrementing Attempt. Intended to run on a ticker.
	Reap(ctx context.Context, maxAttempts int) (int, error)

	// DeadLetterLen reports the current size of the dead-letter list, for
	// operational visibility.
	DeadLetterLen(ctx context.Context) (int64, error)

	// Depth reports the number of Items waiting (not yet claimed) across
	// all priority classes.
	Depth(ctx context.Context) (int64, error)

	Close() error
}
