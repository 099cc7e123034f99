// Package worker implements C4, the Worker Pool: claims per-device Items
// from C3, resolves credentials via C6, drives a device session through
// C5, persists snapshots through C7 and writes terminal Job Run status
// back to C1 (spec §3, §4.3, §4.4). Generalized from the teacher's
// worker/pool.go Pool/Worker shape (N workers looping Dequeue/Process
// against a named queue) into one bounded per-device attempt pipeline
// backed by a durable queue.Broker instead of the teacher's generic Queue
// interface.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/device"
	"github.com/netraven/core/queue"
	"github.com/netraven/core/vault"
)

// Config bounds the pool's concurrency and per-attempt timeouts (spec §6).
type Config struct {
	Concurrency      int // number of claim loops running concurrently
	DefaultFanout    int // K, default per-job device concurrency (DEVICE_FANOUT)
	MaxAttempts      int // visibility-timeout redelivery cap before dead-letter
	Visibility       time.Duration
	ClaimPollTimeout time.Duration
	ReachTimeout     time.Duration
	OpenTimeout      time.Duration
	CommandTimeout   time.Duration
	Backoff          device.BackoffPolicy
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		DefaultFanout:    10,
		MaxAttempts:      3,
		Visibility:       2 * time.Minute,
		ClaimPollTimeout: 5 * time.Second,
		ReachTimeout:     5 * time.Second,
		OpenTimeout:      10 * time.Second,
		CommandTimeout:   20 * time.Second,
		Backoff:          device.DefaultBackoffPolicy(),
	}
}

// CommandSource supplies the command sequence to run for a Job's kind and
// params; the caller of New supplies the mapping from Job.Kind/Params to
// concrete CLI commands (spec §4.4 step 3), DefaultCommands being the
// built-in one, so the pool depends on this seam rather than hardcoding
// per-kind logic.
type CommandSource interface {
	CommandsFor(job *catalog.Job) ([]string, error)
}

// Pool drives C4's claim/process loop.
type Pool struct {
	broker    queue.Broker
	catalog   *catalog.Store
	vault     *vault.Vault
	commands  CommandSource
	factories map[catalog.TransportKind]device.Factory
	cfg       Config

	mu        sync.Mutex
	fanoutSem map[uuid.UUID]*semaphore.Weighted

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool. factories must cover every catalog.TransportKind the
// catalog's Devices use; an unmapped transport records the device's
// Sub-Result as command_error.
func New(broker queue.Broker, catalogStore *catalog.Store, v *vault.Vault, commands CommandSource,
	factories map[catalog.TransportKind]device.Factory, cfg Config) *Pool {
	return &Pool{
		broker:    broker,
		catalog:   catalogStore,
		vault:     v,
		commands:  commands,
		factories: factories,
		cfg:       cfg,
		fanoutSem: make(map[uuid.UUID]*semaphore.Weighted),
		stopCh:    make(chan struct{}),
	}
}

// Start launches cfg.Concurrency claim loops.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Stop signals every loop to exit and waits for in-flight claims to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	log := logrus.WithFields(logrus.Fields{"source": "job", "worker_id": id})

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		claim, err := p.broker.Claim(ctx, p.cfg.Visibility, p.cfg.ClaimPollTimeout)
		if err != nil {
			log.WithError(err).Error("claim failed")
			continue
		}
		if claim == nil {
			continue
		}

		if err := p.processRecovered(ctx, *claim, log); err != nil {
			log.WithError(err).WithField("run_id", claim.Item.RunID).Error("item processing failed, nacking")
			if nackErr := p.broker.Nack(ctx, *claim, p.cfg.MaxAttempts); nackErr != nil {
				log.WithError(nackErr).Error("nack failed")
			}
			continue
		}
		if err := p.broker.Ack(ctx, *claim); err != nil {
			log.WithError(err).Error("ack failed")
		}
	}
}

// processRecovered wraps process in a recover boundary: a panic anywhere
// in the claim/attempt/persist path (spec §4.3 step 6, §7's "internal"
// row: "caught panic / bug") terminalizes the owning Job Run failed_error
// instead of crashing the claim loop, and the claim is still acked since
// the run is already terminal and redelivery would only be dropped anyway.
func (p *Pool) processRecovered(ctx context.Context, claim queue.Claim, log *logrus.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("run_id", claim.Item.RunID).WithField("panic", r).
				Error("worker panic recovered, terminalizing run failed_error")
			p.terminalizeFailedError(ctx, claim.Item.RunID, fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()
	return p.process(ctx, claim)
}

// fanoutLimiter returns (creating if absent) the semaphore bounding
// concurrent device sessions for runID, sized to limit (spec §4.3's K
// device fan-out cap). Entries are never removed: the run set is small and
// bounded by active Job Runs, and removal would race a concurrently
// arriving claim for the same run.
func (p *Pool) fanoutLimiter(runID uuid.UUID, limit int) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.fanoutSem[runID]
	if !ok {
		sem = semaphore.NewWeighted(int64(limit))
		p.fanoutSem[runID] = sem
	}
	return sem
}
