// Package redis provides the Redis-backed queue.Broker implementation.
// It generalizes the teacher's single-queue RPush/BLPop + ZAdd
// processing-set design to three priority classes, a dead-letter list and
// a reap() sweep for crashed claimants (spec §3 C3, §4.2, §4.3, §6).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netraven/core/errs"
	"github.com/netraven/core/queue"
)

// Broker implements queue.Broker against a single Redis instance.
type Broker struct {
	client *redis.Client
	prefix string
}

// Config configures the Redis-backed Broker.
type Config struct {
	RedisURL  string // defaults to redis://localhost:6379/0
	KeyPrefix string // defaults to "netraven:"
}

var priorityOrder = []queue.Priority{queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow}

// New creates a Broker and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Broker, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to parse queue URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(errs.QueueLoss, err, "failed to connect to queue backend")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "netraven:"
	}
	return &Broker{client: client, prefix: prefix}, nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) queueKey(p queue.Priority) string {
	return fmt.Sprintf("%squeue:%d", b.prefix, p)
}

func (b *Broker) processingKey() string {
	return b.prefix + "processing"
}

func (b *Broker) deadLetterKey() string {
	return b.prefix + "deadletter"
}

// claimEnvelope is what is actually stored in the processing sorted set:
// enough to rebuild the Item and to know which queue to return it to.
type claimEnvelope struct {
	Item  queue.Item `json:"item"`
	Token string     `json:"token"`
}

// Enqueue implements queue.Broker.
func (b *Broker) Enqueue(ctx context.Context, item queue.Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "failed to marshal queue item")
	}
	if err := b.client.RPush(ctx, b.queueKey(item.Priority), payload).Err(); err != nil {
		return errs.Wrap(errs.QueueLoss, err, "enqueue failed")
	}
	return nil
}

// Claim implements queue.Broker, polling priority classes high to low
// within the overall timeout budget.
func (b *Broker) Claim(ctx context.Context, visibility time.Duration, timeout time.Duration) (*queue.Claim, error) {
	deadline := time.Now().Add(timeout)
	// each BLPop call covers one priority class at a time with a slice of
	// the budget; every pass starts again at high and returns the first
	// item found, so a lower class is only claimed from while every higher
	// class is empty.
	perClassTimeout := timeout / time.Duration(len(priorityOrder))
	if perClassTimeout <= 0 {
		perClassTimeout = 50 * time.Millisecond
	}

	for time.Now().Before(deadline) {
		for _, p := range priorityOrder {
			callCtx, cancel := context.WithTimeout(ctx, perClassTimeout+time.Second)
			result, err := b.client.BLPop(callCtx, perClassTimeout, b.queueKey(p)).Result()
			cancel()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if len(result) < 2 {
				continue
			}
			var item queue.Item
			if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
				return nil, errs.Wrap(errs.Internal, err, "failed to unmarshal queue item")
			}
			claim, err := b.markClaimed(ctx, item, visibility)
			if err != nil {
				return nil, err
			}
			return claim, nil
		}
	}
	return nil, nil
}

func (b *Broker) markClaimed(ctx context.Context, item queue.Item, visibility time.Duration) (*queue.Claim, error) {
	token := fmt.Sprintf("%s-%s-%d", item.RunID, item.DeviceID, time.Now().UnixNano())
	env := claimEnvelope{Item: item, Token: token}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to marshal claim envelope")
	}
	err = b.client.ZAdd(ctx, b.processingKey(), redis.Z{
		Score:  float64(time.Now().Add(visibility).Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return nil, errs.Wrap(errs.QueueLoss, err, "failed to mark item claimed")
	}
	return &queue.Claim{Item: item, Token: token}, nil
}

func (b *Broker) findProcessingMember(ctx context.Context, token string) (string, error) {
	members, err := b.client.ZRange(ctx, b.processingKey(), 0, -1).Result()
	if err != nil {
		return "", errs.Wrap(errs.QueueLoss, err, "failed to scan processing set")
	}
	for _, m := range members {
		var env claimEnvelope
		if json.Unmarshal([]byte(m), &env) == nil && env.Token == token {
			return m, nil
		}
	}
	return "", nil
}

// Ack implements queue.Broker.
func (b *Broker) Ack(ctx context.Context, claim queue.Claim) error {
	member, err := b.findProcessingMember(ctx, claim.Token)
	if err != nil {
		return err
	}
	if member == "" {
		return nil // already acked or reaped away
	}
	if err := b.client.ZRem(ctx, b.processingKey(), member).Err(); err != nil {
		return errs.Wrap(errs.QueueLoss, err, "ack failed")
	}
	return nil
}

// Nack implements queue.Broker: redeliver unless maxAttempts is reached,
// in which case the item moves to the dead-letter list (spec §6).
func (b *Broker) Nack(ctx context.Context, claim queue.Claim, maxAttempts int) error {
	member, err := b.findProcessingMember(ctx, claim.Token)
	if err != nil {
		return err
	}
	if member != "" {
		if err := b.client.ZRem(ctx, b.processingKey(), member).Err(); err != nil {
			return errs.Wrap(errs.QueueLoss, err, "nack cleanup failed")
		}
	}

	item := claim.Item
	item.Attempt++
	if item.Attempt >= maxAttempts {
		payload, err := json.Marshal(item)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "failed to marshal dead-letter item")
		}
		if err := b.client.RPush(ctx, b.deadLetterKey(), payload).Err(); err != nil {
			return errs.Wrap(errs.QueueLoss, err, "failed to dead-letter item")
		}
		return nil
	}
	return b.Enqueue(ctx, item)
}

// Reap implements queue.Broker: items whose visibility score has passed
// without being acked or nacked are returned to their queue, as if nacked,
// modeling a worker that crashed mid-claim.
func (b *Broker) Reap(ctx context.Context, maxAttempts int) (int, error) {
	now := float64(time.Now().Unix())
	expired, err := b.client.ZRangeByScore(ctx, b.processingKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, errs.Wrap(errs.QueueLoss, err, "reap scan failed")
	}

	count := 0
	for _, member := range expired {
		var env claimEnvelope
		if err := json.Unmarshal([]byte(member), &env); err != nil {
			continue
		}
		if err := b.client.ZRem(ctx, b.processingKey(), member).Err(); err != nil {
			continue
		}
		if err := b.Nack(ctx, queue.Claim{Item: env.Item, Token: env.Token}, maxAttempts); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DeadLetterLen implements queue.Broker.
func (b *Broker) DeadLetterLen(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, b.deadLetterKey()).Result()
	if err != nil {
		return 0, errs.Wrap(errs.QueueLoss, err, "dead-letter length query failed")
	}
	return n, nil
}

// Depth implements queue.Broker, summing across all priority classes.
func (b *Broker) Depth(ctx context.Context) (int64, error) {
	var total int64
	for _, p := range priorityOrder {
		n, err := b.client.LLen(ctx, b.queueKey(p)).Result()
		if err != nil {
			return 0, errs.Wrap(errs.QueueLoss, err, "depth query failed")
		}
		total += n
	}
	return total, nil
}
