// Package queue implements the task-queue collaborator on Redis lists: a
// main queue, a per-claim processing list and a delayed zset. Delivery is
// at-least-once with zero automatic retries; claimed tasks are acked after
// exactly one execution attempt regardless of its result.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"outcome-engine/internal/engine"
)

// ErrEmpty is returned by ClaimBlocking when no task became available
// within the wait window.
var ErrEmpty = errors.New("queue: no task available")

// Task is one claimed delivery. The raw body is kept for the Ack removal
// from the processing list.
type Task struct {
	Payload engine.TaskPayload
	raw     string
}

type RedisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	delayedKey    string
}

// NewRedisQueue builds a queue over the given key prefix.
func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "outcome-jobs"
	}
	return &RedisQueue{
		rdb:           rdb,
		queueKey:      prefix + ":queue",
		processingKey: prefix + ":processing",
		delayedKey:    prefix + ":delayed",
	}
}

// Enqueue publishes a task, optionally delayed. Delayed tasks sit in a zset
// scored by their due time until PromoteDue moves them onto the main queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task engine.TaskPayload, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: marshal task: %w", err)
	}
	if delay > 0 {
		due := float64(time.Now().Add(delay).UnixMilli())
		return q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{Score: due, Member: string(body)}).Err()
	}
	return q.rdb.LPush(ctx, q.queueKey, string(body)).Err()
}

// ClaimBlocking atomically moves one task from the queue to the processing
// list and returns it, waiting up to wait for one to appear.
func (q *RedisQueue) ClaimBlocking(ctx context.Context, wait time.Duration) (Task, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, ErrEmpty
		}
		return Task{}, err
	}
	var payload engine.TaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Drop the malformed entry so it cannot wedge the processing list.
		_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
		return Task{}, fmt.Errorf("queue: decode task: %w", err)
	}
	return Task{Payload: payload, raw: raw}, nil
}

// Ack removes a claimed task from the processing list. Called once per
// claim, on every outcome of the attempt.
func (q *RedisQueue) Ack(ctx context.Context, task Task) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, task.raw).Err()
}

// PromoteDue moves delayed tasks whose due time has passed onto the main
// queue, up to max entries per call.
func (q *RedisQueue) PromoteDue(ctx context.Context, max int64) (int64, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: max,
	}).Result()
	if err != nil {
		return 0, err
	}
	var moved int64
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey, member).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.queueKey, member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

var _ engine.TaskQueue = (*RedisQueue)(nil)
