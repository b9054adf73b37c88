package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/startsit/internal/adapters/redisclient"
	"github.com/okian/startsit/pkg/metrics"
)

const (
	defaultPollInterval = time.Second
	promoteBatch        = 100
)

// promoteScript moves due members of the delayed ZSET onto the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #due
`) //nolint:gochecknoglobals // compiled once

// RedisQueue implements Queue on Redis lists (LPUSH/BRPOP) with a ZSET per
// queue holding delayed items scored by their due time in milliseconds.
// Items stay in Redis across process restarts.
type RedisQueue struct {
	client *redisclient.Client
	poll   time.Duration
	now    func() time.Time
	closed atomic.Bool
}

// NewRedisQueue creates a queue over client.
func NewRedisQueue(client *redisclient.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client: client,
		poll:   defaultPollInterval,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) readyKey(name string) string   { return q.client.Key("queue", name) }
func (q *RedisQueue) delayedKey(name string) string { return q.client.Key("queue", name, "delayed") }

// Enqueue appends taskID to the named queue.
func (q *RedisQueue) Enqueue(ctx context.Context, name, taskID string) error {
	if name == "" {
		return ErrEmptyName
	}
	if q.closed.Load() {
		return ErrClosed
	}
	n, err := q.client.Redis().LPush(ctx, q.readyKey(name), taskID).Result()
	if err != nil {
		metrics.RecordQueueEnqueueError(name)
		return fmt.Errorf("lpush %s: %w", name, err)
	}
	metrics.UpdateQueueDepth(name, int(n))
	return nil
}

// EnqueueAfter parks taskID in the delayed set until delay elapses.
func (q *RedisQueue) EnqueueAfter(ctx context.Context, name, taskID string, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, name, taskID)
	}
	if name == "" {
		return ErrEmptyName
	}
	if q.closed.Load() {
		return ErrClosed
	}
	due := q.now().Add(delay).UnixMilli()
	if err := q.client.Redis().ZAdd(ctx, q.delayedKey(name), redis.Z{Score: float64(due), Member: taskID}).Err(); err != nil {
		metrics.RecordQueueEnqueueError(name)
		return fmt.Errorf("zadd %s: %w", name, err)
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context, name string) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	keys := []string{q.delayedKey(name), q.readyKey(name)}
	if err := promoteScript.Run(ctx, q.client.Redis(), keys, now, promoteBatch).Err(); err != nil {
		return fmt.Errorf("promote %s: %w", name, err)
	}
	return nil
}

// Dequeue blocks until a task is ready on one of names. Keys earlier in
// names are served first, matching BRPOP semantics.
func (q *RedisQueue) Dequeue(ctx context.Context, names ...string) (Message, error) {
	if len(names) == 0 {
		return Message{}, ErrEmptyName
	}
	keys := make([]string, len(names))
	byKey := make(map[string]string, len(names))
	for i, name := range names {
		keys[i] = q.readyKey(name)
		byKey[keys[i]] = name
	}

	for {
		if q.closed.Load() {
			return Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		for _, name := range names {
			if err := q.promote(ctx, name); err != nil {
				return Message{}, err
			}
		}

		res, err := q.client.Redis().BRPop(ctx, q.poll, keys...).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Message{}, ctxErr
			}
			return Message{}, fmt.Errorf("brpop: %w", err)
		case len(res) != 2:
			return Message{}, fmt.Errorf("brpop: unexpected reply %v", res)
		}
		return Message{Queue: byKey[res[0]], TaskID: res[1]}, nil
	}
}

// Remove drops taskID from both the ready list and the delayed set.
func (q *RedisQueue) Remove(ctx context.Context, name, taskID string) (bool, error) {
	var lrem *redis.IntCmd
	var zrem *redis.IntCmd
	_, err := q.client.Redis().TxPipelined(ctx, func(p redis.Pipeliner) error {
		lrem = p.LRem(ctx, q.readyKey(name), 0, taskID)
		zrem = p.ZRem(ctx, q.delayedKey(name), taskID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove %s from %s: %w", taskID, name, err)
	}
	return lrem.Val()+zrem.Val() > 0, nil
}

// Len returns the number of ready plus delayed items on the named queue.
func (q *RedisQueue) Len(ctx context.Context, name string) (int, error) {
	var llen *redis.IntCmd
	var zcard *redis.IntCmd
	_, err := q.client.Redis().Pipelined(ctx, func(p redis.Pipeliner) error {
		llen = p.LLen(ctx, q.readyKey(name))
		zcard = p.ZCard(ctx, q.delayedKey(name))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", name, err)
	}
	metrics.UpdateQueueDepth(name, int(llen.Val()))
	return int(llen.Val() + zcard.Val()), nil
}

// Close stops new work. The Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
