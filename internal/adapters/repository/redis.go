package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/startsit/internal/adapters/redisclient"
	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/model"
)

// Task records are hashes {state, data}; the state field lets the scripts
// below enforce transitions without decoding JSON inside Redis.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`) //nolint:gochecknoglobals // compiled once

	updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then return -1 end
for i = 4, #ARGV do
  if ARGV[i] == cur then
    redis.call('HSET', KEYS[1], 'state', ARGV[1], 'data', ARGV[2])
    redis.call('PEXPIRE', KEYS[1], ARGV[3])
    return 1
  end
end
if cur == 'SUCCESS' or cur == 'FAILURE' then return -2 end
return 0
`) //nolint:gochecknoglobals // compiled once

	completeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then return -1 end
if cur == 'SUCCESS' or cur == 'FAILURE' then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
if ARGV[4] ~= '' then
  redis.call('SET', KEYS[2], ARGV[4], 'PX', ARGV[5])
  redis.call('SET', KEYS[3], ARGV[4], 'PX', ARGV[5])
end
return 1
`) //nolint:gochecknoglobals // compiled once
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redisclient.Client
	cfg    settings
}

// NewRedisStore creates a store over client.
func NewRedisStore(client *redisclient.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, cfg: newSettings(opts)}
}

func (s *RedisStore) taskKey(id string) string     { return s.client.Key("task", id) }
func (s *RedisStore) resultKey(id string) string   { return s.client.Key("result", "task", id) }
func (s *RedisStore) resultFPKey(fp string) string { return s.client.Key("result", "fp", fp) }
func (s *RedisStore) cancelKey(id string) string   { return s.client.Key("cancel", id) }

func unavailable(op string, err error) error {
	return failure.WrapKind(op, failure.ErrStoreUnavailable, err)
}

func (s *RedisStore) CreateTask(ctx context.Context, t model.Task) error {
	const op = "repository.create_task"

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	n, err := createScript.Run(ctx, s.client.Redis(), []string{s.taskKey(t.ID)},
		string(t.State), data, s.cfg.retention.Milliseconds()).Int()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	const op = "repository.get_task"

	data, err := s.client.Redis().HGet(ctx, s.taskKey(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, unavailable(op, err)
	}
	var t model.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Task{}, fmt.Errorf("%s: decode %s: %w", op, id, err)
	}
	return t, nil
}

func (s *RedisStore) UpdateTask(ctx context.Context, t model.Task) error {
	const op = "repository.update_task"

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	args := []interface{}{string(t.State), data, s.cfg.retention.Milliseconds()}
	for _, st := range allowedFrom(t.State) {
		args = append(args, st)
	}
	n, err := updateScript.Run(ctx, s.client.Redis(), []string{s.taskKey(t.ID)}, args...).Int()
	if err != nil {
		return unavailable(op, err)
	}
	switch n {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	case -2:
		return ErrTerminal
	default:
		return fmt.Errorf("%w: -> %s", ErrIllegalTransition, t.State)
	}
}

func (s *RedisStore) DeleteTask(ctx context.Context, id string) error {
	if err := s.client.Redis().Del(ctx, s.taskKey(id), s.cancelKey(id)).Err(); err != nil {
		return unavailable("repository.delete_task", err)
	}
	return nil
}

func (s *RedisStore) CompleteTask(ctx context.Context, t model.Task, result *model.Result, ttl time.Duration) (bool, error) {
	const op = "repository.complete_task"

	if err := validateCompletion(t, result); err != nil {
		return false, err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("%s: encode task: %w", op, err)
	}
	var stored []byte
	if result != nil {
		stored, err = json.Marshal(storedResult(t, *result, s.cfg.now(), ttl))
		if err != nil {
			return false, fmt.Errorf("%s: encode result: %w", op, err)
		}
	}

	keys := []string{s.taskKey(t.ID), s.resultKey(t.ID), s.resultFPKey(t.Fingerprint)}
	n, err := completeScript.Run(ctx, s.client.Redis(), keys,
		string(t.State), data, s.cfg.retention.Milliseconds(), stored, ttl.Milliseconds()).Int()
	if err != nil {
		return false, unavailable(op, err)
	}
	if n == -1 {
		return false, ErrNotFound
	}
	return n == 1, nil
}

func (s *RedisStore) lookup(ctx context.Context, op, key string) (model.StoredResult, error) {
	data, err := s.client.Redis().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.StoredResult{}, ErrNotFound
	}
	if err != nil {
		return model.StoredResult{}, unavailable(op, err)
	}
	var r model.StoredResult
	if err := json.Unmarshal(data, &r); err != nil {
		return model.StoredResult{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	// Redis expiry is authoritative; the timestamp guards against clock skew.
	if !r.Fresh(s.cfg.now()) {
		return model.StoredResult{}, ErrNotFound
	}
	return r, nil
}

func (s *RedisStore) ResultByTask(ctx context.Context, id string) (model.StoredResult, error) {
	return s.lookup(ctx, "repository.result_by_task", s.resultKey(id))
}

func (s *RedisStore) ResultByFingerprint(ctx context.Context, fp string) (model.StoredResult, error) {
	return s.lookup(ctx, "repository.result_by_fingerprint", s.resultFPKey(fp))
}

func (s *RedisStore) RequestCancel(ctx context.Context, id string) error {
	if err := s.client.Redis().Set(ctx, s.cancelKey(id), "1", s.cfg.retention).Err(); err != nil {
		return unavailable("repository.request_cancel", err)
	}
	return nil
}

func (s *RedisStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Redis().Exists(ctx, s.cancelKey(id)).Result()
	if err != nil {
		return false, unavailable("repository.cancel_requested", err)
	}
	return n == 1, nil
}
