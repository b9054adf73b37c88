package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/okian/startsit/internal/adapters/redisclient"
	"github.com/okian/startsit/internal/domain/dedupe"
)

var (
	claimScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner then return {0, owner} end
redis.call('SET', KEYS[1], ARGV[1])
return {1, ARGV[1]}
`) //nolint:gochecknoglobals // compiled once

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`) //nolint:gochecknoglobals // compiled once
)

// RedisRegistry implements dedupe.Registry with one key per fingerprint.
// Claim and Release are Lua scripts so check-and-set is atomic across
// gateway processes. Keys carry no expiry.
type RedisRegistry struct {
	client *redisclient.Client
}

var _ dedupe.Registry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a registry over client.
func NewRedisRegistry(client *redisclient.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) key(fp string) string { return r.client.Key("inflight", fp) }

func (r *RedisRegistry) Claim(ctx context.Context, fp, taskID string) (string, bool, error) {
	res, err := claimScript.Run(ctx, r.client.Redis(), []string{r.key(fp)}, taskID).Slice()
	if err != nil {
		return "", false, unavailable("registry.claim", err)
	}
	if len(res) != 2 {
		return "", false, unavailable("registry.claim", errors.New("unexpected script reply"))
	}
	claimed, _ := res[0].(int64)
	owner, _ := res[1].(string)
	return owner, claimed == 1 || owner == taskID, nil
}

func (r *RedisRegistry) Owner(ctx context.Context, fp string) (string, bool, error) {
	owner, err := r.client.Redis().Get(ctx, r.key(fp)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("registry.owner", err)
	}
	return owner, true, nil
}

func (r *RedisRegistry) Release(ctx context.Context, fp, taskID string) error {
	if err := releaseScript.Run(ctx, r.client.Redis(), []string{r.key(fp)}, taskID).Err(); err != nil {
		return unavailable("registry.release", err)
	}
	return nil
}

// Size counts claims with SCAN; it is meant for stats, not hot paths.
func (r *RedisRegistry) Size(ctx context.Context) (int64, error) {
	var n int64
	iter := r.client.Redis().Scan(ctx, 0, r.key("*"), 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, unavailable("registry.size", err)
	}
	return n, nil
}
