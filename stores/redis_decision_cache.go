package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/guard"
)

// RedisDecisionCache stores serialized decisions in Redis under
// guard:decision:{key}, sharing cached verdicts across engine instances.
type RedisDecisionCache struct {
	client *redis.Client
	prefix string
}

func NewRedisDecisionCache(client *redis.Client) *RedisDecisionCache {
	return &RedisDecisionCache{client: client, prefix: "guard:decision:"}
}

func (r *RedisDecisionCache) Get(ctx context.Context, key string) (*guard.AccessDecision, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	dec := &guard.AccessDecision{}
	if err := json.Unmarshal(data, dec); err != nil {
		return nil, false
	}
	return dec, true
}

func (r *RedisDecisionCache) Set(ctx context.Context, key string, dec *guard.AccessDecision, ttl time.Duration) error {
	data, err := json.Marshal(dec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *RedisDecisionCache) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
