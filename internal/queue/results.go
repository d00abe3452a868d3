package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const resultKeyPrefix = "task:"

// RedisResults stores task results in Redis so the API and the worker can
// share them across processes. Entries expire on their own; a task id the
// client never polls costs nothing after the TTL.
type RedisResults struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisResults(rdb *redis.Client, ttl time.Duration) *RedisResults {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &RedisResults{rdb: rdb, ttl: ttl}
}

func (r *RedisResults) Set(ctx context.Context, id string, result TaskResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	if err := r.rdb.Set(ctx, resultKeyPrefix+id, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store task result %s: %w", id, err)
	}
	return nil
}

func (r *RedisResults) Get(ctx context.Context, id string) (TaskResult, bool, error) {
	payload, err := r.rdb.Get(ctx, resultKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return TaskResult{}, false, nil
	}
	if err != nil {
		return TaskResult{}, false, fmt.Errorf("load task result %s: %w", id, err)
	}
	var result TaskResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return TaskResult{}, false, fmt.Errorf("decode task result %s: %w", id, err)
	}
	return result, true, nil
}
