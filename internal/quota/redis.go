package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/discovery-pipeline/internal/model"
)

const defaultCheckpointKey = "discovery:quota"

// RedisCheckpoint persists the quota state so a restart does not refill the
// monthly budget.
type RedisCheckpoint struct {
	rdb *redis.Client
	key string
}

// NewRedisCheckpoint returns a checkpoint stored under key (a default is
// used when key is empty).
func NewRedisCheckpoint(rdb *redis.Client, key string) *RedisCheckpoint {
	if key == "" {
		key = defaultCheckpointKey
	}
	return &RedisCheckpoint{rdb: rdb, key: key}
}

// Save writes s as a hash.
func (c *RedisCheckpoint) Save(ctx context.Context, s model.QuotaState) error {
	err := c.rdb.HSet(ctx, c.key,
		"remaining", s.RequestsRemaining,
		"limit", s.MonthlyLimit,
		"resets_at", s.ResetsAt.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("hset %s: %w", c.key, err)
	}
	return nil
}

// Load returns the stored state. ok is false when nothing was saved yet.
func (c *RedisCheckpoint) Load(ctx context.Context) (s model.QuotaState, ok bool, err error) {
	vals, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s, false, nil
		}
		return s, false, fmt.Errorf("hgetall %s: %w", c.key, err)
	}
	if len(vals) == 0 {
		return s, false, nil
	}

	if s.RequestsRemaining, err = strconv.Atoi(vals["remaining"]); err != nil {
		return s, false, fmt.Errorf("parse remaining: %w", err)
	}
	if s.MonthlyLimit, err = strconv.Atoi(vals["limit"]); err != nil {
		return s, false, fmt.Errorf("parse limit: %w", err)
	}
	if s.ResetsAt, err = time.Parse(time.RFC3339, vals["resets_at"]); err != nil {
		return s, false, fmt.Errorf("parse resets_at: %w", err)
	}
	return s, true, nil
}
