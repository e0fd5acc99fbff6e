package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "vortex:riskflag:"

// RedisRegistry stores flags as TTL'd Redis keys. The value carries the
// set-at timestamp and TTL so readers can apply lazy expiry even if the
// server-side key expiry lags.
type RedisRegistry struct {
	client goredis.UniversalClient
	prefix string
}

// RedisOptions configure the Redis-backed registry.
type RedisOptions struct {
	Client    goredis.UniversalClient
	KeyPrefix string
}

// NewRedisRegistry creates a registry over an existing Redis client.
func NewRedisRegistry(opts RedisOptions) (*RedisRegistry, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("registry: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisRegistry{client: opts.Client, prefix: prefix}, nil
}

func (r *RedisRegistry) key(poolID string) string {
	return r.prefix + poolID
}

// Flag implements Registry. Plain SET with expiry: last write wins.
func (r *RedisRegistry) Flag(ctx context.Context, poolID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	f := Flag{
		PoolID: poolID,
		Level:  LevelDanger,
		SetAt:  time.Now().UTC(),
		TTL:    ttl,
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("registry: marshal flag for %s: %w", poolID, err)
	}
	if err := r.client.Set(ctx, r.key(poolID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("registry: set flag for %s: %w", poolID, err)
	}
	return nil
}

// IsFlagged implements Registry.
func (r *RedisRegistry) IsFlagged(ctx context.Context, poolID string) (bool, error) {
	f, ok, err := r.Lookup(ctx, poolID)
	if err != nil || !ok {
		return false, err
	}
	return f.Level == LevelDanger, nil
}

// Lookup implements Registry with passive expiry: a stored flag past its TTL
// is reported absent without being deleted.
func (r *RedisRegistry) Lookup(ctx context.Context, poolID string) (Flag, bool, error) {
	raw, err := r.client.Get(ctx, r.key(poolID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Flag{}, false, nil
	}
	if err != nil {
		return Flag{}, false, fmt.Errorf("registry: get flag for %s: %w", poolID, err)
	}
	var f Flag
	if err := json.Unmarshal(raw, &f); err != nil {
		return Flag{}, false, fmt.Errorf("registry: decode flag for %s: %w", poolID, err)
	}
	if f.Expired(time.Now().UTC()) {
		return Flag{}, false, nil
	}
	return f, true, nil
}

var _ Registry = (*RedisRegistry)(nil)
