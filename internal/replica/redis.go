package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const (
	recordPrefix = "vortex:replica:"
	livePrefix   = "vortex:replica:live:"
)

// saveScript writes the record and keeps the per-resource live index in
// step: a live replica owns the index, a finished one releases it only if
// it still owns it.
var saveScript = goredis.NewScript(`
if ARGV[3] == "1" then
  redis.call("SET", KEYS[2], ARGV[2])
elseif redis.call("GET", KEYS[2]) == ARGV[2] then
  redis.call("DEL", KEYS[2])
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// RedisStore persists replicas in Redis. Records are JSON values; the live
// index maps a resource to its current live replica id.
type RedisStore struct {
	client goredis.UniversalClient
}

// NewRedisStore creates a Redis-backed replica store.
func NewRedisStore(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(id string) string     { return recordPrefix + id }
func liveKey(resource string) string { return livePrefix + resource }

func (s *RedisStore) Save(ctx context.Context, r Replica) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal replica %s: %w", r.ID, err)
	}
	live := "0"
	if r.State.Live() {
		live = "1"
	}
	keys := []string{recordKey(r.ID), liveKey(r.Resource)}
	if err := saveScript.Run(ctx, s.client, keys, raw, r.ID, live).Err(); err != nil {
		return fmt.Errorf("save replica %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Replica, error) {
	raw, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Replica{}, ErrNotFound
	}
	if err != nil {
		return Replica{}, fmt.Errorf("get replica %s: %w", id, err)
	}
	var r Replica
	if err := json.Unmarshal(raw, &r); err != nil {
		return Replica{}, fmt.Errorf("decode replica %s: %w", id, err)
	}
	return r, nil
}

func (s *RedisStore) LiveForResource(ctx context.Context, resource string) (Replica, bool, error) {
	id, err := s.client.Get(ctx, liveKey(resource)).Result()
	if errors.Is(err, goredis.Nil) {
		return Replica{}, false, nil
	}
	if err != nil {
		return Replica{}, false, fmt.Errorf("live replica for %s: %w", resource, err)
	}
	r, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Replica{}, false, nil
	}
	if err != nil {
		return Replica{}, false, err
	}
	if !r.State.Live() {
		return Replica{}, false, nil
	}
	return r, true, nil
}

var _ Store = (*RedisStore)(nil)
