package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/softcane/vortex-core/internal/plan"
)

const redisDefaultPrefix = "vortex:"

// claimExpired is returned by claimScript when the candidate had already
// passed its deadline. The script evicts it from the pending zset so stale
// records cannot hide claimable newer ones; the sweep still owns the
// transition to failed via the expiry zset.
const claimExpired = -1

// claimScript performs the single-winner pending→picked_up transition.
// KEYS[1] record hash, KEYS[2] cluster pending zset.
// ARGV[1] record id, ARGV[2] now in unix milliseconds.
// Returns 1 when this caller won the claim, -1 when the record had
// expired (and was dropped from the pending zset), 0 otherwise.
var claimScript = goredis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status ~= "pending" then return 0 end
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at_ms"))
if exp and exp <= tonumber(ARGV[2]) then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return -1
end
redis.call("HSET", KEYS[1], "status", "picked_up", "picked_up_at_ms", ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// reportScript applies a terminal status exactly once.
// KEYS[1] record hash, KEYS[2] cluster pending zset, KEYS[3] expiry zset.
// ARGV: id, status, now_ms, result, error_message.
// Returns 1 applied, 0 idempotent no-op, -1 conflicting terminal status,
// -2 record missing.
var reportScript = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "status")
if not cur then return -2 end
if cur == "completed" or cur == "failed" or cur == "expired" then
  if cur == ARGV[2] then return 0 end
  return -1
end
redis.call("HSET", KEYS[1],
  "status", ARGV[2],
  "completed_at_ms", ARGV[3],
  "result", ARGV[4],
  "error_message", ARGV[5])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`)

// expireScript fails one overdue record. Terminal records are left alone.
// KEYS[1] record hash, KEYS[2] cluster pending zset, KEYS[3] expiry zset.
// ARGV: id, now_ms.
// Returns 1 when the record was transitioned to failed("expired").
var expireScript = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "status")
if cur ~= "pending" and cur ~= "picked_up" then
  redis.call("ZREM", KEYS[3], ARGV[1])
  return 0
end
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at_ms"))
if not exp or exp > tonumber(ARGV[2]) then return 0 end
redis.call("HSET", KEYS[1],
  "status", "failed",
  "error_message", "expired",
  "completed_at_ms", ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`)

// RedisStore implements Store over Redis. Each record is a hash; per-cluster
// pending ids live in a zset scored by creation time (oldest-first claims)
// and every non-terminal id is indexed in an expiry zset scored by deadline.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisStoreOptions configure the Redis queue backend.
type RedisStoreOptions struct {
	Client    goredis.UniversalClient
	KeyPrefix string
}

// NewRedisStore creates a queue store over an existing Redis client.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("queue: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = redisDefaultPrefix
	}
	return &RedisStore{client: opts.Client, prefix: prefix, now: time.Now}, nil
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + "action:" + id }
func (s *RedisStore) pendingKey(c string) string { return s.prefix + "cluster:" + c + ":pending" }
func (s *RedisStore) expiryKey() string          { return s.prefix + "actions:expiry" }

// Enqueue implements Store.
func (s *RedisStore) Enqueue(ctx context.Context, req EnqueueRequest) (AgentActionRecord, error) {
	if req.ClusterID == "" {
		return AgentActionRecord{}, fmt.Errorf("queue: enqueue requires a cluster id")
	}
	expiry := req.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	now := s.now().UTC()
	rec := AgentActionRecord{
		ID:         uuid.NewString(),
		JobID:      req.JobID,
		ClusterID:  req.ClusterID,
		ActionType: req.ActionType,
		Resource:   req.Resource,
		Payload:    req.Payload,
		Rationale:  req.Rationale,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiry),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.recordKey(rec.ID), recordFields(rec))
	pipe.ZAdd(ctx, s.pendingKey(rec.ClusterID), goredis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.ID,
	})
	pipe.ZAdd(ctx, s.expiryKey(), goredis.Z{
		Score:  float64(rec.ExpiresAt.UnixMilli()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return AgentActionRecord{}, fmt.Errorf("queue: enqueue %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Claim implements Store. Candidates are read oldest-first from the pending
// zset, then each undergoes the atomic CAS. Expired records encountered on
// the way are evicted, and the scan pages forward until the batch fills or
// the zset runs out, so a backlog of stale entries never hides fresh work.
func (s *RedisStore) Claim(ctx context.Context, clusterID string, limit int) ([]AgentActionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	nowMS := s.now().UTC().UnixMilli()
	pageSize := int64(limit * 2) // headroom for expired/raced entries

	claimed := make([]AgentActionRecord, 0, limit)
	var offset int64
	for len(claimed) < limit {
		ids, err := s.client.ZRangeByScore(ctx, s.pendingKey(clusterID), &goredis.ZRangeBy{
			Min:    "-inf",
			Max:    "+inf",
			Offset: offset,
			Count:  pageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: list pending for %s: %w", clusterID, err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if len(claimed) >= limit {
				break
			}
			won, err := claimScript.Run(ctx, s.client,
				[]string{s.recordKey(id), s.pendingKey(clusterID)},
				id, nowMS,
			).Int()
			if err != nil {
				return claimed, fmt.Errorf("queue: claim %s: %w", id, err)
			}
			switch won {
			case 1:
				rec, err := s.Get(ctx, id)
				if err != nil {
					return claimed, err
				}
				claimed = append(claimed, rec)
			case claimExpired:
				// already dropped from the zset by the script
			default:
				// lost to a concurrent claimer; the id may still sit in
				// the zset, so step past it on the next page
				offset++
			}
		}
		if int64(len(ids)) < pageSize {
			break
		}
	}
	return claimed, nil
}

// Report implements Store.
func (s *RedisStore) Report(ctx context.Context, rep Report) (AgentActionRecord, error) {
	if rep.Status != StatusCompleted && rep.Status != StatusFailed {
		return AgentActionRecord{}, ErrNotTerminal
	}
	rec, err := s.Get(ctx, rep.RecordID)
	if err != nil {
		return AgentActionRecord{}, err
	}

	res, err := reportScript.Run(ctx, s.client,
		[]string{s.recordKey(rep.RecordID), s.pendingKey(rec.ClusterID), s.expiryKey()},
		rep.RecordID, string(rep.Status), s.now().UTC().UnixMilli(), rep.Result, rep.Error,
	).Int()
	if err != nil {
		return AgentActionRecord{}, fmt.Errorf("queue: report %s: %w", rep.RecordID, err)
	}
	switch res {
	case -2:
		return AgentActionRecord{}, ErrNotFound
	case -1:
		return AgentActionRecord{}, fmt.Errorf("%w: record %s is %s, reported %s",
			ErrReportConflict, rep.RecordID, rec.Status, rep.Status)
	}
	return s.Get(ctx, rep.RecordID)
}

// SweepExpired implements Store.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) ([]AgentActionRecord, error) {
	nowMS := now.UTC().UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMS, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list overdue records: %w", err)
	}

	var swept []AgentActionRecord
	for _, id := range ids {
		clusterID, err := s.client.HGet(ctx, s.recordKey(id), "cluster_id").Result()
		if errors.Is(err, goredis.Nil) {
			s.client.ZRem(ctx, s.expiryKey(), id)
			continue
		}
		if err != nil {
			return swept, fmt.Errorf("queue: read cluster for %s: %w", id, err)
		}
		expired, err := expireScript.Run(ctx, s.client,
			[]string{s.recordKey(id), s.pendingKey(clusterID), s.expiryKey()},
			id, nowMS,
		).Int()
		if err != nil {
			return swept, fmt.Errorf("queue: expire %s: %w", id, err)
		}
		if expired != 1 {
			continue
		}
		rec, err := s.Get(ctx, id)
		if err != nil {
			return swept, err
		}
		swept = append(swept, rec)
	}
	return swept, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (AgentActionRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return AgentActionRecord{}, fmt.Errorf("queue: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return AgentActionRecord{}, ErrNotFound
	}
	return recordFromFields(id, fields), nil
}

func recordFields(rec AgentActionRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"job_id":        rec.JobID,
		"cluster_id":    rec.ClusterID,
		"action_type":   string(rec.ActionType),
		"resource":      rec.Resource,
		"rationale":     rec.Rationale,
		"status":        string(rec.Status),
		"created_at_ms": rec.CreatedAt.UnixMilli(),
		"expires_at_ms": rec.ExpiresAt.UnixMilli(),
	}
	if len(rec.Payload) > 0 {
		fields["payload"] = string(rec.Payload)
	}
	return fields
}

func recordFromFields(id string, fields map[string]string) AgentActionRecord {
	rec := AgentActionRecord{
		ID:           id,
		JobID:        fields["job_id"],
		ClusterID:    fields["cluster_id"],
		ActionType:   plan.DelegatedType(fields["action_type"]),
		Resource:     fields["resource"],
		Rationale:    fields["rationale"],
		Status:       Status(fields["status"]),
		Result:       fields["result"],
		ErrorMessage: fields["error_message"],
	}
	if payload := fields["payload"]; payload != "" {
		rec.Payload = []byte(payload)
	}
	rec.CreatedAt = msField(fields, "created_at_ms")
	rec.ExpiresAt = msField(fields, "expires_at_ms")
	rec.PickedUpAt = msField(fields, "picked_up_at_ms")
	rec.CompletedAt = msField(fields, "completed_at_ms")
	return rec
}

func msField(fields map[string]string, key string) time.Time {
	raw := fields[key]
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ Store = (*RedisStore)(nil)
