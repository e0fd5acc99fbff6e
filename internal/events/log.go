package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Log is an append-only sink for processed interruption events.
type Log interface {
	Append(ctx context.Context, ev InterruptionEvent) error
}

const logKey = "vortex:events:interruptions"

// RedisLog appends interruption events to a Redis list. The list is only
// ever appended to; consumers read it out of band.
type RedisLog struct {
	client goredis.UniversalClient
}

// NewRedisLog creates a Redis-backed event log.
func NewRedisLog(client goredis.UniversalClient) *RedisLog {
	return &RedisLog{client: client}
}

func (l *RedisLog) Append(ctx context.Context, ev InterruptionEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal interruption event %s: %w", ev.EventID, err)
	}
	if err := l.client.RPush(ctx, logKey, raw).Err(); err != nil {
		return fmt.Errorf("append interruption event %s: %w", ev.EventID, err)
	}
	return nil
}

var _ Log = (*RedisLog)(nil)

// MemoryLog collects appended events in memory, for tests.
type MemoryLog struct {
	mu     sync.Mutex
	events []InterruptionEvent
}

func (l *MemoryLog) Append(ctx context.Context, ev InterruptionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (l *MemoryLog) Events() []InterruptionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]InterruptionEvent, len(l.events))
	copy(out, l.events)
	return out
}

var _ Log = (*MemoryLog)(nil)
