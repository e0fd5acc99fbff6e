package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry for tests and single-node runs.
// Expiry is purely lazy; nothing is ever deleted.
type MemoryRegistry struct {
	mu    sync.RWMutex
	flags map[string]Flag

	// Err, when set, is returned from every call. Used by tests to
	// exercise the fail-open path.
	Err error

	flagCalls int

	now func() time.Time
}

// FlagCalls returns how many successful Flag writes were made.
func (m *MemoryRegistry) FlagCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flagCalls
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		flags: make(map[string]Flag),
		now:   time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (m *MemoryRegistry) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRegistry) Flag(ctx context.Context, poolID string, ttl time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[poolID] = Flag{PoolID: poolID, Level: LevelDanger, SetAt: m.now(), TTL: ttl}
	m.flagCalls++
	return nil
}

func (m *MemoryRegistry) IsFlagged(ctx context.Context, poolID string) (bool, error) {
	f, ok, err := m.Lookup(ctx, poolID)
	if err != nil || !ok {
		return false, err
	}
	return f.Level == LevelDanger, nil
}

func (m *MemoryRegistry) Lookup(ctx context.Context, poolID string) (Flag, bool, error) {
	if m.Err != nil {
		return Flag{}, false, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[poolID]
	if !ok || f.Expired(m.now()) {
		return Flag{}, false, nil
	}
	return f, true, nil
}

var _ Registry = (*MemoryRegistry)(nil)
