// Package registry implements the shared risk flag store. A flag marks a
// capacity pool as currently dangerous to schedule onto; one tenant's
// interruption protects every other tenant from the same pool until the flag
// expires. Consistency is best-effort: expiry is passive (readers compare
// set-at + TTL against the clock, no deletion required) and concurrent
// writers are last-write-wins, which is safe because writes only ever
// tighten a flag to danger.
package registry

import (
	"context"
	"time"
)

// Level classifies a pool's current risk standing.
type Level string

const (
	LevelNormal Level = "NORMAL"
	LevelDanger Level = "DANGER"
)

// DefaultTTL is the flag lifetime used when callers pass no explicit TTL.
const DefaultTTL = 30 * time.Minute

// Flag is one stored risk marker.
type Flag struct {
	PoolID string        `json:"pool_id"`
	Level  Level         `json:"level"`
	SetAt  time.Time     `json:"set_at"`
	TTL    time.Duration `json:"ttl"`
}

// Expired reports whether the flag has passed its TTL at the given instant.
func (f Flag) Expired(now time.Time) bool {
	return !now.Before(f.SetAt.Add(f.TTL))
}

// Registry is the injected flag store. Implementations must tolerate
// concurrent writers without coordination beyond last-write-wins.
//
// Readers must fail open: when the backing store is unreachable, callers
// treat every pool as unflagged rather than blocking optimization.
type Registry interface {
	// Flag marks a pool as dangerous for the given TTL, refreshing any
	// existing flag.
	Flag(ctx context.Context, poolID string, ttl time.Duration) error

	// IsFlagged reports whether a live (non-expired) danger flag exists
	// for the pool.
	IsFlagged(ctx context.Context, poolID string) (bool, error)

	// Lookup returns the stored flag if present and live.
	Lookup(ctx context.Context, poolID string) (Flag, bool, error)
}
