// Package agentapi is the HTTP surface remote cluster agents talk to:
// claiming delegated actions, reporting results, heartbeating, and pushing
// capacity events.
package agentapi

import (
	"context"
	"sync"
	"time"

	"github.com/softcane/vortex-core/internal/metrics"
)

// HeartbeatTimeout is how long a cluster stays connected after its last
// heartbeat. Clusters past the timeout receive no delegated actions.
const HeartbeatTimeout = 60 * time.Second

// Tracker records agent heartbeats and answers connectivity queries.
// It satisfies the decision engine's cluster health dependency.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	timeout  time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker with the default timeout.
func NewTracker() *Tracker {
	return &Tracker{
		lastSeen: make(map[string]time.Time),
		timeout:  HeartbeatTimeout,
		now:      time.Now,
	}
}

// Heartbeat records that the cluster's agent is alive.
func (t *Tracker) Heartbeat(clusterID string) {
	t.mu.Lock()
	t.lastSeen[clusterID] = t.now()
	connected := t.countLocked()
	t.mu.Unlock()
	metrics.ConnectedClusters.Set(float64(connected))
}

// Connected reports whether the cluster heartbeated within the timeout.
func (t *Tracker) Connected(clusterID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.lastSeen[clusterID]
	return ok && t.now().Sub(seen) <= t.timeout
}

// ConnectedCount returns how many clusters are currently connected.
func (t *Tracker) ConnectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked()
}

func (t *Tracker) countLocked() int {
	now := t.now()
	n := 0
	for _, seen := range t.lastSeen {
		if now.Sub(seen) <= t.timeout {
			n++
		}
	}
	return n
}

// Run keeps the connected-clusters gauge current as heartbeats age out.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			metrics.ConnectedClusters.Set(float64(t.ConnectedCount()))
		}
	}
}
