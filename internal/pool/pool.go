// Package pool defines the capacity pool model shared by risk scoring and
// the decision engine. A pool is the unit that can be priced and scheduled
// independently: one {region, zone, resource type} combination.
package pool

import (
	"fmt"
	"sync"
	"time"
)

// CapacityPool identifies one independently priced capacity pool.
// Identity fields are immutable; market fields are refreshed continuously
// by the telemetry refresher.
type CapacityPool struct {
	Region       string `json:"region"`
	Zone         string `json:"zone"`
	ResourceType string `json:"resource_type"`

	// Market state, refreshed by the price providers.
	SpotPrice     float64 `json:"spot_price"`
	OnDemandPrice float64 `json:"on_demand_price"`

	// InterruptionRate is the rolling 30-day interruption frequency
	// (interruptions per day, clamped to [0,1] at scoring time).
	InterruptionRate float64 `json:"interruption_rate"`

	// Volatility is the rolling price volatility score in [0,1].
	Volatility float64 `json:"volatility"`

	// PriceRising reports whether the spot price trended up over the
	// last hour of samples.
	PriceRising bool `json:"price_rising"`

	// SpotEligible marks pools that accept interruptible capacity at all.
	SpotEligible bool `json:"spot_eligible"`

	// LaunchedAt is when capacity currently running in this pool was
	// launched. Newer capacity scores riskier.
	LaunchedAt time.Time `json:"launched_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ID returns the canonical pool key: "<region>/<zone>/<resource_type>".
func (p CapacityPool) ID() string {
	return fmt.Sprintf("%s/%s/%s", p.Region, p.Zone, p.ResourceType)
}

// Snapshot is a read-through cache of the latest known state per pool.
// Written by the telemetry refresher, read by the assessor and the engine.
// Safe for concurrent use.
type Snapshot struct {
	mu    sync.RWMutex
	pools map[string]CapacityPool
}

// NewSnapshot creates an empty pool snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{pools: make(map[string]CapacityPool)}
}

// Put stores or replaces the state for a pool.
func (s *Snapshot) Put(p CapacityPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now()
	s.pools[p.ID()] = p
}

// Get returns the pool state for an id if known.
func (s *Snapshot) Get(id string) (CapacityPool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	return p, ok
}

// List returns all known pools.
func (s *Snapshot) List() []CapacityPool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CapacityPool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out
}

// Eligible returns all spot-eligible pools.
func (s *Snapshot) Eligible() []CapacityPool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CapacityPool, 0, len(s.pools))
	for _, p := range s.pools {
		if p.SpotEligible {
			out = append(out, p)
		}
	}
	return out
}
