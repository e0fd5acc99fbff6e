// Package events ingests interruption-related signals from tenant clusters
// and drives the fast-path reaction: flag the pool for everyone, wake the
// decision engine for the affected tenant, and record the event for later
// risk-model training.
package events

import (
	"fmt"
	"time"
)

// Kind classifies an incoming signal.
type Kind string

const (
	// Termination-class kinds. Each means capacity in the pool is about
	// to disappear or already has.
	KindSpotWarning     Kind = "spot_interruption_warning"
	KindNodeFailure     Kind = "node_failure"
	KindPendingEviction Kind = "pending_eviction"

	// KindResourcePressure means a workload could not be scheduled for
	// lack of capacity. Handled by capacity expansion, not risk flagging.
	KindResourcePressure Kind = "resource_pressure"
)

// Termination reports whether the kind signals imminent or past capacity loss.
func (k Kind) Termination() bool {
	switch k {
	case KindSpotWarning, KindNodeFailure, KindPendingEviction:
		return true
	}
	return false
}

// Event is one signal emitted by a cluster agent.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Tenant     string            `json:"tenant"`
	ClusterID  string            `json:"cluster_id"`
	PoolID     string            `json:"pool_id"`
	Resource   string            `json:"resource"`
	OccurredAt time.Time         `json:"occurred_at"`
	Details    map[string]string `json:"details,omitempty"`
}

// Validate checks the fields required to process the event at all.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if e.Tenant == "" {
		return fmt.Errorf("event tenant is required")
	}
	if e.Kind.Termination() && e.PoolID == "" {
		return fmt.Errorf("termination event %s requires a pool id", e.ID)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("event %s has no occurrence time", e.ID)
	}
	return nil
}

// InterruptionEvent is the immutable record appended to the event log for
// every processed termination-class event. The derived features feed the
// historical interruption rate and any future model training.
type InterruptionEvent struct {
	EventID    string    `json:"event_id"`
	Tenant     string    `json:"tenant"`
	ClusterID  string    `json:"cluster_id"`
	PoolID     string    `json:"pool_id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`

	// Derived features, captured at processing time.
	HourOfDay        int     `json:"hour_of_day"`
	DayOfWeek        int     `json:"day_of_week"`
	SpotPrice        float64 `json:"spot_price"`
	InterruptionRate float64 `json:"interruption_rate"`
	PriceRising      bool    `json:"price_rising"`
}
