package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/risk"
)

// DefaultCooldown is how long risk must stay low before an auto replica is
// retired.
const DefaultCooldown = 30 * time.Minute

// Launcher performs the cloud-side work behind replica transitions.
type Launcher interface {
	// LaunchStandby provisions standby capacity in the replica's pool.
	LaunchStandby(ctx context.Context, r Replica) error
	// TerminateStandby releases the replica's capacity.
	TerminateStandby(ctx context.Context, r Replica) error
	// PromoteStandby swaps the standby in as the resource's primary.
	PromoteStandby(ctx context.Context, r Replica) error
	// TerminatePrimary schedules the displaced primary for termination.
	TerminatePrimary(ctx context.Context, resource string) error
}

// Scorer provides the interruption-risk score used for standby placement.
type Scorer interface {
	Score(p pool.CapacityPool) float64
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store    Store
	Launcher Launcher
	Pools    *pool.Snapshot
	Scorer   Scorer

	// PriceWeight and RiskWeight rank standby placement candidates.
	PriceWeight float64
	RiskWeight  float64

	Cooldown time.Duration
	Logger   *slog.Logger
}

// Manager owns the replica state machine for every managed resource.
// Mode changes go through a single setter, so automatic and manual mode can
// never be active at the same time for one resource.
type Manager struct {
	store    Store
	launcher Launcher
	pools    *pool.Snapshot
	scorer   Scorer

	priceWeight float64
	riskWeight  float64
	cooldown    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	modes    map[string]Mode
	lowSince map[string]time.Time

	now func() time.Time
}

// NewManager creates a Manager from the given config.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if cfg.Pools == nil {
		return nil, fmt.Errorf("pool snapshot is required")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if cfg.PriceWeight <= 0 && cfg.RiskWeight <= 0 {
		cfg.PriceWeight, cfg.RiskWeight = 0.6, 0.4
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:       cfg.Store,
		launcher:    cfg.Launcher,
		pools:       cfg.Pools,
		scorer:      cfg.Scorer,
		priceWeight: cfg.PriceWeight,
		riskWeight:  cfg.RiskWeight,
		cooldown:    cfg.Cooldown,
		logger:      cfg.Logger,
		modes:       make(map[string]Mode),
		lowSince:    make(map[string]time.Time),
		now:         time.Now,
	}, nil
}

// SetMode switches a resource's replica mode. The swap is atomic: the old
// mode is disabled and the new one enabled under one lock, so no interleaving
// can observe both enabled. A live replica belonging to the old mode is
// terminated as part of the switch.
func (m *Manager) SetMode(ctx context.Context, resource string, mode Mode) error {
	m.mu.Lock()
	prev := m.modes[resource]
	m.modes[resource] = mode
	delete(m.lowSince, resource)
	m.mu.Unlock()

	if prev == mode || prev == "" {
		return nil
	}
	live, exists, err := m.store.LiveForResource(ctx, resource)
	if err != nil {
		return fmt.Errorf("mode switch for %s: %w", resource, err)
	}
	if exists && live.Mode != mode {
		m.logger.Info("terminating replica from previous mode",
			"resource", resource, "replica", live.ID, "old_mode", live.Mode, "new_mode", mode)
		if err := m.terminate(ctx, live); err != nil {
			// The old mode's replica is still alive; revert so the
			// exclusivity invariant holds.
			m.mu.Lock()
			m.modes[resource] = prev
			m.mu.Unlock()
			return fmt.Errorf("%w: switching %s to %s while %s replica %s survives: %v",
				ErrModeConflict, resource, mode, live.Mode, live.ID, err)
		}
	}
	return nil
}

// ModeFor returns the resource's current replica mode.
func (m *Manager) ModeFor(resource string) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[resource]
	if !ok {
		return ModeOff
	}
	return mode
}

// Reconcile drives the resource's replica toward what its mode and current
// risk bucket require. Called from the decision cycle for every managed
// resource.
func (m *Manager) Reconcile(ctx context.Context, resource, tenant, ownZone string, bucket risk.Bucket) error {
	switch m.ModeFor(resource) {
	case ModeAuto:
		return m.reconcileAuto(ctx, resource, tenant, ownZone, bucket)
	case ModeManual:
		return m.reconcileManual(ctx, resource, tenant, ownZone)
	default:
		return nil
	}
}

func (m *Manager) reconcileAuto(ctx context.Context, resource, tenant, ownZone string, bucket risk.Bucket) error {
	live, exists, err := m.store.LiveForResource(ctx, resource)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", resource, err)
	}

	if bucket >= risk.BucketMedium {
		m.mu.Lock()
		delete(m.lowSince, resource)
		m.mu.Unlock()
		if exists {
			return nil
		}
		_, err := m.create(ctx, resource, tenant, ownZone, ModeAuto)
		return err
	}

	// Low risk: retire the auto replica only after a sustained quiet period.
	if !exists {
		return nil
	}
	m.mu.Lock()
	since, tracked := m.lowSince[resource]
	if !tracked {
		since = m.now()
		m.lowSince[resource] = since
	}
	sustained := m.now().Sub(since) >= m.cooldown
	m.mu.Unlock()

	if !sustained {
		return nil
	}
	m.logger.Info("retiring auto replica after cooldown",
		"resource", resource, "replica", live.ID, "pool", live.PoolID)
	return m.terminate(ctx, live)
}

func (m *Manager) reconcileManual(ctx context.Context, resource, tenant, ownZone string) error {
	_, exists, err := m.store.LiveForResource(ctx, resource)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", resource, err)
	}
	if exists {
		return nil
	}
	_, err = m.create(ctx, resource, tenant, ownZone, ModeManual)
	return err
}

// MarkReady transitions a launching replica to ready. Agents report this
// once the standby capacity has joined and is serving.
func (m *Manager) MarkReady(ctx context.Context, id string) error {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.State != StateLaunching {
		return fmt.Errorf("replica %s is %s, only launching replicas become ready", id, r.State)
	}
	r.State = StateReady
	r.ReadyAt = m.now()
	if err := m.store.Save(ctx, r); err != nil {
		return err
	}
	m.logger.Info("replica ready", "replica", r.ID, "resource", r.Resource, "pool", r.PoolID)
	return nil
}

// Promote swaps the resource's ready replica in as primary. Only a ready
// replica can be promoted; anything else is a promotion failure. In manual
// mode a fresh standby is created immediately after the swap.
func (m *Manager) Promote(ctx context.Context, resource, ownZone string) (Replica, error) {
	r, exists, err := m.store.LiveForResource(ctx, resource)
	if err != nil {
		return Replica{}, fmt.Errorf("promote %s: %w", resource, err)
	}
	if !exists || r.State != StateReady {
		metrics.ReplicaPromotionFailures.Inc()
		state := "none"
		if exists {
			state = string(r.State)
		}
		return Replica{}, fmt.Errorf("promote %s (replica state %s): %w", resource, state, ErrNotReady)
	}

	if err := m.launcher.PromoteStandby(ctx, r); err != nil {
		metrics.ReplicaPromotionFailures.Inc()
		return Replica{}, fmt.Errorf("promote replica %s: %w", r.ID, err)
	}
	r.State = StatePromoted
	r.PromotedAt = m.now()
	if err := m.store.Save(ctx, r); err != nil {
		return Replica{}, err
	}
	metrics.ReplicaPromotions.Inc()
	metrics.ReplicasActive.WithLabelValues(string(r.Mode)).Dec()
	m.logger.Info("replica promoted", "replica", r.ID, "resource", resource, "pool", r.PoolID)

	if err := m.launcher.TerminatePrimary(ctx, resource); err != nil {
		m.logger.Error("failed to schedule old primary for termination",
			"resource", resource, "error", err)
	}

	if r.Mode == ModeManual {
		if _, err := m.create(ctx, resource, r.Tenant, ownZone, ModeManual); err != nil {
			m.logger.Error("failed to replace promoted manual replica",
				"resource", resource, "error", err)
		}
	}
	return r, nil
}

// ReadyReplica returns the resource's replica if one is ready for promotion.
func (m *Manager) ReadyReplica(ctx context.Context, resource string) (Replica, bool, error) {
	r, exists, err := m.store.LiveForResource(ctx, resource)
	if err != nil || !exists || r.State != StateReady {
		return Replica{}, false, err
	}
	return r, true, nil
}

func (m *Manager) create(ctx context.Context, resource, tenant, ownZone string, mode Mode) (Replica, error) {
	target, ok := m.selectPool(ownZone)
	if !ok {
		return Replica{}, fmt.Errorf("no eligible pool outside zone %s for resource %s", ownZone, resource)
	}
	r := Replica{
		ID:        uuid.NewString(),
		Resource:  resource,
		Tenant:    tenant,
		Mode:      mode,
		State:     StateLaunching,
		PoolID:    target.ID(),
		CreatedAt: m.now(),
	}
	if err := m.store.Save(ctx, r); err != nil {
		return Replica{}, err
	}
	if err := m.launcher.LaunchStandby(ctx, r); err != nil {
		r.State = StateTerminated
		r.TerminatedAt = m.now()
		if saveErr := m.store.Save(ctx, r); saveErr != nil {
			m.logger.Error("failed to mark replica terminated after launch failure",
				"replica", r.ID, "error", saveErr)
		}
		return Replica{}, fmt.Errorf("launch standby for %s: %w", resource, err)
	}
	metrics.ReplicasActive.WithLabelValues(string(mode)).Inc()
	m.logger.Info("replica launching",
		"replica", r.ID, "resource", resource, "mode", mode, "pool", r.PoolID)
	return r, nil
}

func (m *Manager) terminate(ctx context.Context, r Replica) error {
	if err := m.launcher.TerminateStandby(ctx, r); err != nil {
		return fmt.Errorf("terminate replica %s: %w", r.ID, err)
	}
	r.State = StateTerminated
	r.TerminatedAt = m.now()
	if err := m.store.Save(ctx, r); err != nil {
		return err
	}
	metrics.ReplicasActive.WithLabelValues(string(r.Mode)).Dec()
	m.mu.Lock()
	delete(m.lowSince, r.Resource)
	m.mu.Unlock()
	return nil
}

// selectPool picks the cheapest-and-safest eligible pool outside the
// resource's own zone.
func (m *Manager) selectPool(ownZone string) (pool.CapacityPool, bool) {
	var best pool.CapacityPool
	bestScore := -1.0
	for _, p := range m.pools.Eligible() {
		if p.Zone == ownZone {
			continue
		}
		score := m.priceWeight*p.SpotPrice + m.riskWeight*m.scorer.Score(p)
		if bestScore < 0 || score < bestScore {
			best, bestScore = p, score
		}
	}
	return best, bestScore >= 0
}
