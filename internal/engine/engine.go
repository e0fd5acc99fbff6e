// Package engine plans capacity optimization. Each run scores one tenant's
// opportunities against current pool risk and produces an ordered action
// plan; execution belongs to the router, never to the engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/plan"
	"github.com/softcane/vortex-core/internal/policy"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/registry"
	"github.com/softcane/vortex-core/internal/replica"
	"github.com/softcane/vortex-core/internal/risk"
)

// Opportunity is one resource eligible for migration, typically a
// low-utilization on-demand instance surfaced by the utilization collector.
type Opportunity struct {
	Resource     string // cloud resource id
	NodeName     string // in-cluster node name, for delegated actions
	ClusterID    string
	Region       string
	Zone         string
	ResourceType string

	// OnDemand marks resources currently paying the on-demand rate.
	OnDemand bool

	// HourlyCost is what the resource costs now, per hour.
	HourlyCost float64

	// SoleCapacity marks the only healthy capacity behind a workload.
	SoleCapacity bool

	// GroupName and GroupDesired describe the scaling group the resource
	// belongs to, when it is group-managed.
	GroupName    string
	GroupDesired int32

	// VolumeIDs are volumes that must follow the workload.
	VolumeIDs []string
}

// OpportunitySource supplies migration opportunities per tenant.
type OpportunitySource interface {
	Opportunities(ctx context.Context, tenant string) ([]Opportunity, error)
}

// ClusterHealth answers whether a cluster's agent is currently connected.
type ClusterHealth interface {
	Connected(clusterID string) bool
}

// Config configures an Engine.
type Config struct {
	Pools    *pool.Snapshot
	Registry registry.Registry
	Assessor *risk.Assessor
	Replicas *replica.Manager
	Policies *policy.Set
	Source   OpportunitySource
	Health   ClusterHealth

	// PriceWeight and RiskWeight rank candidate target pools.
	PriceWeight float64
	RiskWeight  float64

	Logger *slog.Logger
}

// Tuning is runtime-adjustable planning behavior, reloaded between cycles.
type Tuning struct {
	// RiskMultiplier scales scores before bucketing; 1.0 is neutral.
	RiskMultiplier float64
	// MinHourlySavings is the floor below which migration is not worth
	// the disruption.
	MinHourlySavings float64
	// MaxActionsPerCycle caps plan size; zero means unlimited.
	MaxActionsPerCycle int
}

// Engine produces action plans for tenant scopes.
type Engine struct {
	pools    *pool.Snapshot
	registry registry.Registry
	assessor *risk.Assessor
	replicas *replica.Manager
	policies *policy.Set
	source   OpportunitySource
	health   ClusterHealth

	priceWeight float64
	riskWeight  float64
	logger      *slog.Logger

	mu     sync.Mutex
	tuning Tuning

	trigger chan string
	now     func() time.Time
}

// New creates an Engine from the given config.
func New(cfg Config) (*Engine, error) {
	if cfg.Pools == nil || cfg.Registry == nil || cfg.Assessor == nil || cfg.Replicas == nil || cfg.Source == nil {
		return nil, fmt.Errorf("pools, registry, assessor, replicas and source are required")
	}
	if cfg.PriceWeight <= 0 && cfg.RiskWeight <= 0 {
		cfg.PriceWeight, cfg.RiskWeight = 0.6, 0.4
	}
	if cfg.Policies == nil {
		cfg.Policies, _ = policy.Compile(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		pools:       cfg.Pools,
		registry:    cfg.Registry,
		assessor:    cfg.Assessor,
		replicas:    cfg.Replicas,
		policies:    cfg.Policies,
		source:      cfg.Source,
		health:      cfg.Health,
		priceWeight: cfg.PriceWeight,
		riskWeight:  cfg.RiskWeight,
		logger:      cfg.Logger,
		tuning:      Tuning{RiskMultiplier: 1.0},
		trigger:     make(chan string, 64),
		now:         time.Now,
	}, nil
}

// SetTuning swaps the runtime tuning before the next cycle.
func (e *Engine) SetTuning(t Tuning) {
	if t.RiskMultiplier <= 0 {
		t.RiskMultiplier = 1.0
	}
	e.mu.Lock()
	e.tuning = t
	e.mu.Unlock()
}

func (e *Engine) currentTuning() Tuning {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tuning
}

// TriggerRun requests an out-of-cycle run for a tenant. Never blocks; a full
// trigger queue drops the hint because a periodic run will cover it.
func (e *Engine) TriggerRun(tenant string) {
	select {
	case e.trigger <- tenant:
	default:
		e.logger.Debug("trigger queue full, relying on periodic run", "tenant", tenant)
	}
}

// Triggers exposes the fast-path trigger channel for the run loop.
func (e *Engine) Triggers() <-chan string {
	return e.trigger
}

// Run plans one optimization pass for the tenant.
func (e *Engine) Run(ctx context.Context, tenant string) (*plan.ActionPlan, error) {
	start := e.now()
	defer func() {
		metrics.DecisionCycleDuration.Observe(time.Since(start).Seconds())
	}()

	pol := e.policies.For(tenant)
	opps, err := e.source.Opportunities(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("opportunities for tenant %s: %w", tenant, err)
	}

	out := &plan.ActionPlan{
		JobID:     uuid.NewString(),
		Tenant:    tenant,
		CreatedAt: start,
	}

	tuning := e.currentTuning()
	for _, opp := range opps {
		if tuning.MaxActionsPerCycle > 0 && len(out.Actions) >= tuning.MaxActionsPerCycle {
			e.logger.Warn("plan size cap reached", "tenant", tenant, "cap", tuning.MaxActionsPerCycle)
			break
		}
		actions, savings := e.planOpportunity(ctx, tenant, pol, tuning, opp)
		out.Actions = append(out.Actions, actions...)
		out.EstimatedHourlySavings += savings
	}

	metrics.PlanActions.WithLabelValues(tenant).Set(float64(len(out.Actions)))
	metrics.EstimatedSavingsHourly.WithLabelValues(tenant).Set(out.EstimatedHourlySavings)
	e.logger.Info("decision run complete",
		"tenant", tenant,
		"job_id", out.JobID,
		"opportunities", len(opps),
		"actions", len(out.Actions),
		"estimated_hourly_savings", out.EstimatedHourlySavings,
	)
	return out, nil
}

func (e *Engine) planOpportunity(ctx context.Context, tenant string, pol *policy.Compiled, tuning Tuning, opp Opportunity) ([]plan.Action, float64) {
	if e.health != nil && !e.health.Connected(opp.ClusterID) {
		e.logger.Warn("skipping opportunity on disconnected cluster",
			"resource", opp.Resource, "cluster", opp.ClusterID)
		return nil, 0
	}

	// The tenant policy decides the resource's replica mode; apply it
	// before reconciling so a newly managed resource gets its standby
	// this cycle, not the next one.
	if pol != nil && pol.ReplicaMode != replica.ModeOff && e.replicas.ModeFor(opp.Resource) != pol.ReplicaMode {
		if err := e.replicas.SetMode(ctx, opp.Resource, pol.ReplicaMode); err != nil {
			e.logger.Error("replica mode change failed",
				"resource", opp.Resource, "mode", string(pol.ReplicaMode), "error", err)
		}
	}

	bucket := e.assessCurrent(ctx, pol, tuning, opp)
	if err := e.replicas.Reconcile(ctx, opp.Resource, tenant, opp.Zone, bucket); err != nil {
		e.logger.Error("replica reconcile failed", "resource", opp.Resource, "error", err)
	}

	// A ready standby beats any fresh migration: promotion swaps with
	// near-zero downtime.
	if rep, ready, err := e.replicas.ReadyReplica(ctx, opp.Resource); err == nil && ready {
		return e.planPromotion(opp, rep)
	}

	candidate, ok := e.selectTarget(ctx, pol, opp)
	if !ok {
		return nil, 0
	}

	savings := opp.HourlyCost - candidate.SpotPrice
	if savings <= 0 || savings < tuning.MinHourlySavings {
		return nil, 0
	}

	if opp.SoleCapacity {
		// Removing the only healthy capacity without a ready replacement
		// is never planned; launch the replacement this cycle, migrate on
		// a later one.
		return []plan.Action{{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectLaunchCapacity,
			Resource:   opp.Resource,
			TargetPool: candidate.ID(),
			Priority:   0,
			Rationale:  "staging replacement capacity before sole-capacity migration",
		}}, 0
	}

	return e.planMigration(opp, candidate, savings), savings
}

// assessCurrent scores the opportunity's current pool, honoring tenant
// threshold overrides for the bucket boundary.
func (e *Engine) assessCurrent(ctx context.Context, pol *policy.Compiled, tuning Tuning, opp Opportunity) risk.Bucket {
	id := fmt.Sprintf("%s/%s/%s", opp.Region, opp.Zone, opp.ResourceType)
	current, ok := e.pools.Get(id)
	if !ok {
		return risk.BucketLow
	}
	score, bucket := e.assessor.Assess(ctx, current)
	if tuning.RiskMultiplier != 0 && tuning.RiskMultiplier != 1.0 {
		score = score * tuning.RiskMultiplier
		if score > 1 {
			score = 1
		}
		bucket = e.assessor.BucketOf(score)
	}
	if pol != nil && pol.Thresholds != nil {
		switch {
		case score >= pol.Thresholds.High:
			bucket = risk.BucketHigh
		case score >= pol.Thresholds.Medium:
			bucket = risk.BucketMedium
		default:
			bucket = risk.BucketLow
		}
	}
	return bucket
}

// selectTarget ranks candidate pools and returns the best one. Flagged
// pools are never selected; registry errors fail open and are logged.
func (e *Engine) selectTarget(ctx context.Context, pol *policy.Compiled, opp Opportunity) (pool.CapacityPool, bool) {
	type ranked struct {
		p     pool.CapacityPool
		score float64
	}
	var candidates []ranked

	currentID := fmt.Sprintf("%s/%s/%s", opp.Region, opp.Zone, opp.ResourceType)
	for _, p := range e.pools.Eligible() {
		if p.ResourceType != opp.ResourceType || p.ID() == currentID {
			continue
		}
		flagged, err := e.registry.IsFlagged(ctx, p.ID())
		if err != nil {
			metrics.RegistryErrors.Inc()
			e.logger.Error("risk registry unreachable, treating pool as unflagged",
				"pool", p.ID(), "error", err)
			flagged = false
		}
		if flagged {
			metrics.FlaggedPoolExclusions.Inc()
			continue
		}
		if pol != nil {
			excluded, err := pol.Excludes(p)
			if err != nil {
				e.logger.Warn("policy exclusion failed, excluding pool", "pool", p.ID(), "error", err)
			}
			if excluded {
				continue
			}
		}
		candidates = append(candidates, ranked{
			p:     p,
			score: e.priceWeight*p.SpotPrice + e.riskWeight*e.assessor.Score(p),
		})
	}
	if len(candidates) == 0 {
		return pool.CapacityPool{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	return candidates[0].p, true
}

// planPromotion builds the swap sequence for a resource with a ready
// standby: quiesce the old node, promote, then let the replica manager
// schedule the old primary's termination.
func (e *Engine) planPromotion(opp Opportunity, rep replica.Replica) ([]plan.Action, float64) {
	rationale := fmt.Sprintf("promote standby replica %s in %s", rep.ID, rep.PoolID)
	actions := []plan.Action{
		{
			Family:        plan.FamilyDelegated,
			DelegatedType: plan.DelegatedCordonNode,
			Resource:      opp.NodeName,
			ClusterID:     opp.ClusterID,
			Priority:      0,
			Rationale:     rationale,
		},
		{
			Family:        plan.FamilyDelegated,
			DelegatedType: plan.DelegatedDrainNode,
			Resource:      opp.NodeName,
			ClusterID:     opp.ClusterID,
			Priority:      1,
			Rationale:     rationale,
		},
		{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectPromoteReplica,
			Resource:   opp.Resource,
			TargetPool: rep.PoolID,
			Zone:       opp.Zone,
			Priority:   2,
			Rationale:  rationale,
		},
	}

	savings := 0.0
	if opp.OnDemand {
		if target, ok := e.pools.Get(rep.PoolID); ok {
			if s := opp.HourlyCost - target.SpotPrice; s > 0 {
				savings = s
			}
		}
	}
	return actions, savings
}

// planMigration builds the fresh-migration sequence: replacement capacity
// first, then workload movement, then removal of the old resource.
func (e *Engine) planMigration(opp Opportunity, target pool.CapacityPool, savings float64) []plan.Action {
	rationale := fmt.Sprintf("migrate to %s, estimated savings $%.4f/h", target.ID(), savings)

	actions := []plan.Action{
		{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectLaunchCapacity,
			Resource:   opp.Resource,
			TargetPool: target.ID(),
			Priority:   0,
			Rationale:  rationale,
		},
		{
			Family:        plan.FamilyDelegated,
			DelegatedType: plan.DelegatedCordonNode,
			Resource:      opp.NodeName,
			ClusterID:     opp.ClusterID,
			Priority:      1,
			Rationale:     rationale,
		},
		{
			Family:        plan.FamilyDelegated,
			DelegatedType: plan.DelegatedDrainNode,
			Resource:      opp.NodeName,
			ClusterID:     opp.ClusterID,
			Priority:      2,
			Rationale:     rationale,
		},
	}

	priority := 3
	for _, vol := range opp.VolumeIDs {
		actions = append(actions, plan.Action{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectDetachVolume,
			Resource:   vol,
			Priority:   priority,
			Rationale:  rationale,
		})
		priority++
	}

	// Group-managed resources shrink through the group; loose resources
	// are terminated directly.
	if opp.GroupName != "" {
		actions = append(actions, plan.Action{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectUpdateGroupCapacity,
			Resource:   opp.GroupName,
			Priority:   priority,
			Rationale:  rationale,
			Payload:    groupPayload(opp.GroupDesired - 1),
		})
	} else {
		actions = append(actions, plan.Action{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectTerminateResource,
			Resource:   opp.Resource,
			Zone:       opp.Zone,
			Priority:   priority,
			Rationale:  rationale,
		})
	}
	return actions
}

func groupPayload(desired int32) []byte {
	return []byte(fmt.Sprintf(`{"desired":%d}`, desired))
}
