package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/softcane/vortex-core/internal/plan"
	"github.com/softcane/vortex-core/internal/policy"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/queue"
	"github.com/softcane/vortex-core/internal/registry"
	"github.com/softcane/vortex-core/internal/replica"
	"github.com/softcane/vortex-core/internal/risk"
)

type fakeSource struct {
	opps []Opportunity
	err  error
}

func (s *fakeSource) Opportunities(ctx context.Context, tenant string) ([]Opportunity, error) {
	return s.opps, s.err
}

type fakeHealth struct {
	disconnected map[string]bool
}

func (h *fakeHealth) Connected(clusterID string) bool {
	return !h.disconnected[clusterID]
}

type nopLauncher struct{}

func (nopLauncher) LaunchStandby(ctx context.Context, r replica.Replica) error    { return nil }
func (nopLauncher) TerminateStandby(ctx context.Context, r replica.Replica) error { return nil }
func (nopLauncher) PromoteStandby(ctx context.Context, r replica.Replica) error   { return nil }
func (nopLauncher) TerminatePrimary(ctx context.Context, resource string) error   { return nil }

// failFlagRegistry wraps a memory registry and fails IsFlagged lookups.
type failFlagRegistry struct {
	*registry.MemoryRegistry
}

func (r *failFlagRegistry) IsFlagged(ctx context.Context, poolID string) (bool, error) {
	return false, errors.New("registry unavailable")
}

func stalePool(region, zone, rt string, spot, od float64) pool.CapacityPool {
	return pool.CapacityPool{
		Region:           region,
		Zone:             zone,
		ResourceType:     rt,
		SpotPrice:        spot,
		OnDemandPrice:    od,
		InterruptionRate: 0.05,
		Volatility:       0.05,
		SpotEligible:     true,
		LaunchedAt:       time.Now().Add(-1000 * time.Hour),
		UpdatedAt:        time.Now(),
	}
}

func newTestEngine(t *testing.T, pools *pool.Snapshot, reg registry.Registry, src OpportunitySource, health ClusterHealth, policies *policy.Set) *Engine {
	t.Helper()
	assessor, err := risk.NewAssessor(risk.AssessorConfig{
		Weights:    risk.DefaultWeights,
		Thresholds: risk.DefaultThresholds,
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("assessor: %v", err)
	}
	mgr, err := replica.NewManager(replica.ManagerConfig{
		Store:    replica.NewMemoryStore(),
		Launcher: nopLauncher{},
		Pools:    pools,
		Scorer:   assessor,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	eng, err := New(Config{
		Pools:    pools,
		Registry: reg,
		Assessor: assessor,
		Replicas: mgr,
		Policies: policies,
		Source:   src,
		Health:   health,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

func oneOpportunity() Opportunity {
	return Opportunity{
		Resource:     "i-primary",
		NodeName:     "node-a",
		ClusterID:    "cluster-1",
		Region:       "us-east-1",
		Zone:         "us-east-1a",
		ResourceType: "t3.medium",
		OnDemand:     true,
		HourlyCost:   0.0416,
	}
}

func TestRunPlansMigrationToCheapestPool(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1c", "t3.medium", 0.020, 0.0416))

	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, nil)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.Actions) != 4 {
		t.Fatalf("got %d actions, want 4", len(p.Actions))
	}
	launch := p.Actions[0]
	if launch.DirectType != plan.DirectLaunchCapacity || launch.TargetPool != "us-east-1/us-east-1b/t3.medium" {
		t.Fatalf("first action = %s -> %s, want launch into us-east-1b", launch.Type(), launch.TargetPool)
	}
	if p.Actions[1].DelegatedType != plan.DelegatedCordonNode || p.Actions[2].DelegatedType != plan.DelegatedDrainNode {
		t.Fatalf("workload movement out of order: %s then %s", p.Actions[1].Type(), p.Actions[2].Type())
	}
	if last := p.Actions[3]; last.DirectType != plan.DirectTerminateResource || last.Resource != "i-primary" {
		t.Fatalf("last action = %s %s, want terminate i-primary", last.Type(), last.Resource)
	}
	wantSavings := 0.0416 - 0.012
	if diff := p.EstimatedHourlySavings - wantSavings; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("savings = %f, want %f", p.EstimatedHourlySavings, wantSavings)
	}
	for i, a := range p.Actions {
		if err := a.Validate(); err != nil {
			t.Fatalf("action %d invalid: %v", i, err)
		}
	}
}

func TestRunExcludesFlaggedPools(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1c", "t3.medium", 0.020, 0.0416))

	reg := registry.NewMemoryRegistry()
	if err := reg.Flag(context.Background(), "us-east-1/us-east-1b/t3.medium", 30*time.Minute); err != nil {
		t.Fatalf("flag: %v", err)
	}

	eng := newTestEngine(t, pools, reg, &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, nil)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Actions[0].TargetPool != "us-east-1/us-east-1c/t3.medium" {
		t.Fatalf("target = %s, want the unflagged us-east-1c pool", p.Actions[0].TargetPool)
	}
}

func TestRunFailsOpenOnRegistryOutage(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	reg := &failFlagRegistry{MemoryRegistry: registry.NewMemoryRegistry()}
	eng := newTestEngine(t, pools, reg, &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, nil)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Empty() {
		t.Fatal("registry outage must not block planning")
	}
}

func TestRunHonorsPolicyExclusions(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1c", "t3.medium", 0.020, 0.0416))

	policies, err := policy.Compile([]policy.TenantPolicy{{
		Tenant:     "tenant-a",
		Exclusions: []string{"zone == 'us-east-1b'"},
	}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, policies)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Actions[0].TargetPool != "us-east-1/us-east-1c/t3.medium" {
		t.Fatalf("target = %s, want policy to exclude us-east-1b", p.Actions[0].TargetPool)
	}
}

func TestRunSkipsDisconnectedClusters(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	health := &fakeHealth{disconnected: map[string]bool{"cluster-1": true}}
	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{oneOpportunity()}}, health, nil)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("got %d actions for a disconnected cluster, want none", len(p.Actions))
	}
}

func TestRunSoleCapacityStagesLaunchOnly(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	opp := oneOpportunity()
	opp.SoleCapacity = true
	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{opp}}, nil, nil)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.Actions) != 1 || p.Actions[0].DirectType != plan.DirectLaunchCapacity {
		t.Fatalf("sole capacity must only stage replacement, got %d actions", len(p.Actions))
	}
	if p.EstimatedHourlySavings != 0 {
		t.Fatalf("no savings booked until migration, got %f", p.EstimatedHourlySavings)
	}
}

func TestRunSkipsWhenNoCheaperCandidate(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.050, 0.0416))

	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, nil)

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("migration without savings planned: %d actions", len(p.Actions))
	}
}

func TestRunPrefersReadyReplicaPromotion(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	reg := registry.NewMemoryRegistry()
	assessor, err := risk.NewAssessor(risk.AssessorConfig{
		Weights:    risk.DefaultWeights,
		Thresholds: risk.DefaultThresholds,
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("assessor: %v", err)
	}
	store := replica.NewMemoryStore()
	mgr, err := replica.NewManager(replica.ManagerConfig{
		Store:    store,
		Launcher: nopLauncher{},
		Pools:    pools,
		Scorer:   assessor,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, replica.Replica{
		ID:       "rep-1",
		Resource: "i-primary",
		Tenant:   "tenant-a",
		Mode:     replica.ModeManual,
		State:    replica.StateReady,
		PoolID:   "us-east-1/us-east-1b/t3.medium",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	eng, err := New(Config{
		Pools:    pools,
		Registry: reg,
		Assessor: assessor,
		Replicas: mgr,
		Source:   &fakeSource{opps: []Opportunity{oneOpportunity()}},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	p, err := eng.Run(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.Actions) != 3 {
		t.Fatalf("got %d actions, want cordon+drain+promote", len(p.Actions))
	}
	promote := p.Actions[2]
	if promote.DirectType != plan.DirectPromoteReplica || promote.Resource != "i-primary" {
		t.Fatalf("final action = %s %s, want promote_replica for i-primary", promote.Type(), promote.Resource)
	}
	for _, a := range p.Actions[:2] {
		if a.Family != plan.FamilyDelegated {
			t.Fatalf("pre-promotion action %s must be delegated", a.Type())
		}
	}
}

func TestTuningMinSavingsBlocksMarginalMigrations(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.040, 0.0416))

	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, nil)
	eng.SetTuning(Tuning{RiskMultiplier: 1.0, MinHourlySavings: 0.01})

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("savings below the floor still planned %d actions", len(p.Actions))
	}
}

func TestTuningCapsPlanSize(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	opps := []Opportunity{oneOpportunity(), oneOpportunity()}
	opps[1].Resource = "i-second"
	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: opps}, nil, nil)
	eng.SetTuning(Tuning{RiskMultiplier: 1.0, MaxActionsPerCycle: 4})

	p, err := eng.Run(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.Actions) != 4 {
		t.Fatalf("actions = %d, want cap to stop the second opportunity", len(p.Actions))
	}
}

func TestTriggerRunNeverBlocks(t *testing.T) {
	pools := pool.NewSnapshot()
	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{}, nil, nil)

	for i := 0; i < 200; i++ {
		eng.TriggerRun("tenant-a")
	}
	select {
	case tenant := <-eng.Triggers():
		if tenant != "tenant-a" {
			t.Fatalf("trigger tenant = %s", tenant)
		}
	default:
		t.Fatal("expected at least one queued trigger")
	}
}

func TestJobsLifecycle(t *testing.T) {
	jobs := NewJobs(nil)
	jobs.Start("job-1", "tenant-a", 3)

	jobs.Record("job-1", "launch_capacity", "i-1", true, "")
	jobs.Record("job-1", "drain_node", "node-a", true, "")

	job, ok := jobs.Get("job-1")
	if !ok || job.Status != JobRunning {
		t.Fatalf("job mid-flight status = %s, want running", job.Status)
	}

	jobs.ActionExpired(queue.AgentActionRecord{
		JobID:      "job-1",
		ActionType: plan.DelegatedCordonNode,
		Resource:   "node-a",
	})

	job, ok = jobs.Get("job-1")
	if !ok {
		t.Fatal("job missing")
	}
	if job.Status != JobPartiallyFailed {
		t.Fatalf("status = %s, want partially_failed", job.Status)
	}
	if len(job.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(job.Outcomes))
	}
}

func TestJobsAllFailed(t *testing.T) {
	jobs := NewJobs(nil)
	jobs.Start("job-2", "tenant-a", 1)
	jobs.Record("job-2", "terminate_resource", "i-1", false, "api error")

	job, _ := jobs.Get("job-2")
	if job.Status != JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestSavingsReport(t *testing.T) {
	pools := pool.NewSnapshot()
	pools.Put(stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416))
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	eng := newTestEngine(t, pools, registry.NewMemoryRegistry(), &fakeSource{opps: []Opportunity{oneOpportunity()}}, nil, nil)

	report, err := eng.SavingsReport(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("SavingsReport: %v", err)
	}
	if report.OptimizableCount != 1 {
		t.Fatalf("optimizable = %d, want 1", report.OptimizableCount)
	}
	rs := report.Resources[0]
	if !rs.CanMigrate || rs.TargetPool != "us-east-1/us-east-1b/t3.medium" {
		t.Fatalf("target = %s, canMigrate = %v", rs.TargetPool, rs.CanMigrate)
	}
	wantHourly := 0.0416 - 0.012
	if diff := report.TotalHourly - wantHourly; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("hourly = %f, want %f", report.TotalHourly, wantHourly)
	}
	wantMonthly := wantHourly * 24 * 30
	if diff := report.TotalMonthly - wantMonthly; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("monthly = %f, want %f", report.TotalMonthly, wantMonthly)
	}
}

func TestRunAppliesPolicyReplicaMode(t *testing.T) {
	pools := pool.NewSnapshot()
	risky := stalePool("us-east-1", "us-east-1a", "t3.medium", 0.030, 0.0416)
	risky.InterruptionRate = 0.7
	risky.Volatility = 0.2
	pools.Put(risky)
	pools.Put(stalePool("us-east-1", "us-east-1b", "t3.medium", 0.012, 0.0416))

	reg := registry.NewMemoryRegistry()
	assessor, err := risk.NewAssessor(risk.AssessorConfig{
		Weights:    risk.DefaultWeights,
		Thresholds: risk.DefaultThresholds,
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("assessor: %v", err)
	}
	store := replica.NewMemoryStore()
	mgr, err := replica.NewManager(replica.ManagerConfig{
		Store:    store,
		Launcher: nopLauncher{},
		Pools:    pools,
		Scorer:   assessor,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	policies, err := policy.Compile([]policy.TenantPolicy{
		{Tenant: "tenant-a", ReplicaMode: replica.ModeAuto},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng, err := New(Config{
		Pools:    pools,
		Registry: reg,
		Assessor: assessor,
		Replicas: mgr,
		Policies: policies,
		Source:   &fakeSource{opps: []Opportunity{oneOpportunity()}},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx := context.Background()
	p, err := eng.Run(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := mgr.ModeFor("i-primary"); got != replica.ModeAuto {
		t.Fatalf("mode = %s, want auto applied from tenant policy", got)
	}
	rep, live, err := store.LiveForResource(ctx, "i-primary")
	if err != nil {
		t.Fatalf("LiveForResource: %v", err)
	}
	if !live {
		t.Fatal("medium-risk resource in auto mode should have a standby launching")
	}
	if rep.Mode != replica.ModeAuto || rep.State != replica.StateLaunching {
		t.Fatalf("replica = %s/%s, want auto/launching", rep.Mode, rep.State)
	}
	if rep.PoolID == "us-east-1/us-east-1a/t3.medium" {
		t.Fatalf("standby landed in the primary's own zone: %s", rep.PoolID)
	}
	if p.Empty() {
		t.Fatal("migration out of the risky pool should still be planned")
	}
}
