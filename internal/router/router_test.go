package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/softcane/vortex-core/internal/cloudapi"
	"github.com/softcane/vortex-core/internal/plan"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/queue"
	"github.com/softcane/vortex-core/internal/replica"
)

type fakeQueue struct {
	records []queue.AgentActionRecord
	err     error
}

func (q *fakeQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (queue.AgentActionRecord, error) {
	if q.err != nil {
		return queue.AgentActionRecord{}, q.err
	}
	rec := queue.AgentActionRecord{
		ID:         uuid.NewString(),
		JobID:      req.JobID,
		ClusterID:  req.ClusterID,
		ActionType: req.ActionType,
		Resource:   req.Resource,
		Payload:    req.Payload,
		Rationale:  req.Rationale,
		Status:     queue.StatusPending,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(queue.DefaultExpiry),
	}
	q.records = append(q.records, rec)
	return rec, nil
}

func (q *fakeQueue) Claim(ctx context.Context, clusterID string, limit int) ([]queue.AgentActionRecord, error) {
	return nil, nil
}

func (q *fakeQueue) Report(ctx context.Context, rep queue.Report) (queue.AgentActionRecord, error) {
	return queue.AgentActionRecord{}, nil
}

func (q *fakeQueue) SweepExpired(ctx context.Context, now time.Time) ([]queue.AgentActionRecord, error) {
	return nil, nil
}

func (q *fakeQueue) Get(ctx context.Context, id string) (queue.AgentActionRecord, error) {
	return queue.AgentActionRecord{}, queue.ErrNotFound
}

type fakePromoter struct {
	promoted []string
	err      error
}

func (p *fakePromoter) Promote(ctx context.Context, resource, ownZone string) (replica.Replica, error) {
	if p.err != nil {
		return replica.Replica{}, p.err
	}
	p.promoted = append(p.promoted, resource)
	return replica.Replica{ID: "rep-1", Resource: resource, State: replica.StatePromoted, PoolID: "us-east-1/us-east-1b/t3.medium"}, nil
}

type fakeWaker struct {
	woken []string
}

func (w *fakeWaker) Wake(clusterID string) { w.woken = append(w.woken, clusterID) }

type recordingJobs struct {
	started  map[string]int
	outcomes []string
	failures []string
}

func newRecordingJobs() *recordingJobs {
	return &recordingJobs{started: make(map[string]int)}
}

func (j *recordingJobs) Start(jobID, tenant string, expected int) { j.started[jobID] = expected }

func (j *recordingJobs) Record(jobID, actionType, resource string, succeeded bool, reason string) {
	j.outcomes = append(j.outcomes, actionType)
	if !succeeded {
		j.failures = append(j.failures, actionType+": "+reason)
	}
}

func migrationPlan() *plan.ActionPlan {
	return &plan.ActionPlan{
		JobID:  "job-1",
		Tenant: "tenant-a",
		Actions: []plan.Action{
			{Family: plan.FamilyDirect, DirectType: plan.DirectLaunchCapacity, Resource: "i-old", TargetPool: "us-east-1/us-east-1b/t3.medium", Priority: 0},
			{Family: plan.FamilyDelegated, DelegatedType: plan.DelegatedCordonNode, Resource: "node-a", ClusterID: "cluster-1", Priority: 1},
			{Family: plan.FamilyDelegated, DelegatedType: plan.DelegatedDrainNode, Resource: "node-a", ClusterID: "cluster-1", Priority: 2},
			{Family: plan.FamilyDirect, DirectType: plan.DirectTerminateResource, Resource: "i-old", Zone: "us-east-1a", Priority: 3},
		},
	}
}

func newLiveRouter(t *testing.T, provider *cloudapi.FakeProvider, q *fakeQueue, jobs JobRecorder, w Waker) *Router {
	t.Helper()
	pools := pool.NewSnapshot()
	pools.Put(pool.CapacityPool{
		Region:        "us-east-1",
		Zone:          "us-east-1b",
		ResourceType:  "t3.medium",
		SpotPrice:     0.012,
		OnDemandPrice: 0.0416,
		SpotEligible:  true,
	})
	r, err := New(Config{
		Provider: provider,
		Queue:    q,
		Promoter: &fakePromoter{},
		Pools:    pools,
		Jobs:     jobs,
		Waker:    w,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestExecuteMigrationPlan(t *testing.T) {
	provider := cloudapi.NewFakeProvider()
	q := &fakeQueue{}
	jobs := newRecordingJobs()
	waker := &fakeWaker{}
	r := newLiveRouter(t, provider, q, jobs, waker)

	res, err := r.Execute(context.Background(), migrationPlan())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Executed != 2 {
		t.Fatalf("executed = %d, want 2 direct actions", res.Executed)
	}
	if len(res.Queued) != 2 {
		t.Fatalf("queued = %d, want 2 delegated actions", len(res.Queued))
	}
	for _, conf := range res.Queued {
		if conf.ID == "" || conf.ExpiresAt.IsZero() {
			t.Fatalf("confirmation missing id or expiry: %+v", conf)
		}
	}
	if len(provider.Launched) != 1 || provider.Launched[0].Zone != "us-east-1b" {
		t.Fatalf("launched = %+v", provider.Launched)
	}
	if got := provider.Launched[0].MaxSpotPrice; got != 0.0416 {
		t.Fatalf("max spot price = %f, want capped at on-demand 0.0416", got)
	}
	if len(provider.Terminated) != 1 || provider.Terminated[0].ResourceID != "i-old" {
		t.Fatalf("terminated = %+v", provider.Terminated)
	}
	if jobs.started["job-1"] != 4 {
		t.Fatalf("job expected = %d, want 4", jobs.started["job-1"])
	}
	if len(waker.woken) != 1 || waker.woken[0] != "cluster-1" {
		t.Fatalf("woken = %v, want one hint per cluster", waker.woken)
	}
}

func TestExecuteAbortsAfterDirectFailure(t *testing.T) {
	provider := cloudapi.NewFakeProvider()
	provider.Err = errors.New("insufficient capacity")
	q := &fakeQueue{}
	jobs := newRecordingJobs()
	r := newLiveRouter(t, provider, q, jobs, nil)

	_, err := r.Execute(context.Background(), migrationPlan())
	if err == nil {
		t.Fatal("want error from failed launch")
	}
	if len(q.records) != 0 {
		t.Fatalf("queued %d actions after a failed launch, want none", len(q.records))
	}
	// One failure plus three aborted outcomes keeps the job from hanging.
	if len(jobs.outcomes) != 4 {
		t.Fatalf("outcomes = %d, want 4", len(jobs.outcomes))
	}
	if len(jobs.failures) != 4 {
		t.Fatalf("failures = %d, want all 4 recorded as failed", len(jobs.failures))
	}
}

func TestExecutePromoteReplica(t *testing.T) {
	provider := cloudapi.NewFakeProvider()
	promoter := &fakePromoter{}
	r, err := New(Config{Provider: provider, Queue: &fakeQueue{}, Promoter: promoter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := &plan.ActionPlan{
		JobID:  "job-2",
		Tenant: "tenant-a",
		Actions: []plan.Action{{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectPromoteReplica,
			Resource:   "i-primary",
			Zone:       "us-east-1a",
			TargetPool: "us-east-1/us-east-1b/t3.medium",
		}},
	}
	res, err := r.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Executed != 1 {
		t.Fatalf("executed = %d", res.Executed)
	}
	if len(promoter.promoted) != 1 || promoter.promoted[0] != "i-primary" {
		t.Fatalf("promoted = %v", promoter.promoted)
	}
}

func TestExecuteGroupCapacityPayload(t *testing.T) {
	provider := cloudapi.NewFakeProvider()
	r, err := New(Config{Provider: provider, Queue: &fakeQueue{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := &plan.ActionPlan{
		JobID:  "job-3",
		Tenant: "tenant-a",
		Actions: []plan.Action{{
			Family:     plan.FamilyDirect,
			DirectType: plan.DirectUpdateGroupCapacity,
			Resource:   "workers",
			Payload:    []byte(`{"desired":7}`),
		}},
	}
	if _, err := r.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(provider.Scaled) != 1 || provider.Scaled[0].Desired != 7 {
		t.Fatalf("scaled = %+v", provider.Scaled)
	}
}

func TestBuildPayloadCordon(t *testing.T) {
	raw, err := BuildPayload(plan.Action{
		Family:        plan.FamilyDelegated,
		DelegatedType: plan.DelegatedCordonNode,
		Resource:      "node-a",
		ClusterID:     "cluster-1",
	})
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	var spec CordonSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if spec.NodeName != "node-a" || !spec.Unschedulable {
		t.Fatalf("spec = %+v", spec)
	}
	if spec.Taint.Key != CordonTaintKey {
		t.Fatalf("taint key = %s", spec.Taint.Key)
	}
}

func TestBuildPayloadDrain(t *testing.T) {
	raw, err := BuildPayload(plan.Action{
		Family:        plan.FamilyDelegated,
		DelegatedType: plan.DelegatedDrainNode,
		Resource:      "node-a",
		ClusterID:     "cluster-1",
	})
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	var spec DrainSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if spec.NodeName != "node-a" || !spec.IgnoreDaemonSets {
		t.Fatalf("spec = %+v", spec)
	}
	if spec.Eviction.DeleteOptions == nil || *spec.Eviction.DeleteOptions.GracePeriodSeconds != 120 {
		t.Fatal("eviction grace period not set")
	}
}

func TestBuildPayloadEvictWorkload(t *testing.T) {
	raw, err := BuildPayload(plan.Action{
		Family:        plan.FamilyDelegated,
		DelegatedType: plan.DelegatedEvictWorkload,
		Resource:      "payments/api-7f9c",
		ClusterID:     "cluster-1",
	})
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	var spec EvictSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if spec.Eviction.Namespace != "payments" || spec.Eviction.Name != "api-7f9c" {
		t.Fatalf("eviction target = %s/%s", spec.Eviction.Namespace, spec.Eviction.Name)
	}

	if _, err := BuildPayload(plan.Action{
		Family:        plan.FamilyDelegated,
		DelegatedType: plan.DelegatedEvictWorkload,
		Resource:      "no-namespace",
		ClusterID:     "cluster-1",
	}); err == nil {
		t.Fatal("want error for workload ref without namespace")
	}
}

func TestBuildPayloadRelabelRequiresExplicit(t *testing.T) {
	if _, err := BuildPayload(plan.Action{
		Family:        plan.FamilyDelegated,
		DelegatedType: plan.DelegatedRelabelNode,
		Resource:      "node-a",
		ClusterID:     "cluster-1",
	}); err == nil {
		t.Fatal("relabel without payload must error")
	}
}
