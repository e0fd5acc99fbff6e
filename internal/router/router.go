// Package router executes action plans. Direct actions run synchronously
// against the cloud control plane; delegated actions are persisted to the
// durable queue for the remote agent to claim. The router never decides
// anything: it dispatches exactly what the plan says, in priority order.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/softcane/vortex-core/internal/cloudapi"
	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/plan"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/queue"
	"github.com/softcane/vortex-core/internal/replica"
)

// ReplicaPromoter swaps a ready standby in as the primary. Implemented by
// the replica manager.
type ReplicaPromoter interface {
	Promote(ctx context.Context, resource, ownZone string) (replica.Replica, error)
}

// JobRecorder receives per-action outcomes for the owning job. Delegated
// actions report later, through the agent API; the router only records
// their enqueue failures.
type JobRecorder interface {
	Start(jobID, tenant string, expected int)
	Record(jobID, actionType, resource string, succeeded bool, reason string)
}

// Waker hints a cluster's long-poll that new work is queued.
type Waker interface {
	Wake(clusterID string)
}

// Confirmation acknowledges one queued delegated action.
type Confirmation struct {
	ID        string
	ClusterID string
	Type      plan.DelegatedType
	ExpiresAt time.Time
}

// Result summarizes one plan execution.
type Result struct {
	Executed int
	Queued   []Confirmation
}

// Config configures a Router.
type Config struct {
	Provider cloudapi.Provider
	Queue    queue.Store
	Promoter ReplicaPromoter
	Pools    *pool.Snapshot
	Jobs     JobRecorder
	Waker    Waker
	Logger   *slog.Logger
}

// Router dispatches plan actions to their execution substrate.
type Router struct {
	provider cloudapi.Provider
	queue    queue.Store
	promoter ReplicaPromoter
	pools    *pool.Snapshot
	jobs     JobRecorder
	waker    Waker
	logger   *slog.Logger
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		provider: cfg.Provider,
		queue:    cfg.Queue,
		promoter: cfg.Promoter,
		pools:    cfg.Pools,
		jobs:     cfg.Jobs,
		waker:    cfg.Waker,
		logger:   cfg.Logger,
	}, nil
}

// Execute runs the plan in priority order. The first direct-action failure
// aborts the remainder of the plan: later actions assume earlier ones took
// effect, so continuing past a failed launch or drain is never safe.
func (r *Router) Execute(ctx context.Context, p *plan.ActionPlan) (*Result, error) {
	if p.Empty() {
		return &Result{}, nil
	}

	actions := make([]plan.Action, len(p.Actions))
	copy(actions, p.Actions)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })

	if r.jobs != nil {
		r.jobs.Start(p.JobID, p.Tenant, len(actions))
	}

	res := &Result{}
	woken := make(map[string]bool)
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			r.recordOutcome(p.JobID, a, false, err.Error())
			return res, fmt.Errorf("action %d: %w", i, err)
		}

		switch a.Family {
		case plan.FamilyDirect:
			if err := r.executeDirect(ctx, a); err != nil {
				metrics.DirectActions.WithLabelValues(string(a.DirectType), "error").Inc()
				r.recordOutcome(p.JobID, a, false, err.Error())
				r.abortRemaining(p.JobID, actions[i+1:])
				return res, fmt.Errorf("direct action %s on %s: %w", a.DirectType, a.Resource, err)
			}
			metrics.DirectActions.WithLabelValues(string(a.DirectType), "ok").Inc()
			r.recordOutcome(p.JobID, a, true, "")
			res.Executed++

		case plan.FamilyDelegated:
			conf, err := r.enqueueDelegated(ctx, p.JobID, a)
			if err != nil {
				r.recordOutcome(p.JobID, a, false, err.Error())
				r.abortRemaining(p.JobID, actions[i+1:])
				return res, fmt.Errorf("enqueue %s for %s: %w", a.DelegatedType, a.Resource, err)
			}
			res.Queued = append(res.Queued, conf)
			if r.waker != nil && !woken[a.ClusterID] {
				r.waker.Wake(a.ClusterID)
				woken[a.ClusterID] = true
			}
		}
	}
	return res, nil
}

// executeDirect dispatches one control-plane action. The switch is
// exhaustive over the direct action types; Validate already rejected
// anything else.
func (r *Router) executeDirect(ctx context.Context, a plan.Action) error {
	switch a.DirectType {
	case plan.DirectTerminateResource:
		_, err := r.provider.TerminateResource(ctx, cloudapi.TerminateRequest{
			ResourceID: a.Resource,
			Zone:       a.Zone,
		})
		return err

	case plan.DirectLaunchCapacity:
		req, err := r.launchRequest(a)
		if err != nil {
			return err
		}
		result, err := r.provider.LaunchCapacity(ctx, req)
		if err != nil {
			return err
		}
		r.logger.Info("capacity launched",
			"resource", result.ResourceID,
			"zone", result.Zone,
			"spot", result.Spot,
			"dry_run", result.DryRun,
		)
		return nil

	case plan.DirectDetachVolume:
		_, err := r.provider.DetachVolume(ctx, cloudapi.DetachVolumeRequest{
			VolumeID: a.Resource,
		})
		return err

	case plan.DirectUpdateGroupCapacity:
		var payload struct {
			Desired int32 `json:"desired"`
		}
		if err := json.Unmarshal(a.Payload, &payload); err != nil {
			return fmt.Errorf("group capacity payload: %w", err)
		}
		_, err := r.provider.UpdateGroupCapacity(ctx, cloudapi.GroupCapacityRequest{
			GroupName: a.Resource,
			Desired:   payload.Desired,
		})
		return err

	case plan.DirectPromoteReplica:
		if r.promoter == nil {
			return fmt.Errorf("no replica promoter configured")
		}
		rep, err := r.promoter.Promote(ctx, a.Resource, a.Zone)
		if err != nil {
			return err
		}
		r.logger.Info("replica promoted",
			"resource", a.Resource,
			"replica", rep.ID,
			"pool", rep.PoolID,
		)
		return nil

	default:
		return fmt.Errorf("unroutable direct action %q", a.DirectType)
	}
}

// launchRequest resolves the action's target pool into a launch request.
// The spot bid is capped at the pool's on-demand price.
func (r *Router) launchRequest(a plan.Action) (cloudapi.LaunchRequest, error) {
	parts := strings.SplitN(a.TargetPool, "/", 3)
	if len(parts) != 3 {
		return cloudapi.LaunchRequest{}, fmt.Errorf("malformed target pool %q", a.TargetPool)
	}
	req := cloudapi.LaunchRequest{
		ResourceType:       parts[2],
		Zone:               parts[1],
		FallbackToOnDemand: true,
	}
	if r.pools != nil {
		if p, ok := r.pools.Get(a.TargetPool); ok {
			req.MaxSpotPrice = p.OnDemandPrice
		}
	}
	return req, nil
}

// enqueueDelegated persists one action for the remote agent and returns the
// queued confirmation.
func (r *Router) enqueueDelegated(ctx context.Context, jobID string, a plan.Action) (Confirmation, error) {
	payload := a.Payload
	if len(payload) == 0 {
		built, err := BuildPayload(a)
		if err != nil {
			return Confirmation{}, err
		}
		payload = built
	}
	rec, err := r.queue.Enqueue(ctx, queue.EnqueueRequest{
		JobID:      jobID,
		ClusterID:  a.ClusterID,
		ActionType: a.DelegatedType,
		Resource:   a.Resource,
		Payload:    payload,
		Rationale:  a.Rationale,
	})
	if err != nil {
		return Confirmation{}, err
	}
	metrics.ActionsEnqueued.WithLabelValues(string(a.DelegatedType)).Inc()
	r.logger.Info("delegated action queued",
		"id", rec.ID,
		"cluster", rec.ClusterID,
		"type", string(rec.ActionType),
		"resource", rec.Resource,
		"expires_at", rec.ExpiresAt,
	)
	return Confirmation{
		ID:        rec.ID,
		ClusterID: rec.ClusterID,
		Type:      rec.ActionType,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (r *Router) recordOutcome(jobID string, a plan.Action, ok bool, reason string) {
	if r.jobs == nil {
		return
	}
	// Delegated successes report through the agent API, not here.
	if a.Family == plan.FamilyDelegated && ok {
		return
	}
	r.jobs.Record(jobID, a.Type(), a.Resource, ok, reason)
}

// abortRemaining marks every unexecuted action failed on the job so the
// plan finishes partially_failed instead of hanging on missing outcomes.
func (r *Router) abortRemaining(jobID string, remaining []plan.Action) {
	if r.jobs == nil {
		return
	}
	for _, a := range remaining {
		r.jobs.Record(jobID, a.Type(), a.Resource, false, "aborted: earlier action failed")
	}
}
