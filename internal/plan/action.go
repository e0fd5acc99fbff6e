// Package plan defines the action plan produced by the decision engine and
// consumed by the execution router. Actions form a closed tagged variant:
// direct actions run against the cloud control plane, delegated actions are
// handed to the in-cluster agent via the durable queue.
package plan

import (
	"encoding/json"
	"fmt"
	"time"
)

// Family distinguishes the two execution substrates.
type Family int

const (
	// FamilyDirect marks actions the engine executes itself through the
	// cloud control plane.
	FamilyDirect Family = iota

	// FamilyDelegated marks actions only the remote cluster agent can
	// perform; they are enqueued, never executed in-process.
	FamilyDelegated
)

func (f Family) String() string {
	switch f {
	case FamilyDirect:
		return "direct"
	case FamilyDelegated:
		return "delegated"
	default:
		return "unknown"
	}
}

// DirectType enumerates cloud-control-plane operations.
type DirectType string

const (
	DirectTerminateResource   DirectType = "terminate_resource"
	DirectLaunchCapacity      DirectType = "launch_capacity"
	DirectDetachVolume        DirectType = "detach_volume"
	DirectUpdateGroupCapacity DirectType = "update_group_capacity"
	DirectPromoteReplica      DirectType = "promote_replica"
)

// DelegatedType enumerates operations that require in-cluster access.
type DelegatedType string

const (
	DelegatedEvictWorkload        DelegatedType = "evict_workload"
	DelegatedCordonNode           DelegatedType = "cordon_node"
	DelegatedDrainNode            DelegatedType = "drain_node"
	DelegatedRelabelNode          DelegatedType = "relabel_node"
	DelegatedUpdateDeploymentSpec DelegatedType = "update_deployment_spec"
)

// Action is one planned change. Exactly one of DirectType/DelegatedType is
// meaningful, selected by Family.
type Action struct {
	Family        Family
	DirectType    DirectType
	DelegatedType DelegatedType

	// Resource is the target resource (instance id, node name, or
	// workload reference depending on the action type).
	Resource string

	// ClusterID is required for delegated actions: the agent channel the
	// action is queued on.
	ClusterID string

	// TargetPool is the destination pool for migrations and launches,
	// empty where not applicable.
	TargetPool string

	// Zone is the target resource's current zone, where the executor
	// needs it (promotions and terminations).
	Zone string

	// Priority orders actions within a plan; lower runs first.
	Priority int

	// Rationale is the human-readable reason recorded with the action.
	Rationale string

	// Payload carries delegated action parameters, opaque to the engine.
	Payload json.RawMessage
}

// Type returns the concrete action type name regardless of family.
func (a Action) Type() string {
	switch a.Family {
	case FamilyDirect:
		return string(a.DirectType)
	case FamilyDelegated:
		return string(a.DelegatedType)
	default:
		return "unknown"
	}
}

// Validate rejects malformed actions before routing.
func (a Action) Validate() error {
	switch a.Family {
	case FamilyDirect:
		switch a.DirectType {
		case DirectTerminateResource, DirectLaunchCapacity, DirectDetachVolume, DirectUpdateGroupCapacity, DirectPromoteReplica:
		default:
			return fmt.Errorf("plan: unknown direct action type %q", a.DirectType)
		}
	case FamilyDelegated:
		switch a.DelegatedType {
		case DelegatedEvictWorkload, DelegatedCordonNode, DelegatedDrainNode, DelegatedRelabelNode, DelegatedUpdateDeploymentSpec:
		default:
			return fmt.Errorf("plan: unknown delegated action type %q", a.DelegatedType)
		}
		if a.ClusterID == "" {
			return fmt.Errorf("plan: delegated action %q requires a cluster id", a.DelegatedType)
		}
	default:
		return fmt.Errorf("plan: unknown action family %d", a.Family)
	}
	if a.Resource == "" {
		return fmt.Errorf("plan: action %q requires a target resource", a.Type())
	}
	return nil
}

// ActionPlan is the ordered output of one decision engine run. It is not
// persisted: the router consumes it immediately and the owning job tracks
// the outcome.
type ActionPlan struct {
	JobID     string
	Tenant    string
	Actions   []Action
	CreatedAt time.Time

	// EstimatedHourlySavings is the projected savings if every action in
	// the plan succeeds, in USD per hour.
	EstimatedHourlySavings float64
}

// Empty reports whether the plan contains no actions.
func (p *ActionPlan) Empty() bool {
	return p == nil || len(p.Actions) == 0
}
