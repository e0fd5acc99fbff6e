package router

import (
	"encoding/json"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/softcane/vortex-core/internal/plan"
)

// CordonTaintKey is the taint placed on nodes being drained away from.
const CordonTaintKey = "vortex.softcane.io/retiring"

const defaultGracePeriodSeconds int64 = 120

// CordonSpec tells the agent to make a node unschedulable.
type CordonSpec struct {
	NodeName      string       `json:"node_name"`
	Unschedulable bool         `json:"unschedulable"`
	Taint         corev1.Taint `json:"taint"`
}

// DrainSpec tells the agent to evict every pod from a node. Eviction is the
// API object template the agent submits per pod, with ObjectMeta filled in.
type DrainSpec struct {
	NodeName           string            `json:"node_name"`
	GracePeriodSeconds int64             `json:"grace_period_seconds"`
	IgnoreDaemonSets   bool              `json:"ignore_daemonsets"`
	Eviction           policyv1.Eviction `json:"eviction"`
}

// EvictSpec tells the agent to evict one workload.
type EvictSpec struct {
	Eviction policyv1.Eviction `json:"eviction"`
}

// RelabelSpec tells the agent to change a node's labels.
type RelabelSpec struct {
	NodeName string            `json:"node_name"`
	Set      map[string]string `json:"set,omitempty"`
	Remove   []string          `json:"remove,omitempty"`
}

// BuildPayload constructs the default payload for delegated actions whose
// parameters follow from the action itself. Relabels and deployment updates
// carry caller-provided payloads; there is no sensible default to build.
func BuildPayload(a plan.Action) (json.RawMessage, error) {
	switch a.DelegatedType {
	case plan.DelegatedCordonNode:
		return json.Marshal(CordonSpec{
			NodeName:      a.Resource,
			Unschedulable: true,
			Taint: corev1.Taint{
				Key:    CordonTaintKey,
				Effect: corev1.TaintEffectNoSchedule,
			},
		})

	case plan.DelegatedDrainNode:
		grace := defaultGracePeriodSeconds
		return json.Marshal(DrainSpec{
			NodeName:           a.Resource,
			GracePeriodSeconds: grace,
			IgnoreDaemonSets:   true,
			Eviction: policyv1.Eviction{
				TypeMeta: metav1.TypeMeta{
					APIVersion: "policy/v1",
					Kind:       "Eviction",
				},
				DeleteOptions: &metav1.DeleteOptions{
					GracePeriodSeconds: &grace,
				},
			},
		})

	case plan.DelegatedEvictWorkload:
		namespace, name, err := splitWorkloadRef(a.Resource)
		if err != nil {
			return nil, err
		}
		grace := defaultGracePeriodSeconds
		return json.Marshal(EvictSpec{
			Eviction: policyv1.Eviction{
				TypeMeta: metav1.TypeMeta{
					APIVersion: "policy/v1",
					Kind:       "Eviction",
				},
				ObjectMeta: metav1.ObjectMeta{
					Namespace: namespace,
					Name:      name,
				},
				DeleteOptions: &metav1.DeleteOptions{
					GracePeriodSeconds: &grace,
				},
			},
		})

	case plan.DelegatedRelabelNode, plan.DelegatedUpdateDeploymentSpec:
		return nil, fmt.Errorf("action %q requires an explicit payload", a.DelegatedType)

	default:
		return nil, fmt.Errorf("no payload builder for %q", a.DelegatedType)
	}
}

func splitWorkloadRef(ref string) (namespace, name string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("workload reference %q, want namespace/name", ref)
	}
	return parts[0], parts[1], nil
}
