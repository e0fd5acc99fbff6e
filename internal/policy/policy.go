// Package policy holds per-tenant planning policy: risk threshold overrides,
// the replica mode each tenant runs, and pool exclusion rules written as
// boolean expressions over pool attributes.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/replica"
	"github.com/softcane/vortex-core/internal/risk"
)

// TenantPolicy is the raw, config-file shape of one tenant's policy.
type TenantPolicy struct {
	Tenant string `yaml:"tenant"`

	// RiskThresholds overrides the global bucket boundaries when set.
	RiskThresholds *risk.Thresholds `yaml:"risk_thresholds,omitempty"`

	// ReplicaMode is the tenant's default replica mode for managed
	// resources. Empty means off.
	ReplicaMode replica.Mode `yaml:"replica_mode,omitempty"`

	// Exclusions are boolean expressions over pool attributes; a pool
	// matching any expression is never selected for this tenant.
	// Example: `zone == 'us-east-1c' || interruption_rate > 0.8`.
	Exclusions []string `yaml:"exclusions,omitempty"`
}

// Compiled is a tenant policy with its exclusion expressions parsed.
type Compiled struct {
	Tenant      string
	Thresholds  *risk.Thresholds
	ReplicaMode replica.Mode

	exclusions []*govaluate.EvaluableExpression
}

// Set holds all compiled tenant policies.
type Set struct {
	byTenant map[string]*Compiled
}

// Compile parses every tenant's exclusion expressions once, at load time.
func Compile(policies []TenantPolicy) (*Set, error) {
	set := &Set{byTenant: make(map[string]*Compiled, len(policies))}
	for _, p := range policies {
		if p.Tenant == "" {
			return nil, fmt.Errorf("policy with empty tenant")
		}
		if _, dup := set.byTenant[p.Tenant]; dup {
			return nil, fmt.Errorf("duplicate policy for tenant %s", p.Tenant)
		}
		if p.RiskThresholds != nil {
			if err := p.RiskThresholds.Validate(); err != nil {
				return nil, fmt.Errorf("tenant %s: %w", p.Tenant, err)
			}
		}
		c := &Compiled{
			Tenant:      p.Tenant,
			Thresholds:  p.RiskThresholds,
			ReplicaMode: p.ReplicaMode,
		}
		if c.ReplicaMode == "" {
			c.ReplicaMode = replica.ModeOff
		}
		for _, raw := range p.Exclusions {
			expr, err := govaluate.NewEvaluableExpression(raw)
			if err != nil {
				return nil, fmt.Errorf("tenant %s: exclusion %q: %w", p.Tenant, raw, err)
			}
			c.exclusions = append(c.exclusions, expr)
		}
		set.byTenant[p.Tenant] = c
	}
	return set, nil
}

// For returns the tenant's compiled policy, or a permissive default.
func (s *Set) For(tenant string) *Compiled {
	if s != nil {
		if c, ok := s.byTenant[tenant]; ok {
			return c
		}
	}
	return &Compiled{Tenant: tenant, ReplicaMode: replica.ModeOff}
}

// Excludes reports whether any of the tenant's exclusion rules match the
// pool. A rule that fails to evaluate counts as a match: a policy we cannot
// interpret must not let a pool through.
func (c *Compiled) Excludes(p pool.CapacityPool) (bool, error) {
	if len(c.exclusions) == 0 {
		return false, nil
	}
	params := map[string]interface{}{
		"region":            p.Region,
		"zone":              p.Zone,
		"resource_type":     p.ResourceType,
		"spot_price":        p.SpotPrice,
		"on_demand_price":   p.OnDemandPrice,
		"interruption_rate": p.InterruptionRate,
		"volatility":        p.Volatility,
		"price_rising":      p.PriceRising,
	}
	for _, expr := range c.exclusions {
		result, err := expr.Evaluate(params)
		if err != nil {
			return true, fmt.Errorf("evaluate exclusion %q for pool %s: %w", expr.String(), p.ID(), err)
		}
		match, ok := result.(bool)
		if !ok {
			return true, fmt.Errorf("exclusion %q is not boolean for pool %s", expr.String(), p.ID())
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
