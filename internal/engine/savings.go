package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/risk"
)

// ResourceSavings is the dry-run analysis for one resource: what it costs
// now and what migrating to the best candidate pool would save.
type ResourceSavings struct {
	Resource     string
	ResourceType string
	Zone         string
	OnDemand     bool

	CurrentCostHourly float64
	TargetPool        string
	TargetSpotHourly  float64

	SavingsHourly  float64
	SavingsDaily   float64
	SavingsMonthly float64

	RiskScore  float64
	RiskBucket risk.Bucket

	Recommendation string
	CanMigrate     bool
}

// SavingsReport aggregates the dry-run analysis for one tenant.
type SavingsReport struct {
	Tenant            string
	Resources         []ResourceSavings
	TotalHourly       float64
	TotalDaily        float64
	TotalMonthly      float64
	OptimizableCount  int
	CurrentCostHourly float64
}

// SavingsReport scores every opportunity without planning any actions.
// This is the read-only analysis behind the score command.
func (e *Engine) SavingsReport(ctx context.Context, tenant string) (*SavingsReport, error) {
	pol := e.policies.For(tenant)
	opps, err := e.source.Opportunities(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("opportunities for tenant %s: %w", tenant, err)
	}

	report := &SavingsReport{Tenant: tenant}
	for _, opp := range opps {
		rs := ResourceSavings{
			Resource:          opp.Resource,
			ResourceType:      opp.ResourceType,
			Zone:              opp.Zone,
			OnDemand:          opp.OnDemand,
			CurrentCostHourly: opp.HourlyCost,
		}
		report.CurrentCostHourly += opp.HourlyCost

		id := fmt.Sprintf("%s/%s/%s", opp.Region, opp.Zone, opp.ResourceType)
		if current, ok := e.pools.Get(id); ok {
			rs.RiskScore = e.assessor.Score(current)
			rs.RiskBucket = e.assessor.BucketOf(rs.RiskScore)
		}

		if target, ok := e.selectTarget(ctx, pol, opp); ok {
			rs.TargetPool = target.ID()
			rs.TargetSpotHourly = target.SpotPrice
			if s := opp.HourlyCost - target.SpotPrice; s > 0 {
				rs.SavingsHourly = s
				rs.SavingsDaily = s * 24
				rs.SavingsMonthly = rs.SavingsDaily * 30
				rs.CanMigrate = true
				report.OptimizableCount++
			}
		}
		rs.Recommendation = recommend(rs)

		report.Resources = append(report.Resources, rs)
		report.TotalHourly += rs.SavingsHourly
	}
	report.TotalDaily = report.TotalHourly * 24
	report.TotalMonthly = report.TotalDaily * 30

	sort.Slice(report.Resources, func(i, j int) bool {
		return report.Resources[i].SavingsHourly > report.Resources[j].SavingsHourly
	})
	metrics.EstimatedSavingsHourly.WithLabelValues(tenant).Set(report.TotalHourly)
	return report, nil
}

func recommend(rs ResourceSavings) string {
	if !rs.OnDemand {
		switch rs.RiskBucket {
		case risk.BucketLow:
			return fmt.Sprintf("already on spot ($%.3f/hr), market stable", rs.CurrentCostHourly)
		case risk.BucketMedium:
			return fmt.Sprintf("already on spot ($%.3f/hr), monitor pool volatility", rs.CurrentCostHourly)
		default:
			return fmt.Sprintf("on spot ($%.3f/hr) in a high-risk pool, standby replica recommended", rs.CurrentCostHourly)
		}
	}
	if rs.CanMigrate {
		return fmt.Sprintf("on-demand ($%.3f/hr), migrating to %s saves $%.3f/hr ($%.2f/month)",
			rs.CurrentCostHourly, rs.TargetPool, rs.SavingsHourly, rs.SavingsMonthly)
	}
	return fmt.Sprintf("on-demand ($%.3f/hr), no cheaper eligible pool right now", rs.CurrentCostHourly)
}

// LogReport writes a human-readable summary of the report.
func (r *SavingsReport) LogReport(logger *slog.Logger) {
	logger.Info("savings analysis",
		"tenant", r.Tenant,
		"resources", len(r.Resources),
		"optimizable", r.OptimizableCount,
		"current_cost_hourly", fmt.Sprintf("$%.3f", r.CurrentCostHourly),
		"potential_savings_hourly", fmt.Sprintf("$%.3f", r.TotalHourly),
		"potential_savings_monthly", fmt.Sprintf("$%.2f", r.TotalMonthly),
	)
	for _, rs := range r.Resources {
		logger.Info("resource analysis",
			"resource", rs.Resource,
			"risk", rs.RiskBucket.String(),
			"recommendation", rs.Recommendation,
		)
	}
}
