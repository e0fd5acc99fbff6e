package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/pool"
)

// DefaultCPUThreshold marks resources under this CPU percentage as
// underutilized migration candidates.
const DefaultCPUThreshold = 40.0

// UtilizationQuerier supplies per-resource utilization. Implemented by the
// Prometheus metrics client.
type UtilizationQuerier interface {
	GetResourceUtilization(ctx context.Context) ([]metrics.ResourceUtilization, error)
}

// UtilizationSourceConfig configures a UtilizationSource.
type UtilizationSourceConfig struct {
	Querier UtilizationQuerier
	Pools   *pool.Snapshot

	// Region scopes the deployment; utilization series carry only zones.
	Region string

	// ClusterTenants maps cluster ids to the tenant that owns them.
	// Empty means every cluster belongs to every tenant.
	ClusterTenants map[string]string

	// CPUThreshold overrides DefaultCPUThreshold when positive.
	CPUThreshold float64

	Logger *slog.Logger
}

// UtilizationSource surfaces underutilized on-demand resources as migration
// opportunities.
type UtilizationSource struct {
	querier        UtilizationQuerier
	pools          *pool.Snapshot
	region         string
	clusterTenants map[string]string
	cpuThreshold   float64
	logger         *slog.Logger
}

// NewUtilizationSource creates an opportunity source over the utilization
// querier.
func NewUtilizationSource(cfg UtilizationSourceConfig) (*UtilizationSource, error) {
	if cfg.Querier == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if cfg.Pools == nil {
		return nil, fmt.Errorf("pool snapshot is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = DefaultCPUThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &UtilizationSource{
		querier:        cfg.Querier,
		pools:          cfg.Pools,
		region:         cfg.Region,
		clusterTenants: cfg.ClusterTenants,
		cpuThreshold:   cfg.CPUThreshold,
		logger:         cfg.Logger,
	}, nil
}

// Opportunities returns the tenant's underutilized on-demand resources.
// Spot-backed resources are never opportunities here; their risk is handled
// through the replica manager and the event fast path.
func (s *UtilizationSource) Opportunities(ctx context.Context, tenant string) ([]Opportunity, error) {
	usage, err := s.querier.GetResourceUtilization(ctx)
	if err != nil {
		return nil, fmt.Errorf("query utilization: %w", err)
	}

	var out []Opportunity
	for _, u := range usage {
		if owner, mapped := s.clusterTenants[u.ClusterID]; len(s.clusterTenants) > 0 && (!mapped || owner != tenant) {
			continue
		}
		if !u.OnDemand || u.CPUUsagePercent >= s.cpuThreshold {
			continue
		}
		poolID := fmt.Sprintf("%s/%s/%s", s.region, u.Zone, u.ResourceType)
		p, ok := s.pools.Get(poolID)
		if !ok {
			s.logger.Debug("skipping resource in unknown pool", "resource", u.ResourceID, "pool", poolID)
			continue
		}
		out = append(out, Opportunity{
			Resource:     u.ResourceID,
			NodeName:     u.ResourceID,
			ClusterID:    u.ClusterID,
			Region:       s.region,
			Zone:         u.Zone,
			ResourceType: u.ResourceType,
			OnDemand:     true,
			HourlyCost:   p.OnDemandPrice,
		})
	}
	return out, nil
}
