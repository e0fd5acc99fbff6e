package replica

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/softcane/vortex-core/internal/cloudapi"
	"github.com/softcane/vortex-core/internal/pool"
)

// ProviderLauncher backs the Launcher interface with the cloud control
// plane. It remembers which cloud resource each replica maps to so standby
// termination targets the right instance.
type ProviderLauncher struct {
	provider cloudapi.Provider
	pools    *pool.Snapshot
	logger   *slog.Logger

	mu       sync.Mutex
	cloudIDs map[string]string // replica id -> cloud resource id
}

// NewProviderLauncher creates a launcher over the given provider.
func NewProviderLauncher(provider cloudapi.Provider, pools *pool.Snapshot, logger *slog.Logger) (*ProviderLauncher, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if pools == nil {
		return nil, fmt.Errorf("pool snapshot is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderLauncher{
		provider: provider,
		pools:    pools,
		logger:   logger,
		cloudIDs: make(map[string]string),
	}, nil
}

// LaunchStandby provisions spot capacity in the replica's pool. Standbys
// never fall back to on-demand: a standby that cannot be had cheaply is not
// worth holding.
func (l *ProviderLauncher) LaunchStandby(ctx context.Context, r Replica) error {
	zone, resourceType, err := splitPoolID(r.PoolID)
	if err != nil {
		return err
	}
	req := cloudapi.LaunchRequest{
		ResourceType:       resourceType,
		Zone:               zone,
		FallbackToOnDemand: false,
	}
	if p, ok := l.pools.Get(r.PoolID); ok {
		req.MaxSpotPrice = p.OnDemandPrice
	}
	result, err := l.provider.LaunchCapacity(ctx, req)
	if err != nil {
		return fmt.Errorf("launch standby %s: %w", r.ID, err)
	}
	l.mu.Lock()
	l.cloudIDs[r.ID] = result.ResourceID
	l.mu.Unlock()
	l.logger.Info("standby capacity launched",
		"replica", r.ID, "resource", result.ResourceID, "pool", r.PoolID, "dry_run", result.DryRun)
	return nil
}

// TerminateStandby releases the standby's cloud resource.
func (l *ProviderLauncher) TerminateStandby(ctx context.Context, r Replica) error {
	l.mu.Lock()
	cloudID, ok := l.cloudIDs[r.ID]
	delete(l.cloudIDs, r.ID)
	l.mu.Unlock()
	if !ok {
		// Launched by a previous process; the record is all we have.
		l.logger.Warn("no cloud resource tracked for replica, skipping terminate",
			"replica", r.ID, "pool", r.PoolID)
		return nil
	}
	zone, _, err := splitPoolID(r.PoolID)
	if err != nil {
		return err
	}
	_, err = l.provider.TerminateResource(ctx, cloudapi.TerminateRequest{
		ResourceID: cloudID,
		Zone:       zone,
	})
	if err != nil {
		return fmt.Errorf("terminate standby %s: %w", r.ID, err)
	}
	return nil
}

// PromoteStandby is a control-plane no-op: traffic switches inside the
// cluster when the agent repoints the workload. The standby's capacity
// simply stops being a standby.
func (l *ProviderLauncher) PromoteStandby(ctx context.Context, r Replica) error {
	l.logger.Info("standby promoted to primary", "replica", r.ID, "pool", r.PoolID)
	return nil
}

// TerminatePrimary removes the displaced primary after a promotion.
func (l *ProviderLauncher) TerminatePrimary(ctx context.Context, resource string) error {
	_, err := l.provider.TerminateResource(ctx, cloudapi.TerminateRequest{ResourceID: resource})
	if err != nil {
		return fmt.Errorf("terminate displaced primary %s: %w", resource, err)
	}
	return nil
}

func splitPoolID(id string) (zone, resourceType string, err error) {
	parts := strings.SplitN(id, "/", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed pool id %q", id)
	}
	return parts[1], parts[2], nil
}
