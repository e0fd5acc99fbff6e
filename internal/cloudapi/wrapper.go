package cloudapi

import (
	"context"
	"log/slog"
)

// SafetyWrapper wraps a real provider with dry-run enforcement and
// structured logging for every control plane call. Dry-run simulates
// success without touching the cloud.
type SafetyWrapper struct {
	dryRun   bool
	provider Provider // nil is allowed in dry-run only mode
	logger   *slog.Logger
}

// SafetyWrapperConfig configures the SafetyWrapper.
type SafetyWrapperConfig struct {
	DryRun   bool
	Provider Provider
	Logger   *slog.Logger
}

// NewSafetyWrapper creates a safety wrapper for cloud operations.
func NewSafetyWrapper(cfg SafetyWrapperConfig) *SafetyWrapper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SafetyWrapper{
		dryRun:   cfg.DryRun,
		provider: cfg.Provider,
		logger:   logger,
	}
}

// TerminateResource implements Provider.TerminateResource with the safety wrapper.
func (w *SafetyWrapper) TerminateResource(ctx context.Context, req TerminateRequest) (*TerminateResult, error) {
	w.logger.Info("terminate requested",
		"resource_id", req.ResourceID,
		"zone", req.Zone,
		"dry_run", w.dryRun,
	)

	if w.dryRun {
		w.logger.Info("dry-run: simulating terminate",
			"resource_id", req.ResourceID,
			"action", "would_terminate_resource",
		)
		return &TerminateResult{ResourceID: req.ResourceID, DryRun: true}, nil
	}

	if w.provider == nil {
		w.logger.Error("no cloud provider configured for live mode")
		return nil, ErrNoProvider
	}
	return w.provider.TerminateResource(ctx, req)
}

// LaunchCapacity implements Provider.LaunchCapacity with the safety wrapper.
func (w *SafetyWrapper) LaunchCapacity(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	w.logger.Info("launch requested",
		"resource_type", req.ResourceType,
		"zone", req.Zone,
		"max_spot_price", req.MaxSpotPrice,
		"fallback_on_demand", req.FallbackToOnDemand,
		"dry_run", w.dryRun,
	)

	if w.dryRun {
		w.logger.Info("dry-run: simulating launch",
			"resource_type", req.ResourceType,
			"zone", req.Zone,
			"action", "would_launch_capacity",
		)
		return &LaunchResult{
			ResourceID: "dry-run-resource-id",
			Zone:       req.Zone,
			Spot:       true,
			DryRun:     true,
		}, nil
	}

	if w.provider == nil {
		w.logger.Error("no cloud provider configured for live mode")
		return nil, ErrNoProvider
	}
	return w.provider.LaunchCapacity(ctx, req)
}

// DetachVolume implements Provider.DetachVolume with the safety wrapper.
func (w *SafetyWrapper) DetachVolume(ctx context.Context, req DetachVolumeRequest) (*DetachVolumeResult, error) {
	w.logger.Info("volume detach requested",
		"volume_id", req.VolumeID,
		"resource_id", req.ResourceID,
		"force", req.Force,
		"dry_run", w.dryRun,
	)

	if w.dryRun {
		w.logger.Info("dry-run: simulating volume detach",
			"volume_id", req.VolumeID,
			"action", "would_detach_volume",
		)
		return &DetachVolumeResult{VolumeID: req.VolumeID, DryRun: true}, nil
	}

	if w.provider == nil {
		w.logger.Error("no cloud provider configured for live mode")
		return nil, ErrNoProvider
	}
	return w.provider.DetachVolume(ctx, req)
}

// UpdateGroupCapacity implements Provider.UpdateGroupCapacity with the safety wrapper.
func (w *SafetyWrapper) UpdateGroupCapacity(ctx context.Context, req GroupCapacityRequest) (*GroupCapacityResult, error) {
	w.logger.Info("group capacity update requested",
		"group", req.GroupName,
		"desired", req.Desired,
		"dry_run", w.dryRun,
	)

	if w.dryRun {
		w.logger.Info("dry-run: simulating group capacity update",
			"group", req.GroupName,
			"desired", req.Desired,
			"action", "would_update_group_capacity",
		)
		return &GroupCapacityResult{GroupName: req.GroupName, Desired: req.Desired, DryRun: true}, nil
	}

	if w.provider == nil {
		w.logger.Error("no cloud provider configured for live mode")
		return nil, ErrNoProvider
	}
	return w.provider.UpdateGroupCapacity(ctx, req)
}

// IsDryRun returns whether the wrapper is in dry-run mode.
func (w *SafetyWrapper) IsDryRun() bool {
	return w.dryRun
}

// Compile-time interface check
var _ Provider = (*SafetyWrapper)(nil)
