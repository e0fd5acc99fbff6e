// Package cloudapi abstracts the cloud control plane behind the direct
// action surface. Every operation respects dry-run mode and is safe to
// retry on ambiguous failure.
package cloudapi

import (
	"context"
)

// TerminateRequest asks for one resource to be terminated.
type TerminateRequest struct {
	ResourceID string
	Zone       string
}

// TerminateResult is the outcome of a terminate operation.
type TerminateResult struct {
	ResourceID string
	DryRun     bool
}

// LaunchRequest asks for new capacity in a pool.
type LaunchRequest struct {
	ResourceType       string
	Zone               string
	MaxSpotPrice       float64
	FallbackToOnDemand bool
}

// LaunchResult is the outcome of a launch operation.
type LaunchResult struct {
	ResourceID string
	Zone       string
	Spot       bool
	DryRun     bool
}

// DetachVolumeRequest asks for a volume to be detached from a resource.
type DetachVolumeRequest struct {
	VolumeID   string
	ResourceID string
	Force      bool
}

// DetachVolumeResult is the outcome of a volume detach.
type DetachVolumeResult struct {
	VolumeID string
	DryRun   bool
}

// GroupCapacityRequest asks for a scaling group's desired size to change.
type GroupCapacityRequest struct {
	GroupName string
	Desired   int32
}

// GroupCapacityResult is the outcome of a group capacity update.
type GroupCapacityResult struct {
	GroupName string
	Desired   int32
	DryRun    bool
}

// Provider is the cloud control plane surface used for direct actions.
// All implementations MUST respect the DryRun flag.
type Provider interface {
	// TerminateResource terminates one compute resource.
	TerminateResource(ctx context.Context, req TerminateRequest) (*TerminateResult, error)

	// LaunchCapacity requests new capacity, spot first with optional
	// on-demand fallback.
	LaunchCapacity(ctx context.Context, req LaunchRequest) (*LaunchResult, error)

	// DetachVolume detaches a volume so it can follow a migrating workload.
	DetachVolume(ctx context.Context, req DetachVolumeRequest) (*DetachVolumeResult, error)

	// UpdateGroupCapacity sets a scaling group's desired capacity.
	UpdateGroupCapacity(ctx context.Context, req GroupCapacityRequest) (*GroupCapacityResult, error)

	// IsDryRun returns whether the provider is in dry-run mode.
	IsDryRun() bool
}
