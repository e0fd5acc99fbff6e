package cloudapi

import (
	"context"
	"sync"
)

// FakeProvider records every control plane call, for tests.
type FakeProvider struct {
	mu sync.Mutex

	Terminated []TerminateRequest
	Launched   []LaunchRequest
	Detached   []DetachVolumeRequest
	Scaled     []GroupCapacityRequest

	// Err, when set, is returned from every call.
	Err error

	// LaunchSpot controls whether simulated launches land on spot.
	LaunchSpot bool
}

// NewFakeProvider creates a recording provider that launches on spot.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{LaunchSpot: true}
}

func (f *FakeProvider) TerminateResource(ctx context.Context, req TerminateRequest) (*TerminateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Terminated = append(f.Terminated, req)
	return &TerminateResult{ResourceID: req.ResourceID}, nil
}

func (f *FakeProvider) LaunchCapacity(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Launched = append(f.Launched, req)
	return &LaunchResult{
		ResourceID: "fake-resource",
		Zone:       req.Zone,
		Spot:       f.LaunchSpot,
	}, nil
}

func (f *FakeProvider) DetachVolume(ctx context.Context, req DetachVolumeRequest) (*DetachVolumeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Detached = append(f.Detached, req)
	return &DetachVolumeResult{VolumeID: req.VolumeID}, nil
}

func (f *FakeProvider) UpdateGroupCapacity(ctx context.Context, req GroupCapacityRequest) (*GroupCapacityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Scaled = append(f.Scaled, req)
	return &GroupCapacityResult{GroupName: req.GroupName, Desired: req.Desired}, nil
}

func (f *FakeProvider) IsDryRun() bool { return false }

// Calls returns the total number of recorded operations.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Terminated) + len(f.Launched) + len(f.Detached) + len(f.Scaled)
}

var _ Provider = (*FakeProvider)(nil)
