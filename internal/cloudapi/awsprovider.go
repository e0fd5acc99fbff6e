package cloudapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/softcane/vortex-core/internal/cloudapi/aws"
)

// AWSProvider implements Provider on top of the EC2 control client.
type AWSProvider struct {
	client *aws.ControlClient
}

// NewAWSProvider creates a live AWS provider. launchTemplate names the EC2
// launch template used for new capacity.
func NewAWSProvider(ctx context.Context, region, launchTemplate string, logger *slog.Logger) (*AWSProvider, error) {
	client, err := aws.NewControlClient(ctx, region, launchTemplate, logger)
	if err != nil {
		return nil, fmt.Errorf("create aws control client: %w", err)
	}
	return &AWSProvider{client: client}, nil
}

// NewAWSProviderWithClient wires an existing control client, for tests.
func NewAWSProviderWithClient(client *aws.ControlClient) *AWSProvider {
	return &AWSProvider{client: client}
}

func (p *AWSProvider) TerminateResource(ctx context.Context, req TerminateRequest) (*TerminateResult, error) {
	if err := p.client.TerminateInstance(ctx, req.ResourceID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTerminateFailed, err)
	}
	return &TerminateResult{ResourceID: req.ResourceID}, nil
}

func (p *AWSProvider) LaunchCapacity(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	id, spot, err := p.client.LaunchInstance(ctx, req.ResourceType, req.Zone, req.MaxSpotPrice, req.FallbackToOnDemand)
	if err != nil {
		if aws.IsSpotUnavailable(err) {
			return nil, fmt.Errorf("%w: %s", ErrSpotUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrLaunchFailed, err)
	}
	return &LaunchResult{ResourceID: id, Zone: req.Zone, Spot: spot}, nil
}

func (p *AWSProvider) DetachVolume(ctx context.Context, req DetachVolumeRequest) (*DetachVolumeResult, error) {
	if err := p.client.DetachVolume(ctx, req.VolumeID, req.ResourceID, req.Force); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDetachFailed, err)
	}
	return &DetachVolumeResult{VolumeID: req.VolumeID}, nil
}

func (p *AWSProvider) UpdateGroupCapacity(ctx context.Context, req GroupCapacityRequest) (*GroupCapacityResult, error) {
	if err := p.client.SetGroupDesiredCapacity(ctx, req.GroupName, req.Desired); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScaleFailed, err)
	}
	return &GroupCapacityResult{GroupName: req.GroupName, Desired: req.Desired}, nil
}

func (p *AWSProvider) IsDryRun() bool { return false }

var _ Provider = (*AWSProvider)(nil)
