package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// EC2API is the EC2 surface the control client uses. Satisfied by
// *ec2.Client; tests substitute a fake.
type EC2API interface {
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
}

// AutoScalingAPI is the autoscaling surface the control client uses.
type AutoScalingAPI interface {
	SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
}

// ControlClient executes instance lifecycle operations against EC2 and
// autoscaling. Launches go through a launch template so the client never
// needs to know AMIs or networking.
type ControlClient struct {
	ec2Client      EC2API
	asgClient      AutoScalingAPI
	launchTemplate string
	logger         *slog.Logger
}

// NewControlClient creates a control client for the given region. The launch
// template provides image and network settings for launched capacity.
func NewControlClient(ctx context.Context, region, launchTemplate string, logger *slog.Logger) (*ControlClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ControlClient{
		ec2Client:      ec2.NewFromConfig(cfg),
		asgClient:      autoscaling.NewFromConfig(cfg),
		launchTemplate: launchTemplate,
		logger:         logger,
	}, nil
}

// NewControlClientWithAPIs wires explicit API implementations, for tests.
func NewControlClientWithAPIs(ec2Client EC2API, asgClient AutoScalingAPI, launchTemplate string, logger *slog.Logger) *ControlClient {
	return &ControlClient{
		ec2Client:      ec2Client,
		asgClient:      asgClient,
		launchTemplate: launchTemplate,
		logger:         logger,
	}
}

// TerminateInstance terminates one EC2 instance.
func (c *ControlClient) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("terminate instance %s: %w", instanceID, err)
	}
	c.logger.Info("instance terminated", "instance_id", instanceID)
	return nil
}

// LaunchInstance launches one instance of the given type in the zone, spot
// first. When fallback is set and the spot request fails, the launch is
// retried on demand.
func (c *ControlClient) LaunchInstance(ctx context.Context, instanceType, zone string, maxSpotPrice float64, fallback bool) (string, bool, error) {
	id, err := c.runInstance(ctx, instanceType, zone, maxSpotPrice, true)
	if err == nil {
		c.logger.Info("spot instance launched", "instance_id", id, "instance_type", instanceType, "zone", zone)
		return id, true, nil
	}
	if !fallback {
		return "", false, fmt.Errorf("launch spot %s in %s: %w", instanceType, zone, err)
	}

	c.logger.Warn("spot launch failed, falling back to on-demand",
		"instance_type", instanceType, "zone", zone, "error", err)
	id, err = c.runInstance(ctx, instanceType, zone, 0, false)
	if err != nil {
		return "", false, fmt.Errorf("launch on-demand %s in %s: %w", instanceType, zone, err)
	}
	c.logger.Info("on-demand instance launched", "instance_id", id, "instance_type", instanceType, "zone", zone)
	return id, false, nil
}

func (c *ControlClient) runInstance(ctx context.Context, instanceType, zone string, maxSpotPrice float64, spot bool) (string, error) {
	input := &ec2.RunInstancesInput{
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		InstanceType: ec2types.InstanceType(instanceType),
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateName: aws.String(c.launchTemplate),
		},
		Placement: &ec2types.Placement{
			AvailabilityZone: aws.String(zone),
		},
	}
	if spot {
		opts := &ec2types.SpotMarketOptions{
			SpotInstanceType: ec2types.SpotInstanceTypeOneTime,
		}
		if maxSpotPrice > 0 {
			opts.MaxPrice = aws.String(fmt.Sprintf("%.6f", maxSpotPrice))
		}
		input.InstanceMarketOptions = &ec2types.InstanceMarketOptionsRequest{
			MarketType:  ec2types.MarketTypeSpot,
			SpotOptions: opts,
		}
	}

	out, err := c.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", err
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", fmt.Errorf("run instances returned no instance")
	}
	return *out.Instances[0].InstanceId, nil
}

// IsSpotUnavailable reports whether the launch failure means EC2 has no spot
// capacity at this price in this pool right now, as opposed to a bad request
// or an outage.
func IsSpotUnavailable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InsufficientInstanceCapacity", "SpotMaxPriceTooLow", "MaxSpotInstanceCountExceeded":
		return true
	}
	return false
}

// DetachVolume detaches an EBS volume from an instance.
func (c *ControlClient) DetachVolume(ctx context.Context, volumeID, instanceID string, force bool) error {
	input := &ec2.DetachVolumeInput{
		VolumeId: aws.String(volumeID),
		Force:    aws.Bool(force),
	}
	if instanceID != "" {
		input.InstanceId = aws.String(instanceID)
	}
	if _, err := c.ec2Client.DetachVolume(ctx, input); err != nil {
		return fmt.Errorf("detach volume %s: %w", volumeID, err)
	}
	c.logger.Info("volume detached", "volume_id", volumeID, "instance_id", instanceID)
	return nil
}

// SetGroupDesiredCapacity updates an autoscaling group's desired size.
func (c *ControlClient) SetGroupDesiredCapacity(ctx context.Context, group string, desired int32) error {
	_, err := c.asgClient.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(group),
		DesiredCapacity:      aws.Int32(desired),
		HonorCooldown:        aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("set desired capacity for %s: %w", group, err)
	}
	c.logger.Info("group capacity updated", "group", group, "desired", desired)
	return nil
}
