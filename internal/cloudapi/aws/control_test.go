package aws

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// fakeEC2 records calls and scripts failures.
type fakeEC2 struct {
	terminated   [][]string
	runInputs    []*ec2.RunInstancesInput
	detached     []*ec2.DetachVolumeInput
	spotRunErr   error
	nextInstance string
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminated = append(f.terminated, params.InstanceIds)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runInputs = append(f.runInputs, params)
	if params.InstanceMarketOptions != nil && f.spotRunErr != nil {
		return nil, f.spotRunErr
	}
	id := f.nextInstance
	if id == "" {
		id = "i-fake"
	}
	return &ec2.RunInstancesOutput{
		Instances: []ec2types.Instance{{InstanceId: awssdk.String(id)}},
	}, nil
}

func (f *fakeEC2) DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error) {
	f.detached = append(f.detached, params)
	return &ec2.DetachVolumeOutput{}, nil
}

type fakeASG struct {
	calls []*autoscaling.SetDesiredCapacityInput
}

func (f *fakeASG) SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
	f.calls = append(f.calls, params)
	return &autoscaling.SetDesiredCapacityOutput{}, nil
}

func newControlClient(fe *fakeEC2, fa *fakeASG) *ControlClient {
	return NewControlClientWithAPIs(fe, fa, "vortex-workers", slog.Default())
}

func TestTerminateInstance(t *testing.T) {
	fe := &fakeEC2{}
	c := newControlClient(fe, &fakeASG{})

	if err := c.TerminateInstance(context.Background(), "i-0abc"); err != nil {
		t.Fatalf("TerminateInstance: %v", err)
	}
	if len(fe.terminated) != 1 || fe.terminated[0][0] != "i-0abc" {
		t.Errorf("terminations = %v", fe.terminated)
	}
}

func TestLaunchInstanceSpot(t *testing.T) {
	fe := &fakeEC2{nextInstance: "i-spot"}
	c := newControlClient(fe, &fakeASG{})

	id, spot, err := c.LaunchInstance(context.Background(), "t3.medium", "us-east-1b", 0.02, false)
	if err != nil {
		t.Fatalf("LaunchInstance: %v", err)
	}
	if id != "i-spot" || !spot {
		t.Errorf("got id=%s spot=%v", id, spot)
	}
	input := fe.runInputs[0]
	if input.InstanceMarketOptions == nil || input.InstanceMarketOptions.MarketType != ec2types.MarketTypeSpot {
		t.Error("launch must request the spot market")
	}
	if got := *input.InstanceMarketOptions.SpotOptions.MaxPrice; got != "0.020000" {
		t.Errorf("max price = %s", got)
	}
	if *input.LaunchTemplate.LaunchTemplateName != "vortex-workers" {
		t.Errorf("launch template = %s", *input.LaunchTemplate.LaunchTemplateName)
	}
}

func TestLaunchInstanceFallsBackToOnDemand(t *testing.T) {
	fe := &fakeEC2{spotRunErr: errors.New("InsufficientInstanceCapacity"), nextInstance: "i-od"}
	c := newControlClient(fe, &fakeASG{})

	id, spot, err := c.LaunchInstance(context.Background(), "t3.medium", "us-east-1b", 0, true)
	if err != nil {
		t.Fatalf("LaunchInstance with fallback: %v", err)
	}
	if id != "i-od" || spot {
		t.Errorf("got id=%s spot=%v, want on-demand fallback", id, spot)
	}
	if len(fe.runInputs) != 2 {
		t.Fatalf("expected spot attempt then on-demand attempt, got %d calls", len(fe.runInputs))
	}
	if fe.runInputs[1].InstanceMarketOptions != nil {
		t.Error("fallback attempt must not request the spot market")
	}

	// Without fallback the spot failure surfaces.
	fe2 := &fakeEC2{spotRunErr: errors.New("InsufficientInstanceCapacity")}
	c2 := newControlClient(fe2, &fakeASG{})
	if _, _, err := c2.LaunchInstance(context.Background(), "t3.medium", "us-east-1b", 0, false); err == nil {
		t.Error("expected error when spot fails and fallback is off")
	}
}

func TestDetachVolume(t *testing.T) {
	fe := &fakeEC2{}
	c := newControlClient(fe, &fakeASG{})

	if err := c.DetachVolume(context.Background(), "vol-1", "i-0abc", true); err != nil {
		t.Fatalf("DetachVolume: %v", err)
	}
	input := fe.detached[0]
	if *input.VolumeId != "vol-1" || !*input.Force {
		t.Errorf("detach input = %+v", input)
	}
}

func TestSetGroupDesiredCapacity(t *testing.T) {
	fa := &fakeASG{}
	c := newControlClient(&fakeEC2{}, fa)

	if err := c.SetGroupDesiredCapacity(context.Background(), "workers", 7); err != nil {
		t.Fatalf("SetGroupDesiredCapacity: %v", err)
	}
	call := fa.calls[0]
	if *call.AutoScalingGroupName != "workers" || *call.DesiredCapacity != 7 {
		t.Errorf("call = %+v", call)
	}
}
