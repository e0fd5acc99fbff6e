package cloudapi

import (
	"context"
	"errors"
	"testing"
)

func TestDryRunSimulatesWithoutProvider(t *testing.T) {
	w := NewSafetyWrapper(SafetyWrapperConfig{DryRun: true})
	ctx := context.Background()

	term, err := w.TerminateResource(ctx, TerminateRequest{ResourceID: "i-0abc", Zone: "us-east-1a"})
	if err != nil {
		t.Fatalf("TerminateResource: %v", err)
	}
	if !term.DryRun || term.ResourceID != "i-0abc" {
		t.Errorf("terminate result = %+v, want dry-run echo", term)
	}

	launch, err := w.LaunchCapacity(ctx, LaunchRequest{ResourceType: "t3.medium", Zone: "us-east-1b"})
	if err != nil {
		t.Fatalf("LaunchCapacity: %v", err)
	}
	if !launch.DryRun || !launch.Spot {
		t.Errorf("launch result = %+v, want simulated spot launch", launch)
	}

	detach, err := w.DetachVolume(ctx, DetachVolumeRequest{VolumeID: "vol-1", ResourceID: "i-0abc"})
	if err != nil {
		t.Fatalf("DetachVolume: %v", err)
	}
	if !detach.DryRun {
		t.Errorf("detach result = %+v, want dry-run", detach)
	}

	scale, err := w.UpdateGroupCapacity(ctx, GroupCapacityRequest{GroupName: "workers", Desired: 5})
	if err != nil {
		t.Fatalf("UpdateGroupCapacity: %v", err)
	}
	if !scale.DryRun || scale.Desired != 5 {
		t.Errorf("scale result = %+v, want dry-run with desired 5", scale)
	}

	if !w.IsDryRun() {
		t.Error("IsDryRun must report true")
	}
}

func TestLiveModeRequiresProvider(t *testing.T) {
	w := NewSafetyWrapper(SafetyWrapperConfig{DryRun: false})
	ctx := context.Background()

	if _, err := w.TerminateResource(ctx, TerminateRequest{ResourceID: "i-0abc"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("terminate: err = %v, want ErrNoProvider", err)
	}
	if _, err := w.LaunchCapacity(ctx, LaunchRequest{ResourceType: "t3.medium"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("launch: err = %v, want ErrNoProvider", err)
	}
	if _, err := w.DetachVolume(ctx, DetachVolumeRequest{VolumeID: "vol-1"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("detach: err = %v, want ErrNoProvider", err)
	}
	if _, err := w.UpdateGroupCapacity(ctx, GroupCapacityRequest{GroupName: "workers"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("scale: err = %v, want ErrNoProvider", err)
	}
}

func TestLiveModeDelegatesToProvider(t *testing.T) {
	fake := NewFakeProvider()
	w := NewSafetyWrapper(SafetyWrapperConfig{DryRun: false, Provider: fake})
	ctx := context.Background()

	if _, err := w.TerminateResource(ctx, TerminateRequest{ResourceID: "i-0abc", Zone: "us-east-1a"}); err != nil {
		t.Fatalf("TerminateResource: %v", err)
	}
	if _, err := w.UpdateGroupCapacity(ctx, GroupCapacityRequest{GroupName: "workers", Desired: 3}); err != nil {
		t.Fatalf("UpdateGroupCapacity: %v", err)
	}

	if len(fake.Terminated) != 1 || fake.Terminated[0].ResourceID != "i-0abc" {
		t.Errorf("terminations = %v", fake.Terminated)
	}
	if len(fake.Scaled) != 1 || fake.Scaled[0].Desired != 3 {
		t.Errorf("scales = %v", fake.Scaled)
	}
}

func TestFakePriceProvider(t *testing.T) {
	f := NewFakePriceProvider()
	f.SetPrice("t3.medium", "us-east-1a", SpotPriceData{CurrentPrice: 0.0125, OnDemandPrice: 0.0416})
	ctx := context.Background()

	data, err := f.GetSpotPrice(ctx, "t3.medium", "us-east-1a")
	if err != nil {
		t.Fatalf("GetSpotPrice: %v", err)
	}
	if data.CurrentPrice != 0.0125 || data.Zone != "us-east-1a" {
		t.Errorf("data = %+v", data)
	}

	od, err := f.GetOnDemandPrice(ctx, "t3.medium", "us-east-1a")
	if err != nil || od != 0.0416 {
		t.Errorf("on-demand = %v err = %v", od, err)
	}

	if _, err := f.GetSpotPrice(ctx, "m5.large", "us-east-1a"); err == nil {
		t.Error("unscripted pool should error")
	}
}
