package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/softcane/vortex-core/internal/cloudapi"
	"github.com/softcane/vortex-core/internal/pool"
)

func TestRefreshOnceUpdatesSnapshot(t *testing.T) {
	provider := cloudapi.NewFakePriceProvider()
	provider.SetPrice("t3.medium", "us-east-1b", cloudapi.SpotPriceData{
		CurrentPrice:  0.012,
		OnDemandPrice: 0.0416,
		PriceHistory:  []float64{0.010, 0.010, 0.011, 0.012},
	})

	seed := pool.CapacityPool{Region: "us-east-1", Zone: "us-east-1b", ResourceType: "t3.medium", SpotEligible: true}
	snap := pool.NewSnapshot()
	r, err := NewRefresher(RefresherConfig{
		Seeds:    []pool.CapacityPool{seed},
		Provider: provider,
		Snapshot: snap,
	})
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}

	r.RefreshOnce(context.Background())

	p, ok := snap.Get(seed.ID())
	if !ok {
		t.Fatal("pool missing from snapshot after refresh")
	}
	if p.SpotPrice != 0.012 || p.OnDemandPrice != 0.0416 {
		t.Errorf("prices = %v/%v", p.SpotPrice, p.OnDemandPrice)
	}
	if !p.PriceRising {
		t.Error("upward history should mark the price rising")
	}
	if p.Volatility <= 0 {
		t.Error("noisy history should produce nonzero volatility")
	}
	if !p.SpotEligible {
		t.Error("seed attributes must be preserved")
	}
}

func TestRefreshDropsStandbyDuplicates(t *testing.T) {
	provider := cloudapi.NewFakePriceProvider()
	provider.SetPrice("t3.medium", "us-east-1b", cloudapi.SpotPriceData{
		CurrentPrice:  0.012,
		OnDemandPrice: 0.0416,
		PriceHistory:  []float64{0.012, 0.012, 0.012, 0.012},
	})

	seed := pool.CapacityPool{Region: "us-east-1", Zone: "us-east-1b", ResourceType: "t3.medium", SpotEligible: true}
	snap := pool.NewSnapshot()
	r, err := NewRefresher(RefresherConfig{
		Seeds:    []pool.CapacityPool{seed},
		Provider: provider,
		Snapshot: snap,
	})
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	ctx := context.Background()
	r.RefreshOnce(ctx)

	// A standby reports a wild price for a bucket the primary already
	// covers; normalization must keep the primary observation.
	r.Ingest(Sample{PoolID: seed.ID(), Source: SourceStandby, At: at, SpotPrice: 0.9})
	r.RefreshOnce(ctx)

	p, ok := snap.Get(seed.ID())
	if !ok {
		t.Fatal("pool missing from snapshot after refresh")
	}
	if p.Volatility != 0 {
		t.Errorf("flat primary series should stay flat, volatility = %v", p.Volatility)
	}
	if p.PriceRising {
		t.Error("standby duplicate must not turn a flat series rising")
	}
}

func TestRefreshFailureKeepsPreviousState(t *testing.T) {
	provider := cloudapi.NewFakePriceProvider()
	provider.SetPrice("t3.medium", "us-east-1b", cloudapi.SpotPriceData{CurrentPrice: 0.012, OnDemandPrice: 0.04})

	seed := pool.CapacityPool{Region: "us-east-1", Zone: "us-east-1b", ResourceType: "t3.medium"}
	snap := pool.NewSnapshot()
	r, err := NewRefresher(RefresherConfig{
		Seeds:    []pool.CapacityPool{seed},
		Provider: provider,
		Snapshot: snap,
	})
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	ctx := context.Background()
	r.RefreshOnce(ctx)

	provider.Err = context.DeadlineExceeded
	r.RefreshOnce(ctx)

	p, ok := snap.Get(seed.ID())
	if !ok || p.SpotPrice != 0.012 {
		t.Errorf("previous state must survive a failed refresh, got ok=%v price=%v", ok, p.SpotPrice)
	}
}
