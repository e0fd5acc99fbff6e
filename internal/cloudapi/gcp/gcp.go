// Package gcp provides Compute Engine preemptible pricing. GCP publishes no
// spot-style price history, so prices are derived from machine shape and the
// standard preemptible discount.
package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/iterator"
)

const (
	// PriceCacheTTL matches the 5-minute refresh cadence.
	PriceCacheTTL = 5 * time.Minute

	// HistorySteps is the number of 5-minute steps kept (24 = 2 hours).
	HistorySteps = 24

	// preemptibleDiscount is the approximate preemptible price as a
	// fraction of on-demand.
	preemptibleDiscount = 0.30

	// Approximate per-hour shape pricing; varies by region.
	pricePerVCPU  = 0.033
	pricePerGBMem = 0.004
)

// SpotPriceData contains current and derived preemptible price information.
type SpotPriceData struct {
	CurrentPrice  float64
	OnDemandPrice float64
	PriceHistory  []float64
	Volatility    float64
	LastUpdated   time.Time
	MachineType   string
	Zone          string
}

// PriceClient provides preemptible price data for Compute Engine.
type PriceClient struct {
	machineTypes *compute.MachineTypesClient
	logger       *slog.Logger
	project      string

	mu            sync.RWMutex
	cache         map[string]*SpotPriceData // key: machineType:zone
	onDemandCache map[string]float64        // key: machineType:zone
}

// NewPriceClient creates a GCP price client for the given project.
func NewPriceClient(ctx context.Context, project string, logger *slog.Logger) (*PriceClient, error) {
	machineTypes, err := compute.NewMachineTypesRESTClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create machine types client: %w", err)
	}
	return &PriceClient{
		machineTypes:  machineTypes,
		logger:        logger,
		project:       project,
		cache:         make(map[string]*SpotPriceData),
		onDemandCache: make(map[string]float64),
	}, nil
}

// Close releases the underlying API client.
func (c *PriceClient) Close() error {
	return c.machineTypes.Close()
}

// GetSpotPrice returns preemptible price data for the machine type and zone,
// cached for PriceCacheTTL.
func (c *PriceClient) GetSpotPrice(ctx context.Context, machineType, zone string) (*SpotPriceData, error) {
	cacheKey := machineType + ":" + zone

	c.mu.RLock()
	if cached, ok := c.cache[cacheKey]; ok && time.Since(cached.LastUpdated) < PriceCacheTTL {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	onDemand, err := c.GetOnDemandPrice(ctx, machineType, zone)
	if err != nil {
		return nil, fmt.Errorf("on-demand price for %s: %w", machineType, err)
	}
	preemptible := onDemand * preemptibleDiscount

	// Preemptible pricing is fixed: the series is flat and volatility zero.
	history := make([]float64, HistorySteps)
	for i := range history {
		history[i] = preemptible
	}

	data := &SpotPriceData{
		CurrentPrice:  preemptible,
		OnDemandPrice: onDemand,
		PriceHistory:  history,
		Volatility:    0,
		LastUpdated:   time.Now(),
		MachineType:   machineType,
		Zone:          zone,
	}

	c.mu.Lock()
	c.cache[cacheKey] = data
	c.mu.Unlock()

	c.logger.Info("preemptible price updated",
		"machine_type", machineType,
		"zone", zone,
		"current_price", preemptible,
		"ondemand_price", onDemand,
	)
	return data, nil
}

// GetOnDemandPrice derives the on-demand hourly price from the machine
// type's vCPU and memory shape.
func (c *PriceClient) GetOnDemandPrice(ctx context.Context, machineType, zone string) (float64, error) {
	cacheKey := machineType + ":" + zone

	c.mu.RLock()
	if price, ok := c.onDemandCache[cacheKey]; ok {
		c.mu.RUnlock()
		return price, nil
	}
	c.mu.RUnlock()

	mt, err := c.machineTypes.Get(ctx, &computepb.GetMachineTypeRequest{
		Project:     c.project,
		Zone:        zone,
		MachineType: machineType,
	})
	if err != nil {
		return 0, fmt.Errorf("get machine type %s: %w", machineType, err)
	}

	memoryGB := float64(mt.GetMemoryMb()) / 1024.0
	price := float64(mt.GetGuestCpus())*pricePerVCPU + memoryGB*pricePerGBMem

	c.mu.Lock()
	c.onDemandCache[cacheKey] = price
	c.mu.Unlock()
	return price, nil
}

// ListZones returns all zone names in the project.
func (c *PriceClient) ListZones(ctx context.Context) ([]string, error) {
	zonesClient, err := compute.NewZonesRESTClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create zones client: %w", err)
	}
	defer zonesClient.Close()

	var zones []string
	it := zonesClient.List(ctx, &computepb.ListZonesRequest{Project: c.project})
	for {
		zone, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list zones: %w", err)
		}
		zones = append(zones, zone.GetName())
	}
	return zones, nil
}
