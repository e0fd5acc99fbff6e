package cloudapi

import (
	"context"
	"fmt"
	"sync"
)

// FakePriceProvider serves fixed price data per pool, for tests and local
// runs without cloud credentials.
type FakePriceProvider struct {
	mu     sync.RWMutex
	prices map[string]SpotPriceData

	// Err, when set, is returned from every call.
	Err error
}

// NewFakePriceProvider creates an empty fake price provider.
func NewFakePriceProvider() *FakePriceProvider {
	return &FakePriceProvider{prices: make(map[string]SpotPriceData)}
}

// SetPrice scripts the response for one resource type and zone.
func (f *FakePriceProvider) SetPrice(resourceType, zone string, data SpotPriceData) {
	data.ResourceType = resourceType
	data.Zone = zone
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[resourceType+":"+zone] = data
}

func (f *FakePriceProvider) GetSpotPrice(ctx context.Context, resourceType, zone string) (SpotPriceData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.Err != nil {
		return SpotPriceData{}, f.Err
	}
	data, ok := f.prices[resourceType+":"+zone]
	if !ok {
		return SpotPriceData{}, fmt.Errorf("no fake price for %s in %s", resourceType, zone)
	}
	return data, nil
}

func (f *FakePriceProvider) GetOnDemandPrice(ctx context.Context, resourceType, zone string) (float64, error) {
	data, err := f.GetSpotPrice(ctx, resourceType, zone)
	if err != nil {
		return 0, err
	}
	return data.OnDemandPrice, nil
}

var _ PriceProvider = (*FakePriceProvider)(nil)
