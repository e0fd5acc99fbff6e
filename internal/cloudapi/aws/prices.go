// Package aws talks to the EC2 control plane: spot pricing, instance
// lifecycle, and autoscaling group capacity. Uses aws-sdk-go-v2.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

const (
	// PriceCacheTTL matches the 5-minute refresh cadence.
	PriceCacheTTL = 5 * time.Minute

	// HistorySteps is the number of 5-minute steps kept (24 = 2 hours).
	HistorySteps = 24

	priceHistoryLookback = 2 * time.Hour
)

// SpotPriceData contains current and historical spot price information.
type SpotPriceData struct {
	CurrentPrice  float64
	OnDemandPrice float64
	PriceHistory  []float64
	Volatility    float64
	LastUpdated   time.Time
	InstanceType  string
	Zone          string
}

// PriceClient provides spot and on-demand price data from EC2.
type PriceClient struct {
	ec2Client     *ec2.Client
	pricingClient *pricing.Client
	logger        *slog.Logger
	region        string

	mu            sync.RWMutex
	cache         map[string]*SpotPriceData // key: instanceType:zone
	onDemandCache map[string]float64        // key: instanceType
}

// NewPriceClient creates an AWS price client for the given region.
func NewPriceClient(ctx context.Context, region string, logger *slog.Logger) (*PriceClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &PriceClient{
		ec2Client: ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			// The pricing API only exists in us-east-1.
			o.Region = "us-east-1"
		}),
		logger:        logger,
		region:        region,
		cache:         make(map[string]*SpotPriceData),
		onDemandCache: make(map[string]float64),
	}, nil
}

// GetSpotPrice returns spot price data for the instance type and zone,
// cached for PriceCacheTTL.
func (c *PriceClient) GetSpotPrice(ctx context.Context, instanceType, zone string) (*SpotPriceData, error) {
	cacheKey := instanceType + ":" + zone

	c.mu.RLock()
	if cached, ok := c.cache[cacheKey]; ok && time.Since(cached.LastUpdated) < PriceCacheTTL {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.logger.Debug("fetching spot price history", "instance_type", instanceType, "zone", zone)

	result, err := c.ec2Client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
		AvailabilityZone:    aws.String(zone),
		StartTime:           aws.Time(time.Now().Add(-priceHistoryLookback)),
		ProductDescriptions: []string{"Linux/UNIX"},
		MaxResults:          aws.Int32(100),
	})
	if err != nil {
		return nil, fmt.Errorf("describe spot price history: %w", err)
	}
	if len(result.SpotPriceHistory) == 0 {
		return nil, fmt.Errorf("no spot price history for %s in %s", instanceType, zone)
	}

	history := buildPriceHistory(result.SpotPriceHistory)
	current := history[len(history)-1]

	onDemand, err := c.GetOnDemandPrice(ctx, instanceType)
	if err != nil {
		return nil, fmt.Errorf("on-demand price for %s: %w", instanceType, err)
	}

	data := &SpotPriceData{
		CurrentPrice:  current,
		OnDemandPrice: onDemand,
		PriceHistory:  history,
		Volatility:    stddev(history),
		LastUpdated:   time.Now(),
		InstanceType:  instanceType,
		Zone:          zone,
	}

	c.mu.Lock()
	c.cache[cacheKey] = data
	c.mu.Unlock()

	c.logger.Info("spot price updated",
		"instance_type", instanceType,
		"zone", zone,
		"current_price", current,
		"ondemand_price", onDemand,
		"volatility", data.Volatility,
	)
	return data, nil
}

// GetOnDemandPrice fetches the on-demand hourly price for an instance type.
func (c *PriceClient) GetOnDemandPrice(ctx context.Context, instanceType string) (float64, error) {
	c.mu.RLock()
	if price, ok := c.onDemandCache[instanceType]; ok {
		c.mu.RUnlock()
		return price, nil
	}
	c.mu.RUnlock()

	result, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []pricingtypes.Filter{
			termMatch("instanceType", instanceType),
			termMatch("operatingSystem", "Linux"),
			termMatch("preInstalledSw", "NA"),
			termMatch("tenancy", "Shared"),
			termMatch("capacitystatus", "Used"),
			termMatch("regionCode", c.region),
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("get products: %w", err)
	}
	if len(result.PriceList) == 0 {
		return 0, fmt.Errorf("no pricing found for %s", instanceType)
	}

	price, err := parseOnDemandPrice(result.PriceList[0])
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.onDemandCache[instanceType] = price
	c.mu.Unlock()
	return price, nil
}

func termMatch(field, value string) pricingtypes.Filter {
	return pricingtypes.Filter{
		Type:  pricingtypes.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// buildPriceHistory converts EC2 spot history into a fixed-length,
// oldest-first series.
func buildPriceHistory(history []ec2types.SpotPrice) []float64 {
	prices := make([]float64, 0, len(history))
	// EC2 returns newest first.
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SpotPrice == nil {
			continue
		}
		if p, err := strconv.ParseFloat(*history[i].SpotPrice, 64); err == nil {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return prices
	}
	if len(prices) < HistorySteps {
		padding := make([]float64, HistorySteps-len(prices))
		for i := range padding {
			padding[i] = prices[0]
		}
		prices = append(padding, prices...)
	} else if len(prices) > HistorySteps {
		prices = prices[len(prices)-HistorySteps:]
	}
	return prices
}

func stddev(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	var variance float64
	for _, p := range prices {
		d := p - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(prices)-1))
}

// pricingDocument is the subset of the pricing API payload we read.
type pricingDocument struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// parseOnDemandPrice extracts the lowest positive USD hourly price from a
// pricing API product document.
func parseOnDemandPrice(priceList string) (float64, error) {
	var doc pricingDocument
	if err := json.Unmarshal([]byte(priceList), &doc); err != nil {
		return 0, fmt.Errorf("parse pricing payload: %w", err)
	}

	best := 0.0
	found := false
	for _, sku := range doc.Terms.OnDemand {
		for _, dim := range sku.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(strings.TrimSpace(usd), 64)
			if err != nil || price <= 0 {
				continue
			}
			if !found || price < best {
				best = price
				found = true
			}
		}
	}
	if !found {
		return 0, fmt.Errorf("no USD on-demand price in pricing payload")
	}
	return best, nil
}
