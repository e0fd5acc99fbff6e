package cloudapi

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/softcane/vortex-core/internal/cloudapi/aws"
	"github.com/softcane/vortex-core/internal/cloudapi/gcp"
)

// PriceProvider retrieves spot and on-demand pricing for capacity pools.
type PriceProvider interface {
	// GetSpotPrice returns current spot/preemptible price data.
	GetSpotPrice(ctx context.Context, resourceType, zone string) (SpotPriceData, error)

	// GetOnDemandPrice returns the on-demand price for a resource type.
	GetOnDemandPrice(ctx context.Context, resourceType, zone string) (float64, error)
}

// SpotPriceData is a unified representation of spot price data across clouds.
type SpotPriceData struct {
	CurrentPrice  float64
	OnDemandPrice float64
	PriceHistory  []float64
	Volatility    float64
	ResourceType  string
	Zone          string
}

// NewAutoDetectedPriceProvider creates a price provider for whichever cloud
// the process is running in.
func NewAutoDetectedPriceProvider(ctx context.Context, logger *slog.Logger) (PriceProvider, CloudType, error) {
	cloud := DetectCloud(ctx)

	switch cloud {
	case CloudTypeAWS:
		provider, err := NewAWSPriceProvider(ctx, awsRegion(), logger)
		return provider, cloud, err
	case CloudTypeGCP:
		provider, err := NewGCPPriceProvider(ctx, gcpProject(), logger)
		return provider, cloud, err
	default:
		return nil, cloud, fmt.Errorf("unsupported cloud: %s", cloud)
	}
}

// NewAWSPriceProvider creates an AWS-backed price provider for a region.
func NewAWSPriceProvider(ctx context.Context, region string, logger *slog.Logger) (PriceProvider, error) {
	client, err := aws.NewPriceClient(ctx, region, logger)
	if err != nil {
		return nil, fmt.Errorf("create aws price client: %w", err)
	}
	return &awsPriceAdapter{client: client}, nil
}

// NewGCPPriceProvider creates a GCP-backed price provider for a project.
func NewGCPPriceProvider(ctx context.Context, project string, logger *slog.Logger) (PriceProvider, error) {
	client, err := gcp.NewPriceClient(ctx, project, logger)
	if err != nil {
		return nil, fmt.Errorf("create gcp price client: %w", err)
	}
	return &gcpPriceAdapter{client: client}, nil
}

func awsRegion() string {
	if region := os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		return region
	}
	return "us-east-1"
}

func gcpProject() string {
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		return project
	}
	return os.Getenv("GCP_PROJECT")
}

// awsPriceAdapter adapts aws.PriceClient to PriceProvider.
type awsPriceAdapter struct {
	client *aws.PriceClient
}

func (a *awsPriceAdapter) GetSpotPrice(ctx context.Context, resourceType, zone string) (SpotPriceData, error) {
	data, err := a.client.GetSpotPrice(ctx, resourceType, zone)
	if err != nil {
		return SpotPriceData{}, err
	}
	return SpotPriceData{
		CurrentPrice:  data.CurrentPrice,
		OnDemandPrice: data.OnDemandPrice,
		PriceHistory:  data.PriceHistory,
		Volatility:    data.Volatility,
		ResourceType:  data.InstanceType,
		Zone:          data.Zone,
	}, nil
}

func (a *awsPriceAdapter) GetOnDemandPrice(ctx context.Context, resourceType, zone string) (float64, error) {
	return a.client.GetOnDemandPrice(ctx, resourceType)
}

// gcpPriceAdapter adapts gcp.PriceClient to PriceProvider.
type gcpPriceAdapter struct {
	client *gcp.PriceClient
}

func (g *gcpPriceAdapter) GetSpotPrice(ctx context.Context, resourceType, zone string) (SpotPriceData, error) {
	data, err := g.client.GetSpotPrice(ctx, resourceType, zone)
	if err != nil {
		return SpotPriceData{}, err
	}
	return SpotPriceData{
		CurrentPrice:  data.CurrentPrice,
		OnDemandPrice: data.OnDemandPrice,
		PriceHistory:  data.PriceHistory,
		Volatility:    data.Volatility,
		ResourceType:  data.MachineType,
		Zone:          data.Zone,
	}, nil
}

func (g *gcpPriceAdapter) GetOnDemandPrice(ctx context.Context, resourceType, zone string) (float64, error) {
	return g.client.GetOnDemandPrice(ctx, resourceType, zone)
}
