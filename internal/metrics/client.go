package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ResourceUtilization is one managed resource's current utilization as seen
// by the tenant's Prometheus. Low-utilization on-demand resources are the
// decision engine's migration opportunities.
type ResourceUtilization struct {
	ResourceID         string    `json:"resource_id"`
	ClusterID          string    `json:"cluster_id"`
	Zone               string    `json:"zone"`
	ResourceType       string    `json:"resource_type"`
	CPUUsagePercent    float64   `json:"cpu_usage_percent"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	OnDemand           bool      `json:"on_demand"`
	Timestamp          time.Time `json:"timestamp"`
}

// Client wraps the Prometheus query API for utilization signals.
type Client struct {
	api    v1.API
	logger *slog.Logger
}

// ClientConfig holds configuration for the utilization client.
type ClientConfig struct {
	PrometheusURL string
	Logger        *slog.Logger
	// API is an optional Prometheus API client. If nil, one is created
	// from PrometheusURL. Useful for testing.
	API v1.API
}

// NewClient creates a Prometheus utilization client.
func NewClient(cfg ClientConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v1api := cfg.API
	if v1api == nil {
		if cfg.PrometheusURL == "" {
			return nil, fmt.Errorf("metrics: PrometheusURL is required")
		}
		client, err := api.NewClient(api.Config{Address: cfg.PrometheusURL})
		if err != nil {
			return nil, fmt.Errorf("metrics: create prometheus client: %w", err)
		}
		v1api = v1.NewAPI(client)
	}

	return &Client{api: v1api, logger: logger}, nil
}

// GetResourceUtilization queries current CPU and memory usage for every
// managed resource, keyed by the vortex labels the agent relabels onto
// node_exporter series.
func (c *Client) GetResourceUtilization(ctx context.Context) ([]ResourceUtilization, error) {
	cpu, err := c.queryByResource(ctx,
		`100 - (avg by (node, vortex_cluster, vortex_zone, vortex_resource_type, vortex_capacity) (rate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`)
	if err != nil {
		return nil, fmt.Errorf("metrics: query cpu utilization: %w", err)
	}
	mem, err := c.queryByResource(ctx,
		`(1 - node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes) * 100`)
	if err != nil {
		return nil, fmt.Errorf("metrics: query memory utilization: %w", err)
	}

	now := time.Now()
	merged := make(map[string]*ResourceUtilization)
	for id, s := range cpu {
		u := s.utilization(now)
		u.CPUUsagePercent = s.value
		merged[id] = &u
	}
	for id, s := range mem {
		u, ok := merged[id]
		if !ok {
			fresh := s.utilization(now)
			u = &fresh
			merged[id] = u
		}
		u.MemoryUsagePercent = s.value
	}

	out := make([]ResourceUtilization, 0, len(merged))
	for _, u := range merged {
		out = append(out, *u)
	}
	return out, nil
}

type resourceSample struct {
	resourceID   string
	clusterID    string
	zone         string
	resourceType string
	onDemand     bool
	value        float64
}

func (s resourceSample) utilization(now time.Time) ResourceUtilization {
	return ResourceUtilization{
		ResourceID:   s.resourceID,
		ClusterID:    s.clusterID,
		Zone:         s.zone,
		ResourceType: s.resourceType,
		OnDemand:     s.onDemand,
		Timestamp:    now,
	}
}

func (c *Client) queryByResource(ctx context.Context, query string) (map[string]resourceSample, error) {
	result, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		c.logger.Warn("prometheus query warnings", "warnings", warnings)
	}

	samples := make(map[string]resourceSample)
	vector, ok := result.(model.Vector)
	if !ok {
		c.logger.Warn("unexpected prometheus result type", "type", result.Type())
		return samples, nil
	}

	for _, sample := range vector {
		id := string(sample.Metric["node"])
		if id == "" {
			id = string(sample.Metric["instance"])
		}
		if id == "" {
			continue
		}
		samples[id] = resourceSample{
			resourceID:   id,
			clusterID:    string(sample.Metric["vortex_cluster"]),
			zone:         string(sample.Metric["vortex_zone"]),
			resourceType: string(sample.Metric["vortex_resource_type"]),
			onDemand:     string(sample.Metric["vortex_capacity"]) == "on-demand",
			value:        float64(sample.Value),
		}
	}
	return samples, nil
}
