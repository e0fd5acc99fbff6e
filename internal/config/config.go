// Package config provides configuration loading for the vortex engine.
// All config values are loaded from file - NO hardcoded defaults for the
// required fields.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/softcane/vortex-core/internal/policy"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/risk"
)

// Config holds all engine configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Risk       RiskConfig       `yaml:"risk"`
	Redis      RedisConfig      `yaml:"redis"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	AgentAPI   AgentAPIConfig   `yaml:"agentApi"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	AWS        AWSConfig        `yaml:"aws"`
	GCP        GCPConfig        `yaml:"gcp"`
	Audit      AuditConfig      `yaml:"audit"`
	Billing    BillingConfig    `yaml:"billing"`

	// Pools seeds the capacity pool snapshot before the first telemetry
	// refresh.
	Pools []PoolSeed `yaml:"pools"`

	// Tenants holds per-tenant policy overrides.
	Tenants []policy.TenantPolicy `yaml:"tenants"`
}

// EngineConfig configures the decision cycle.
type EngineConfig struct {
	// Tenants the engine plans for each cycle.
	Tenants []string `yaml:"tenants"`

	CycleIntervalSeconds int `yaml:"cycleIntervalSeconds"`

	// PriceWeight and RiskWeight rank candidate pools; they must sum to 1.
	PriceWeight float64 `yaml:"priceWeight"`
	RiskWeight  float64 `yaml:"riskWeight"`

	// QueueSweepIntervalSeconds controls how often expired delegated
	// actions are failed.
	QueueSweepIntervalSeconds int `yaml:"queueSweepIntervalSeconds"`

	// ClusterTenants maps cluster ids to owning tenants. Clusters left
	// unmapped serve every tenant.
	ClusterTenants map[string]string `yaml:"clusterTenants"`

	// RuntimeConfigPath points at the optional runtime tuning file,
	// reloaded every cycle.
	RuntimeConfigPath string `yaml:"runtimeConfigPath"`
}

// PrometheusConfig configures the utilization query client.
type PrometheusConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Timeout returns the Prometheus query timeout as a duration.
func (c *PrometheusConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RiskConfig configures the risk assessor.
type RiskConfig struct {
	Weights    risk.Weights    `yaml:"weights"`
	Thresholds risk.Thresholds `yaml:"thresholds"`

	// FlagTTLMinutes is the registry flag lifetime.
	FlagTTLMinutes int `yaml:"flagTtlMinutes"`
}

// RedisConfig configures the shared Redis backend for the risk registry,
// the action queue, and replica records.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig configures the price refresher.
type TelemetryConfig struct {
	RefreshIntervalSeconds int `yaml:"refreshIntervalSeconds"`
}

// AgentAPIConfig configures the agent-facing HTTP listener.
type AgentAPIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// MetricsConfig configures the Prometheus exposition listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// AWSConfig configures the AWS control plane and price scraping.
type AWSConfig struct {
	Region string `yaml:"region"`

	// LaunchTemplate is the EC2 launch template capacity launches use.
	LaunchTemplate string `yaml:"launchTemplate"`

	InstanceTypes     []string `yaml:"instanceTypes"`
	AvailabilityZones []string `yaml:"availabilityZones"`
}

// GCPConfig configures GCP preemptible pricing.
type GCPConfig struct {
	ProjectID    string   `yaml:"projectId"`
	Region       string   `yaml:"region"`
	MachineTypes []string `yaml:"machineTypes"`
}

// AuditConfig configures savings manifest signing.
type AuditConfig struct {
	// SecretKey signs savings manifests. Empty disables manifest
	// generation entirely.
	SecretKey string `yaml:"secretKey"`
}

// BillingConfig configures savings reporting.
type BillingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Enabled  bool   `yaml:"enabled"`
}

// PoolSeed describes one capacity pool known at startup.
type PoolSeed struct {
	Region        string  `yaml:"region"`
	Zone          string  `yaml:"zone"`
	ResourceType  string  `yaml:"resourceType"`
	SpotEligible  bool    `yaml:"spotEligible"`
	OnDemandPrice float64 `yaml:"onDemandPrice"`
}

// Load reads configuration from a YAML file.
// Returns an error if the file is missing or invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and applies defaults for optional ones.
func (c *Config) Validate() error {
	if len(c.Engine.Tenants) == 0 {
		return fmt.Errorf("engine.tenants cannot be empty")
	}
	if c.Engine.CycleIntervalSeconds < 10 {
		return fmt.Errorf("engine.cycleIntervalSeconds must be >= 10")
	}
	if c.Engine.PriceWeight <= 0 || c.Engine.RiskWeight <= 0 {
		return fmt.Errorf("engine.priceWeight and engine.riskWeight must be positive")
	}
	if sum := c.Engine.PriceWeight + c.Engine.RiskWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("engine rank weights must sum to 1.0, got %.3f", sum)
	}
	if c.Engine.QueueSweepIntervalSeconds == 0 {
		c.Engine.QueueSweepIntervalSeconds = 60
	}

	if c.Risk.Weights == (risk.Weights{}) {
		c.Risk.Weights = risk.DefaultWeights
	}
	if err := c.Risk.Weights.Validate(); err != nil {
		return fmt.Errorf("risk.weights: %w", err)
	}
	if c.Risk.Thresholds == (risk.Thresholds{}) {
		c.Risk.Thresholds = risk.DefaultThresholds
	}
	if err := c.Risk.Thresholds.Validate(); err != nil {
		return fmt.Errorf("risk.thresholds: %w", err)
	}
	if c.Risk.FlagTTLMinutes < 0 {
		return fmt.Errorf("risk.flagTtlMinutes cannot be negative")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Prometheus.URL == "" {
		return fmt.Errorf("prometheus.url is required")
	}

	if c.Telemetry.RefreshIntervalSeconds == 0 {
		c.Telemetry.RefreshIntervalSeconds = 300
	}
	if c.Telemetry.RefreshIntervalSeconds < 30 {
		return fmt.Errorf("telemetry.refreshIntervalSeconds must be >= 30")
	}

	if c.AgentAPI.ListenAddr == "" {
		c.AgentAPI.ListenAddr = ":8090"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":8080"
	}

	if c.AWS.Region != "" && c.AWS.LaunchTemplate == "" {
		return fmt.Errorf("aws.launchTemplate is required when aws.region is set")
	}
	if c.GCP.ProjectID != "" && c.GCP.Region == "" {
		return fmt.Errorf("gcp.region is required when gcp.projectId is set")
	}

	if c.Billing.Enabled && c.Billing.Endpoint == "" {
		return fmt.Errorf("billing.endpoint is required when billing is enabled")
	}
	if c.Billing.Enabled && c.Audit.SecretKey == "" {
		return fmt.Errorf("audit.secretKey is required when billing is enabled")
	}

	if len(c.Pools) == 0 {
		return fmt.Errorf("pools cannot be empty")
	}
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if p.Region == "" || p.Zone == "" || p.ResourceType == "" {
			return fmt.Errorf("pools[%d]: region, zone and resourceType are required", i)
		}
		id := fmt.Sprintf("%s/%s/%s", p.Region, p.Zone, p.ResourceType)
		if seen[id] {
			return fmt.Errorf("pools[%d]: duplicate pool %s", i, id)
		}
		seen[id] = true
	}

	return nil
}

// CycleInterval returns the decision cycle interval as a duration.
func (c *EngineConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalSeconds) * time.Second
}

// QueueSweepInterval returns the queue sweep interval as a duration.
func (c *EngineConfig) QueueSweepInterval() time.Duration {
	return time.Duration(c.QueueSweepIntervalSeconds) * time.Second
}

// FlagTTL returns the registry flag lifetime as a duration. Zero means the
// registry default.
func (c *RiskConfig) FlagTTL() time.Duration {
	return time.Duration(c.FlagTTLMinutes) * time.Minute
}

// RefreshInterval returns the telemetry refresh interval as a duration.
func (c *TelemetryConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// SeedPools builds the initial capacity pool records.
func (c *Config) SeedPools() []pool.CapacityPool {
	now := time.Now()
	pools := make([]pool.CapacityPool, 0, len(c.Pools))
	for _, s := range c.Pools {
		pools = append(pools, pool.CapacityPool{
			Region:        s.Region,
			Zone:          s.Zone,
			ResourceType:  s.ResourceType,
			SpotEligible:  s.SpotEligible,
			OnDemandPrice: s.OnDemandPrice,
			UpdatedAt:     now,
		})
	}
	return pools
}
