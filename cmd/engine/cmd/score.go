package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/softcane/vortex-core/internal/config"
	"github.com/softcane/vortex-core/internal/engine"
	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/policy"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/registry"
	"github.com/softcane/vortex-core/internal/replica"
	"github.com/softcane/vortex-core/internal/risk"
	"github.com/softcane/vortex-core/internal/telemetry"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score pools and report potential savings without acting",
	Long: `Score performs one read-only analysis pass: refresh market telemetry,
score every configured pool, and report per-tenant migration savings.

Nothing is flagged, queued or executed. Useful before enabling the engine.`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cfgFile == "" {
		cfgFile = "config/default.yaml"
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Scoring never writes shared state: flags land in a throwaway
	// in-memory registry.
	reg := registry.NewMemoryRegistry()

	pools := pool.NewSnapshot()
	seeds := cfg.SeedPools()
	for _, p := range seeds {
		pools.Put(p)
	}

	priceProvider, err := buildPriceProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create price provider: %w", err)
	}
	refresher, err := telemetry.NewRefresher(telemetry.RefresherConfig{
		Seeds:    seeds,
		Provider: priceProvider,
		Snapshot: pools,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry refresher: %w", err)
	}
	refresher.RefreshOnce(ctx)

	assessor, err := risk.NewAssessor(risk.AssessorConfig{
		Weights:    cfg.Risk.Weights,
		Thresholds: cfg.Risk.Thresholds,
		Registry:   reg,
		Logger:     slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create risk assessor: %w", err)
	}

	for _, p := range pools.List() {
		score := assessor.Score(p)
		slog.Info("pool scored",
			"pool", p.ID(),
			"score", fmt.Sprintf("%.4f", score),
			"bucket", assessor.BucketOf(score).String(),
			"spot_price", p.SpotPrice,
			"on_demand_price", p.OnDemandPrice,
		)
	}

	policies, err := policy.Compile(cfg.Tenants)
	if err != nil {
		return fmt.Errorf("failed to compile tenant policies: %w", err)
	}
	promClient, err := metrics.NewClient(metrics.ClientConfig{
		PrometheusURL: cfg.Prometheus.URL,
		Logger:        slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create prometheus client: %w", err)
	}
	source, err := engine.NewUtilizationSource(engine.UtilizationSourceConfig{
		Querier:        promClient,
		Pools:          pools,
		Region:         deploymentRegion(cfg),
		ClusterTenants: cfg.Engine.ClusterTenants,
		Logger:         slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create opportunity source: %w", err)
	}

	replicas, err := replica.NewManager(replica.ManagerConfig{
		Store:    replica.NewMemoryStore(),
		Launcher: noopLauncher{},
		Pools:    pools,
		Scorer:   assessor,
	})
	if err != nil {
		return fmt.Errorf("failed to create replica manager: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Pools:       pools,
		Registry:    reg,
		Assessor:    assessor,
		Replicas:    replicas,
		Policies:    policies,
		Source:      source,
		PriceWeight: cfg.Engine.PriceWeight,
		RiskWeight:  cfg.Engine.RiskWeight,
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decision engine: %w", err)
	}

	for _, tenant := range cfg.Engine.Tenants {
		report, err := eng.SavingsReport(ctx, tenant)
		if err != nil {
			slog.Error("savings analysis failed", "tenant", tenant, "error", err)
			continue
		}
		report.LogReport(slog.Default())
	}
	return nil
}

// noopLauncher satisfies the replica manager for read-only scoring; score
// never reconciles, so it is never called.
type noopLauncher struct{}

func (noopLauncher) LaunchStandby(ctx context.Context, r replica.Replica) error    { return nil }
func (noopLauncher) TerminateStandby(ctx context.Context, r replica.Replica) error { return nil }
func (noopLauncher) PromoteStandby(ctx context.Context, r replica.Replica) error   { return nil }
func (noopLauncher) TerminatePrimary(ctx context.Context, resource string) error   { return nil }
