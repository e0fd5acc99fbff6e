package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/softcane/vortex-core/internal/agentapi"
	"github.com/softcane/vortex-core/internal/audit"
	"github.com/softcane/vortex-core/internal/billing"
	"github.com/softcane/vortex-core/internal/cloudapi"
	"github.com/softcane/vortex-core/internal/config"
	"github.com/softcane/vortex-core/internal/engine"
	"github.com/softcane/vortex-core/internal/events"
	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/plan"
	"github.com/softcane/vortex-core/internal/policy"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/queue"
	"github.com/softcane/vortex-core/internal/registry"
	"github.com/softcane/vortex-core/internal/replica"
	"github.com/softcane/vortex-core/internal/risk"
	"github.com/softcane/vortex-core/internal/router"
	"github.com/softcane/vortex-core/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the vortex capacity engine",
	Long: `Run starts the engine's full loop:

1. Refresh capacity pool market telemetry
2. Score pools and plan per-tenant optimization
3. Execute direct cloud actions, queue delegated cluster actions
4. Serve the agent API for claims, reports, heartbeats and events

Use --dry-run to plan and log without touching the cloud.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting vortex engine",
		"dry_run", IsDryRun(),
		"version", "0.1.0",
	)

	// 1. Load Configuration
	if cfgFile == "" {
		cfgFile = "config/default.yaml"
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Shared state backends
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	riskRegistry, err := registry.NewRedisRegistry(registry.RedisOptions{Client: redisClient})
	if err != nil {
		return fmt.Errorf("failed to create risk registry: %w", err)
	}
	queueStore, err := queue.NewRedisStore(queue.RedisStoreOptions{Client: redisClient})
	if err != nil {
		return fmt.Errorf("failed to create action queue: %w", err)
	}
	replicaStore := replica.NewRedisStore(redisClient)

	// 3. Capacity pool state and market telemetry
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
		Interval: cfg.Telemetry.RefreshInterval(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry refresher: %w", err)
	}

	// 4. Risk assessment
	assessor, err := risk.NewAssessor(risk.AssessorConfig{
		Weights:    cfg.Risk.Weights,
		Thresholds: cfg.Risk.Thresholds,
		Registry:   riskRegistry,
		FlagTTL:    cfg.Risk.FlagTTL(),
		Logger:     slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create risk assessor: %w", err)
	}

	// 5. Cloud control plane, dry-run enforced at the wrapper
	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}

	// 6. Replica management
	launcher, err := replica.NewProviderLauncher(provider, pools, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create replica launcher: %w", err)
	}
	replicas, err := replica.NewManager(replica.ManagerConfig{
		Store:       replicaStore,
		Launcher:    launcher,
		Pools:       pools,
		Scorer:      assessor,
		PriceWeight: cfg.Engine.PriceWeight,
		RiskWeight:  cfg.Engine.RiskWeight,
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create replica manager: %w", err)
	}

	// 7. Tenant policies and opportunity source
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

	// 8. Decision engine and execution
	tracker := agentapi.NewTracker()
	eng, err := engine.New(engine.Config{
		Pools:       pools,
		Registry:    riskRegistry,
		Assessor:    assessor,
		Replicas:    replicas,
		Policies:    policies,
		Source:      source,
		Health:      tracker,
		PriceWeight: cfg.Engine.PriceWeight,
		RiskWeight:  cfg.Engine.RiskWeight,
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decision engine: %w", err)
	}

	jobs := engine.NewJobs(slog.Default())
	hub := agentapi.NewWakeHub()
	exec, err := router.New(router.Config{
		Provider: provider,
		Queue:    queueStore,
		Promoter: replicas,
		Pools:    pools,
		Jobs:     jobs,
		Waker:    hub,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create execution router: %w", err)
	}

	// 9. Event fast path
	processor, err := events.NewProcessor(events.ProcessorConfig{
		Registry:  riskRegistry,
		Log:       events.NewRedisLog(redisClient),
		Trigger:   eng,
		Expansion: &capacityExpander{provider: provider, pools: pools, logger: slog.Default()},
		Pools:     pools,
		Logger:    slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create event processor: %w", err)
	}

	apiServer, err := agentapi.NewServer(agentapi.ServerConfig{
		Queue:   queueStore,
		Events:  processor,
		Tracker: tracker,
		Hub:     hub,
		Jobs:    jobs,
		Logger:  slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent api: %w", err)
	}

	// 10. Savings accounting
	var auditor *audit.Auditor
	if cfg.Audit.SecretKey != "" {
		auditor, err = audit.NewAuditor(audit.Config{
			SecretKey: cfg.Audit.SecretKey,
			Logger:    slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("failed to create auditor: %w", err)
		}
	}
	meter := billing.NewMeter(billing.MeterConfig{
		Endpoint: cfg.Billing.Endpoint,
		Enabled:  cfg.Billing.Enabled,
		DryRun:   IsDryRun(),
		Logger:   slog.Default(),
		Client:   &http.Client{Timeout: 10 * time.Second},
	})

	sweeper := queue.NewSweeper(queue.SweeperConfig{
		Store:    queueStore,
		Notifier: jobs,
		Interval: cfg.Engine.QueueSweepInterval(),
		Logger:   slog.Default(),
	})

	slog.Info("engine ready, starting loops",
		"tenants", strings.Join(cfg.Engine.Tenants, ","),
		"cycle_interval", cfg.Engine.CycleInterval().String(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(refresher.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(sweeper.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(tracker.Run(ctx, 0)) })

	g.Go(func() error {
		return serveHTTP(ctx, cfg.AgentAPI.ListenAddr, apiServer.Handler(), "agent api")
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		return serveHTTP(ctx, cfg.Metrics.ListenAddr, mux, "metrics")
	})

	accounting := &savingsAccounting{auditor: auditor, meter: meter, pools: pools}
	g.Go(func() error {
		return decisionLoop(ctx, cfg, eng, exec, accounting)
	})

	return g.Wait()
}

// decisionLoop runs periodic full cycles plus event-triggered fast paths.
func decisionLoop(ctx context.Context, cfg *config.Config, eng *engine.Engine, exec *router.Router, acct *savingsAccounting) error {
	ticker := time.NewTicker(cfg.Engine.CycleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("decision loop stopped")
			return nil
		case <-ticker.C:
			for _, tenant := range cfg.Engine.Tenants {
				runCycle(ctx, cfg, eng, exec, acct, tenant)
			}
		case tenant := <-eng.Triggers():
			runCycle(ctx, cfg, eng, exec, acct, tenant)
		}
	}
}

// runCycle plans and executes one tenant. Failures are logged and the loop
// keeps going; the next cycle retries from fresh state.
func runCycle(ctx context.Context, cfg *config.Config, eng *engine.Engine, exec *router.Router, acct *savingsAccounting, tenant string) {
	planOnly := false
	if path := cfg.Engine.RuntimeConfigPath; path != "" {
		rt, err := config.LoadRuntimeConfig(path)
		if err != nil {
			slog.Error("runtime config reload failed, keeping previous tuning", "error", err)
		} else {
			eng.SetTuning(engine.Tuning{
				RiskMultiplier:     rt.RiskMultiplier,
				MinHourlySavings:   rt.MinHourlySavings,
				MaxActionsPerCycle: rt.MaxActionsPerCycle,
			})
			planOnly = rt.PlanOnly
		}
	}

	p, err := eng.Run(ctx, tenant)
	if err != nil {
		slog.Error("decision run failed", "tenant", tenant, "error", err)
		return
	}
	if p.Empty() {
		return
	}
	if planOnly {
		slog.Info("plan-only mode, skipping execution",
			"tenant", tenant, "job_id", p.JobID, "actions", len(p.Actions))
		return
	}
	if _, err := exec.Execute(ctx, p); err != nil {
		slog.Error("plan execution failed", "tenant", tenant, "job_id", p.JobID, "error", err)
		return
	}
	acct.report(ctx, p)
}

// savingsAccounting signs and reports the value of executed plans.
type savingsAccounting struct {
	auditor *audit.Auditor
	meter   *billing.Meter
	pools   *pool.Snapshot
}

// report generates a manifest for an executed plan and sends it to billing.
// Accounting is best effort; a failure here never fails the cycle.
func (a *savingsAccounting) report(ctx context.Context, p *plan.ActionPlan) {
	if a.auditor == nil || p.EstimatedHourlySavings <= 0 {
		return
	}

	var resource, fromZone, toPool string
	for _, act := range p.Actions {
		if resource == "" && act.Resource != "" {
			resource = act.Resource
			fromZone = act.Zone
		}
		if toPool == "" && act.DirectType == plan.DirectLaunchCapacity {
			toPool = act.TargetPool
		}
	}
	if resource == "" {
		return
	}

	// The source pool shares the destination's region and resource type;
	// only the zone differs.
	var fromPool string
	if parts := strings.SplitN(toPool, "/", 3); len(parts) == 3 && fromZone != "" {
		fromPool = fmt.Sprintf("%s/%s/%s", parts[0], fromZone, parts[2])
	}

	var spotPrice float64
	if pl, ok := a.pools.Get(toPool); ok {
		spotPrice = pl.SpotPrice
	}
	manifest, err := a.auditor.GenerateManifest(audit.SavingsManifest{
		Tenant:   p.Tenant,
		JobID:    p.JobID,
		Resource: resource,
		FromPool: fromPool,
		ToPool:   toPool,
		// The plan records the net delta; the source rate is the
		// destination spot rate plus that delta.
		OnDemandPrice: spotPrice + p.EstimatedHourlySavings,
		SpotPrice:     spotPrice,
		HourlySavings: p.EstimatedHourlySavings,
		ExecutedAt:    time.Now(),
	})
	if err != nil {
		slog.Error("savings manifest generation failed", "job_id", p.JobID, "error", err)
		return
	}
	if err := a.meter.Report(ctx, manifest); err != nil {
		slog.Error("savings report failed", "job_id", p.JobID, "error", err)
	}
}

// buildPriceProvider picks the configured cloud's price source, falling
// back to environment detection when neither cloud is configured.
func buildPriceProvider(ctx context.Context, cfg *config.Config) (cloudapi.PriceProvider, error) {
	switch {
	case cfg.AWS.Region != "":
		return cloudapi.NewAWSPriceProvider(ctx, cfg.AWS.Region, slog.Default())
	case cfg.GCP.ProjectID != "":
		return cloudapi.NewGCPPriceProvider(ctx, cfg.GCP.ProjectID, slog.Default())
	default:
		provider, cloud, err := cloudapi.NewAutoDetectedPriceProvider(ctx, slog.Default())
		if err != nil {
			return nil, err
		}
		slog.Info("price provider auto-detected", "cloud", string(cloud))
		return provider, nil
	}
}

// buildProvider assembles the direct action surface. Live mode requires an
// AWS control plane; dry-run works everywhere.
func buildProvider(ctx context.Context, cfg *config.Config) (cloudapi.Provider, error) {
	var live cloudapi.Provider
	if cfg.AWS.Region != "" {
		aws, err := cloudapi.NewAWSProvider(ctx, cfg.AWS.Region, cfg.AWS.LaunchTemplate, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("failed to create aws provider: %w", err)
		}
		live = aws
	}
	if !IsDryRun() && live == nil {
		return nil, fmt.Errorf("live mode requires aws configuration; set aws.region or run with --dry-run")
	}
	return cloudapi.NewSafetyWrapper(cloudapi.SafetyWrapperConfig{
		DryRun:   IsDryRun(),
		Provider: live,
		Logger:   slog.Default(),
	}), nil
}

func deploymentRegion(cfg *config.Config) string {
	if cfg.AWS.Region != "" {
		return cfg.AWS.Region
	}
	return cfg.GCP.Region
}

// serveHTTP runs one listener until ctx cancels, then drains it.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, name string) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", "name", name, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server failed: %w", name, err)
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// capacityExpander reacts to resource-pressure events by launching capacity
// in the pressured pool, with on-demand fallback: scheduling pressure means
// stability already lost the spot-only bet.
type capacityExpander struct {
	provider cloudapi.Provider
	pools    *pool.Snapshot
	logger   *slog.Logger
}

func (c *capacityExpander) ExpandCapacity(ctx context.Context, ev events.Event) error {
	if ev.PoolID == "" {
		return fmt.Errorf("resource pressure event %s carries no pool", ev.ID)
	}
	parts := strings.SplitN(ev.PoolID, "/", 3)
	if len(parts) != 3 {
		return fmt.Errorf("malformed pool id %q", ev.PoolID)
	}
	req := cloudapi.LaunchRequest{
		ResourceType:       parts[2],
		Zone:               parts[1],
		FallbackToOnDemand: true,
	}
	if p, ok := c.pools.Get(ev.PoolID); ok {
		req.MaxSpotPrice = p.OnDemandPrice
	}
	result, err := c.provider.LaunchCapacity(ctx, req)
	if err != nil {
		return fmt.Errorf("expand capacity for %s: %w", ev.PoolID, err)
	}
	c.logger.Info("capacity expanded on resource pressure",
		"event", ev.ID,
		"pool", ev.PoolID,
		"resource", result.ResourceID,
		"spot", result.Spot,
		"dry_run", result.DryRun,
	)
	return nil
}
