package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/softcane/vortex-core/internal/cloudapi"
	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/pool"
)

// windowLimit caps the per-pool raw sample window: 24h at the default step.
const windowLimit = 288

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Seeds are the pool identities to track. Market fields are filled
	// in by the refresh loop.
	Seeds []pool.CapacityPool

	Provider cloudapi.PriceProvider
	Snapshot *pool.Snapshot
	Interval time.Duration
	Logger   *slog.Logger
}

// Refresher keeps the pool snapshot's market fields current by polling the
// cloud price provider on a fixed interval. Raw observations, the provider's
// and any standby-sourced ones, pass through the Normalizer before they feed
// volatility and trend.
type Refresher struct {
	seeds      []pool.CapacityPool
	provider   cloudapi.PriceProvider
	snapshot   *pool.Snapshot
	interval   time.Duration
	normalizer *Normalizer
	logger     *slog.Logger

	mu     sync.Mutex
	window map[string][]Sample

	now func() time.Time
}

// NewRefresher creates a Refresher from the given config.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if len(cfg.Seeds) == 0 {
		return nil, fmt.Errorf("at least one pool seed is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("price provider is required")
	}
	if cfg.Snapshot == nil {
		return nil, fmt.Errorf("pool snapshot is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultStep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Refresher{
		seeds:      cfg.Seeds,
		provider:   cfg.Provider,
		snapshot:   cfg.Snapshot,
		interval:   cfg.Interval,
		normalizer: NewNormalizer(DefaultStep),
		logger:     cfg.Logger,
		window:     make(map[string][]Sample),
		now:        time.Now,
	}, nil
}

// Run refreshes all pools once immediately and then on every interval tick
// until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.RefreshOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce updates every tracked pool. A failing pool is logged and
// skipped; its previous snapshot state stays in place.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	for _, seed := range r.seeds {
		if err := r.refreshPool(ctx, seed); err != nil {
			r.logger.Warn("pool refresh failed", "pool", seed.ID(), "error", err)
		}
	}
}

// Ingest records standby-sourced market samples. They join the next
// normalization pass, where a primary observation in the same bucket wins.
func (r *Refresher) Ingest(samples ...Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.window[s.PoolID] = append(r.window[s.PoolID], s)
	}
}

func (r *Refresher) refreshPool(ctx context.Context, seed pool.CapacityPool) error {
	data, err := r.provider.GetSpotPrice(ctx, seed.ResourceType, seed.Zone)
	if err != nil {
		return err
	}

	prices := Prices(r.observe(seed.ID(), data))

	p, ok := r.snapshot.Get(seed.ID())
	if !ok {
		p = seed
	}
	p.SpotPrice = data.CurrentPrice
	p.OnDemandPrice = data.OnDemandPrice
	p.Volatility = Volatility(prices)
	p.PriceRising = Rising(lastHour(prices))
	r.snapshot.Put(p)

	metrics.SpotPriceUSD.WithLabelValues(p.ResourceType, p.Zone).Set(p.SpotPrice)
	metrics.OnDemandPriceUSD.WithLabelValues(p.ResourceType).Set(p.OnDemandPrice)
	return nil
}

// observe appends the provider's observation to the pool's raw window and
// returns the normalized series. The first observation of a pool seeds the
// window from the provider's price history so volatility is meaningful from
// the start.
func (r *Refresher) observe(poolID string, data cloudapi.SpotPriceData) []Sample {
	now := r.now()

	r.mu.Lock()
	if len(r.window[poolID]) == 0 {
		r.window[poolID] = historySamples(poolID, data.PriceHistory, now, r.normalizer.Step)
	}
	w := append(r.window[poolID], Sample{
		PoolID:    poolID,
		Source:    SourcePrimary,
		At:        now,
		SpotPrice: data.CurrentPrice,
	})
	if len(w) > windowLimit {
		w = w[len(w)-windowLimit:]
	}
	r.window[poolID] = w
	raw := make([]Sample, len(w))
	copy(raw, w)
	r.mu.Unlock()

	return r.normalizer.Normalize(raw)[poolID]
}

// historySamples spreads an oldest-first price history over fixed steps
// ending now, as primary-sourced samples.
func historySamples(poolID string, history []float64, now time.Time, step time.Duration) []Sample {
	out := make([]Sample, 0, len(history))
	for i, price := range history {
		out = append(out, Sample{
			PoolID:    poolID,
			Source:    SourcePrimary,
			At:        now.Add(-time.Duration(len(history)-1-i) * step),
			SpotPrice: price,
		})
	}
	return out
}

// lastHour trims a 5-minute-step series to its trailing hour.
func lastHour(prices []float64) []float64 {
	const steps = 12
	if len(prices) <= steps {
		return prices
	}
	return prices[len(prices)-steps:]
}
