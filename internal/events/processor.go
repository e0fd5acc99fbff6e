package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/pool"
	"github.com/softcane/vortex-core/internal/registry"
)

// DedupWindow bounds both duplicate detection and staleness: an event id is
// remembered this long, and events that occurred further back than this no
// longer reflect current pool risk and are dropped.
const DedupWindow = 5 * time.Minute

// TerminationFlagTTL is how long a pool stays flagged after a
// termination-class event.
const TerminationFlagTTL = 30 * time.Minute

// Trigger requests an out-of-cycle decision engine run for one tenant.
// Implementations must not block; the fast path only hints.
type Trigger interface {
	TriggerRun(tenant string)
}

// ExpansionHook handles resource-pressure events. Capacity expansion lives
// outside this core; the processor only hands the event over.
type ExpansionHook interface {
	ExpandCapacity(ctx context.Context, ev Event) error
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Registry  registry.Registry
	Log       Log
	Trigger   Trigger
	Expansion ExpansionHook
	Pools     *pool.Snapshot
	Logger    *slog.Logger
}

// Processor ingests events idempotently and runs the fast-path reaction to
// termination-class signals. Safe for concurrent use.
type Processor struct {
	registry  registry.Registry
	log       Log
	trigger   Trigger
	expansion ExpansionHook
	pools     *pool.Snapshot
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// NewProcessor creates a Processor from the given config.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if cfg.Pools == nil {
		cfg.Pools = pool.NewSnapshot()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		registry:  cfg.Registry,
		log:       cfg.Log,
		trigger:   cfg.Trigger,
		expansion: cfg.Expansion,
		pools:     cfg.Pools,
		logger:    cfg.Logger,
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// Ingest processes one event. Duplicate and stale events return nil without
// side effects; reprocessing the same event id within the dedup window is
// always safe.
func (p *Processor) Ingest(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		return err
	}

	now := p.now()
	if now.Sub(ev.OccurredAt) > DedupWindow {
		metrics.EventsDropped.WithLabelValues("stale").Inc()
		p.logger.Debug("dropping stale event", "event", ev.ID, "kind", ev.Kind, "occurred_at", ev.OccurredAt)
		return nil
	}
	if !p.markSeen(ev.ID, now) {
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return nil
	}

	metrics.EventsIngested.WithLabelValues(string(ev.Kind)).Inc()

	if ev.Kind.Termination() {
		return p.handleTermination(ctx, ev, now)
	}
	if ev.Kind == KindResourcePressure && p.expansion != nil {
		if err := p.expansion.ExpandCapacity(ctx, ev); err != nil {
			return fmt.Errorf("capacity expansion for event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// handleTermination runs the fast path: flag first so every tenant sees the
// danger within one registry round-trip, then wake the engine, then record.
// The engine run itself happens elsewhere; nothing here waits on it.
func (p *Processor) handleTermination(ctx context.Context, ev Event, now time.Time) error {
	if err := p.registry.Flag(ctx, ev.PoolID, TerminationFlagTTL); err != nil {
		metrics.RegistryErrors.Inc()
		p.logger.Error("failed to flag pool after termination event",
			"event", ev.ID, "pool", ev.PoolID, "error", err)
	} else {
		metrics.RiskFlagsSet.WithLabelValues("event").Inc()
		p.logger.Warn("pool flagged after termination event",
			"event", ev.ID, "kind", ev.Kind, "pool", ev.PoolID, "tenant", ev.Tenant)
	}

	if p.trigger != nil {
		p.trigger.TriggerRun(ev.Tenant)
	}

	rec := InterruptionEvent{
		EventID:    ev.ID,
		Tenant:     ev.Tenant,
		ClusterID:  ev.ClusterID,
		PoolID:     ev.PoolID,
		Kind:       ev.Kind,
		OccurredAt: ev.OccurredAt,
		RecordedAt: now,
		HourOfDay:  ev.OccurredAt.UTC().Hour(),
		DayOfWeek:  int(ev.OccurredAt.UTC().Weekday()),
	}
	if ps, ok := p.pools.Get(ev.PoolID); ok {
		rec.SpotPrice = ps.SpotPrice
		rec.InterruptionRate = ps.InterruptionRate
		rec.PriceRising = ps.PriceRising
	}
	if err := p.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("record interruption event %s: %w", ev.ID, err)
	}
	return nil
}

// markSeen records the event id and reports whether it was new. Expired ids
// are pruned in passing.
func (p *Processor) markSeen(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, at := range p.seen {
		if now.Sub(at) > DedupWindow {
			delete(p.seen, k)
		}
	}
	if _, dup := p.seen[id]; dup {
		return false
	}
	p.seen[id] = now
	return true
}
