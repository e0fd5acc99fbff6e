// Package metrics provides Prometheus metrics for the Vortex Core engine and
// the Prometheus query client that feeds utilization signals into planning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RiskScore tracks the latest interruption-risk score per pool.
	RiskScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "risk_score",
			Help:      "Interruption risk score per capacity pool (0=safe, 1=imminent)",
		},
		[]string{"pool"},
	)

	// RiskFlagsSet counts danger flags written to the shared registry.
	RiskFlagsSet = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "risk_flags_set_total",
			Help:      "Danger flags written to the global risk registry",
		},
		[]string{"source"}, // "assessor" or "event"
	)

	// RegistryErrors counts registry round-trips that failed and were
	// handled fail-open.
	RegistryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "registry_errors_total",
			Help:      "Risk registry errors tolerated in fail-open mode",
		},
	)

	// FlaggedPoolExclusions counts candidate pools the decision engine
	// rejected because of a live danger flag.
	FlaggedPoolExclusions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "flagged_pool_exclusions_total",
			Help:      "Candidate pools excluded from plans due to danger flags",
		},
	)

	// EventsIngested counts accepted interruption events by type.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "events_ingested_total",
			Help:      "Interruption events accepted by the event processor",
		},
		[]string{"type"},
	)

	// EventsDropped counts events rejected before processing.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "events_dropped_total",
			Help:      "Interruption events dropped before processing",
		},
		[]string{"reason"}, // "duplicate" or "stale"
	)

	// ActionsEnqueued counts delegated actions persisted to the queue.
	ActionsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "actions_enqueued_total",
			Help:      "Delegated actions enqueued for remote agents",
		},
		[]string{"action_type"},
	)

	// ActionsClaimed counts records handed to agents via Claim.
	ActionsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "actions_claimed_total",
			Help:      "Delegated actions claimed by remote agents",
		},
	)

	// ActionsReported counts terminal reports by outcome.
	ActionsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "actions_reported_total",
			Help:      "Terminal action reports received from agents",
		},
		[]string{"status"},
	)

	// ActionsSwept counts records the sweep failed with reason expired.
	ActionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "actions_swept_total",
			Help:      "Delegated actions expired by the background sweep",
		},
	)

	// DirectActions counts synchronously executed control-plane actions.
	DirectActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "direct_actions_total",
			Help:      "Direct cloud control-plane actions by type and outcome",
		},
		[]string{"action_type", "outcome"},
	)

	// PlanActions tracks the size of the last plan per tenant.
	PlanActions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "plan_actions",
			Help:      "Actions in the most recent plan per tenant",
		},
		[]string{"tenant"},
	)

	// EstimatedSavingsHourly tracks projected hourly savings per tenant if
	// the latest plan fully succeeds.
	EstimatedSavingsHourly = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "estimated_savings_hourly_usd",
			Help:      "Projected hourly savings of the latest plan (USD)",
		},
		[]string{"tenant"},
	)

	// DecisionCycleDuration tracks end-to-end decision engine cycle time.
	DecisionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vortexcore",
			Name:      "decision_cycle_duration_seconds",
			Help:      "Duration of a complete decision engine run",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// ReplicasActive tracks live (non-terminated) standby replicas by mode.
	ReplicasActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "replicas_active",
			Help:      "Non-terminated standby replicas by mode",
		},
		[]string{"mode"},
	)

	// ReplicaPromotions counts successful standby promotions.
	ReplicaPromotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "replica_promotions_total",
			Help:      "Standby replicas promoted to primary",
		},
	)

	// ReplicaPromotionFailures counts promotions rejected synchronously.
	ReplicaPromotionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "replica_promotion_failures_total",
			Help:      "Promotion requests rejected because the replica was not ready",
		},
	)

	// ConnectedClusters tracks clusters with a live agent heartbeat.
	ConnectedClusters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "connected_clusters",
			Help:      "Clusters with a heartbeat inside the liveness window",
		},
	)

	// SpotPriceUSD tracks the refreshed spot price per pool.
	SpotPriceUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "spot_price_usd",
			Help:      "Current spot price in USD per hour",
		},
		[]string{"resource_type", "zone"},
	)

	// OnDemandPriceUSD tracks the refreshed on-demand price per type.
	OnDemandPriceUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vortexcore",
			Name:      "ondemand_price_usd",
			Help:      "On-demand price in USD per hour",
		},
		[]string{"resource_type"},
	)

	// SamplesDeduplicated counts raw telemetry samples dropped as duplicates.
	SamplesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "telemetry_samples_deduplicated_total",
			Help:      "Raw telemetry samples dropped as duplicates",
		},
	)

	// SamplesGapFilled counts synthesized samples inserted into gaps.
	SamplesGapFilled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vortexcore",
			Name:      "telemetry_samples_gap_filled_total",
			Help:      "Telemetry samples synthesized to fill series gaps",
		},
	)
)
