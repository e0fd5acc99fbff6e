// Package risk scores capacity pools by interruption likelihood and keeps
// the shared risk registry in sync with bucket transitions.
package risk

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

// Bucket classifies a risk score.
type Bucket int

const (
	BucketLow Bucket = iota
	BucketMedium
	BucketHigh
)

func (b Bucket) String() string {
	switch b {
	case BucketLow:
		return "low"
	case BucketMedium:
		return "medium"
	case BucketHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Weights holds the scoring formula coefficients. They must sum to 1.
type Weights struct {
	HistoricalRate float64 `yaml:"historical_rate"`
	Volatility     float64 `yaml:"volatility"`
	Age            float64 `yaml:"age"`
	Trend          float64 `yaml:"trend"`
}

// DefaultWeights is the production scoring formula.
var DefaultWeights = Weights{
	HistoricalRate: 0.40,
	Volatility:     0.30,
	Age:            0.20,
	Trend:          0.10,
}

// Validate checks the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"historical_rate": w.HistoricalRate,
		"volatility":      w.Volatility,
		"age":             w.Age,
		"trend":           w.Trend,
	} {
		if v < 0 {
			return fmt.Errorf("risk weight %s must be non-negative, got %v", name, v)
		}
	}
	sum := w.HistoricalRate + w.Volatility + w.Age + w.Trend
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("risk weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Thresholds separate the three risk buckets.
type Thresholds struct {
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// DefaultThresholds buckets scores at 0.30 and 0.50.
var DefaultThresholds = Thresholds{Medium: 0.30, High: 0.50}

// Validate checks the thresholds are ordered inside (0,1).
func (t Thresholds) Validate() error {
	if t.Medium <= 0 || t.High >= 1 || t.Medium >= t.High {
		return fmt.Errorf("risk thresholds must satisfy 0 < medium < high < 1, got medium=%v high=%v", t.Medium, t.High)
	}
	return nil
}

const (
	trendRising = 1.0
	trendFlat   = 0.5
)

// AssessorConfig configures an Assessor.
type AssessorConfig struct {
	Weights    Weights
	Thresholds Thresholds
	Registry   registry.Registry
	FlagTTL    time.Duration
	Logger     *slog.Logger
}

// Assessor computes interruption-risk scores for capacity pools. It remembers
// the last bucket per pool so the registry is only flagged on an upward
// bucket crossing, not on every recomputation.
type Assessor struct {
	weights    Weights
	thresholds Thresholds
	registry   registry.Registry
	flagTTL    time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	last map[string]Bucket

	now func() time.Time
}

// NewAssessor creates an Assessor from the given config.
func NewAssessor(cfg AssessorConfig) (*Assessor, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.FlagTTL <= 0 {
		cfg.FlagTTL = registry.DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assessor{
		weights:    cfg.Weights,
		thresholds: cfg.Thresholds,
		registry:   cfg.Registry,
		flagTTL:    cfg.FlagTTL,
		logger:     cfg.Logger,
		last:       make(map[string]Bucket),
		now:        time.Now,
	}, nil
}

// Score computes the pool's interruption risk in [0,1] without side effects.
func (a *Assessor) Score(p pool.CapacityPool) float64 {
	historical := clamp01(p.InterruptionRate)
	volatility := clamp01(p.Volatility)

	ageHours := a.now().Sub(p.UpdatedAt).Hours()
	if !p.LaunchedAt.IsZero() {
		ageHours = a.now().Sub(p.LaunchedAt).Hours()
	}
	if ageHours < 0 {
		ageHours = 0
	}
	age := 1 / (ageHours + 1)

	trend := trendFlat
	if p.PriceRising {
		trend = trendRising
	}

	score := a.weights.HistoricalRate*historical +
		a.weights.Volatility*volatility +
		a.weights.Age*age +
		a.weights.Trend*trend

	metrics.RiskScore.WithLabelValues(p.ID()).Set(score)
	return score
}

// BucketOf maps a score onto a bucket using the configured thresholds.
func (a *Assessor) BucketOf(score float64) Bucket {
	switch {
	case score >= a.thresholds.High:
		return BucketHigh
	case score >= a.thresholds.Medium:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Assess scores the pool and, when the pool crosses upward into medium or
// high, sets or refreshes its registry flag. Registry failures are logged
// and swallowed so scoring keeps working when the registry is down.
func (a *Assessor) Assess(ctx context.Context, p pool.CapacityPool) (float64, Bucket) {
	score := a.Score(p)
	bucket := a.BucketOf(score)

	a.mu.Lock()
	prev, seen := a.last[p.ID()]
	a.last[p.ID()] = bucket
	a.mu.Unlock()

	crossed := bucket > BucketLow && (!seen || bucket > prev)
	if crossed {
		if err := a.registry.Flag(ctx, p.ID(), a.flagTTL); err != nil {
			metrics.RegistryErrors.Inc()
			a.logger.Error("failed to flag pool in risk registry",
				"pool", p.ID(), "bucket", bucket.String(), "error", err)
		} else {
			metrics.RiskFlagsSet.WithLabelValues("assessor").Inc()
			a.logger.Info("pool risk bucket crossed upward",
				"pool", p.ID(), "score", score, "bucket", bucket.String())
		}
	}
	return score, bucket
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
