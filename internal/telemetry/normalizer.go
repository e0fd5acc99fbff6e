// Package telemetry normalizes raw pricing and utilization samples before
// they reach risk scoring. Samples arrive from potentially duplicate sources
// (the primary resource and any active standby replica report the same pool)
// and with gaps; scoring expects one clean, regularly spaced series per pool.
package telemetry

import (
	"math"
	"sort"
	"time"

	"github.com/softcane/vortex-core/internal/metrics"
)

// SourceKind identifies where a raw sample came from.
type SourceKind string

const (
	SourcePrimary SourceKind = "primary"
	SourceStandby SourceKind = "standby"
)

// Sample is one raw market observation for a pool.
type Sample struct {
	PoolID    string
	Source    SourceKind
	At        time.Time
	SpotPrice float64
	CPUUtil   float64
}

// Normalizer deduplicates and gap-fills raw samples into fixed-step series.
type Normalizer struct {
	// Step is the series bucket width. Samples inside one bucket are
	// duplicates; empty buckets between observations are gaps.
	Step time.Duration
}

// DefaultStep matches the price providers' five-minute refresh cadence.
const DefaultStep = 5 * time.Minute

// NewNormalizer creates a normalizer with the given bucket width.
func NewNormalizer(step time.Duration) *Normalizer {
	if step <= 0 {
		step = DefaultStep
	}
	return &Normalizer{Step: step}
}

// Normalize returns one cleaned, time-ordered sample series per pool.
// Within a bucket the primary source wins over any standby duplicate;
// interior gaps are filled by linear interpolation between the neighboring
// observations. Leading and trailing buckets are never synthesized.
func (n *Normalizer) Normalize(samples []Sample) map[string][]Sample {
	byPool := make(map[string][]Sample)
	for _, s := range samples {
		byPool[s.PoolID] = append(byPool[s.PoolID], s)
	}

	out := make(map[string][]Sample, len(byPool))
	for poolID, ss := range byPool {
		out[poolID] = n.normalizePool(poolID, ss)
	}
	return out
}

func (n *Normalizer) normalizePool(poolID string, samples []Sample) []Sample {
	// Dedup per bucket, primary preferred.
	buckets := make(map[int64]Sample)
	for _, s := range samples {
		b := s.At.UnixNano() / int64(n.Step)
		prev, ok := buckets[b]
		if !ok {
			buckets[b] = s
			continue
		}
		metrics.SamplesDeduplicated.Inc()
		if prev.Source != SourcePrimary && s.Source == SourcePrimary {
			buckets[b] = s
		}
	}

	keys := make([]int64, 0, len(buckets))
	for b := range buckets {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var series []Sample
	for i, b := range keys {
		cur := buckets[b]
		if i > 0 {
			prevKey := keys[i-1]
			prev := buckets[prevKey]
			// Fill interior gaps by interpolation.
			for missing := prevKey + 1; missing < b; missing++ {
				frac := float64(missing-prevKey) / float64(b-prevKey)
				series = append(series, Sample{
					PoolID:    poolID,
					Source:    prev.Source,
					At:        time.Unix(0, missing*int64(n.Step)),
					SpotPrice: prev.SpotPrice + frac*(cur.SpotPrice-prev.SpotPrice),
					CPUUtil:   prev.CPUUtil + frac*(cur.CPUUtil-prev.CPUUtil),
				})
				metrics.SamplesGapFilled.Inc()
			}
		}
		series = append(series, cur)
	}
	return series
}

// Volatility returns the normalized price volatility of a series in [0,1]:
// the standard deviation divided by the mean, clamped.
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, p := range prices {
		d := p - mean
		sq += d * d
	}
	v := math.Sqrt(sq/float64(len(prices))) / mean
	if v > 1 {
		return 1
	}
	return v
}

// Rising reports whether the price trended upward across the series window.
func Rising(prices []float64) bool {
	if len(prices) < 2 {
		return false
	}
	return prices[len(prices)-1] > prices[0]
}

// Prices extracts the spot price column from a sample series.
func Prices(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.SpotPrice
	}
	return out
}
