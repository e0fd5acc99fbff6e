package telemetry

import (
	"testing"
	"time"
)

func ts(minute int) time.Time {
	return time.Date(2026, 3, 1, 10, minute, 0, 0, time.UTC)
}

func TestNormalizePrimaryWinsOverStandby(t *testing.T) {
	n := NewNormalizer(5 * time.Minute)

	samples := []Sample{
		{PoolID: "us-east-1/us-east-1c/t3.medium", Source: SourceStandby, At: ts(0), SpotPrice: 0.020},
		{PoolID: "us-east-1/us-east-1c/t3.medium", Source: SourcePrimary, At: ts(1), SpotPrice: 0.018},
		{PoolID: "us-east-1/us-east-1c/t3.medium", Source: SourceStandby, At: ts(3), SpotPrice: 0.021},
	}

	out := n.Normalize(samples)
	series := out["us-east-1/us-east-1c/t3.medium"]
	if len(series) != 1 {
		t.Fatalf("expected 1 deduplicated sample, got %d", len(series))
	}
	if series[0].SpotPrice != 0.018 {
		t.Errorf("expected primary sample to win, got price %v", series[0].SpotPrice)
	}
	if series[0].Source != SourcePrimary {
		t.Errorf("expected primary source, got %s", series[0].Source)
	}
}

func TestNormalizeFillsInteriorGaps(t *testing.T) {
	n := NewNormalizer(5 * time.Minute)

	samples := []Sample{
		{PoolID: "p", Source: SourcePrimary, At: ts(0), SpotPrice: 0.010},
		// buckets at :05 and :10 are missing
		{PoolID: "p", Source: SourcePrimary, At: ts(15), SpotPrice: 0.040},
	}

	series := n.Normalize(samples)["p"]
	if len(series) != 4 {
		t.Fatalf("expected 4 samples after gap fill, got %d", len(series))
	}
	want := []float64{0.010, 0.020, 0.030, 0.040}
	for i, w := range want {
		if diff := series[i].SpotPrice - w; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("sample %d: expected price %v, got %v", i, w, series[i].SpotPrice)
		}
	}
	for i := 1; i < len(series); i++ {
		if !series[i].At.After(series[i-1].At) {
			t.Errorf("series not strictly ordered at index %d", i)
		}
	}
}

func TestNormalizeDoesNotSynthesizeEdges(t *testing.T) {
	n := NewNormalizer(5 * time.Minute)

	series := n.Normalize([]Sample{
		{PoolID: "p", Source: SourcePrimary, At: ts(10), SpotPrice: 0.02},
	})["p"]
	if len(series) != 1 {
		t.Fatalf("expected single sample untouched, got %d", len(series))
	}
}

func TestVolatility(t *testing.T) {
	if v := Volatility([]float64{0.02, 0.02, 0.02}); v != 0 {
		t.Errorf("constant series should have zero volatility, got %v", v)
	}
	if v := Volatility([]float64{0.02}); v != 0 {
		t.Errorf("single sample should have zero volatility, got %v", v)
	}
	low := Volatility([]float64{0.020, 0.021, 0.019, 0.020})
	high := Volatility([]float64{0.010, 0.050, 0.015, 0.045})
	if low >= high {
		t.Errorf("expected noisier series to score higher: low=%v high=%v", low, high)
	}
	if high > 1 {
		t.Errorf("volatility must be clamped to 1, got %v", high)
	}
}

func TestRising(t *testing.T) {
	if !Rising([]float64{0.01, 0.02, 0.03}) {
		t.Error("upward series should be rising")
	}
	if Rising([]float64{0.03, 0.02, 0.01}) {
		t.Error("downward series should not be rising")
	}
	if Rising([]float64{0.02}) {
		t.Error("single sample cannot establish a trend")
	}
}
