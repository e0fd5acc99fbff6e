// Package billing reports signed savings manifests to the billing API.
// Reporting is best effort: a failed report never blocks execution, it is
// retried implicitly by the next manifest batch.
package billing

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/softcane/vortex-core/internal/audit"
)

// Meter accumulates and reports savings manifests.
type Meter struct {
	endpoint string
	enabled  bool
	dryRun   bool
	logger   *slog.Logger

	mu       sync.Mutex
	reported int
	total    float64

	client *http.Client
}

// MeterConfig holds configuration for the billing meter.
type MeterConfig struct {
	Endpoint string
	Enabled  bool
	DryRun   bool
	Logger   *slog.Logger
	// Client overrides the default HTTP client, for tests.
	Client *http.Client
}

// NewMeter creates a billing meter.
func NewMeter(cfg MeterConfig) *Meter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Meter{
		endpoint: cfg.Endpoint,
		enabled:  cfg.Enabled,
		dryRun:   cfg.DryRun,
		logger:   logger,
		client:   client,
	}
}

// Report sends one signed manifest to the billing API.
func (m *Meter) Report(ctx context.Context, manifest *audit.SavingsManifest) error {
	if !m.enabled {
		m.logger.Debug("billing disabled, skipping report")
		return nil
	}

	if m.dryRun {
		m.logger.Info("DRY-RUN: would report savings",
			"tenant", manifest.Tenant,
			"job_id", manifest.JobID,
			"hourly_savings", manifest.HourlySavings,
			"endpoint", m.endpoint,
		)
		return nil
	}

	body, err := manifest.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal savings manifest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("failed to report savings", "error", err)
		return fmt.Errorf("failed to send savings manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.logger.Error("billing API error",
			"status", resp.StatusCode,
			"job_id", manifest.JobID,
		)
		return fmt.Errorf("billing API returned status %d", resp.StatusCode)
	}

	m.mu.Lock()
	m.reported++
	m.total += manifest.HourlySavings
	m.mu.Unlock()

	m.logger.Info("savings reported",
		"tenant", manifest.Tenant,
		"job_id", manifest.JobID,
		"hourly_savings", manifest.HourlySavings,
	)
	return nil
}

// ReportedTotal returns how many manifests were reported and their summed
// hourly savings.
func (m *Meter) ReportedTotal() (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reported, m.total
}
