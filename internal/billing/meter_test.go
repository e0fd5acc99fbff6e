package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/softcane/vortex-core/internal/audit"
)

func testManifest(t *testing.T) *audit.SavingsManifest {
	t.Helper()
	auditor, err := audit.NewAuditor(audit.Config{SecretKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}
	m, err := auditor.GenerateManifest(audit.SavingsManifest{
		Tenant:        "acme",
		JobID:         "job-7",
		Resource:      "i-0abc",
		FromPool:      "us-east-1/us-east-1a/m5.large",
		ToPool:        "us-east-1/us-east-1b/m5.large",
		OnDemandPrice: 0.096,
		SpotPrice:     0.031,
		HourlySavings: 0.065,
	})
	if err != nil {
		t.Fatalf("GenerateManifest: %v", err)
	}
	return m
}

func TestMeterReportsManifest(t *testing.T) {
	var received audit.SavingsManifest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	meter := NewMeter(MeterConfig{Endpoint: srv.URL, Enabled: true})
	if err := meter.Report(context.Background(), testManifest(t)); err != nil {
		t.Fatalf("Report: %v", err)
	}

	if received.JobID != "job-7" {
		t.Errorf("expected job-7, got %q", received.JobID)
	}
	if received.Signature == "" {
		t.Error("manifest should arrive signed")
	}

	count, total := meter.ReportedTotal()
	if count != 1 || total != 0.065 {
		t.Errorf("expected 1 report totaling 0.065, got %d / %f", count, total)
	}
}

func TestMeterDisabledSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("disabled meter must not call the billing API")
	}))
	defer srv.Close()

	meter := NewMeter(MeterConfig{Endpoint: srv.URL, Enabled: false})
	if err := meter.Report(context.Background(), testManifest(t)); err != nil {
		t.Fatalf("Report: %v", err)
	}
}

func TestMeterDryRunSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dry-run meter must not call the billing API")
	}))
	defer srv.Close()

	meter := NewMeter(MeterConfig{Endpoint: srv.URL, Enabled: true, DryRun: true})
	if err := meter.Report(context.Background(), testManifest(t)); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if count, _ := meter.ReportedTotal(); count != 0 {
		t.Errorf("dry-run reports should not count, got %d", count)
	}
}

func TestMeterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	meter := NewMeter(MeterConfig{Endpoint: srv.URL, Enabled: true})
	if err := meter.Report(context.Background(), testManifest(t)); err == nil {
		t.Fatal("expected error on 500 response")
	}
	if count, _ := meter.ReportedTotal(); count != 0 {
		t.Errorf("failed reports should not count, got %d", count)
	}
}
