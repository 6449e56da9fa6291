package model

import (
	"testing"
	"time"
)

func TestEndpointHealthTracking(t *testing.T) {
	r := NewDefaultRegistry()

	if !r.IsEndpointAvailable("gemini-flash") {
		t.Error("expected gemini-flash to be available initially")
	}
	if r.EndpointHealth("gemini-flash") != nil {
		t.Error("expected no health info before any requests")
	}

	r.MarkEndpointSuccess("gemini-flash")

	health := r.EndpointHealth("gemini-flash")
	if health == nil {
		t.Fatal("expected health info after success")
	}
	if !health.Available {
		t.Error("expected endpoint to be available after success")
	}
	if health.FailureCount != 0 {
		t.Errorf("expected failure count 0, got %d", health.FailureCount)
	}
	if health.LastSuccess.IsZero() {
		t.Error("expected last success to be set")
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.tracker().now = func() time.Time { return now }

	r.MarkEndpointFailure("gemini-pro")
	if !r.IsEndpointAvailable("gemini-pro") {
		t.Error("expected gemini-pro to be available after 1 failure")
	}

	r.MarkEndpointFailure("gemini-pro")
	if r.IsEndpointAvailable("gemini-pro") {
		t.Error("expected gemini-pro to be unavailable after circuit opens")
	}

	chain := r.AvailableChain(CategoryHighReasoning)
	if len(chain) != 1 || chain[0] != "gemini-flash" {
		t.Errorf("expected open endpoint skipped, got %v", chain)
	}

	now = now.Add(2 * time.Minute)
	if !r.IsEndpointAvailable("gemini-pro") {
		t.Error("expected half-open after recovery timeout")
	}

	r.MarkEndpointSuccess("gemini-pro")
	if h := r.EndpointHealth("gemini-pro"); h.CircuitOpen || h.FailureCount != 0 {
		t.Errorf("expected circuit closed after success, got %+v", h)
	}
}

func TestAvailableChain_AllDown(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	for _, name := range r.FallbackChain(CategoryDailyDriver) {
		r.MarkEndpointFailure(name)
	}

	chain := r.AvailableChain(CategoryDailyDriver)
	if len(chain) != 2 {
		t.Errorf("expected full chain when all endpoints are down, got %v", chain)
	}

	r.ResetEndpointHealth("gemini-flash")
	if !r.IsEndpointAvailable("gemini-flash") {
		t.Error("expected reset endpoint to be available")
	}
}
