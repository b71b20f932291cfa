package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadinessHandler_AllHealthy(t *testing.T) {
	handler := ReadinessHandler(map[string]HealthCheckFunc{
		"whisper": func(ctx context.Context) (bool, error) { return true, nil },
		"ollama":  func(ctx context.Context) (bool, error) { return true, nil },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.Status != "ready" || len(status.Dependencies) != 2 {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	handler := ReadinessHandler(map[string]HealthCheckFunc{
		"whisper":  func(ctx context.Context) (bool, error) { return true, nil },
		"deepgram": func(ctx context.Context) (bool, error) { return false, errors.New("Deepgram API key not configured.") },
		"skipped":  nil,
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	dep := status.Dependencies["deepgram"]
	if dep.Status != "unhealthy" || dep.Message == "" {
		t.Errorf("Expected unhealthy deepgram with message, got %+v", dep)
	}
	if _, ok := status.Dependencies["skipped"]; ok {
		t.Error("Expected nil check to be skipped")
	}
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
